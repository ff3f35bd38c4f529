package chain

// chaintipStore is the read surface ChainManager needs: the current
// chaintip pointer and a stored block's height.
type chaintipStore interface {
	GetChaintip() (string, bool)
	GetHeight(id string) (int64, error)
}

// Manager maintains the chaintip pointer (section 4.7). It does not own
// the store write path itself: Decide reports whether a newly accepted
// block becomes the new chaintip, and the ingestion pipeline calls
// ObjectStore.PutBlock with that decision.
type Manager struct {
	store chaintipStore
}

func NewManager(store chaintipStore) *Manager {
	return &Manager{store: store}
}

// Decide computes the height a newly accepted block B takes (parent's
// height + 1, or 0 for genesis) and whether B becomes the new chaintip:
// true when there was no prior chaintip, or B's height strictly exceeds
// it. Ties keep the existing chaintip (first-seen wins).
func (m *Manager) Decide(previd *string) (height int64, newChaintip bool, err error) {
	if previd == nil {
		height = 0
	} else {
		parentHeight, getErr := m.store.GetHeight(*previd)
		if getErr != nil {
			return 0, false, getErr
		}
		height = parentHeight + 1
	}

	tip, ok := m.store.GetChaintip()
	if !ok {
		return height, true, nil
	}
	tipHeight, err := m.store.GetHeight(tip)
	if err != nil {
		return 0, false, err
	}
	return height, height > tipHeight, nil
}
