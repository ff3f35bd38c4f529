package store

import "sync"

// waiterRegistry implements section 4.2's event_for(id): a way for the
// ingestion pipeline to block on an object id it does not have yet, and
// for PutObject to wake every caller blocked on an id once it arrives.
//
// The Python reference keeps this association alive only as long as some
// coroutine holds the asyncio.Event (weak-referenced from the registry).
// Go 1.21 has no equivalent to relying on; instead each EventFor caller
// gets a channel plus an explicit cancel func, and must call cancel once
// it stops waiting so the registry entry does not leak.
type waiterRegistry struct {
	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

func newWaiterRegistry() *waiterRegistry {
	return &waiterRegistry{waiters: make(map[string][]chan struct{})}
}

// eventFor returns a channel that closes when fire(id) is called, and a
// cancel func that deregisters the channel without closing it. Multiple
// concurrent callers for the same id each get their own channel; all of
// them fire together.
func (r *waiterRegistry) eventFor(id string) (<-chan struct{}, func()) {
	ch := make(chan struct{})

	r.mu.Lock()
	r.waiters[id] = append(r.waiters[id], ch)
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		chans := r.waiters[id]
		for i, c := range chans {
			if c == ch {
				r.waiters[id] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(r.waiters[id]) == 0 {
			delete(r.waiters, id)
		}
	}

	return ch, cancel
}

// fire wakes every waiter registered for id, then forgets them.
func (r *waiterRegistry) fire(id string) {
	r.mu.Lock()
	chans := r.waiters[id]
	delete(r.waiters, id)
	r.mu.Unlock()

	for _, c := range chans {
		close(c)
	}
}
