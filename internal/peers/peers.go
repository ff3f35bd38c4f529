// Package peers implements the Peers collaborator referenced by
// Connection's `peers` dispatch row and by Node's outbound connector: the
// in-memory, append-only set of known "host:port" peer records, filtered
// per the peer entry rules, with active/inactive bookkeeping for the
// outer peer-discovery scheduler (itself out of core scope) and
// load/merge/flush persistence to peers.json.
//
// Grounded on the Python reference's peers.py (parse_peers/update_peers:
// default to BOOTSTRAP_NODES when the file is absent, merge-and-persist on
// every `peers` message) and client.py's peer_discovery policy (mark a
// peer inactive after a failed outbound attempt, skip inactive peers on
// the next round) — the scheduling loop itself stays a named collaborator,
// but the active/inactive table it would consult is implemented here.
package peers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/paulsattlegger/kermapy/internal/klog"
)

var log = klog.NewModuleLogger(klog.ComponentPeers)

const (
	fileName        = "peers.json"
	defaultPort     = 18018
	maxPerHostOther = 10
)

// Peers is the live peer table plus its on-disk mirror.
type Peers struct {
	mu     sync.Mutex
	path   string
	active map[string]bool
}

// Load reads storageDir/peers.json, defaulting to bootstrap (filtered the
// same way incoming `peers` entries are) when the file does not exist yet.
// Every loaded peer starts active: the persisted format (section 6) only
// records "host:port" membership, not in-run liveness.
func Load(storageDir string, bootstrap []string) (*Peers, error) {
	p := &Peers{path: filepath.Join(storageDir, fileName), active: make(map[string]bool)}

	data, err := os.ReadFile(p.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		for _, raw := range bootstrap {
			if norm, ok := normalizeEntry(raw); ok {
				p.active[norm] = true
			}
		}
		return p, p.flushLocked()
	case err != nil:
		return nil, err
	}

	var onDisk map[string]string
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return nil, fmt.Errorf("peers: parsing %s: %w", p.path, err)
	}
	for peer := range onDisk {
		p.active[peer] = true
	}
	return p, nil
}

// Snapshot returns every known peer, sorted, for a `getpeers` reply.
func (p *Peers) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.active))
	for peer := range p.active {
		out = append(out, peer)
	}
	sort.Strings(out)
	return out
}

// ActivePeers returns every peer not yet marked inactive this run, sorted,
// for the outbound connector to dial.
func (p *Peers) ActivePeers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.active))
	for peer, active := range p.active {
		if active {
			out = append(out, peer)
		}
	}
	sort.Strings(out)
	return out
}

// MarkInactive records a failed outbound attempt: peer is excluded from
// ActivePeers until MarkActive is called again, or the node restarts.
func (p *Peers) MarkInactive(peer string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, known := p.active[peer]; known {
		p.active[peer] = false
	}
}

// MarkActive records a successful outbound attempt.
func (p *Peers) MarkActive(peer string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, known := p.active[peer]; known {
		p.active[peer] = true
	}
}

// Add filters entries per section 6's peer entry rules, merges the
// survivors into the known set (new peers start active), and persists.
// Returns the entries actually added, in the order they were accepted.
func (p *Peers) Add(entries []string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var added []string
	for _, raw := range entries {
		norm, ok := normalizeEntry(raw)
		if !ok {
			continue
		}
		if _, exists := p.active[norm]; exists {
			continue
		}
		host, port := splitNormalized(norm)
		if port != defaultPort && p.countHostLocked(host) >= maxPerHostOther {
			continue
		}
		p.active[norm] = true
		added = append(added, norm)
	}

	if len(added) > 0 {
		if err := p.flushLocked(); err != nil {
			log.Error("failed to persist peers", "err", err)
		}
	}
	return added
}

func (p *Peers) countHostLocked(host string) int {
	n := 0
	for peer := range p.active {
		h, _ := splitNormalized(peer)
		if h == host {
			n++
		}
	}
	return n
}

func (p *Peers) flushLocked() error {
	onDisk := make(map[string]string, len(p.active))
	for peer := range p.active {
		onDisk[peer] = ""
	}
	data, err := json.MarshalIndent(onDisk, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p.path, data, 0o644)
}

// normalizeEntry validates raw against section 6's peer entry rules (host
// is a globally routable IP literal, port in 1..65535) and returns the
// canonical "host:port" form.
func normalizeEntry(raw string) (string, bool) {
	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		return "", false
	}
	ip := net.ParseIP(host)
	if ip == nil || !isGlobal(ip) {
		return "", false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", false
	}
	return fmt.Sprintf("%s:%d", ip.String(), port), true
}

func splitNormalized(peer string) (host string, port int) {
	h, p, err := net.SplitHostPort(peer)
	if err != nil {
		return "", 0
	}
	n, _ := strconv.Atoi(p)
	return h, n
}

// isGlobal reimplements Python's ipaddress.is_global for the subset of
// address classes that matter here: unicast, not private, not loopback,
// not link-local, not multicast, not unspecified.
func isGlobal(ip net.IP) bool {
	return ip.IsGlobalUnicast() &&
		!ip.IsPrivate() &&
		!ip.IsLoopback() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() &&
		!ip.IsInterfaceLocalMulticast() &&
		!ip.IsMulticast() &&
		!ip.IsUnspecified()
}
