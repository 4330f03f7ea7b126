package hub

import (
	"encoding/json"
	"sync"
)

// registry is the set of live connections plus the replay history. Both
// live under one mutex so that a batch is either replayed to a joining peer
// or broadcast to it, never both and never neither. The mutex is never held
// across network I/O.
type registry struct {
	mu      sync.Mutex
	peers   map[string]*peer
	order   []string
	history history
}

func newRegistry(historySize int) *registry {
	return &registry{
		peers:   make(map[string]*peer),
		history: history{max: historySize},
	}
}

// join registers p and returns the batches it must be replayed.
func (r *registry) join(p *peer) [][]json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.ID] = p
	r.order = append(r.order, p.ID)
	return r.history.snapshot()
}

// remove reports whether p was still registered.
func (r *registry) remove(p *peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p.ID]; !ok {
		return false
	}
	delete(r.peers, p.ID)
	for i, id := range r.order {
		if id == p.ID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// record appends batch to the history and returns every peer except
// exclude, which may be nil.
func (r *registry) record(batch []json.RawMessage, exclude *peer) []*peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history.append(batch)
	out := make([]*peer, 0, len(r.order))
	for _, id := range r.order {
		if exclude != nil && id == exclude.ID {
			continue
		}
		out = append(out, r.peers[id])
	}
	return out
}

func (r *registry) snapshot() []*peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*peer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.peers[id])
	}
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *registry) historyLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.len()
}
