package hub

import "encoding/json"

// history keeps the most recent batches, oldest first. It is not safe for
// concurrent use; the registry guards it.
type history struct {
	max     int
	batches [][]json.RawMessage
}

func (h *history) append(batch []json.RawMessage) {
	if h.max <= 0 {
		return
	}
	h.batches = append(h.batches, batch)
	if over := len(h.batches) - h.max; over > 0 {
		clear(h.batches[:over])
		h.batches = h.batches[over:]
	}
}

func (h *history) snapshot() [][]json.RawMessage {
	out := make([][]json.RawMessage, len(h.batches))
	copy(out, h.batches)
	return out
}

func (h *history) len() int { return len(h.batches) }
