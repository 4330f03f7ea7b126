// Package wire frames hub/regional traffic as newline-delimited JSON objects.
package wire

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/eyalp7/SyncSphere/internal/event"
)

// Type is the frame kind.
type Type string

const (
	// TypeSend hub -> regional: flush your outbound queue.
	TypeSend Type = "send"
	// TypeChanges regional -> hub: one drained batch.
	TypeChanges Type = "changes"
	// TypeReceive hub -> regional: a batch relayed from another regional.
	TypeReceive Type = "receive"
)

// Frame is one line on the wire. Events stay raw so the hub relays them
// byte-for-byte, including kinds it does not know.
type Frame struct {
	Type   Type              `json:"type"`
	Events []json.RawMessage `json:"events,omitempty"`
}

// Send builds a solicitation frame.
func Send() Frame { return Frame{Type: TypeSend} }

// Changes builds a frame carrying a drained batch.
func Changes(events []json.RawMessage) Frame { return Frame{Type: TypeChanges, Events: events} }

// Receive builds a relay frame.
func Receive(events []json.RawMessage) Frame { return Frame{Type: TypeReceive, Events: events} }

// Encode marshals f and appends the line terminator.
func Encode(f Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return append(b, '\n'), nil
}

// Write encodes f onto w in a single Write call.
func Write(w io.Writer, f Frame) error {
	b, err := Encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// EncodeEvents encodes typed events for a frame.
func EncodeEvents(evs ...event.Event) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(evs))
	for _, ev := range evs {
		raw, err := event.Encode(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// LineSize is the length of the line Encode produces for a frame of kind t
// carrying events, without the terminator. events must be compact JSON, as
// produced by event.Encode.
func LineSize(t Type, events []json.RawMessage) int {
	if len(events) == 0 {
		return len(`{"type":""}`) + len(t)
	}
	n := len(`{"type":"","events":[]}`) + len(t) + len(events) - 1
	for _, ev := range events {
		n += len(ev)
	}
	return n
}

// Split cuts events into consecutive runs, in order, whose frames of kind t
// each fit in maxBytes. An event too large to travel even alone is returned
// in oversized and left out of the runs.
func Split(t Type, events []json.RawMessage, maxBytes int) (runs [][]json.RawMessage, oversized []json.RawMessage) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	empty := len(`{"type":"","events":[]}`) + len(t)
	var (
		cur  []json.RawMessage
		size int
	)
	for _, ev := range events {
		if empty+len(ev) > maxBytes {
			oversized = append(oversized, ev)
			continue
		}
		next := size + len(ev)
		if len(cur) > 0 {
			next++ // comma
		}
		if len(cur) > 0 && empty+next > maxBytes {
			runs = append(runs, cur)
			cur, next = nil, len(ev)
		}
		cur = append(cur, ev)
		size = next
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs, oversized
}
