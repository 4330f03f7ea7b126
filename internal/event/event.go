// Package event defines the mutation events regional sites exchange through
// the hub, and their JSON wire form.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the `type` discriminator of an event on the wire.
type Kind string

const (
	KindUserCreate       Kind = "user_create"
	KindFileUpload       Kind = "file_upload"
	KindFileDelete       Kind = "file_delete"
	KindPermissionChange Kind = "permission_change"
	KindFriendRequest    Kind = "friend_request"
	KindFriendAdded      Kind = "friend_added"
	KindFriendRejected   Kind = "friend_rejected"
	KindFriendRemoved    Kind = "friend_removed"
)

var (
	ErrMissingType = errors.New("event: missing type")
	ErrNoPayload   = errors.New("event: no payload")
)

// Payload is implemented only by the payload types of this package, so a type
// switch over the kinds below plus Unknown is exhaustive.
type Payload interface {
	Kind() Kind
	Validate() error
	sealed()
}

// Event is one mutation, stamped with the time it happened at its origin.
// Payload values are never mutated after construction.
type Event struct {
	Timestamp Time
	Payload   Payload
}

// New stamps p with the current time.
func New(p Payload) Event {
	return Event{Timestamp: Now(), Payload: p}
}

// Kind returns the payload kind, or "" for an empty event.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// fileUploadWire keeps the upload fields nested under "payload", the shape the
// regionals have always used for uploads.
type fileUploadWire struct {
	Type      Kind       `json:"type"`
	Payload   FileUpload `json:"payload"`
	Timestamp Time       `json:"timestamp"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	switch p := e.Payload.(type) {
	case nil:
		return nil, ErrNoPayload
	case FileUpload:
		return json.Marshal(fileUploadWire{Type: KindFileUpload, Payload: p, Timestamp: e.Timestamp})
	case Unknown:
		if len(p.Raw) == 0 {
			return nil, fmt.Errorf("event: unknown kind %q has no body", p.Type)
		}
		return p.Raw, nil
	default:
		body, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		fields := make(map[string]json.RawMessage)
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
		fields["type"], _ = json.Marshal(p.Kind())
		if fields["timestamp"], err = e.Timestamp.MarshalJSON(); err != nil {
			return nil, err
		}
		return json.Marshal(fields)
	}
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var head struct {
		Type      string          `json:"type"`
		Timestamp Time            `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("event: %w", err)
	}
	if head.Type == "" {
		return ErrMissingType
	}

	body := data
	if len(head.Payload) > 0 && string(head.Payload) != "null" {
		body = head.Payload
	}

	var (
		p   Payload
		err error
	)
	switch Kind(head.Type) {
	case KindUserCreate:
		p, err = decodeAs[UserCreate](body)
	case KindFileUpload:
		p, err = decodeAs[FileUpload](body)
	case KindFileDelete:
		p, err = decodeAs[FileDelete](body)
	case KindPermissionChange:
		p, err = decodeAs[PermissionChange](body)
	case KindFriendRequest:
		p, err = decodeAs[FriendRequest](body)
	case KindFriendAdded:
		p, err = decodeAs[FriendAdded](body)
	case KindFriendRejected:
		p, err = decodeAs[FriendRejected](body)
	case KindFriendRemoved:
		p, err = decodeAs[FriendRemoved](body)
	default:
		p = Unknown{Type: head.Type, Raw: append(json.RawMessage(nil), data...)}
	}
	if err != nil {
		return fmt.Errorf("event %s: %w", head.Type, err)
	}

	e.Timestamp = head.Timestamp
	e.Payload = p
	return nil
}

func decodeAs[T Payload](body []byte) (Payload, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Encode returns the wire form of e.
func Encode(e Event) (json.RawMessage, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Decode parses and validates one event. Unknown kinds decode without error.
func Decode(raw json.RawMessage) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, err
	}
	if e.Payload == nil {
		return Event{}, ErrNoPayload
	}
	if err := e.Payload.Validate(); err != nil {
		return Event{}, fmt.Errorf("event %s: %w", e.Kind(), err)
	}
	return e, nil
}
