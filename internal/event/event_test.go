package event

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_FileUploadNestsPayloadAndBase64Content(t *testing.T) {
	content := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}
	ev := Event{
		Timestamp: At(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)),
		Payload: FileUpload{
			ID: 7, UserID: 3, StoredFilename: "x.png", OriginalFilename: "cat.png",
			UploadDate: At(time.Date(2025, 5, 1, 9, 59, 0, 0, time.UTC)),
			FileSize:   int64(len(content)), Permissions: "private", Content: content,
		},
	}

	raw, err := Encode(ev)
	require.NoError(t, err)

	var wire struct {
		Type      string                     `json:"type"`
		Timestamp string                     `json:"timestamp"`
		Payload   map[string]json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, "file_upload", wire.Type)
	assert.Equal(t, "2025-05-01T10:00:00Z", wire.Timestamp)
	assert.JSONEq(t, `"`+base64.StdEncoding.EncodeToString(content)+`"`, string(wire.Payload["content"]))
	assert.JSONEq(t, `7`, string(wire.Payload["id"]))

	back, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, ev.Payload, back.Payload)
	assert.True(t, ev.Timestamp.Equal(back.Timestamp.Time))
}

func TestEncode_FlatKinds(t *testing.T) {
	raw, err := Encode(Event{Timestamp: At(time.Unix(0, 0)), Payload: PermissionChange{FileID: 9, NewPermissions: "public"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"permission_change","file_id":9,"new_permissions":"public","timestamp":"1970-01-01T00:00:00Z"}`, string(raw))
}

func TestDecode_OriginalRegionalShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Payload
	}{
		{"user_create", `{"type":"user_create","user_id":1,"username":"ann","email":"ann@example.com","timestamp":"2025-04-30T12:01:02.123456"}`,
			UserCreate{UserID: 1, Username: "ann", Email: "ann@example.com"}},
		{"file_delete", `{"type":"file_delete","file_id":7,"timestamp":"2025-04-30T12:01:02"}`, FileDelete{FileID: 7}},
		{"friend_request", `{"type":"friend_request","request_id":4,"from_user":1,"to_user":2}`, FriendRequest{RequestID: 4, FromUser: 1, ToUser: 2}},
		{"friend_added", `{"type":"friend_added","request_id":4}`, FriendAdded{RequestID: 4}},
		{"friend_rejected", `{"type":"friend_rejected","request_id":4}`, FriendRejected{RequestID: 4}},
		{"friend_removed", `{"type":"friend_removed","user_id":1,"friend_id":2}`, FriendRemoved{UserID: 1, FriendID: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Decode(json.RawMessage(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, ev.Payload)
		})
	}
}

func TestDecode_NaiveTimestampIsUTC(t *testing.T) {
	ev, err := Decode(json.RawMessage(`{"type":"file_delete","file_id":1,"timestamp":"2025-04-30T12:01:02.500000"}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 4, 30, 12, 1, 2, 500000000, time.UTC), ev.Timestamp.Time)
}

func TestDecode_UnknownKindIsKept(t *testing.T) {
	raw := json.RawMessage(`{"type":"group_create","group_id":3}`)
	ev, err := Decode(raw)
	require.NoError(t, err)

	u, ok := ev.Payload.(Unknown)
	require.True(t, ok)
	assert.Equal(t, Kind("group_create"), ev.Kind())

	again, err := Encode(ev)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(again))
	assert.Equal(t, "group_create", u.Type)
}

func TestDecode_Errors(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":      `{"type":`,
		"missing type":  `{"file_id":1}`,
		"bad field":     `{"type":"file_delete","file_id":"seven"}`,
		"invalid id":    `{"type":"file_delete","file_id":0}`,
		"no filename":   `{"type":"file_upload","payload":{"id":1,"user_id":1}}`,
		"bad timestamp": `{"type":"file_delete","file_id":1,"timestamp":"yesterday"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(json.RawMessage(raw))
			assert.Error(t, err)
		})
	}
}

func TestEncode_RequiresPayload(t *testing.T) {
	_, err := Encode(Event{})
	assert.ErrorIs(t, err, ErrNoPayload)
}
