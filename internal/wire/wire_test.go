package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyalp7/SyncSphere/internal/event"
)

func TestEncode_SendIsBareType(t *testing.T) {
	b, err := Encode(Send())
	require.NoError(t, err)
	assert.Equal(t, "{\"type\":\"send\"}\n", string(b))
}

func TestWriteThenRead(t *testing.T) {
	evs, err := EncodeEvents(
		event.New(event.FileDelete{FileID: 1}),
		event.New(event.FriendAdded{RequestID: 2}),
	)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Changes(evs)))
	require.NoError(t, Write(&buf, Send()))
	require.NoError(t, Write(&buf, Receive(evs[:1])))

	r := NewReader(&buf, 0)

	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeChanges, f.Type)
	require.Len(t, f.Events, 2)
	assert.JSONEq(t, string(evs[1]), string(f.Events[1]))

	f, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeSend, f.Type)
	assert.Empty(t, f.Events)

	f, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeReceive, f.Type)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_MalformedLineDoesNotEndStream(t *testing.T) {
	in := strings.Join([]string{
		`{"type":"changes","events":[{"type":"file_delete","file_id":1}]}`,
		``,
		`this is not json`,
		`{"events":[]}`,
		`{"type":"hello"}`,
		`{"type":"send"}`,
	}, "\n") + "\n"
	r := NewReader(strings.NewReader(in), 0)

	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeChanges, f.Type)

	_, err = r.Next()
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "this is not json", string(de.Line))
	assert.True(t, IsFramingFault(err))

	_, err = r.Next()
	require.True(t, IsFramingFault(err), "missing type is a framing fault")

	f, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, Type("hello"), f.Type)

	f, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeSend, f.Type)
}

func TestReader_OversizedFrameIsSkipped(t *testing.T) {
	big := `{"type":"changes","events":["` + strings.Repeat("a", 200<<10) + `"]}`
	in := big + "\n" + `{"type":"send"}` + "\n"
	r := NewReader(strings.NewReader(in), 1024)

	_, err := r.Next()
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.True(t, IsFramingFault(err))

	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeSend, f.Type)
}

func TestReader_LargeFrameWithinLimit(t *testing.T) {
	payload := strings.Repeat("b", 300<<10)
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	line := `{"type":"receive","events":[` + string(raw) + `]}`

	r := NewReader(strings.NewReader(line+"\n"), 1<<20)
	f, err := r.Next()
	require.NoError(t, err)
	require.Len(t, f.Events, 1)
	assert.Equal(t, string(raw), string(f.Events[0]))
}

func TestReader_LastLineWithoutNewline(t *testing.T) {
	r := NewReader(strings.NewReader(`{"type":"send"}`), 0)
	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeSend, f.Type)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, IsFramingFault(err))
}

func TestLineSize_MatchesEncode(t *testing.T) {
	evs, err := EncodeEvents(
		event.New(event.FileDelete{FileID: 1}),
		event.New(event.FileUpload{ID: 2, UserID: 1, StoredFilename: "2.txt", Content: []byte("<a&b>")}),
	)
	require.NoError(t, err)
	for _, f := range []Frame{Send(), Changes(evs), Receive(evs[:1])} {
		b, err := Encode(f)
		require.NoError(t, err)
		assert.Equal(t, len(b)-1, LineSize(f.Type, f.Events), f.Type)
	}
}

func TestSplit_RunsFitLimitInOrder(t *testing.T) {
	const limit = 2048
	var evs []json.RawMessage
	for i := int64(1); i <= 4; i++ {
		raw, err := event.Encode(event.New(event.FileUpload{
			ID: i, UserID: 1, StoredFilename: "f.txt", Content: bytes.Repeat([]byte("x"), 900),
		}))
		require.NoError(t, err)
		evs = append(evs, raw)
	}
	big, err := event.Encode(event.New(event.FileUpload{ID: 9, Content: bytes.Repeat([]byte("x"), 4000)}))
	require.NoError(t, err)
	small, err := event.Encode(event.New(event.FileDelete{FileID: 5}))
	require.NoError(t, err)
	in := []json.RawMessage{evs[0], evs[1], big, evs[2], evs[3], small}

	runs, oversized := Split(TypeChanges, in, limit)
	assert.Equal(t, []json.RawMessage{big}, oversized)
	require.Greater(t, len(runs), 1)

	var flat []json.RawMessage
	var buf bytes.Buffer
	for _, run := range runs {
		assert.LessOrEqual(t, LineSize(TypeChanges, run), limit)
		flat = append(flat, run...)
		require.NoError(t, Write(&buf, Changes(run)))
	}
	assert.Equal(t, []json.RawMessage{evs[0], evs[1], evs[2], evs[3], small}, flat)

	// every run is accepted by a reader with the same limit
	r := NewReader(&buf, limit)
	for range runs {
		f, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, TypeChanges, f.Type)
	}
}

func TestSplit_SmallBatchIsOneRun(t *testing.T) {
	evs, err := EncodeEvents(event.New(event.FileDelete{FileID: 1}), event.New(event.FileDelete{FileID: 2}))
	require.NoError(t, err)
	runs, oversized := Split(TypeChanges, evs, 0)
	assert.Empty(t, oversized)
	assert.Equal(t, [][]json.RawMessage{evs}, runs)
}
