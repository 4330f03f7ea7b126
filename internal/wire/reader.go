package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameBytes bounds one line. Uploads travel inside frames, so the
// limit is generous.
const DefaultMaxFrameBytes = 64 << 20

// ErrFrameTooLarge is returned for a line above the limit. The line has been
// discarded and the reader is positioned at the next one.
var ErrFrameTooLarge = errors.New("wire: frame exceeds size limit")

// DecodeError is a framing fault: the line was read completely but is not a
// valid frame. The stream itself is still usable.
type DecodeError struct {
	Line []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wire: malformed frame %q: %v", preview(e.Line), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsFramingFault reports whether err leaves the stream readable.
func IsFramingFault(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) || errors.Is(err, ErrFrameTooLarge)
}

// Reader reads frames one line at a time.
type Reader struct {
	br  *bufio.Reader
	max int
}

// NewReader wraps r. maxBytes <= 0 selects DefaultMaxFrameBytes.
func NewReader(r io.Reader, maxBytes int) *Reader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &Reader{br: bufio.NewReaderSize(r, 64<<10), max: maxBytes}
}

// Next returns the next frame. Blank lines are skipped. A *DecodeError or
// ErrFrameTooLarge can be followed by further calls; any other error
// (io.EOF included) ends the stream.
func (r *Reader) Next() (Frame, error) {
	for {
		line, err := r.readLine()
		if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
			return Frame{}, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return Frame{}, err
			}
			continue
		}

		var f Frame
		if uerr := json.Unmarshal(line, &f); uerr != nil {
			return Frame{}, &DecodeError{Line: line, Err: uerr}
		}
		if f.Type == "" {
			return Frame{}, &DecodeError{Line: line, Err: errors.New("missing type")}
		}
		return f, nil
	}
}

// readLine returns one line without its terminator. On overflow the rest of
// the line is consumed and ErrFrameTooLarge returned.
func (r *Reader) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.br.ReadSlice('\n')
		if len(buf)+len(chunk) > r.max+1 {
			if errors.Is(err, bufio.ErrBufferFull) {
				if derr := r.discardLine(); derr != nil {
					return nil, derr
				}
			}
			return nil, ErrFrameTooLarge
		}
		buf = append(buf, chunk...)
		switch {
		case err == nil:
			return bytes.TrimSuffix(buf, []byte{'\n'}), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return buf, err
		}
	}
}

func (r *Reader) discardLine() error {
	for {
		_, err := r.br.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

func preview(b []byte) []byte {
	const n = 80
	if len(b) > n {
		return b[:n]
	}
	return b
}
