package document

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/danmuck/decompctl/internal/protocol/frame"
)

// Write writes e as one markup string payload.
func Write(w io.Writer, e *Element) error {
	b, err := Marshal(e)
	if err != nil {
		return err
	}
	return frame.WriteString(w, string(b))
}

// WriteResponse writes e as a complete response frame.
func WriteResponse(w io.Writer, e *Element) error {
	b, err := Marshal(e)
	if err != nil {
		return err
	}
	return frame.WriteResponse(w, func(w io.Writer) error {
		return frame.WriteString(w, string(b))
	})
}

// Encode returns the complete response frame for e.
func Encode(e *Element) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteResponse(&buf, e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadResponse reads one framed document answer. The markup is parsed only after
// the response-end marker is consumed, so malformed markup leaves the stream
// aligned (consumed is true) while framing faults do not.
func ReadResponse(r *bufio.Reader, limit int) (e *Element, consumed bool, err error) {
	var markup string
	consumed, err = frame.ReadResponse(r, func(r *bufio.Reader) error {
		s, err := frame.ReadString(r, limit)
		markup = s
		return err
	})
	if err != nil {
		return nil, consumed, err
	}
	e, err = Unmarshal([]byte(markup))
	if err != nil {
		return nil, consumed, err
	}
	return e, consumed, nil
}

// Decode is ReadResponse for callers that only track errors.
func Decode(r *bufio.Reader, limit int) (*Element, error) {
	e, _, err := ReadResponse(r, limit)
	if err != nil {
		return nil, fmt.Errorf("document: %w", err)
	}
	return e, nil
}
