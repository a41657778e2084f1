package frame

import (
	"bufio"
	"io"
)

// Decoder reads one response payload positioned just after the response-start
// marker. It must consume the whole payload and nothing past it.
type Decoder func(r *bufio.Reader) error

// Encoder writes one response payload.
type Encoder func(w io.Writer) error

// ReadResponse reads one framed response: response-start, either an exception
// record or the payload handled by decode, then response-end.
//
// consumed reports whether the response-end marker was read. When it is false the
// stream position can no longer be trusted and the caller must close the session.
// A remote failure is returned as a *protocol.Failure with consumed set.
func ReadResponse(r *bufio.Reader, decode Decoder) (consumed bool, err error) {
	if err := ExpectResponseStart(r); err != nil {
		return false, err
	}
	next, err := r.Peek(MarkerLen)
	if err != nil {
		return false, readErr(err, "response payload")
	}
	if isMarker(next, ExceptionTag) {
		remote, err := readException(r)
		if err != nil {
			return false, err
		}
		if err := ExpectResponseEnd(r); err != nil {
			return false, err
		}
		return true, remote
	}
	if err := decode(r); err != nil {
		return false, err
	}
	if err := ExpectResponseEnd(r); err != nil {
		return false, err
	}
	return true, nil
}

// WriteResponse writes response-start, the payload, then response-end.
func WriteResponse(w io.Writer, encode Encoder) error {
	if err := WriteMarker(w, ResponseStart); err != nil {
		return err
	}
	if err := encode(w); err != nil {
		return err
	}
	return WriteMarker(w, ResponseEnd)
}
