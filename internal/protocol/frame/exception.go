package frame

import (
	"io"

	"github.com/danmuck/decompctl/internal/protocol"
)

const (
	// AlignmentType tags exception frames the engine sends when it has lost
	// alignment with the stream through no fault of the peer.
	AlignmentType = "alignment"

	// FaultType tags the emergency frame written on a fatal low-level fault.
	FaultType = "fault"

	// MaxExceptionText bounds the type name and message of an inbound exception.
	MaxExceptionText = 64 * 1024
)

// AppendException appends a complete exception-shaped response frame to dst.
func AppendException(dst []byte, typeName, message string) []byte {
	dst = appendMarker(dst, ResponseStart)
	dst = appendMarker(dst, ExceptionTag)
	dst = AppendString(dst, typeName)
	dst = AppendString(dst, message)
	return appendMarker(dst, ResponseEnd)
}

// WriteException sends typeName and message in place of a normal answer.
func WriteException(w io.Writer, typeName, message string) error {
	size := 4*MarkerLen + blockSize(len(typeName)) + blockSize(len(message))
	_, err := w.Write(AppendException(make([]byte, 0, size), typeName, message))
	return err
}

// WriteFailure sends err as an exception frame. Remote failures keep their type
// name; local ones are reported as alignment faults.
func WriteFailure(w io.Writer, err error) error {
	if f, ok := protocol.AsFailure(err); ok && f.Remote() {
		return WriteException(w, f.RemoteType, f.Message)
	}
	return WriteException(w, AlignmentType, err.Error())
}

func readException(r io.Reader) (*protocol.Failure, error) {
	if err := ExpectMarker(r, ExceptionTag); err != nil {
		return nil, err
	}
	typeName, err := ReadString(r, MaxExceptionText)
	if err != nil {
		return nil, err
	}
	message, err := ReadString(r, MaxExceptionText)
	if err != nil {
		return nil, err
	}
	return protocol.Remote(typeName, message), nil
}
