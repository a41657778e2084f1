package peer

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/decompctl/internal/protocol/document"
	"github.com/danmuck/decompctl/internal/protocol/frame"
	"github.com/danmuck/decompctl/internal/protocol/schema"
)

// Remote type names used when a handler error does not name its own.
const (
	FailureType      = "peer.Failure"
	UnknownQueryType = "peer.UnknownQuery"
	BadQueryType     = "peer.BadQuery"
)

// Answer carries the value of one query. Only the fields matching the opcode's
// result shape are sent.
type Answer struct {
	Bool      bool
	String    string
	Bytes     []byte
	Doc       *document.Element
	Truncated bool
}

func BoolAnswer(v bool) Answer                  { return Answer{Bool: v} }
func StringAnswer(v string) Answer              { return Answer{String: v} }
func BytesAnswer(b []byte) Answer               { return Answer{Bytes: b} }
func DocumentAnswer(e *document.Element) Answer { return Answer{Doc: e} }

// Error is a handler failure reported to the engine under Type.
type Error struct {
	Type    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) RemoteType() string {
	return e.Type
}

// Errorf builds an *Error with a formatted message.
func Errorf(typeName, format string, args ...any) *Error {
	return &Error{Type: typeName, Message: fmt.Sprintf(format, args...)}
}

// RemoteTypeOf returns the type name an error is reported under.
func RemoteTypeOf(err error) string {
	var typed interface{ RemoteType() string }
	if errors.As(err, &typed) && typed.RemoteType() != "" {
		return typed.RemoteType()
	}
	return FailureType
}

func remoteMessage(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Message
	}
	return err.Error()
}

// WriteAnswer writes a as a complete response frame shaped for result.
func WriteAnswer(w io.Writer, result schema.Result, a Answer) error {
	var markup []byte
	if result == schema.ResultDocument {
		b, err := document.Marshal(a.Doc)
		if err != nil {
			return err
		}
		markup = b
	}
	return frame.WriteResponse(w, func(w io.Writer) error {
		switch result {
		case schema.ResultBool:
			return frame.WriteBool(w, a.Bool)
		case schema.ResultString:
			return frame.WriteString(w, a.String)
		case schema.ResultBytes, schema.ResultPacked, schema.ResultPackedAll:
			return frame.WriteRawBytes(w, a.Bytes)
		case schema.ResultDocument:
			return frame.WriteString(w, string(markup))
		case schema.ResultBytesBool:
			if err := frame.WriteRawBytes(w, a.Bytes); err != nil {
				return err
			}
			return frame.WriteBool(w, a.Truncated)
		default:
			return fmt.Errorf("peer: unknown result shape %d", result)
		}
	})
}
