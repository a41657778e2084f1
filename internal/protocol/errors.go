package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated        = errors.New("protocol: truncated data")
	ErrMalformed        = errors.New("protocol: malformed payload")
	ErrDesync           = errors.New("protocol: stream desynchronized")
	ErrOversizedPayload = errors.New("protocol: payload exceeds bound")
	ErrRemoteFailure    = errors.New("protocol: remote failure")
	ErrSessionClosed    = errors.New("protocol: session closed")
)

// Kind classifies a Failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindTruncated
	KindMalformed
	KindDesync
	KindOversized
	KindRemote
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindTruncated:
		return "truncated"
	case KindMalformed:
		return "malformed"
	case KindDesync:
		return "desync"
	case KindOversized:
		return "oversized"
	case KindRemote:
		return "remote"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindTruncated:
		return ErrTruncated
	case KindMalformed:
		return ErrMalformed
	case KindDesync:
		return ErrDesync
	case KindOversized:
		return ErrOversizedPayload
	case KindRemote:
		return ErrRemoteFailure
	case KindClosed:
		return ErrSessionClosed
	default:
		return nil
	}
}

// Failure is the single error shape for both locally detected protocol faults and
// failures the peer reported in place of an answer.
//
// Remote failures carry the peer's type name verbatim in RemoteType.
type Failure struct {
	Kind       Kind
	Query      string
	Expected   string
	RemoteType string
	Message    string
	Err        error
}

// Remote builds a failure reported by the peer.
func Remote(typeName, message string) *Failure {
	return &Failure{Kind: KindRemote, RemoteType: typeName, Message: message}
}

// Local builds a locally detected failure of the given kind.
func Local(kind Kind, message string) *Failure {
	return &Failure{Kind: kind, Message: message}
}

func (f *Failure) Error() string {
	var head string
	switch {
	case f.Query != "" && f.Expected != "":
		head = fmt.Sprintf("protocol: %s (%s): ", f.Query, f.Expected)
	case f.Query != "":
		head = fmt.Sprintf("protocol: %s: ", f.Query)
	default:
		head = "protocol: "
	}
	if f.Kind == KindRemote {
		return fmt.Sprintf("%sremote %s: %s", head, f.RemoteType, f.Message)
	}
	if f.Err != nil {
		return head + f.Err.Error()
	}
	if f.Message != "" {
		return fmt.Sprintf("%s%s: %s", head, f.Kind, f.Message)
	}
	return head + f.Kind.String()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches the sentinel error of the failure's kind.
func (f *Failure) Is(target error) bool {
	s := f.Kind.sentinel()
	return s != nil && target == s
}

// Remote reports whether the peer raised this failure.
func (f *Failure) Remote() bool {
	return f.Kind == KindRemote
}

// Classify maps an error chain onto a failure kind.
func Classify(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrDesync):
		return KindDesync
	case errors.Is(err, ErrOversizedPayload):
		return KindOversized
	case errors.Is(err, ErrTruncated):
		return KindTruncated
	case errors.Is(err, ErrMalformed):
		return KindMalformed
	case errors.Is(err, ErrSessionClosed):
		return KindClosed
	default:
		return KindUnknown
	}
}

// Wrap attaches query context to err. Remote failures keep their identity; every
// other error becomes a local failure of its classified kind.
func Wrap(err error, query, expected string) error {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		out := *f
		if out.Query == "" {
			out.Query = query
		}
		if out.Expected == "" {
			out.Expected = expected
		}
		return &out
	}
	return &Failure{
		Kind:     Classify(err),
		Query:    query,
		Expected: expected,
		Err:      err,
	}
}

// AsFailure extracts a Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// SessionFatal reports whether no further queries may be issued after err.
func SessionFatal(err error) bool {
	switch Classify(err) {
	case KindDesync, KindClosed:
		return true
	default:
		return false
	}
}
