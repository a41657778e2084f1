package schema

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/danmuck/decompctl/internal/protocol"
	"github.com/danmuck/decompctl/internal/protocol/document"
	"github.com/danmuck/decompctl/internal/protocol/frame"
)

// Query is one engine->client request. Arguments travel as strings in the order
// the opcode's Spec declares.
type Query struct {
	Opcode Opcode
	Args   []string
}

// WriteQuery writes the opcode string followed by each argument string. Queries
// carry no burst markers of their own.
func WriteQuery(w io.Writer, q Query) error {
	buf := frame.AppendString(nil, string(q.Opcode))
	for _, arg := range q.Args {
		buf = frame.AppendString(buf, arg)
	}
	_, err := w.Write(buf)
	return err
}

// ReadQuery reads one query. The argument count comes from the opcode's Spec, so
// an unknown opcode leaves the stream position unknown and fails with ErrDesync.
func ReadQuery(r io.Reader, limit int) (Query, error) {
	name, err := frame.ReadString(r, limit)
	if err != nil {
		return Query{}, err
	}
	spec, ok := Lookup(Opcode(name))
	if !ok {
		return Query{Opcode: Opcode(name)}, fmt.Errorf("%w: unknown opcode %q", protocol.ErrDesync, name)
	}
	q := Query{Opcode: spec.Opcode, Args: make([]string, 0, len(spec.Args))}
	for range spec.Args {
		arg, err := frame.ReadString(r, limit)
		if err != nil {
			return Query{}, err
		}
		q.Args = append(q.Args, arg)
	}
	return q, nil
}

func (q Query) arg(i int) (string, error) {
	if i < 0 || i >= len(q.Args) {
		return "", ValidationError{Opcode: q.Opcode, Arg: i, Reason: "missing argument"}
	}
	return q.Args[i], nil
}

func (q Query) String(i int) (string, error) {
	return q.arg(i)
}

func (q Query) Int(i int) (int64, error) {
	raw, err := q.arg(i)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(raw, 0, 64)
	if err != nil {
		return 0, ValidationError{Opcode: q.Opcode, Arg: i, Reason: err.Error()}
	}
	return v, nil
}

func (q Query) Uint(i int) (uint64, error) {
	raw, err := q.arg(i)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return 0, ValidationError{Opcode: q.Opcode, Arg: i, Reason: err.Error()}
	}
	return v, nil
}

func (q Query) Address(i int) (protocol.Address, error) {
	raw, err := q.arg(i)
	if err != nil {
		return protocol.Address{}, err
	}
	return document.ParseAddressMarkup(raw)
}

func (q Query) Varnode(i int) (protocol.Varnode, error) {
	raw, err := q.arg(i)
	if err != nil {
		return protocol.Varnode{}, err
	}
	return document.ParseVarnodeMarkup(raw)
}

func (q Query) Document(i int) (*document.Element, error) {
	raw, err := q.arg(i)
	if err != nil {
		return nil, err
	}
	return document.Unmarshal([]byte(raw))
}

// Key joins the arguments into a stable lookup key.
func (q Query) Key() string {
	return strings.Join(q.Args, "|")
}

// Builders for argument strings.

func IntArg(v int64) string {
	return strconv.FormatInt(v, 10)
}

func UintArg(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func AddressArg(a protocol.Address) string {
	return document.AddressElement(a).String()
}

func VarnodeArg(v protocol.Varnode) string {
	return document.VarnodeElement(v).String()
}

func DocumentArg(e *document.Element) (string, error) {
	b, err := document.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
