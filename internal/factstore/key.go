package factstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/decompctl/internal/protocol"
	"github.com/danmuck/decompctl/internal/protocol/document"
	"github.com/danmuck/decompctl/internal/protocol/schema"
)

// Key normalizes the arguments of q so that equal facts map to one row no
// matter how the engine spelled them. Addresses become "space:0xoffset",
// varnodes "space:0xoffset:size", integers decimal, documents re-rendered.
func Key(q schema.Query) (string, error) {
	spec, ok := schema.Lookup(q.Opcode)
	if !ok {
		return "", fmt.Errorf("factstore: unknown opcode %q", q.Opcode)
	}
	if len(q.Args) != len(spec.Args) {
		return "", fmt.Errorf("factstore: %s: %d args, want %d", q.Opcode, len(q.Args), len(spec.Args))
	}
	parts := make([]string, len(q.Args))
	for i, kind := range spec.Args {
		var err error
		switch kind {
		case schema.ArgAddress:
			var a protocol.Address
			a, err = q.Address(i)
			parts[i] = a.String()
		case schema.ArgVarnode:
			var v protocol.Varnode
			v, err = q.Varnode(i)
			parts[i] = v.String()
		case schema.ArgInt:
			parts[i], err = canonicalInt(q.Args[i])
		case schema.ArgDocument:
			var e *document.Element
			e, err = q.Document(i)
			parts[i] = e.String()
		default:
			parts[i] = q.Args[i]
		}
		if err != nil {
			return "", fmt.Errorf("factstore: %s arg %d: %w", q.Opcode, i, err)
		}
	}
	return strings.Join(parts, "|"), nil
}

// fixtureKey is Key for arguments written in fixture files, where addresses
// and varnodes use their text form rather than markup.
func fixtureKey(op schema.Opcode, args []string) (string, error) {
	spec, ok := schema.Lookup(op)
	if !ok {
		return "", fmt.Errorf("factstore: unknown opcode %q", op)
	}
	if len(args) != len(spec.Args) {
		return "", fmt.Errorf("factstore: %s: %d args, want %d", op, len(args), len(spec.Args))
	}
	parts := make([]string, len(args))
	for i, kind := range spec.Args {
		var err error
		switch kind {
		case schema.ArgAddress:
			var a protocol.Address
			a, err = protocol.ParseAddress(args[i])
			parts[i] = a.String()
		case schema.ArgVarnode:
			var v protocol.Varnode
			v, err = protocol.ParseVarnode(args[i])
			parts[i] = v.String()
		case schema.ArgInt:
			parts[i], err = canonicalInt(args[i])
		case schema.ArgDocument:
			var e *document.Element
			e, err = document.Unmarshal([]byte(args[i]))
			parts[i] = e.String()
		default:
			parts[i] = args[i]
		}
		if err != nil {
			return "", fmt.Errorf("factstore: %s arg %d: %w", op, i, err)
		}
	}
	return strings.Join(parts, "|"), nil
}

func canonicalInt(raw string) (string, error) {
	if v, err := strconv.ParseInt(raw, 0, 64); err == nil {
		return strconv.FormatInt(v, 10), nil
	}
	v, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return "", fmt.Errorf("%w: integer %q", protocol.ErrMalformed, raw)
	}
	return strconv.FormatUint(v, 10), nil
}
