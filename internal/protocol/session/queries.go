package session

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"

	"github.com/danmuck/decompctl/internal/protocol"
	"github.com/danmuck/decompctl/internal/protocol/document"
	"github.com/danmuck/decompctl/internal/protocol/frame"
	"github.com/danmuck/decompctl/internal/protocol/packed"
	"github.com/danmuck/decompctl/internal/protocol/schema"
)

func query(op schema.Opcode, args ...string) schema.Query {
	return schema.Query{Opcode: op, Args: args}
}

func invalid(op schema.Opcode, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidArgument, op, fmt.Sprintf(format, args...))
}

func (s *Session) queryString(q schema.Query) (string, error) {
	var out string
	err := s.roundTrip(q, schema.ResultString, func(r *bufio.Reader) error {
		v, err := frame.ReadString(r, s.cfg.MaxStringBytes)
		out = v
		return err
	}, nil)
	if err != nil {
		return "", err
	}
	return out, nil
}

func (s *Session) queryBool(q schema.Query) (bool, error) {
	var out bool
	err := s.roundTrip(q, schema.ResultBool, func(r *bufio.Reader) error {
		v, err := frame.ReadBool(r)
		out = v
		return err
	}, nil)
	if err != nil {
		return false, err
	}
	return out, nil
}

// queryDocument parses the markup only after the frame is closed, so bad markup
// does not cost the session.
func (s *Session) queryDocument(q schema.Query) (*document.Element, error) {
	var markup string
	var doc *document.Element
	err := s.roundTrip(q, schema.ResultDocument, func(r *bufio.Reader) error {
		v, err := frame.ReadString(r, s.cfg.MaxDocumentBytes)
		markup = v
		return err
	}, func() error {
		e, err := document.Unmarshal([]byte(markup))
		doc = e
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Session) queryBytes(q schema.Query, expected schema.Result, limit int, check func([]byte) error) ([]byte, error) {
	var out []byte
	err := s.roundTrip(q, expected, func(r *bufio.Reader) error {
		v, err := frame.ReadRawBytes(r, limit)
		out = v
		return err
	}, func() error {
		if check == nil {
			return nil
		}
		return check(out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetRegister returns the storage description of a named register.
func (s *Session) GetRegister(name string) (*document.Element, error) {
	if name == "" {
		return nil, invalid(schema.GetRegister, "empty register name")
	}
	return s.queryDocument(query(schema.GetRegister, name))
}

// GetRegisterName maps a storage location back to its register name. An empty
// answer means the location is not a register.
func (s *Session) GetRegisterName(vn protocol.Varnode) (string, error) {
	if vn.Space == "" || vn.Size == 0 {
		return "", invalid(schema.GetRegisterName, "incomplete varnode %s", vn)
	}
	return s.queryString(query(schema.GetRegisterName, schema.VarnodeArg(vn)))
}

// GetTrackedRegisters returns the register values the client knows at addr.
func (s *Session) GetTrackedRegisters(addr protocol.Address) (*document.Element, error) {
	if addr.Space == "" {
		return nil, invalid(schema.GetTrackedRegisters, "missing address space")
	}
	return s.queryDocument(query(schema.GetTrackedRegisters, schema.AddressArg(addr)))
}

func (s *Session) GetUserOpName(index int) (string, error) {
	if index < 0 {
		return "", invalid(schema.GetUserOpName, "negative index %d", index)
	}
	return s.queryString(query(schema.GetUserOpName, schema.IntArg(int64(index))))
}

// GetPcodePacked returns the translation of the single instruction at addr.
// An empty buffer fails with packed.ErrNoInstruction.
func (s *Session) GetPcodePacked(addr protocol.Address) (packed.Instruction, error) {
	if addr.Space == "" {
		return packed.Instruction{}, invalid(schema.GetPacked, "missing address space")
	}
	var inst packed.Instruction
	_, err := s.queryBytes(query(schema.GetPacked, schema.AddressArg(addr)), schema.ResultPacked, s.cfg.MaxPackedBytes, func(b []byte) error {
		if len(b) == 0 {
			return packed.ErrNoInstruction
		}
		r := bytes.NewReader(b)
		v, err := packed.ReadPackedStream(r)
		if err != nil {
			return err
		}
		if r.Len() != 0 {
			return fmt.Errorf("%w: %d bytes after instruction end", protocol.ErrMalformed, r.Len())
		}
		inst = v
		return nil
	})
	if err != nil {
		return packed.Instruction{}, err
	}
	return inst, nil
}

// GetPcodeRange returns up to count consecutive instructions starting at addr.
func (s *Session) GetPcodeRange(addr protocol.Address, count int) ([]packed.Instruction, error) {
	if addr.Space == "" {
		return nil, invalid(schema.GetPackedRange, "missing address space")
	}
	if count <= 0 {
		return nil, invalid(schema.GetPackedRange, "count %d", count)
	}
	var insts []packed.Instruction
	q := query(schema.GetPackedRange, schema.AddressArg(addr), schema.IntArg(int64(count)))
	_, err := s.queryBytes(q, schema.ResultPackedAll, s.cfg.MaxPackedBytes, func(b []byte) error {
		if len(b) == 0 {
			return packed.ErrNoInstruction
		}
		v, err := packed.ReadPackedAll(b)
		if err != nil {
			return err
		}
		if len(v) > count {
			return fmt.Errorf("%w: %d instructions for a request of %d", protocol.ErrMalformed, len(v), count)
		}
		insts = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return insts, nil
}

// GetMappedSymbols returns the symbols the client maps at addr. A nil document
// means nothing is mapped there.
func (s *Session) GetMappedSymbols(addr protocol.Address) (*document.Element, error) {
	if addr.Space == "" {
		return nil, invalid(schema.GetMappedSymbols, "missing address space")
	}
	return s.queryDocument(query(schema.GetMappedSymbols, schema.AddressArg(addr)))
}

func (s *Session) GetExternalRef(addr protocol.Address) (*document.Element, error) {
	if addr.Space == "" {
		return nil, invalid(schema.GetExternalRef, "missing address space")
	}
	return s.queryDocument(query(schema.GetExternalRef, schema.AddressArg(addr)))
}

// GetNamespacePath returns the chain of parent namespaces of id.
func (s *Session) GetNamespacePath(id uint64) (*document.Element, error) {
	return s.queryDocument(query(schema.GetNamespacePath, schema.UintArg(id)))
}

// IsNameUsed asks whether name is taken in the namespaces between startID and
// stopID.
func (s *Session) IsNameUsed(name string, startID, stopID uint64) (bool, error) {
	if name == "" {
		return false, invalid(schema.IsNameUsed, "empty name")
	}
	return s.queryBool(query(schema.IsNameUsed, name, schema.UintArg(startID), schema.UintArg(stopID)))
}

func (s *Session) GetCodeLabel(addr protocol.Address) (string, error) {
	if addr.Space == "" {
		return "", invalid(schema.GetCodeLabel, "missing address space")
	}
	return s.queryString(query(schema.GetCodeLabel, schema.AddressArg(addr)))
}

// GetType looks up a data type by name and id.
func (s *Session) GetType(name string, id uint64) (*document.Element, error) {
	return s.queryDocument(query(schema.GetType, name, schema.UintArg(id)))
}

// Comment kinds selectable in GetComments flags.
const (
	CommentUser1 uint32 = 1 << iota
	CommentUser2
	CommentUser3
	CommentHeader
	CommentWarning
	CommentWarningHeader

	CommentAll = CommentUser1 | CommentUser2 | CommentUser3 | CommentHeader | CommentWarning | CommentWarningHeader
)

// GetComments returns the comments of the function at fad whose kinds are set
// in flags.
func (s *Session) GetComments(fad protocol.Address, flags uint32) (*document.Element, error) {
	if fad.Space == "" {
		return nil, invalid(schema.GetComments, "missing address space")
	}
	if flags == 0 {
		return nil, invalid(schema.GetComments, "no comment kinds selected")
	}
	return s.queryDocument(query(schema.GetComments, schema.AddressArg(fad), schema.UintArg(uint64(flags))))
}

// GetBytes reads exactly size bytes of the load image at addr. A shorter answer
// fails with protocol.ErrTruncated; a longer one with ErrOversizedPayload.
func (s *Session) GetBytes(addr protocol.Address, size int) ([]byte, error) {
	if addr.Space == "" {
		return nil, invalid(schema.GetBytes, "missing address space")
	}
	if size <= 0 || size > s.cfg.MaxImageBytes {
		return nil, invalid(schema.GetBytes, "size %d outside (0, %d]", size, s.cfg.MaxImageBytes)
	}
	q := query(schema.GetBytes, schema.AddressArg(addr), schema.IntArg(int64(size)))
	return s.queryBytes(q, schema.ResultBytes, size, func(b []byte) error {
		if len(b) < size {
			return fmt.Errorf("%w: load image returned %d of %d bytes at %s", protocol.ErrTruncated, len(b), size, addr)
		}
		return nil
	})
}

// GetPcodeInject asks the client to compile the named injection in context.
func (s *Session) GetPcodeInject(name string, injectType int, context *document.Element) (*document.Element, error) {
	if name == "" {
		return nil, invalid(schema.GetPcodeInject, "empty injection name")
	}
	if context == nil {
		return nil, invalid(schema.GetPcodeInject, "missing context document")
	}
	ctx, err := schema.DocumentArg(context)
	if err != nil {
		return nil, invalid(schema.GetPcodeInject, "context: %v", err)
	}
	return s.queryDocument(query(schema.GetPcodeInject, name, schema.IntArg(int64(injectType)), ctx))
}

// GetCPoolRef resolves a constant pool reference given its reference values.
func (s *Session) GetCPoolRef(refs []uint64) (*document.Element, error) {
	if len(refs) == 0 {
		return nil, invalid(schema.GetCPoolRef, "no reference values")
	}
	doc := document.New("cpoolref")
	for _, ref := range refs {
		doc.AddChild(document.New("value", document.Attr{Name: "v", Value: "0x" + strconv.FormatUint(ref, 16)}))
	}
	arg, err := schema.DocumentArg(doc)
	if err != nil {
		return nil, invalid(schema.GetCPoolRef, "%v", err)
	}
	return s.queryDocument(query(schema.GetCPoolRef, arg))
}

// GetStringData reads at most maxBytes of string data at addr, interpreted as
// the named character type. truncated reports that the string ran past maxBytes.
func (s *Session) GetStringData(addr protocol.Address, maxBytes int, typeName string, typeID uint64) (data []byte, truncated bool, err error) {
	if addr.Space == "" {
		return nil, false, invalid(schema.GetStringData, "missing address space")
	}
	if maxBytes <= 0 || maxBytes > s.cfg.MaxImageBytes {
		return nil, false, invalid(schema.GetStringData, "max bytes %d outside (0, %d]", maxBytes, s.cfg.MaxImageBytes)
	}
	q := query(schema.GetStringData, schema.AddressArg(addr), schema.IntArg(int64(maxBytes)), typeName, schema.UintArg(typeID))
	err = s.roundTrip(q, schema.ResultBytesBool, func(r *bufio.Reader) error {
		b, err := frame.ReadRawBytes(r, maxBytes)
		if err != nil {
			return err
		}
		t, err := frame.ReadBool(r)
		if err != nil {
			return err
		}
		data, truncated = b, t
		return nil
	}, nil)
	if err != nil {
		return nil, false, err
	}
	return data, truncated, nil
}
