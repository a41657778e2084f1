// Package packed is the dense binary encoding for per-instruction p-code.
//
// Record layout (integers are unsigned LEB128 varints):
//
//	0x20 instruction  space offset length
//	0x21 op           opcode ninputs  then output (0x22|0x23) then ninputs x 0x22
//	0x22 varnode      space offset size
//	0x23 void         (no output)
//	0x24 end          closes the instruction
package packed

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/danmuck/decompctl/internal/protocol"
)

const (
	TagInstruction byte = 0x20
	TagOp          byte = 0x21
	TagVarnode     byte = 0x22
	TagVoid        byte = 0x23
	TagEnd         byte = 0x24
)

const (
	// MaxInputs bounds the inputs of one op.
	MaxInputs = 64
	// MaxOps bounds the ops of one instruction.
	MaxOps = 4096
)

// ErrNoInstruction is returned when the client sent an empty buffer because it
// could not produce p-code at the requested address.
var ErrNoInstruction = errors.New("packed: no instruction at address")

// Varnode references a storage location by space index.
type Varnode struct {
	Space  uint32
	Offset uint64
	Size   uint32
}

// Resolve maps the space index onto a space name table.
func (v Varnode) Resolve(spaces []string) (protocol.Varnode, error) {
	if int(v.Space) >= len(spaces) {
		return protocol.Varnode{}, fmt.Errorf("%w: space index %d outside table of %d", protocol.ErrMalformed, v.Space, len(spaces))
	}
	return protocol.Varnode{Space: spaces[v.Space], Offset: v.Offset, Size: v.Size}, nil
}

// Op is one p-code operation. Output is nil for ops without one.
type Op struct {
	Opcode uint32
	Output *Varnode
	Inputs []Varnode
}

// Instruction is the translation of exactly one machine instruction.
type Instruction struct {
	Space  uint32
	Offset uint64
	Length uint32
	Ops    []Op
}

// AppendInstruction appends the packed form of inst to dst.
func AppendInstruction(dst []byte, inst Instruction) []byte {
	dst = append(dst, TagInstruction)
	dst = binary.AppendUvarint(dst, uint64(inst.Space))
	dst = binary.AppendUvarint(dst, inst.Offset)
	dst = binary.AppendUvarint(dst, uint64(inst.Length))
	for _, op := range inst.Ops {
		dst = append(dst, TagOp)
		dst = binary.AppendUvarint(dst, uint64(op.Opcode))
		dst = binary.AppendUvarint(dst, uint64(len(op.Inputs)))
		if op.Output == nil {
			dst = append(dst, TagVoid)
		} else {
			dst = appendVarnode(dst, *op.Output)
		}
		for _, in := range op.Inputs {
			dst = appendVarnode(dst, in)
		}
	}
	return append(dst, TagEnd)
}

// Encode packs a sequence of instructions into one buffer.
func Encode(insts ...Instruction) []byte {
	var out []byte
	for _, inst := range insts {
		out = AppendInstruction(out, inst)
	}
	return out
}

func appendVarnode(dst []byte, v Varnode) []byte {
	dst = append(dst, TagVarnode)
	dst = binary.AppendUvarint(dst, uint64(v.Space))
	dst = binary.AppendUvarint(dst, v.Offset)
	return binary.AppendUvarint(dst, uint64(v.Size))
}

// ReadPackedStream decodes exactly one instruction, up to and including its end
// tag. Unknown or misplaced tags fail with ErrMalformed; running out of input
// before the end tag fails with ErrTruncated.
func ReadPackedStream(r io.ByteReader) (Instruction, error) {
	tag, err := readByte(r)
	if err != nil {
		return Instruction{}, err
	}
	if tag != TagInstruction {
		return Instruction{}, badTag(tag, "instruction header")
	}
	var inst Instruction
	if inst.Space, err = readU32(r, "space"); err != nil {
		return Instruction{}, err
	}
	if inst.Offset, err = readUvarint(r, "offset"); err != nil {
		return Instruction{}, err
	}
	if inst.Length, err = readU32(r, "length"); err != nil {
		return Instruction{}, err
	}
	for {
		tag, err := readByte(r)
		if err != nil {
			return Instruction{}, err
		}
		switch tag {
		case TagEnd:
			return inst, nil
		case TagOp:
			if len(inst.Ops) == MaxOps {
				return Instruction{}, fmt.Errorf("%w: more than %d ops in one instruction", protocol.ErrMalformed, MaxOps)
			}
			op, err := readOp(r)
			if err != nil {
				return Instruction{}, err
			}
			inst.Ops = append(inst.Ops, op)
		default:
			return Instruction{}, badTag(tag, "op or end")
		}
	}
}

// ReadPackedAll decodes every instruction group in b.
func ReadPackedAll(b []byte) ([]Instruction, error) {
	r := bytes.NewReader(b)
	var out []Instruction
	for r.Len() > 0 {
		inst, err := ReadPackedStream(r)
		if err != nil {
			return nil, fmt.Errorf("packed: instruction %d: %w", len(out), err)
		}
		out = append(out, inst)
	}
	return out, nil
}

func readOp(r io.ByteReader) (Op, error) {
	var op Op
	var err error
	if op.Opcode, err = readU32(r, "opcode"); err != nil {
		return Op{}, err
	}
	n, err := readUvarint(r, "input count")
	if err != nil {
		return Op{}, err
	}
	if n > MaxInputs {
		return Op{}, fmt.Errorf("%w: op declares %d inputs", protocol.ErrMalformed, n)
	}
	tag, err := readByte(r)
	if err != nil {
		return Op{}, err
	}
	switch tag {
	case TagVoid:
	case TagVarnode:
		out, err := readVarnodeBody(r)
		if err != nil {
			return Op{}, err
		}
		op.Output = &out
	default:
		return Op{}, badTag(tag, "op output")
	}
	if n > 0 {
		op.Inputs = make([]Varnode, 0, n)
	}
	for i := uint64(0); i < n; i++ {
		tag, err := readByte(r)
		if err != nil {
			return Op{}, err
		}
		if tag != TagVarnode {
			return Op{}, badTag(tag, "op input")
		}
		in, err := readVarnodeBody(r)
		if err != nil {
			return Op{}, err
		}
		op.Inputs = append(op.Inputs, in)
	}
	return op, nil
}

func readVarnodeBody(r io.ByteReader) (Varnode, error) {
	var v Varnode
	var err error
	if v.Space, err = readU32(r, "varnode space"); err != nil {
		return Varnode{}, err
	}
	if v.Offset, err = readUvarint(r, "varnode offset"); err != nil {
		return Varnode{}, err
	}
	if v.Size, err = readU32(r, "varnode size"); err != nil {
		return Varnode{}, err
	}
	return v, nil
}

func readByte(r io.ByteReader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, eofErr(err, "tag")
	}
	return b, nil
}

func readUvarint(r io.ByteReader, what string) (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, eofErr(err, what)
		}
		return 0, fmt.Errorf("%w: %s: %v", protocol.ErrMalformed, what, err)
	}
	return v, nil
}

func readU32(r io.ByteReader, what string) (uint32, error) {
	v, err := readUvarint(r, what)
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %s %d overflows 32 bits", protocol.ErrMalformed, what, v)
	}
	return uint32(v), nil
}

func eofErr(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: packed %s before end tag", protocol.ErrTruncated, what)
	}
	return err
}

func badTag(tag byte, want string) error {
	return fmt.Errorf("%w: packed tag 0x%02x where %s expected", protocol.ErrMalformed, tag, want)
}
