package packed

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/decompctl/internal/protocol"
)

func sampleInstruction() Instruction {
	out := Varnode{Space: 2, Offset: 0x0, Size: 8}
	return Instruction{
		Space:  1,
		Offset: 0x401000,
		Length: 3,
		Ops: []Op{
			{
				Opcode: 19, // INT_ADD
				Output: &out,
				Inputs: []Varnode{{Space: 2, Offset: 0x0, Size: 8}, {Space: 0, Offset: 0x10, Size: 8}},
			},
			{Opcode: 2, Inputs: []Varnode{{Space: 1, Offset: 0x401010, Size: 8}}}, // BRANCH
			{Opcode: 1},
		},
	}
}

func TestInstructionRoundTrip(t *testing.T) {
	in := sampleInstruction()
	buf := AppendInstruction(nil, in)
	out, err := ReadPackedStream(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("read packed: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round-trip mismatch:\n in=%+v\nout=%+v", in, out)
	}
}

func TestReadPackedStreamStopsAtEndTag(t *testing.T) {
	first := sampleInstruction()
	second := Instruction{Space: 1, Offset: 0x401003, Length: 1}
	r := bytes.NewReader(Encode(first, second))
	if _, err := ReadPackedStream(r); err != nil {
		t.Fatalf("first: %v", err)
	}
	got, err := ReadPackedStream(r)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !reflect.DeepEqual(got, second) {
		t.Fatalf("second mismatch: %+v", got)
	}
	if r.Len() != 0 {
		t.Fatalf("unread bytes: %d", r.Len())
	}
}

func TestReadPackedAll(t *testing.T) {
	in := []Instruction{sampleInstruction(), {Space: 1, Offset: 0x401003, Length: 2, Ops: []Op{{Opcode: 10}}}}
	out, err := ReadPackedAll(Encode(in...))
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("read all mismatch")
	}
	empty, err := ReadPackedAll(nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty buffer: %v %v", empty, err)
	}
}

func TestReadPackedStreamMissingEndTag(t *testing.T) {
	buf := AppendInstruction(nil, sampleInstruction())
	for cut := 0; cut < len(buf); cut++ {
		_, err := ReadPackedStream(bytes.NewReader(buf[:cut]))
		if !errors.Is(err, protocol.ErrTruncated) {
			t.Fatalf("cut=%d: expected ErrTruncated, got %v", cut, err)
		}
	}
}

func TestReadPackedStreamBadTags(t *testing.T) {
	cases := map[string][]byte{
		"bad header":  {0x7f},
		"bad op tag":  {TagInstruction, 1, 0, 1, 0x99},
		"bad output":  {TagInstruction, 1, 0, 1, TagOp, 1, 0, 0x42},
		"bad input":   {TagInstruction, 1, 0, 1, TagOp, 1, 1, TagVoid, TagVoid},
		"too many in": {TagInstruction, 1, 0, 1, TagOp, 1, MaxInputs + 1, TagVoid},
		"wide space":  {TagInstruction, 0xff, 0xff, 0xff, 0xff, 0x7f},
	}
	for name, raw := range cases {
		_, err := ReadPackedStream(bytes.NewReader(raw))
		if !errors.Is(err, protocol.ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestVarnodeResolve(t *testing.T) {
	spaces := []string{"const", "ram", "register"}
	vn, err := Varnode{Space: 2, Offset: 0x8, Size: 4}.Resolve(spaces)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if vn.Space != "register" || vn.Offset != 0x8 || vn.Size != 4 {
		t.Fatalf("unexpected varnode: %+v", vn)
	}
	if _, err := (Varnode{Space: 3}).Resolve(spaces); !errors.Is(err, protocol.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
