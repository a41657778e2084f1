package schema

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/decompctl/internal/protocol"
	"github.com/danmuck/decompctl/internal/protocol/frame"
	"github.com/danmuck/decompctl/internal/testutil/testlog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestEveryOpcodeHasSpec(t *testing.T) {
	testlog.Start(t)
	ops := Opcodes()
	if len(ops) != 17 {
		t.Fatalf("expected 17 opcodes, got %d", len(ops))
	}
	for _, op := range ops {
		spec, ok := Lookup(op)
		if !ok || spec.Opcode != op {
			t.Fatalf("lookup %s: ok=%v spec=%+v", op, ok, spec)
		}
		if spec.Result == 0 {
			t.Fatalf("%s has no result shape", op)
		}
	}
}

func TestValidateGetStringData(t *testing.T) {
	testlog.Start(t)
	q := Query{
		Opcode: GetStringData,
		Args: []string{
			AddressArg(protocol.Address{Space: "ram", Offset: 0x404000}),
			IntArg(64),
			"char",
			IntArg(1),
		},
	}
	if err := Validate(q); err != nil {
		t.Fatalf("validate getStringData: %v", err)
	}
}

func TestValidateArgCountDeterministic(t *testing.T) {
	testlog.Start(t)
	err := Validate(Query{Opcode: GetBytes, Args: []string{AddressArg(protocol.Address{Space: "ram"})}})
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.Arg != -1 || ve.Reason != "got 1 args, want 2" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateBadArgumentKind(t *testing.T) {
	testlog.Start(t)
	err := Validate(Query{Opcode: GetUserOpName, Args: []string{"seven"}})
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.Arg != 0 {
		t.Fatalf("unexpected arg index: %+v", ve)
	}

	err = Validate(Query{Opcode: GetRegisterName, Args: []string{AddressArg(protocol.Address{Space: "register"})}})
	if !errors.As(err, &ve) || ve.Arg != 0 {
		t.Fatalf("varnode without size should fail: %v", err)
	}
}

func TestValidateUnknownOpcode(t *testing.T) {
	testlog.Start(t)
	err := Validate(Query{Opcode: "getEverything"})
	var ve ValidationError
	if !errors.As(err, &ve) || ve.Reason != "unknown opcode" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueryWireRoundTrip(t *testing.T) {
	testlog.Start(t)
	vn := protocol.Varnode{Space: "register", Offset: 0x8, Size: 4}
	in := Query{Opcode: GetRegisterName, Args: []string{VarnodeArg(vn)}}
	var buf bytes.Buffer
	if err := WriteQuery(&buf, in); err != nil {
		t.Fatalf("write query: %v", err)
	}
	out, err := ReadQuery(&buf, frame.NoLimit)
	if err != nil {
		t.Fatalf("read query: %v", err)
	}
	if out.Opcode != in.Opcode || out.Key() != in.Key() {
		t.Fatalf("query mismatch: got=%+v want=%+v", out, in)
	}
	got, err := out.Varnode(0)
	if err != nil || got != vn {
		t.Fatalf("varnode arg: got=%+v err=%v", got, err)
	}
}

func TestReadQueryUnknownOpcodeIsDesync(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteQuery(&buf, Query{Opcode: "getEverything", Args: []string{"x"}}); err != nil {
		t.Fatalf("write query: %v", err)
	}
	_, err := ReadQuery(&buf, frame.NoLimit)
	if !errors.Is(err, protocol.ErrDesync) {
		t.Fatalf("expected ErrDesync, got %v", err)
	}
}

func TestQueryAccessors(t *testing.T) {
	testlog.Start(t)
	q := Query{Opcode: GetComments, Args: []string{AddressArg(protocol.Address{Space: "ram", Offset: 0x10}), "0x3"}}
	flags, err := q.Int(1)
	if err != nil || flags != 3 {
		t.Fatalf("int arg: %d err=%v", flags, err)
	}
	if _, err := q.String(5); err == nil {
		t.Fatalf("expected missing argument error")
	}
	addr, err := q.Address(0)
	if err != nil || addr.Offset != 0x10 || addr.Space != "ram" {
		t.Fatalf("address arg: %+v err=%v", addr, err)
	}
}

func TestValidateLeavesGlobalLoggerAlone(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	_ = Validate(Query{Opcode: "nope"})
	_ = Validate(Query{Opcode: GetUserOpName, Args: []string{"seven"}})
	_ = Validate(Query{Opcode: GetUserOpName, Args: []string{"7"}})
	if buf.Len() != 0 {
		t.Fatalf("validate wrote to the global logger: %s", buf.String())
	}
}
