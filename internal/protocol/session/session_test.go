package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/danmuck/decompctl/internal/peer"
	"github.com/danmuck/decompctl/internal/protocol"
	"github.com/danmuck/decompctl/internal/protocol/document"
	"github.com/danmuck/decompctl/internal/protocol/frame"
	"github.com/danmuck/decompctl/internal/protocol/packed"
	"github.com/danmuck/decompctl/internal/protocol/schema"
	"github.com/danmuck/decompctl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entry = protocol.Address{Space: "ram", Offset: 0x401000}

// servePeer links a session to a peer.Conn answering with h.
func servePeer(t *testing.T, h peer.Handler) *Session {
	t.Helper()
	logger := testlog.Start(t)
	engineEnd, clientEnd := net.Pipe()
	t.Cleanup(func() {
		_ = engineEnd.Close()
		_ = clientEnd.Close()
	})
	conn := peer.NewConn(clientEnd, clientEnd, h, logger)
	go func() { _ = conn.Serve(context.Background()) }()
	return New(engineEnd, engineEnd, DefaultConfig(), logger)
}

// serveRaw links a session to a responder that reads one query per call and
// writes whatever respond returns.
func serveRaw(t *testing.T, respond func(q schema.Query) []byte) *Session {
	t.Helper()
	logger := testlog.Start(t)
	engineEnd, clientEnd := net.Pipe()
	t.Cleanup(func() {
		_ = engineEnd.Close()
		_ = clientEnd.Close()
	})
	go func() {
		r := bufio.NewReader(clientEnd)
		for {
			q, err := schema.ReadQuery(r, frame.NoLimit)
			if err != nil {
				return
			}
			if _, err := clientEnd.Write(respond(q)); err != nil {
				return
			}
		}
	}()
	return New(engineEnd, engineEnd, DefaultConfig(), logger)
}

func response(t *testing.T, encode frame.Encoder) []byte {
	t.Helper()
	var b []byte
	w := writerFunc(func(p []byte) (int, error) { b = append(b, p...); return len(p), nil })
	require.NoError(t, frame.WriteResponse(w, encode))
	return b
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestDispatcherTypedAnswers(t *testing.T) {
	s := servePeer(t, peer.HandlerFunc(func(_ context.Context, q schema.Query) (peer.Answer, error) {
		switch q.Opcode {
		case schema.GetCodeLabel:
			return peer.StringAnswer("main"), nil
		case schema.IsNameUsed:
			return peer.BoolAnswer(q.Args[0] == "main"), nil
		case schema.GetRegister:
			return peer.DocumentAnswer(document.New("addr",
				document.Attr{Name: "space", Value: "register"},
				document.Attr{Name: "offset", Value: "0x0"},
				document.Attr{Name: "size", Value: "8"},
			)), nil
		case schema.GetBytes:
			n, _ := q.Int(1)
			return peer.BytesAnswer(make([]byte, n)), nil
		case schema.GetStringData:
			return peer.Answer{Bytes: []byte("hello"), Truncated: true}, nil
		case schema.GetUserOpName:
			return peer.StringAnswer("syscall"), nil
		default:
			return peer.Answer{}, peer.Errorf("test.Unexpected", "%s", q.Opcode)
		}
	}))

	label, err := s.GetCodeLabel(entry)
	require.NoError(t, err)
	assert.Equal(t, "main", label)

	used, err := s.IsNameUsed("main", 0, 1)
	require.NoError(t, err)
	assert.True(t, used)

	reg, err := s.GetRegister("RAX")
	require.NoError(t, err)
	vn, err := document.ParseVarnode(reg)
	require.NoError(t, err)
	assert.Equal(t, protocol.Varnode{Space: "register", Offset: 0, Size: 8}, vn)

	b, err := s.GetBytes(entry, 16)
	require.NoError(t, err)
	assert.Len(t, b, 16)

	data, truncated, err := s.GetStringData(entry, 64, "char", 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
	assert.True(t, truncated)

	name, err := s.GetUserOpName(2)
	require.NoError(t, err)
	assert.Equal(t, "syscall", name)
}

func TestDispatcherRemoteFailureKeepsSession(t *testing.T) {
	s := servePeer(t, peer.HandlerFunc(func(_ context.Context, q schema.Query) (peer.Answer, error) {
		if q.Opcode == schema.GetType {
			return peer.Answer{}, peer.Errorf("exception.NotFoundException", "no type with id %s", q.Args[1])
		}
		return peer.StringAnswer("FUN_00401000"), nil
	}))

	_, err := s.GetType("", 77)
	require.ErrorIs(t, err, protocol.ErrRemoteFailure)
	f, ok := protocol.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, "exception.NotFoundException", f.RemoteType)
	assert.Equal(t, "no type with id 77", f.Message)
	assert.Equal(t, string(schema.GetType), f.Query)
	assert.Equal(t, "document", f.Expected)
	assert.False(t, s.Poisoned())

	label, err := s.GetCodeLabel(entry)
	require.NoError(t, err)
	assert.Equal(t, "FUN_00401000", label)
}

func TestConcurrentCallersGetTheirOwnAnswers(t *testing.T) {
	s := servePeer(t, peer.HandlerFunc(func(_ context.Context, q schema.Query) (peer.Answer, error) {
		return peer.StringAnswer("label " + q.Args[0]), nil
	}))

	const callers = 32
	var wg sync.WaitGroup
	mismatched := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(addr protocol.Address) {
			defer wg.Done()
			label, err := s.GetCodeLabel(addr)
			want := "label " + schema.AddressArg(addr)
			if err != nil || label != want {
				mismatched <- fmt.Sprintf("%s: got %q err=%v", want, label, err)
			}
		}(protocol.Address{Space: "ram", Offset: 0x401000 + uint64(i)*0x10})
	}
	wg.Wait()
	close(mismatched)

	for m := range mismatched {
		t.Error(m)
	}
	assert.False(t, s.Poisoned())
}

func TestGetBytesShortReadIsTruncated(t *testing.T) {
	image := make([]byte, 10)
	s := servePeer(t, peer.HandlerFunc(func(_ context.Context, q schema.Query) (peer.Answer, error) {
		return peer.BytesAnswer(image), nil
	}))
	_, err := s.GetBytes(protocol.Address{Space: "ram"}, 16)
	require.ErrorIs(t, err, protocol.ErrTruncated)
	assert.False(t, s.Poisoned(), "short image read inside a complete frame keeps the session")

	b, err := s.GetBytes(protocol.Address{Space: "ram"}, 10)
	require.NoError(t, err)
	assert.Len(t, b, 10)
}

func TestGetBytesOversizedPoisons(t *testing.T) {
	s := serveRaw(t, func(q schema.Query) []byte {
		return response(t, func(w io.Writer) error { return frame.WriteRawBytes(w, make([]byte, 32)) })
	})
	_, err := s.GetBytes(entry, 16)
	require.ErrorIs(t, err, protocol.ErrOversizedPayload)
	assert.True(t, s.Poisoned())
}

func TestMalformedMarkupKeepsSession(t *testing.T) {
	calls := 0
	s := serveRaw(t, func(q schema.Query) []byte {
		calls++
		if calls == 1 {
			return response(t, func(w io.Writer) error { return frame.WriteString(w, "<symbol><open>") })
		}
		return response(t, func(w io.Writer) error { return frame.WriteString(w, "") })
	})
	_, err := s.GetMappedSymbols(entry)
	require.ErrorIs(t, err, protocol.ErrMalformed)
	assert.False(t, s.Poisoned())

	doc, err := s.GetMappedSymbols(entry)
	require.NoError(t, err)
	assert.Nil(t, doc, "empty markup means the client had nothing")
}

func TestDesyncPoisonsSession(t *testing.T) {
	s := serveRaw(t, func(q schema.Query) []byte {
		return frame.AppendString(nil, "no response marker")
	})
	_, err := s.GetCodeLabel(entry)
	require.ErrorIs(t, err, protocol.ErrDesync)
	require.True(t, s.Poisoned())

	_, err = s.GetCodeLabel(entry)
	require.ErrorIs(t, err, protocol.ErrSessionClosed)
	assert.True(t, protocol.SessionFatal(err))
}

func TestPackedAnswers(t *testing.T) {
	out := packed.Varnode{Space: 1, Offset: 0, Size: 8}
	inst := packed.Instruction{
		Space: 2, Offset: 0x401000, Length: 3,
		Ops: []packed.Op{{Opcode: 1, Output: &out, Inputs: []packed.Varnode{{Space: 0, Offset: 5, Size: 8}}}},
	}
	s := servePeer(t, peer.HandlerFunc(func(_ context.Context, q schema.Query) (peer.Answer, error) {
		switch q.Opcode {
		case schema.GetPacked:
			addr, _ := q.Address(0)
			if addr.Offset != entry.Offset {
				return peer.BytesAnswer(nil), nil
			}
			return peer.BytesAnswer(packed.Encode(inst)), nil
		default:
			return peer.BytesAnswer(packed.Encode(inst, inst)), nil
		}
	}))

	got, err := s.GetPcodePacked(entry)
	require.NoError(t, err)
	assert.Equal(t, inst, got)

	_, err = s.GetPcodePacked(protocol.Address{Space: "ram", Offset: 0x10})
	require.ErrorIs(t, err, packed.ErrNoInstruction)
	assert.False(t, s.Poisoned())

	all, err := s.GetPcodeRange(entry, 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.GetPcodeRange(entry, 1)
	require.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestInvalidArgumentsNeverTouchStream(t *testing.T) {
	s := serveRaw(t, func(q schema.Query) []byte {
		t.Errorf("unexpected query %s", q.Opcode)
		return nil
	})
	_, err := s.GetBytes(entry, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.GetBytes(entry, DefaultConfig().MaxImageBytes+1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.GetComments(entry, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.GetCPoolRef(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.GetPcodeInject("", 0, document.New("context"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.False(t, s.Poisoned())
}

func TestQueryArgumentsOnTheWire(t *testing.T) {
	var seen []schema.Query
	s := servePeer(t, peer.HandlerFunc(func(_ context.Context, q schema.Query) (peer.Answer, error) {
		seen = append(seen, q)
		return peer.DocumentAnswer(nil), nil
	}))
	_, err := s.GetComments(entry, 0x5)
	require.NoError(t, err)
	_, err = s.GetCPoolRef([]uint64{1, 0x20})
	require.NoError(t, err)
	_, err = s.GetPcodeInject("getpc", 1, document.New("context", document.Attr{Name: "pc", Value: "0x10"}))
	require.NoError(t, err)

	require.Len(t, seen, 3)
	addr, err := seen[0].Address(0)
	require.NoError(t, err)
	assert.Equal(t, entry, addr)
	assert.Equal(t, "5", seen[0].Args[1])
	refs, err := seen[1].Document(0)
	require.NoError(t, err)
	assert.Len(t, refs.ChildrenNamed("value"), 2)
	assert.Equal(t, "getpc", seen[2].Args[0])
}

func TestCloseRejectsFurtherQueries(t *testing.T) {
	s := servePeer(t, peer.HandlerFunc(func(context.Context, schema.Query) (peer.Answer, error) {
		return peer.StringAnswer("x"), nil
	}))
	s.Close()
	_, err := s.GetCodeLabel(entry)
	require.ErrorIs(t, err, protocol.ErrSessionClosed)
}

func TestPrintMessageCollectsWarnings(t *testing.T) {
	s := New(nil, io.Discard, DefaultConfig(), testlog.Start(t))
	s.PrintMessage("bad jump table")
	s.PrintMessage("unreachable block")
	assert.Equal(t, []string{"bad jump table", "unreachable block"}, s.Warnings().Messages())
}
