package engine

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/decompctl/internal/factstore"
	"github.com/danmuck/decompctl/internal/peer"
	"github.com/danmuck/decompctl/internal/protocol"
	"github.com/danmuck/decompctl/internal/protocol/document"
	"github.com/danmuck/decompctl/internal/protocol/frame"
	"github.com/danmuck/decompctl/internal/protocol/schema"
	"github.com/danmuck/decompctl/internal/protocol/session"
	"github.com/danmuck/decompctl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSetup = session.Setup{
	ProcessorSpec:   `<processor_spec/>`,
	CompilerSpec:    `<compiler_spec/>`,
	TranslationSpec: `<sleigh/>`,
	CoreTypes:       `<coretypes/>`,
}

// startHost runs a Host on one end of a pipe and returns a client Conn on the
// other, answering queries with h.
func startHost(t *testing.T, h peer.Handler) (*peer.Conn, <-chan error) {
	t.Helper()
	return startHostWith(t, session.DefaultConfig(), h)
}

func startHostWith(t *testing.T, cfg session.Config, h peer.Handler) (*peer.Conn, <-chan error) {
	t.Helper()
	logger := testlog.Start(t)
	engineEnd, clientEnd := net.Pipe()
	t.Cleanup(func() {
		_ = engineEnd.Close()
		_ = clientEnd.Close()
	})
	host := NewHost(engineEnd, engineEnd, cfg, logger)
	done := make(chan error, 1)
	go func() {
		done <- host.Run(context.Background())
		_ = engineEnd.Close()
	}()
	return peer.NewConn(clientEnd, clientEnd, h, logger), done
}

func register(t *testing.T, c *peer.Conn) string {
	t.Helper()
	cmd := testSetup.Command()
	id, err := c.CommandString(context.Background(), cmd.Name, cmd.Args...)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func TestRegisterDescribeDeregister(t *testing.T) {
	c, done := startHost(t, peer.HandlerFunc(func(_ context.Context, q schema.Query) (peer.Answer, error) {
		switch q.Opcode {
		case schema.GetCodeLabel:
			return peer.StringAnswer("FUN_00401000"), nil
		case schema.GetMappedSymbols:
			return peer.DocumentAnswer(document.New("mapsym")), nil
		case schema.GetComments:
			return peer.Answer{}, peer.Errorf("exception.NotFoundException", "no comments")
		default:
			return peer.Answer{}, peer.Errorf("test.Unexpected", "%s", q.Opcode)
		}
	}))
	ctx := context.Background()
	id := register(t, c)

	desc, err := c.CommandDocument(ctx, CommandDescribeAddress, id, "ram:0x401000")
	require.NoError(t, err)
	require.Equal(t, "description", desc.Name)
	label := desc.Child("label")
	require.NotNil(t, label)
	dynamic, _ := label.Attr("dynamic")
	assert.Equal(t, "true", dynamic)
	assert.NotNil(t, desc.Child("symbols"))
	assert.Nil(t, desc.Child("comments"))
	require.NotNil(t, desc.Child("warnings"))
	assert.Len(t, desc.Child("warnings").ChildrenNamed("warning"), 1)

	warnings, err := c.CommandString(ctx, CommandGetWarnings, id)
	require.NoError(t, err)
	assert.Contains(t, warnings, "no comments")
	warnings, err = c.CommandString(ctx, CommandGetWarnings, id)
	require.NoError(t, err)
	assert.Empty(t, warnings, "getWarnings drains the log")

	ok, err := c.CommandBool(ctx, CommandDeregisterProgram, id)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.CommandBool(ctx, CommandDeregisterProgram, id)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.CommandString(ctx, CommandGetWarnings, id)
	f, isFailure := protocol.AsFailure(err)
	require.True(t, isFailure)
	assert.Equal(t, UnknownProgramType, f.RemoteType)

	select {
	case err := <-done:
		t.Fatalf("host stopped early: %v", err)
	default:
	}
}

func TestUnknownCommandKeepsHost(t *testing.T) {
	c, _ := startHost(t, peer.HandlerFunc(func(context.Context, schema.Query) (peer.Answer, error) {
		return peer.Answer{}, nil
	}))
	_, err := c.CommandString(context.Background(), "decompileEverything")
	f, ok := protocol.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, UnknownCommandType, f.RemoteType)

	register(t, c)
}

func TestBadSetupIsReported(t *testing.T) {
	c, _ := startHost(t, peer.HandlerFunc(func(context.Context, schema.Query) (peer.Answer, error) {
		return peer.Answer{}, nil
	}))
	_, err := c.CommandString(context.Background(), CommandRegisterProgram, "<processor_spec/>")
	f, ok := protocol.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, BadCommandType, f.RemoteType)
}

func TestRegisterAcceptsOpaqueSetup(t *testing.T) {
	c, _ := startHost(t, peer.HandlerFunc(func(context.Context, schema.Query) (peer.Answer, error) {
		return peer.Answer{}, nil
	}))
	cmd := session.Setup{TranslationSpec: "define space ram type=ram_space size=4;"}.Command()
	id, err := c.CommandString(context.Background(), cmd.Name, cmd.Args...)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestZeroConfigFallsBackToDefaults(t *testing.T) {
	c, done := startHostWith(t, session.Config{}, peer.HandlerFunc(func(context.Context, schema.Query) (peer.Answer, error) {
		return peer.StringAnswer(""), nil
	}))
	id := register(t, c)
	ok, err := c.CommandBool(context.Background(), CommandDeregisterProgram, id)
	require.NoError(t, err)
	assert.True(t, ok)

	select {
	case err := <-done:
		t.Fatalf("host stopped: %v", err)
	default:
	}
}

func TestResponseBurstWhileIdleIsAlignmentFault(t *testing.T) {
	logger := testlog.Start(t)
	var in bytes.Buffer
	require.NoError(t, frame.WriteResponse(&in, func(w io.Writer) error { return frame.WriteString(w, "stray") }))
	var out bytes.Buffer
	err := NewHost(&in, &out, session.DefaultConfig(), logger).Run(context.Background())
	require.ErrorIs(t, err, protocol.ErrDesync)

	_, err = frame.ReadResponse(bufio.NewReader(&out), func(*bufio.Reader) error { return nil })
	f, ok := protocol.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, frame.AlignmentType, f.RemoteType)
}

func TestRunReturnsNilOnEOF(t *testing.T) {
	logger := testlog.Start(t)
	var out bytes.Buffer
	require.NoError(t, NewHost(bytes.NewReader(nil), &out, session.DefaultConfig(), logger).Run(context.Background()))
	assert.Zero(t, out.Len())
}

func TestGuardFiresEmergencyFrame(t *testing.T) {
	logger := testlog.Start(t)
	var out bytes.Buffer
	h := NewHost(bytes.NewReader(nil), &out, session.DefaultConfig(), logger)
	assert.Panics(t, func() {
		_ = h.guard(func() error { panic("simulated fault") })
	})

	_, err := frame.ReadResponse(bufio.NewReader(&out), func(*bufio.Reader) error { return nil })
	f, ok := protocol.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, frame.FaultType, f.RemoteType)
	assert.Equal(t, "decompiler fault", f.Message)
}

func TestDescribeAgainstFactStore(t *testing.T) {
	logger := testlog.Start(t)
	store, err := factstore.Open(filepath.Join(t.TempDir(), "facts.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.Import(context.Background(), strings.NewReader(`
answers:
  - query: getMappedSymbolsXML
    args: ["ram:0x401000"]
    document: <mapsym><symbol name="main"/></mapsym>
  - query: getComments
    args: ["ram:0x401000", "63"]
    document: <commentdb><comment type="header">entry point</comment></commentdb>
`))
	require.NoError(t, err)

	c, _ := startHost(t, store)
	ctx := context.Background()
	id := register(t, c)

	desc, err := c.CommandDocument(ctx, CommandDescribeAddress, id, "ram:0x401000")
	require.NoError(t, err)
	label := desc.Child("label")
	require.NotNil(t, label)
	name, _ := label.Attr("name")
	assert.Equal(t, "FUN_00401000", name, "no stored label falls back to the default")
	assert.NotNil(t, desc.Child("symbols").Child("mapsym"))
	assert.NotNil(t, desc.Child("comments").Child("commentdb"))
	assert.Nil(t, desc.Child("warnings"))
}
