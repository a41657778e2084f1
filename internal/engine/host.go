package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/danmuck/decompctl/internal/observability"
	"github.com/danmuck/decompctl/internal/protocol"
	"github.com/danmuck/decompctl/internal/protocol/document"
	"github.com/danmuck/decompctl/internal/protocol/frame"
	"github.com/danmuck/decompctl/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Exception type names the host reports to the client.
const (
	UnknownCommandType = "engine.UnknownCommand"
	BadCommandType     = "engine.BadCommand"
	UnknownProgramType = "engine.UnknownProgram"
)

const (
	CommandRegisterProgram   = session.CommandRegisterProgram
	CommandDeregisterProgram = "deregisterProgram"
	CommandDescribeAddress   = "describeAddress"
	CommandGetWarnings       = "getWarnings"
)

// Host serves client commands on one stream. Programs registered on the stream
// issue their queries back over it while a command is being handled.
type Host struct {
	r         *bufio.Reader
	w         *bufio.Writer
	cfg       session.Config
	logger    zerolog.Logger
	emergency *frame.Emergency

	mu       sync.Mutex
	programs map[string]*session.Session
}

func NewHost(r io.Reader, w io.Writer, cfg session.Config, logger zerolog.Logger) *Host {
	return &Host{
		r:         bufio.NewReader(r),
		w:         bufio.NewWriter(w),
		cfg:       cfg.WithDefaults(),
		logger:    logger.With().Str("component", "engine").Logger(),
		emergency: frame.NewEmergency(w, "decompiler fault"),
		programs:  make(map[string]*session.Session),
	}
}

// Run handles commands until the client closes the stream or alignment is lost.
// A clean EOF between commands returns nil.
func (h *Host) Run(ctx context.Context) error {
	defer h.closeAll()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := h.r.Peek(1); errors.Is(err, io.EOF) {
			h.logger.Info().Msg("client closed stream")
			return nil
		}
		kind, err := frame.PeekAnyBurst(h.r)
		if err != nil {
			return h.alignmentFault(err)
		}
		if kind != frame.BurstQuery {
			return h.alignmentFault(fmt.Errorf("%w: %s burst while idle", protocol.ErrDesync, kind))
		}
		cmd, err := frame.ReadCommand(h.r, h.cfg.MaxDocumentBytes)
		if err != nil {
			return h.alignmentFault(err)
		}
		if err := h.handleCommand(cmd); err != nil {
			return err
		}
	}
}

// RunGuarded is Run with the fault guard armed. A panic, including one raised by
// a memory fault, writes the emergency frame to the raw output and re-panics.
// Delivery is best-effort: the frame can interleave with a write in progress.
func (h *Host) RunGuarded(ctx context.Context) error {
	return h.guard(func() error { return h.Run(ctx) })
}

func (h *Host) guard(fn func() error) error {
	prev := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(prev)
	defer func() {
		if r := recover(); r != nil {
			_ = h.emergency.Fire()
			panic(r)
		}
	}()
	return fn()
}

// handleCommand answers one command. A non-nil error ends Run.
func (h *Host) handleCommand(cmd frame.Command) error {
	log := h.logger.With().Str("command", cmd.Name).Logger()
	log.Debug().Int("args", len(cmd.Args)).Msg("command received")

	var err error
	switch cmd.Name {
	case CommandRegisterProgram:
		err = h.registerProgram(cmd)
	case CommandDeregisterProgram:
		err = h.deregisterProgram(cmd)
	case CommandDescribeAddress:
		err = h.describeAddress(cmd)
	case CommandGetWarnings:
		err = h.getWarnings(cmd)
	default:
		observability.RecordCommand(cmd.Name, "unknown")
		log.Warn().Msg("unknown command")
		return h.writeException(UnknownCommandType, fmt.Sprintf("unknown command %q", cmd.Name))
	}

	var fault *alignmentError
	switch {
	case errors.As(err, &fault):
		observability.RecordCommand(cmd.Name, "fault")
		return h.alignmentFault(fault.err)
	case err != nil:
		observability.RecordCommand(cmd.Name, "error")
		log.Error().Err(err).Msg("command failed")
		return err
	default:
		observability.RecordCommand(cmd.Name, "ok")
		return nil
	}
}

// alignmentError marks a command failure that lost stream alignment.
type alignmentError struct {
	err error
}

func (e *alignmentError) Error() string { return e.err.Error() }
func (e *alignmentError) Unwrap() error { return e.err }

// alignmentFault reports a local framing fault to the client and ends the host.
func (h *Host) alignmentFault(err error) error {
	h.logger.Error().Err(err).Msg("stream alignment lost")
	if werr := frame.WriteFailure(h.w, protocol.Local(protocol.KindDesync, err.Error())); werr == nil {
		_ = h.w.Flush()
	}
	return protocol.Wrap(err, "", "command")
}

func (h *Host) writeException(typeName, msg string) error {
	if err := frame.WriteException(h.w, typeName, msg); err != nil {
		return err
	}
	return h.w.Flush()
}

func (h *Host) respond(encode frame.Encoder) error {
	if err := frame.WriteResponse(h.w, encode); err != nil {
		return err
	}
	return h.w.Flush()
}

func (h *Host) respondString(s string) error {
	return h.respond(func(w io.Writer) error { return frame.WriteString(w, s) })
}

func (h *Host) respondBool(v bool) error {
	return h.respond(func(w io.Writer) error { return frame.WriteBool(w, v) })
}

func (h *Host) program(id string) (*session.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.programs[id]
	return s, ok
}

func (h *Host) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.programs {
		s.Close()
		delete(h.programs, id)
	}
}

// Programs returns the ids of the registered programs.
func (h *Host) Programs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.programs))
	for id := range h.programs {
		out = append(out, id)
	}
	return out
}

func (h *Host) registerProgram(cmd frame.Command) error {
	setup, err := session.SetupFromCommand(cmd)
	if err != nil {
		return h.writeException(BadCommandType, err.Error())
	}
	s := session.New(h.r, h.w, h.cfg, h.logger)
	s.Setup = setup
	h.mu.Lock()
	h.programs[s.ID] = s
	h.mu.Unlock()
	h.logger.Info().Str("program", s.ID).Msg("program registered")
	return h.respondString(s.ID)
}

func (h *Host) deregisterProgram(cmd frame.Command) error {
	if len(cmd.Args) != 1 {
		return h.writeException(BadCommandType, fmt.Sprintf("%s takes 1 argument, got %d", cmd.Name, len(cmd.Args)))
	}
	id := cmd.Args[0]
	h.mu.Lock()
	s, ok := h.programs[id]
	delete(h.programs, id)
	h.mu.Unlock()
	if ok {
		s.Close()
		h.logger.Info().Str("program", id).Msg("program deregistered")
	}
	return h.respondBool(ok)
}

func (h *Host) getWarnings(cmd frame.Command) error {
	if len(cmd.Args) != 1 {
		return h.writeException(BadCommandType, fmt.Sprintf("%s takes 1 argument, got %d", cmd.Name, len(cmd.Args)))
	}
	s, ok := h.program(cmd.Args[0])
	if !ok {
		return h.writeException(UnknownProgramType, fmt.Sprintf("no program %q", cmd.Args[0]))
	}
	return h.respondString(strings.Join(s.Warnings().Drain(), "\n"))
}

// describeAddress queries the client back for everything it knows about one
// address and answers with a single document.
func (h *Host) describeAddress(cmd frame.Command) error {
	if len(cmd.Args) != 2 {
		return h.writeException(BadCommandType, fmt.Sprintf("%s takes 2 arguments, got %d", cmd.Name, len(cmd.Args)))
	}
	s, ok := h.program(cmd.Args[0])
	if !ok {
		return h.writeException(UnknownProgramType, fmt.Sprintf("no program %q", cmd.Args[0]))
	}
	addr, err := protocol.ParseAddress(cmd.Args[1])
	if err != nil {
		return h.writeException(BadCommandType, err.Error())
	}
	doc, err := Describe(s, addr)
	if err != nil {
		return &alignmentError{err: err}
	}
	markup, err := document.Marshal(doc)
	if err != nil {
		return err
	}
	return h.respondString(string(markup))
}
