package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/danmuck/decompctl/internal/observability"
	"github.com/danmuck/decompctl/internal/protocol"
	"github.com/danmuck/decompctl/internal/protocol/frame"
	"github.com/danmuck/decompctl/internal/protocol/schema"
	"github.com/danmuck/decompctl/internal/warnings"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidArgument rejects a call before anything is written to the stream.
var ErrInvalidArgument = errors.New("session: invalid argument")

// Session dispatches engine queries over one borrowed duplex stream.
//
// The mutex is held for a whole round trip, so a second query cannot be written
// before the previous response has been consumed.
type Session struct {
	ID    string
	Setup Setup

	cfg      Config
	r        *bufio.Reader
	w        *bufio.Writer
	logger   zerolog.Logger
	warnings *warnings.Log

	mu     sync.Mutex
	poison error
}

// New wraps r and w. Passing the *bufio.Reader/*bufio.Writer already used by
// the caller keeps both sides reading from the same buffer.
func New(r io.Reader, w io.Writer, cfg Config, logger zerolog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		ID:       id,
		cfg:      cfg.WithDefaults(),
		r:        bufio.NewReader(r),
		w:        bufio.NewWriter(w),
		logger:   logger.With().Str("session", id).Logger(),
		warnings: &warnings.Log{},
	}
}

func (s *Session) Config() Config {
	return s.cfg
}

func (s *Session) Warnings() *warnings.Log {
	return s.warnings
}

// PrintMessage records a non-fatal diagnostic for the current analysis.
func (s *Session) PrintMessage(msg string) {
	s.warnings.Add(msg)
	s.logger.Debug().Str("warning", msg).Msg("session warning recorded")
}

// Err returns the reason the session was closed, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poison
}

// Poisoned reports whether no further queries may be issued.
func (s *Session) Poisoned() bool {
	return s.Err() != nil
}

// Close marks the session unusable. The stream itself belongs to the caller.
func (s *Session) Close() {
	s.mu.Lock()
	if s.poison == nil {
		s.poison = protocol.ErrSessionClosed
	}
	s.mu.Unlock()
}

// roundTrip writes q, then reads one response frame with decode. Any failure
// raised before the response-end marker was consumed poisons the session.
// check runs once the frame is consumed; its failures leave the session usable.
func (s *Session) roundTrip(q schema.Query, expected schema.Result, decode frame.Decoder, check func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op := string(q.Opcode)
	if s.poison != nil {
		err := &protocol.Failure{
			Kind:     protocol.KindClosed,
			Query:    op,
			Expected: expected.String(),
			Err:      fmt.Errorf("%w: %v", protocol.ErrSessionClosed, s.poison),
		}
		observability.RecordQuery(op, observability.OutcomeClosed, 0)
		return err
	}

	start := time.Now()
	if err := schema.WriteQuery(s.w, q); err != nil {
		return s.fail(op, expected, start, fmt.Errorf("%w: write query: %v", protocol.ErrSessionClosed, err), false)
	}
	if err := s.w.Flush(); err != nil {
		return s.fail(op, expected, start, fmt.Errorf("%w: flush query: %v", protocol.ErrSessionClosed, err), false)
	}
	consumed, err := frame.ReadResponse(s.r, decode)
	if err == nil && check != nil {
		err = check()
	}
	if err != nil {
		return s.fail(op, expected, start, err, consumed)
	}
	elapsed := time.Since(start)
	observability.RecordQuery(op, observability.OutcomeOK, elapsed)
	s.logger.Debug().Str("query", op).Dur("duration", elapsed).Msg("query answered")
	return nil
}

// fail must be called with s.mu held.
func (s *Session) fail(op string, expected schema.Result, start time.Time, err error, consumed bool) error {
	elapsed := time.Since(start)
	wrapped := protocol.Wrap(err, op, expected.String())
	observability.RecordQuery(op, outcome(wrapped), elapsed)
	if !consumed || protocol.SessionFatal(wrapped) {
		s.poison = wrapped
		observability.RecordPoisoned()
		s.logger.Error().Err(wrapped).Str("query", op).Dur("duration", elapsed).Msg("session poisoned")
		return wrapped
	}
	s.logger.Warn().Err(wrapped).Str("query", op).Dur("duration", elapsed).Msg("query failed")
	return wrapped
}

func outcome(err error) string {
	switch protocol.Classify(err) {
	case protocol.KindRemote:
		return observability.OutcomeRemote
	case protocol.KindTruncated:
		return observability.OutcomeTruncated
	case protocol.KindMalformed:
		return observability.OutcomeMalformed
	case protocol.KindDesync:
		return observability.OutcomeDesync
	case protocol.KindOversized:
		return observability.OutcomeOversized
	case protocol.KindClosed:
		return observability.OutcomeClosed
	default:
		return observability.OutcomeError
	}
}
