// Package peer is the client side of an engine stream: it answers the engine's
// queries and issues commands to it.
package peer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/decompctl/internal/protocol"
	"github.com/danmuck/decompctl/internal/protocol/document"
	"github.com/danmuck/decompctl/internal/protocol/frame"
	"github.com/danmuck/decompctl/internal/protocol/schema"
	"github.com/rs/zerolog"
)

// Handler produces the answer to one engine query.
type Handler interface {
	Answer(ctx context.Context, q schema.Query) (Answer, error)
}

type HandlerFunc func(ctx context.Context, q schema.Query) (Answer, error)

func (f HandlerFunc) Answer(ctx context.Context, q schema.Query) (Answer, error) {
	return f(ctx, q)
}

// Conn owns the client end of one stream. Serve and Command must not run
// concurrently; the mutex enforces that.
type Conn struct {
	r       *bufio.Reader
	w       *bufio.Writer
	handler Handler
	limit   int
	logger  zerolog.Logger

	mu sync.Mutex
}

func NewConn(r io.Reader, w io.Writer, h Handler, logger zerolog.Logger) *Conn {
	return &Conn{
		r:       bufio.NewReader(r),
		w:       bufio.NewWriter(w),
		handler: h,
		limit:   16 << 20,
		logger:  logger,
	}
}

// SetLimit bounds every string read from the engine.
func (c *Conn) SetLimit(limit int) {
	c.limit = limit
}

// Serve answers queries until the engine closes the stream. Anything other than
// a query ends Serve with ErrDesync.
func (c *Conn) Serve(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.r.Peek(1); errors.Is(err, io.EOF) {
			return nil
		}
		kind, err := frame.PeekAnyBurst(c.r)
		if err != nil {
			return err
		}
		if kind != frame.BurstString {
			return fmt.Errorf("%w: %s burst while serving queries", protocol.ErrDesync, kind)
		}
		if err := c.answerQuery(ctx); err != nil {
			return err
		}
	}
}

// answerQuery reads one query and writes its answer or an exception frame.
func (c *Conn) answerQuery(ctx context.Context) error {
	q, err := schema.ReadQuery(c.r, c.limit)
	if err != nil {
		if errors.Is(err, protocol.ErrDesync) && q.Opcode != "" {
			c.logger.Error().Str("query", string(q.Opcode)).Msg("unknown query opcode")
			if werr := c.writeException(UnknownQueryType, fmt.Sprintf("unknown query %q", q.Opcode)); werr != nil {
				return werr
			}
		}
		return err
	}
	spec, _ := schema.Lookup(q.Opcode)
	if err := schema.Validate(q); err != nil {
		c.logger.Warn().Str("query", string(q.Opcode)).Err(err).Msg("query rejected")
		return c.writeException(BadQueryType, err.Error())
	}

	ans, err := c.handler.Answer(ctx, q)
	if err != nil {
		typeName := RemoteTypeOf(err)
		c.logger.Debug().Str("query", string(q.Opcode)).Str("type", typeName).Err(err).Msg("query answered with exception")
		return c.writeException(typeName, remoteMessage(err))
	}
	if err := WriteAnswer(c.w, spec.Result, ans); err != nil {
		return err
	}
	c.logger.Debug().Str("query", string(q.Opcode)).Msg("query answered")
	return c.w.Flush()
}

func (c *Conn) writeException(typeName, msg string) error {
	if err := frame.WriteException(c.w, typeName, msg); err != nil {
		return err
	}
	return c.w.Flush()
}

// Command sends cmd and reads its response with decode, answering any queries
// the engine issues while it works on the command.
func (c *Conn) Command(ctx context.Context, cmd frame.Command, decode frame.Decoder) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := frame.WriteCommand(c.w, cmd); err != nil {
		return err
	}
	if err := c.w.Flush(); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		kind, err := frame.PeekAnyBurst(c.r)
		if err != nil {
			return protocol.Wrap(err, cmd.Name, "response")
		}
		switch kind {
		case frame.BurstString:
			if err := c.answerQuery(ctx); err != nil {
				return protocol.Wrap(err, cmd.Name, "response")
			}
		case frame.BurstResponse:
			_, err := frame.ReadResponse(c.r, decode)
			return protocol.Wrap(err, cmd.Name, "response")
		default:
			return protocol.Wrap(fmt.Errorf("%w: %s burst from engine", protocol.ErrDesync, kind), cmd.Name, "response")
		}
	}
}

func (c *Conn) CommandString(ctx context.Context, name string, args ...string) (string, error) {
	var out string
	err := c.Command(ctx, frame.Command{Name: name, Args: args}, func(r *bufio.Reader) error {
		v, err := frame.ReadString(r, c.limit)
		out = v
		return err
	})
	return out, err
}

func (c *Conn) CommandBool(ctx context.Context, name string, args ...string) (bool, error) {
	var out bool
	err := c.Command(ctx, frame.Command{Name: name, Args: args}, func(r *bufio.Reader) error {
		v, err := frame.ReadBool(r)
		out = v
		return err
	})
	return out, err
}

func (c *Conn) CommandDocument(ctx context.Context, name string, args ...string) (*document.Element, error) {
	markup, err := c.CommandString(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	return document.Unmarshal([]byte(markup))
}
