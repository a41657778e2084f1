// Package factstore answers engine queries from a SQLite database of recorded
// facts: canned answers keyed by opcode and normalized arguments, plus the
// load-image regions getBytes reads from.
package factstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/danmuck/decompctl/internal/peer"
	"github.com/danmuck/decompctl/internal/protocol"
	"github.com/danmuck/decompctl/internal/protocol/document"
	"github.com/danmuck/decompctl/internal/protocol/schema"
	"github.com/danmuck/decompctl/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Remote type names reported for facts the store lacks and for reads past
// its image bound.
const (
	NotFoundType = "factstore.NotFound"
	TooLargeType = "factstore.TooLarge"
)

const (
	kindValue   = "value"
	kindFailure = "failure"
)

// Store manages the answers and regions tables.
type Store struct {
	db       *sql.DB
	logger   zerolog.Logger
	maxImage int
}

var _ peer.Handler = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	s, err := New(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New creates a Store on db and applies the schema.
func New(db *sql.DB, logger zerolog.Logger) (*Store, error) {
	if err := migrate(context.Background(), db); err != nil {
		return nil, err
	}
	return &Store{
		db:       db,
		logger:   logger.With().Str("component", "factstore").Logger(),
		maxImage: session.DefaultConfig().MaxImageBytes,
	}, nil
}

// SetMaxImageBytes bounds a single ReadImage. Non-positive n keeps the current bound.
func (s *Store) SetMaxImageBytes(n int) {
	if n > 0 {
		s.maxImage = n
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PutAnswer records the answer to the query op with the given normalized key.
func (s *Store) PutAnswer(ctx context.Context, op schema.Opcode, key string, a peer.Answer) error {
	return putAnswer(ctx, s.db, op, key, a)
}

func putAnswer(ctx context.Context, db execer, op schema.Opcode, key string, a peer.Answer) error {
	spec, ok := schema.Lookup(op)
	if !ok {
		return fmt.Errorf("factstore: unknown opcode %q", op)
	}
	payload, err := encodePayload(spec.Result, a)
	if err != nil {
		return fmt.Errorf("factstore: %s %q: %w", op, key, err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO answers (opcode, key, kind, payload, truncated) VALUES (?, ?, ?, ?, ?)`,
		string(op), key, kindValue, payload, boolInt(a.Truncated))
	if err != nil {
		return fmt.Errorf("factstore: put %s %q: %w", op, key, err)
	}
	return nil
}

// PutFailure records that the query op with key fails with a remote exception.
func (s *Store) PutFailure(ctx context.Context, op schema.Opcode, key, typeName, msg string) error {
	return putFailure(ctx, s.db, op, key, typeName, msg)
}

func putFailure(ctx context.Context, db execer, op schema.Opcode, key, typeName, msg string) error {
	if typeName == "" {
		return fmt.Errorf("factstore: %s %q: failure without a type name", op, key)
	}
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO answers (opcode, key, kind, failure_type, failure_msg) VALUES (?, ?, ?, ?, ?)`,
		string(op), key, kindFailure, typeName, msg)
	if err != nil {
		return fmt.Errorf("factstore: put failure %s %q: %w", op, key, err)
	}
	return nil
}

// PutRegion stores load-image bytes starting at addr.
func (s *Store) PutRegion(ctx context.Context, addr protocol.Address, data []byte) error {
	return putRegion(ctx, s.db, addr, data)
}

func putRegion(ctx context.Context, db execer, addr protocol.Address, data []byte) error {
	if addr.Space == "" || len(data) == 0 {
		return fmt.Errorf("factstore: empty region at %s", addr)
	}
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO regions (space, start, data) VALUES (?, ?, ?)`,
		addr.Space, int64(addr.Offset), data)
	if err != nil {
		return fmt.Errorf("factstore: put region %s: %w", addr, err)
	}
	return nil
}

// ReadImage returns up to size bytes at addr, following adjacent regions. A
// gap or the end of stored data ends the read early. Sizes past the store's
// image bound fail with protocol.ErrOversizedPayload.
func (s *Store) ReadImage(ctx context.Context, addr protocol.Address, size int) ([]byte, error) {
	if size > s.maxImage {
		return nil, fmt.Errorf("%w: read image %s: %d bytes, bound %d", protocol.ErrOversizedPayload, addr, size, s.maxImage)
	}
	var out []byte
	cur := addr.Offset
	for len(out) < size {
		var start int64
		var data []byte
		err := s.db.QueryRowContext(ctx,
			`SELECT start, data FROM regions WHERE space = ? AND start <= ? ORDER BY start DESC LIMIT 1`,
			addr.Space, int64(cur)).Scan(&start, &data)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("factstore: read image %s: %w", addr, err)
		}
		skip := cur - uint64(start)
		if skip >= uint64(len(data)) {
			break
		}
		chunk := data[skip:]
		if rest := size - len(out); len(chunk) > rest {
			chunk = chunk[:rest]
		}
		out = append(out, chunk...)
		cur += uint64(len(chunk))
	}
	return out, nil
}

// Answer implements peer.Handler.
func (s *Store) Answer(ctx context.Context, q schema.Query) (peer.Answer, error) {
	if q.Opcode == schema.GetBytes {
		return s.answerBytes(ctx, q)
	}
	key, err := Key(q)
	if err != nil {
		return peer.Answer{}, err
	}
	spec, _ := schema.Lookup(q.Opcode)

	var kind, failureType, failureMsg string
	var payload []byte
	var truncated bool
	err = s.db.QueryRowContext(ctx,
		`SELECT kind, payload, truncated, failure_type, failure_msg FROM answers WHERE opcode = ? AND key = ?`,
		string(q.Opcode), key).Scan(&kind, &payload, &truncated, &failureType, &failureMsg)
	if errors.Is(err, sql.ErrNoRows) {
		if q.Opcode == schema.GetCodeLabel {
			addr, _ := q.Address(0)
			return peer.StringAnswer(session.DefaultFunctionLabel(addr)), nil
		}
		s.logger.Debug().Str("query", string(q.Opcode)).Str("key", key).Msg("fact not found")
		return peer.Answer{}, peer.Errorf(NotFoundType, "no %s fact for %s", q.Opcode, key)
	}
	if err != nil {
		return peer.Answer{}, fmt.Errorf("factstore: lookup %s %q: %w", q.Opcode, key, err)
	}
	if kind == kindFailure {
		return peer.Answer{}, &peer.Error{Type: failureType, Message: failureMsg}
	}
	a, err := decodePayload(spec.Result, payload)
	if err != nil {
		return peer.Answer{}, fmt.Errorf("factstore: stored %s %q: %w", q.Opcode, key, err)
	}
	a.Truncated = truncated
	return a, nil
}

func (s *Store) answerBytes(ctx context.Context, q schema.Query) (peer.Answer, error) {
	addr, err := q.Address(0)
	if err != nil {
		return peer.Answer{}, err
	}
	size, err := q.Int(1)
	if err != nil {
		return peer.Answer{}, err
	}
	if size <= 0 {
		return peer.Answer{}, peer.Errorf(NotFoundType, "no bytes for size %d", size)
	}
	if size > int64(s.maxImage) {
		return peer.Answer{}, peer.Errorf(TooLargeType, "%d bytes at %s exceeds the %d byte bound", size, addr, s.maxImage)
	}
	b, err := s.ReadImage(ctx, addr, int(size))
	if err != nil {
		return peer.Answer{}, err
	}
	if len(b) == 0 {
		return peer.Answer{}, peer.Errorf(NotFoundType, "no load image bytes at %s", addr)
	}
	if len(b) < int(size) {
		s.logger.Debug().Stringer("addr", addr).Int("want", int(size)).Int("got", len(b)).Msg("short image read")
	}
	return peer.BytesAnswer(b), nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func encodePayload(result schema.Result, a peer.Answer) ([]byte, error) {
	switch result {
	case schema.ResultBool:
		if a.Bool {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case schema.ResultString:
		return []byte(a.String), nil
	case schema.ResultDocument:
		return document.Marshal(a.Doc)
	default:
		return a.Bytes, nil
	}
}

func decodePayload(result schema.Result, payload []byte) (peer.Answer, error) {
	switch result {
	case schema.ResultBool:
		if len(payload) != 1 || payload[0] > 1 {
			return peer.Answer{}, fmt.Errorf("%w: bool payload % x", protocol.ErrMalformed, payload)
		}
		return peer.BoolAnswer(payload[0] == 1), nil
	case schema.ResultString:
		return peer.StringAnswer(string(payload)), nil
	case schema.ResultDocument:
		e, err := document.Unmarshal(payload)
		if err != nil {
			return peer.Answer{}, err
		}
		return peer.DocumentAnswer(e), nil
	default:
		return peer.BytesAnswer(payload), nil
	}
}
