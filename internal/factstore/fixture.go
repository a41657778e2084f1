package factstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/decompctl/internal/peer"
	"github.com/danmuck/decompctl/internal/protocol"
	"github.com/danmuck/decompctl/internal/protocol/document"
	"github.com/danmuck/decompctl/internal/protocol/schema"
	"gopkg.in/yaml.v3"
)

// Fixture is the YAML form of a fact set.
//
//	answers:
//	  - query: getCodeLabel
//	    args: ["ram:0x401000"]
//	    string: main
//	  - query: getType
//	    args: ["", "77"]
//	    failure: {type: exception.NotFoundException, message: no such type}
//	regions:
//	  - address: ram:0x401000
//	    hex: 554889e5
type Fixture struct {
	Answers []FixtureAnswer `yaml:"answers"`
	Regions []FixtureRegion `yaml:"regions"`
}

// FixtureAnswer holds one fact. Exactly one value field matching the opcode's
// result shape, or failure, is expected.
type FixtureAnswer struct {
	Query     string          `yaml:"query"`
	Args      []string        `yaml:"args"`
	Bool      *bool           `yaml:"bool,omitempty"`
	String    *string         `yaml:"string,omitempty"`
	Document  string          `yaml:"document,omitempty"`
	Hex       string          `yaml:"hex,omitempty"`
	Truncated bool            `yaml:"truncated,omitempty"`
	Failure   *FixtureFailure `yaml:"failure,omitempty"`
}

type FixtureFailure struct {
	Type    string `yaml:"type"`
	Message string `yaml:"message"`
}

type FixtureRegion struct {
	Address string `yaml:"address"`
	Hex     string `yaml:"hex"`
}

// ImportStats counts what an Import stored.
type ImportStats struct {
	Answers  int
	Failures int
	Regions  int
}

// Import loads a YAML fixture in one transaction. Nothing is stored if any
// entry is invalid.
func (s *Store) Import(ctx context.Context, r io.Reader) (ImportStats, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil && err != io.EOF {
		return ImportStats{}, fmt.Errorf("factstore: decode fixture: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ImportStats{}, fmt.Errorf("factstore: begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stats ImportStats
	for i, fa := range fx.Answers {
		op := schema.Opcode(fa.Query)
		key, err := fixtureKey(op, fa.Args)
		if err != nil {
			return ImportStats{}, fmt.Errorf("factstore: answers[%d]: %w", i, err)
		}
		if fa.Failure != nil {
			if err := putFailure(ctx, tx, op, key, fa.Failure.Type, fa.Failure.Message); err != nil {
				return ImportStats{}, fmt.Errorf("factstore: answers[%d]: %w", i, err)
			}
			stats.Failures++
			continue
		}
		a, err := fixtureValue(op, fa)
		if err != nil {
			return ImportStats{}, fmt.Errorf("factstore: answers[%d]: %w", i, err)
		}
		if err := putAnswer(ctx, tx, op, key, a); err != nil {
			return ImportStats{}, fmt.Errorf("factstore: answers[%d]: %w", i, err)
		}
		stats.Answers++
	}
	for i, fr := range fx.Regions {
		addr, err := protocol.ParseAddress(fr.Address)
		if err != nil {
			return ImportStats{}, fmt.Errorf("factstore: regions[%d]: %w", i, err)
		}
		data, err := hex.DecodeString(strings.Join(strings.Fields(fr.Hex), ""))
		if err != nil {
			return ImportStats{}, fmt.Errorf("factstore: regions[%d]: hex: %w", i, err)
		}
		if err := putRegion(ctx, tx, addr, data); err != nil {
			return ImportStats{}, fmt.Errorf("factstore: regions[%d]: %w", i, err)
		}
		stats.Regions++
	}
	if err := tx.Commit(); err != nil {
		return ImportStats{}, fmt.Errorf("factstore: commit import: %w", err)
	}
	s.logger.Info().
		Int("answers", stats.Answers).
		Int("failures", stats.Failures).
		Int("regions", stats.Regions).
		Msg("fixture imported")
	return stats, nil
}

func fixtureValue(op schema.Opcode, fa FixtureAnswer) (peer.Answer, error) {
	spec, ok := schema.Lookup(op)
	if !ok {
		return peer.Answer{}, fmt.Errorf("unknown opcode %q", op)
	}
	switch spec.Result {
	case schema.ResultBool:
		if fa.Bool == nil {
			return peer.Answer{}, fmt.Errorf("%s needs a bool value", op)
		}
		return peer.BoolAnswer(*fa.Bool), nil
	case schema.ResultString:
		if fa.String == nil {
			return peer.Answer{}, fmt.Errorf("%s needs a string value", op)
		}
		return peer.StringAnswer(*fa.String), nil
	case schema.ResultDocument:
		e, err := document.Unmarshal([]byte(fa.Document))
		if err != nil {
			return peer.Answer{}, fmt.Errorf("%s document: %w", op, err)
		}
		return peer.DocumentAnswer(e), nil
	default:
		b, err := hex.DecodeString(strings.Join(strings.Fields(fa.Hex), ""))
		if err != nil {
			return peer.Answer{}, fmt.Errorf("%s hex: %w", op, err)
		}
		return peer.Answer{Bytes: b, Truncated: fa.Truncated}, nil
	}
}
