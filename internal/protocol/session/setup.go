package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/decompctl/internal/protocol/frame"
)

const CommandRegisterProgram = "registerProgram"

var ErrInvalidSetup = errors.New("session: invalid setup")

// Setup is the configuration a client sends once, before any query: processor
// spec, compiler spec, translation spec and core types. The blobs are opaque
// here; the components that consume them check their contents.
type Setup struct {
	ProcessorSpec   string
	CompilerSpec    string
	TranslationSpec string
	CoreTypes       string
}

func (s Setup) Command() frame.Command {
	return frame.Command{
		Name: CommandRegisterProgram,
		Args: []string{s.ProcessorSpec, s.CompilerSpec, s.TranslationSpec, s.CoreTypes},
	}
}

// SetupFromCommand extracts a Setup from a registerProgram command. Only the
// command name and argument count are checked.
func SetupFromCommand(cmd frame.Command) (Setup, error) {
	if cmd.Name != CommandRegisterProgram {
		return Setup{}, fmt.Errorf("%w: unexpected command %q", ErrInvalidSetup, cmd.Name)
	}
	if len(cmd.Args) != 4 {
		return Setup{}, fmt.Errorf("%w: %d arguments, want 4", ErrInvalidSetup, len(cmd.Args))
	}
	return Setup{
		ProcessorSpec:   cmd.Args[0],
		CompilerSpec:    cmd.Args[1],
		TranslationSpec: cmd.Args[2],
		CoreTypes:       cmd.Args[3],
	}, nil
}

func WriteSetup(w io.Writer, s Setup) error {
	return frame.WriteCommand(w, s.Command())
}

func ReadSetup(r *bufio.Reader, limit int) (Setup, error) {
	cmd, err := frame.ReadCommand(r, limit)
	if err != nil {
		return Setup{}, err
	}
	return SetupFromCommand(cmd)
}
