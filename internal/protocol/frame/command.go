package frame

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/danmuck/decompctl/internal/protocol"
)

// MaxCommandArgs bounds the argument count of one client command.
const MaxCommandArgs = 64

// Command is one client->engine request: a name plus string arguments.
type Command struct {
	Name string
	Args []string
}

// WriteCommand writes {command-start}{name}{args...}{command-end}.
func WriteCommand(w io.Writer, cmd Command) error {
	if len(cmd.Args) > MaxCommandArgs {
		return fmt.Errorf("%w: %d command args", protocol.ErrOversizedPayload, len(cmd.Args))
	}
	var buf bytes.Buffer
	buf.Write(appendMarker(nil, CommandStart))
	buf.Write(AppendString(nil, cmd.Name))
	for _, arg := range cmd.Args {
		buf.Write(AppendString(nil, arg))
	}
	buf.Write(appendMarker(nil, CommandEnd))
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadCommand reads one client command. Each string is bounded by limit.
func ReadCommand(r *bufio.Reader, limit int) (Command, error) {
	if err := ExpectMarker(r, CommandStart); err != nil {
		return Command{}, err
	}
	name, err := ReadString(r, limit)
	if err != nil {
		return Command{}, err
	}
	cmd := Command{Name: name}
	for {
		next, err := r.Peek(MarkerLen)
		if err != nil {
			return Command{}, readErr(err, "command")
		}
		if isMarker(next, CommandEnd) {
			_, _ = r.Discard(MarkerLen)
			return cmd, nil
		}
		if len(cmd.Args) == MaxCommandArgs {
			return Command{}, fmt.Errorf("%w: command %q exceeds %d args", protocol.ErrMalformed, name, MaxCommandArgs)
		}
		arg, err := ReadString(r, limit)
		if err != nil {
			return Command{}, err
		}
		cmd.Args = append(cmd.Args, arg)
	}
}
