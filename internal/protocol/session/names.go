package session

import (
	"fmt"
	"strings"

	"github.com/danmuck/decompctl/internal/protocol"
)

const (
	functionPrefix = "FUN_"
	dataPrefix     = "DAT_"
)

// IsDynamicSymbolName reports whether nm is a generated name: FUN_ or DAT_
// followed by one or more hex digits and nothing else.
func IsDynamicSymbolName(nm string) bool {
	var rest string
	switch {
	case strings.HasPrefix(nm, functionPrefix):
		rest = nm[len(functionPrefix):]
	case strings.HasPrefix(nm, dataPrefix):
		rest = nm[len(dataPrefix):]
	default:
		return false
	}
	if rest == "" {
		return false
	}
	for i := 0; i < len(rest); i++ {
		if !isHexDigit(rest[i]) {
			return false
		}
	}
	return true
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// DefaultFunctionLabel is the name a client gives a function it has no label for.
func DefaultFunctionLabel(addr protocol.Address) string {
	return fmt.Sprintf("%s%08x", functionPrefix, addr.Offset)
}

// DefaultDataLabel is DefaultFunctionLabel for data.
func DefaultDataLabel(addr protocol.Address) string {
	return fmt.Sprintf("%s%08x", dataPrefix, addr.Offset)
}
