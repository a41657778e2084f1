// Package warnings collects non-fatal diagnostics raised while a program is
// analyzed, so they can be reported alongside the result.
package warnings

import (
	"fmt"
	"strings"
	"sync"
)

// Log is an append-only, ordered list of messages. Entries leave only through
// Drain or Clear.
type Log struct {
	mu   sync.Mutex
	msgs []string
}

func (l *Log) Add(msg string) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func (l *Log) Addf(format string, args ...any) {
	l.Add(fmt.Sprintf(format, args...))
}

// Messages returns a copy of the current entries in insertion order.
func (l *Log) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Drain returns every entry and empties the log.
func (l *Log) Drain() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.msgs
	l.msgs = nil
	return out
}

func (l *Log) Clear() {
	l.mu.Lock()
	l.msgs = nil
	l.mu.Unlock()
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

// String joins the entries with newlines.
func (l *Log) String() string {
	return strings.Join(l.Messages(), "\n")
}
