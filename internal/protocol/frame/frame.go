package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/decompctl/internal/protocol"
)

// MarkerLen is the size of every burst marker: 00 00 01 <code>.
const MarkerLen = 4

// Marker codes.
const (
	CommandStart  byte = 0x02
	CommandEnd    byte = 0x03
	ResponseStart byte = 0x06
	ResponseEnd   byte = 0x07
	ExceptionTag  byte = 0x0A
	BytesStart    byte = 0x0C
	BytesEnd      byte = 0x0D
	StringStart   byte = 0x0E
	StringEnd     byte = 0x0F
)

var markerNames = map[byte]string{
	CommandStart:  "command-start",
	CommandEnd:    "command-end",
	ResponseStart: "response-start",
	ResponseEnd:   "response-end",
	ExceptionTag:  "exception",
	BytesStart:    "bytes-start",
	BytesEnd:      "bytes-end",
	StringStart:   "string-start",
	StringEnd:     "string-end",
}

// MarkerName returns a printable name for a marker code.
func MarkerName(code byte) string {
	if name, ok := markerNames[code]; ok {
		return name
	}
	return fmt.Sprintf("marker(0x%02x)", code)
}

// BurstKind classifies the next marker on the stream.
type BurstKind int

const (
	BurstNone BurstKind = iota
	// BurstQuery is a client command arriving at the engine.
	BurstQuery
	// BurstResponse is an answer to something this side sent.
	BurstResponse
	// BurstString is an engine query arriving at the client; queries are unframed
	// and open with their opcode string.
	BurstString
)

func (k BurstKind) String() string {
	switch k {
	case BurstQuery:
		return "query"
	case BurstResponse:
		return "response"
	case BurstString:
		return "string"
	default:
		return "none"
	}
}

func appendMarker(dst []byte, code byte) []byte {
	return append(dst, 0x00, 0x00, 0x01, code)
}

func isMarker(b []byte, code byte) bool {
	return len(b) >= MarkerLen && b[0] == 0x00 && b[1] == 0x00 && b[2] == 0x01 && b[3] == code
}

// WriteMarker writes one burst marker.
func WriteMarker(w io.Writer, code byte) error {
	m := [MarkerLen]byte{0x00, 0x00, 0x01, code}
	_, err := w.Write(m[:])
	return err
}

// ReadMarker consumes one marker and returns its code.
func ReadMarker(r io.Reader) (byte, error) {
	var m [MarkerLen]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return 0, readErr(err, "marker")
	}
	if m[0] != 0x00 || m[1] != 0x00 || m[2] != 0x01 {
		return 0, fmt.Errorf("%w: bad marker bytes % x", protocol.ErrDesync, m[:])
	}
	return m[3], nil
}

// ExpectMarker consumes one marker and fails with ErrDesync unless it is code.
func ExpectMarker(r io.Reader, code byte) error {
	got, err := ReadMarker(r)
	if err != nil {
		return err
	}
	if got != code {
		return fmt.Errorf("%w: expected %s, got %s", protocol.ErrDesync, MarkerName(code), MarkerName(got))
	}
	return nil
}

// ExpectResponseStart consumes the response-start marker.
func ExpectResponseStart(r io.Reader) error {
	return ExpectMarker(r, ResponseStart)
}

// ExpectResponseEnd consumes the response-end marker.
func ExpectResponseEnd(r io.Reader) error {
	return ExpectMarker(r, ResponseEnd)
}

// PeekAnyBurst classifies the next marker without consuming it.
func PeekAnyBurst(r *bufio.Reader) (BurstKind, error) {
	b, err := r.Peek(MarkerLen)
	if err != nil {
		return BurstNone, readErr(err, "burst")
	}
	switch {
	case isMarker(b, CommandStart):
		return BurstQuery, nil
	case isMarker(b, ResponseStart):
		return BurstResponse, nil
	case isMarker(b, StringStart):
		return BurstString, nil
	default:
		return BurstNone, fmt.Errorf("%w: no burst marker at % x", protocol.ErrDesync, b)
	}
}

func readErr(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s", protocol.ErrTruncated, what)
	}
	return fmt.Errorf("frame: read %s: %w", what, err)
}
