package frame

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/danmuck/decompctl/internal/protocol"
)

const (
	lenFieldSize = 4

	// NoLimit disables the read bound on a string or byte block.
	NoLimit = -1
)

// WriteBool writes a single-byte boolean.
func WriteBool(w io.Writer, v bool) error {
	b := [1]byte{0}
	if v {
		b[0] = 1
	}
	_, err := w.Write(b[:])
	return err
}

// ReadBool reads a single-byte boolean.
func ReadBool(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, readErr(err, "bool")
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: bool byte 0x%02x", protocol.ErrMalformed, b[0])
	}
}

// AppendString appends the wire form of s to dst.
func AppendString(dst []byte, s string) []byte {
	return appendBlock(dst, StringStart, StringEnd, []byte(s))
}

// AppendRawBytes appends the wire form of b to dst.
func AppendRawBytes(dst []byte, b []byte) []byte {
	return appendBlock(dst, BytesStart, BytesEnd, b)
}

// WriteString writes {string-start}{u32 length}{bytes}{string-end}.
func WriteString(w io.Writer, s string) error {
	if uint64(len(s)) > math.MaxUint32 {
		return fmt.Errorf("%w: string of %d bytes", protocol.ErrOversizedPayload, len(s))
	}
	_, err := w.Write(AppendString(make([]byte, 0, blockSize(len(s))), s))
	return err
}

// ReadString reads a string block. A declared length above limit fails before any
// allocation; limit < 0 disables the bound.
func ReadString(r io.Reader, limit int) (string, error) {
	b, err := readBlock(r, StringStart, StringEnd, limit, "string")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteRawBytes writes {bytes-start}{u32 length}{bytes}{bytes-end}.
func WriteRawBytes(w io.Writer, b []byte) error {
	if uint64(len(b)) > math.MaxUint32 {
		return fmt.Errorf("%w: byte block of %d bytes", protocol.ErrOversizedPayload, len(b))
	}
	_, err := w.Write(AppendRawBytes(make([]byte, 0, blockSize(len(b))), b))
	return err
}

// ReadRawBytes reads a raw byte block bounded by limit.
func ReadRawBytes(r io.Reader, limit int) ([]byte, error) {
	return readBlock(r, BytesStart, BytesEnd, limit, "bytes")
}

func blockSize(n int) int {
	return 2*MarkerLen + lenFieldSize + n
}

func appendBlock(dst []byte, start, end byte, b []byte) []byte {
	dst = appendMarker(dst, start)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(b)))
	dst = append(dst, b...)
	return appendMarker(dst, end)
}

func readBlock(r io.Reader, start, end byte, limit int, what string) ([]byte, error) {
	if err := ExpectMarker(r, start); err != nil {
		return nil, err
	}
	var lb [lenFieldSize]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, readErr(err, what+" length")
	}
	n := binary.BigEndian.Uint32(lb[:])
	if limit >= 0 && uint64(n) > uint64(limit) {
		return nil, fmt.Errorf("%w: %s declares %d bytes, bound %d", protocol.ErrOversizedPayload, what, n, limit)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, readErr(err, what+" body")
	}
	var m [MarkerLen]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return nil, readErr(err, what+" end")
	}
	if !isMarker(m[:], end) {
		return nil, fmt.Errorf("%w: %s length %d inconsistent with data", protocol.ErrMalformed, what, n)
	}
	return buf, nil
}
