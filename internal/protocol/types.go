package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is a location in one of the client's address spaces.
type Address struct {
	Space  string
	Offset uint64
}

func (a Address) IsZero() bool {
	return a.Space == "" && a.Offset == 0
}

func (a Address) String() string {
	return fmt.Sprintf("%s:0x%x", a.Space, a.Offset)
}

// Varnode is an address-space/offset/size storage triple.
type Varnode struct {
	Space  string
	Offset uint64
	Size   uint32
}

func (v Varnode) Address() Address {
	return Address{Space: v.Space, Offset: v.Offset}
}

func (v Varnode) String() string {
	return fmt.Sprintf("%s:0x%x:%d", v.Space, v.Offset, v.Size)
}

// ParseAddress reads the "space:offset" form produced by Address.String. The
// offset may be decimal or 0x-prefixed hex.
func ParseAddress(s string) (Address, error) {
	space, raw, ok := strings.Cut(s, ":")
	if !ok || space == "" {
		return Address{}, fmt.Errorf("%w: address %q", ErrMalformed, s)
	}
	off, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return Address{}, fmt.Errorf("%w: address %q offset", ErrMalformed, s)
	}
	return Address{Space: space, Offset: off}, nil
}

// ParseVarnode reads the "space:offset:size" form produced by Varnode.String.
func ParseVarnode(s string) (Varnode, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return Varnode{}, fmt.Errorf("%w: varnode %q", ErrMalformed, s)
	}
	a, err := ParseAddress(s[:i])
	if err != nil {
		return Varnode{}, err
	}
	size, err := strconv.ParseUint(s[i+1:], 0, 32)
	if err != nil {
		return Varnode{}, fmt.Errorf("%w: varnode %q size", ErrMalformed, s)
	}
	return Varnode{Space: a.Space, Offset: a.Offset, Size: uint32(size)}, nil
}
