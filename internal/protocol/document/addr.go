package document

import (
	"fmt"
	"strconv"

	"github.com/danmuck/decompctl/internal/protocol"
)

// AddressElement renders a as <addr space=".." offset="0x.."/>.
func AddressElement(a protocol.Address) *Element {
	return New("addr",
		Attr{Name: "space", Value: a.Space},
		Attr{Name: "offset", Value: "0x" + strconv.FormatUint(a.Offset, 16)},
	)
}

// VarnodeElement renders v as an addr element with a size attribute.
func VarnodeElement(v protocol.Varnode) *Element {
	return AddressElement(v.Address()).SetAttr("size", strconv.FormatUint(uint64(v.Size), 10))
}

// ParseAddress reads the space and offset attributes of e.
func ParseAddress(e *Element) (protocol.Address, error) {
	if e == nil {
		return protocol.Address{}, fmt.Errorf("%w: missing address element", protocol.ErrMalformed)
	}
	space, ok := e.Attr("space")
	if !ok || space == "" {
		return protocol.Address{}, fmt.Errorf("%w: <%s> missing space", protocol.ErrMalformed, e.Name)
	}
	raw, ok := e.Attr("offset")
	if !ok {
		return protocol.Address{}, fmt.Errorf("%w: <%s> missing offset", protocol.ErrMalformed, e.Name)
	}
	off, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return protocol.Address{}, fmt.Errorf("%w: <%s> offset %q", protocol.ErrMalformed, e.Name, raw)
	}
	return protocol.Address{Space: space, Offset: off}, nil
}

// ParseVarnode reads an addr element carrying a size attribute.
func ParseVarnode(e *Element) (protocol.Varnode, error) {
	a, err := ParseAddress(e)
	if err != nil {
		return protocol.Varnode{}, err
	}
	raw, ok := e.Attr("size")
	if !ok {
		return protocol.Varnode{}, fmt.Errorf("%w: <%s> missing size", protocol.ErrMalformed, e.Name)
	}
	size, err := strconv.ParseUint(raw, 0, 32)
	if err != nil {
		return protocol.Varnode{}, fmt.Errorf("%w: <%s> size %q", protocol.ErrMalformed, e.Name, raw)
	}
	return protocol.Varnode{Space: a.Space, Offset: a.Offset, Size: uint32(size)}, nil
}

// ParseAddressMarkup decodes address markup such as a query argument.
func ParseAddressMarkup(markup string) (protocol.Address, error) {
	e, err := Unmarshal([]byte(markup))
	if err != nil {
		return protocol.Address{}, err
	}
	return ParseAddress(e)
}

// ParseVarnodeMarkup decodes varnode markup such as a query argument.
func ParseVarnodeMarkup(markup string) (protocol.Varnode, error) {
	e, err := Unmarshal([]byte(markup))
	if err != nil {
		return protocol.Varnode{}, err
	}
	return ParseVarnode(e)
}
