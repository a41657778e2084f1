package schema

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/danmuck/decompctl/internal/protocol/document"
)

// Opcode names one query the engine can put to the client.
type Opcode string

const (
	GetRegister         Opcode = "getRegister"
	GetRegisterName     Opcode = "getRegisterName"
	GetTrackedRegisters Opcode = "getTrackedRegisters"
	GetUserOpName       Opcode = "getUserOpName"
	GetPacked           Opcode = "getPacked"
	GetPackedRange      Opcode = "getPackedRange"
	GetMappedSymbols    Opcode = "getMappedSymbolsXML"
	GetExternalRef      Opcode = "getExternalRefXML"
	GetNamespacePath    Opcode = "getNamespacePath"
	IsNameUsed          Opcode = "isNameUsed"
	GetCodeLabel        Opcode = "getCodeLabel"
	GetType             Opcode = "getType"
	GetComments         Opcode = "getComments"
	GetBytes            Opcode = "getBytes"
	GetPcodeInject      Opcode = "getPcodeInject"
	GetCPoolRef         Opcode = "getCPoolRef"
	GetStringData       Opcode = "getStringData"
)

// ArgKind says how one positional argument string is to be read.
type ArgKind uint8

const (
	ArgString ArgKind = iota + 1
	// ArgInt is a decimal or 0x-prefixed integer.
	ArgInt
	// ArgAddress is <addr space=".." offset=".."/> markup.
	ArgAddress
	// ArgVarnode is address markup with a size attribute.
	ArgVarnode
	// ArgDocument is arbitrary markup.
	ArgDocument
)

func (k ArgKind) String() string {
	switch k {
	case ArgString:
		return "string"
	case ArgInt:
		return "int"
	case ArgAddress:
		return "address"
	case ArgVarnode:
		return "varnode"
	case ArgDocument:
		return "document"
	default:
		return "unknown"
	}
}

// Result is the payload shape of an answer.
type Result uint8

const (
	ResultBool Result = iota + 1
	ResultString
	ResultBytes
	ResultDocument
	// ResultPacked is one packed instruction carried in a byte block.
	ResultPacked
	// ResultPackedAll is any number of packed instructions in a byte block.
	ResultPackedAll
	// ResultBytesBool is a byte block followed by a truncation flag.
	ResultBytesBool
)

func (r Result) String() string {
	switch r {
	case ResultBool:
		return "bool"
	case ResultString:
		return "string"
	case ResultBytes:
		return "bytes"
	case ResultDocument:
		return "document"
	case ResultPacked:
		return "packed"
	case ResultPackedAll:
		return "packed-all"
	case ResultBytesBool:
		return "bytes+bool"
	default:
		return "unknown"
	}
}

// Spec declares the arguments and answer shape of one opcode.
type Spec struct {
	Opcode Opcode
	Args   []ArgKind
	Result Result
}

type ValidationError struct {
	Opcode Opcode
	Arg    int
	Reason string
}

func (e ValidationError) Error() string {
	if e.Arg < 0 {
		return fmt.Sprintf("schema: opcode=%s: %s", e.Opcode, e.Reason)
	}
	return fmt.Sprintf("schema: opcode=%s arg=%d: %s", e.Opcode, e.Arg, e.Reason)
}

var specs = map[Opcode]Spec{
	GetRegister:         {GetRegister, []ArgKind{ArgString}, ResultDocument},
	GetRegisterName:     {GetRegisterName, []ArgKind{ArgVarnode}, ResultString},
	GetTrackedRegisters: {GetTrackedRegisters, []ArgKind{ArgAddress}, ResultDocument},
	GetUserOpName:       {GetUserOpName, []ArgKind{ArgInt}, ResultString},
	GetPacked:           {GetPacked, []ArgKind{ArgAddress}, ResultPacked},
	GetPackedRange:      {GetPackedRange, []ArgKind{ArgAddress, ArgInt}, ResultPackedAll},
	GetMappedSymbols:    {GetMappedSymbols, []ArgKind{ArgAddress}, ResultDocument},
	GetExternalRef:      {GetExternalRef, []ArgKind{ArgAddress}, ResultDocument},
	GetNamespacePath:    {GetNamespacePath, []ArgKind{ArgInt}, ResultDocument},
	IsNameUsed:          {IsNameUsed, []ArgKind{ArgString, ArgInt, ArgInt}, ResultBool},
	GetCodeLabel:        {GetCodeLabel, []ArgKind{ArgAddress}, ResultString},
	GetType:             {GetType, []ArgKind{ArgString, ArgInt}, ResultDocument},
	GetComments:         {GetComments, []ArgKind{ArgAddress, ArgInt}, ResultDocument},
	GetBytes:            {GetBytes, []ArgKind{ArgAddress, ArgInt}, ResultBytes},
	GetPcodeInject:      {GetPcodeInject, []ArgKind{ArgString, ArgInt, ArgDocument}, ResultDocument},
	GetCPoolRef:         {GetCPoolRef, []ArgKind{ArgDocument}, ResultDocument},
	GetStringData:       {GetStringData, []ArgKind{ArgAddress, ArgInt, ArgString, ArgInt}, ResultBytesBool},
}

// Lookup returns the spec of op.
func Lookup(op Opcode) (Spec, bool) {
	s, ok := specs[op]
	return s, ok
}

// Opcodes lists every known opcode in name order.
func Opcodes() []Opcode {
	out := make([]Opcode, 0, len(specs))
	for op := range specs {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks the argument count and that every argument parses as its kind.
// It does no logging; callers report failures with their own logger.
func Validate(q Query) error {
	spec, ok := specs[q.Opcode]
	if !ok {
		return ValidationError{Opcode: q.Opcode, Arg: -1, Reason: "unknown opcode"}
	}
	if len(q.Args) != len(spec.Args) {
		return ValidationError{
			Opcode: q.Opcode,
			Arg:    -1,
			Reason: fmt.Sprintf("got %d args, want %d", len(q.Args), len(spec.Args)),
		}
	}
	for i, kind := range spec.Args {
		if err := checkArg(kind, q.Args[i]); err != nil {
			return ValidationError{Opcode: q.Opcode, Arg: i, Reason: fmt.Sprintf("not a %s: %v", kind, err)}
		}
	}
	return nil
}

func checkArg(kind ArgKind, raw string) error {
	switch kind {
	case ArgString:
		return nil
	case ArgInt:
		_, err := strconv.ParseInt(raw, 0, 64)
		if err != nil {
			_, err = strconv.ParseUint(raw, 0, 64)
		}
		return err
	case ArgAddress:
		_, err := document.ParseAddressMarkup(raw)
		return err
	case ArgVarnode:
		_, err := document.ParseVarnodeMarkup(raw)
		return err
	case ArgDocument:
		_, err := document.Unmarshal([]byte(raw))
		return err
	default:
		return fmt.Errorf("unknown argument kind %d", kind)
	}
}
