package engine

import (
	"strconv"

	"github.com/danmuck/decompctl/internal/protocol"
	"github.com/danmuck/decompctl/internal/protocol/document"
	"github.com/danmuck/decompctl/internal/protocol/session"
)

// Describe gathers the label, mapped symbols and comments at addr into one
// document:
//
//	<description space="ram" offset="0x401000">
//	  <label name="FUN_00401000" dynamic="true"/>
//	  <symbols>...</symbols>
//	  <comments>...</comments>
//	  <warnings><warning>...</warning></warnings>
//	</description>
//
// Failures that leave the session usable become warnings. An error is returned
// only once the session is poisoned.
func Describe(s *session.Session, addr protocol.Address) (*document.Element, error) {
	desc := document.New("description",
		document.Attr{Name: "space", Value: addr.Space},
		document.Attr{Name: "offset", Value: "0x" + strconv.FormatUint(addr.Offset, 16)},
	)

	label, err := s.GetCodeLabel(addr)
	switch {
	case err == nil && label != "":
		desc.AddChild(document.New("label",
			document.Attr{Name: "name", Value: label},
			document.Attr{Name: "dynamic", Value: strconv.FormatBool(session.IsDynamicSymbolName(label))},
		))
	case err != nil:
		if s.Poisoned() {
			return nil, err
		}
		s.PrintMessage("label at " + addr.String() + ": " + err.Error())
	}

	syms, err := s.GetMappedSymbols(addr)
	if err != nil {
		if s.Poisoned() {
			return nil, err
		}
		s.PrintMessage("symbols at " + addr.String() + ": " + err.Error())
	} else if syms != nil {
		desc.AddChild(document.New("symbols").AddChild(syms))
	}

	comments, err := s.GetComments(addr, session.CommentAll)
	if err != nil {
		if s.Poisoned() {
			return nil, err
		}
		s.PrintMessage("comments at " + addr.String() + ": " + err.Error())
	} else if comments != nil {
		desc.AddChild(document.New("comments").AddChild(comments))
	}

	if msgs := s.Warnings().Messages(); len(msgs) > 0 {
		w := document.New("warnings")
		for _, m := range msgs {
			w.AddChild(&document.Element{Name: "warning", Content: m})
		}
		desc.AddChild(w)
	}
	return desc, nil
}
