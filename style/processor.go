package style

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Processor is the stateful escape-sequence interpreter. One instance
// lives per processing pass: style state carries across Process calls so
// a color set on one line still applies to the next.
//
// Cursor-movement and clear sequences are recognized and discarded;
// malformed sequences are dropped silently. The worst case for eccentric
// input is an ignored code, never an error.
type Processor struct {
	parser      *ansi.Parser
	parserState byte
	state       State

	// extendedBright honors the nonstandard bright alias codes some
	// servers emit. This intentionally shadows the standard cyan/white
	// codes (36/37 foreground, 46/47 background) when enabled; the
	// standard 40-45 background run always keeps its usual meaning.
	// Server dialects vary, so it is a configuration decision rather
	// than a fixed behavior.
	extendedBright bool
}

// NewProcessor creates a processor with the full theme-default state.
func NewProcessor(extendedBrightAliases bool) *Processor {
	return &Processor{
		parser:         ansi.NewParser(nil),
		extendedBright: extendedBrightAliases,
	}
}

// State returns a snapshot of the current style state.
func (p *Processor) State() State {
	return p.state
}

// Process converts text into a sequence of styled runs. The @-code dialect
// is rewritten to SGR before the scan, so one interpreter covers both.
func (p *Processor) Process(text string) []Fragment {
	data := []byte(rewriteAtCodes(text))

	var fragments []Fragment
	var run strings.Builder

	flush := func() {
		if run.Len() > 0 {
			fragments = append(fragments, Fragment{Text: run.String(), Style: p.state})
			run.Reset()
		}
	}

	for index := 0; index < len(data); {
		var parsed []byte
		var width, consumed int
		parsed, width, consumed, p.parserState = ansi.DecodeSequence(data[index:], p.parserState, p.parser)
		index += consumed

		if width > 0 {
			run.Write(parsed)
			continue
		}

		if p.parserState != ansi.NormalState {
			// Mid-sequence; the parser keeps the partial state for the
			// next chunk.
			continue
		}

		if ansi.HasCsiPrefix(parsed) {
			p.dispatchCsi(flush)
			continue
		}

		// Zero-width non-sequence bytes are bare control codes. Whitespace
		// controls stay part of the text; the rest are dropped.
		if len(parsed) == 1 && (parsed[0] == '\n' || parsed[0] == '\r' || parsed[0] == '\t') {
			run.WriteByte(parsed[0])
		}
	}

	flush()
	return fragments
}

func (p *Processor) dispatchCsi(flush func()) {
	switch p.parser.Cmd().Command() {
	case 'm':
		flush()
		p.applySGR(p.parser.Params())
	case 'K', 'J', 'H', 'f', 'A', 'B', 'C', 'D':
		// Clear-line/screen and cursor movement, consumed without effect
		// on style.
	default:
		// Unknown sequences are ignored.
	}
}

// applySGR interprets SGR parameters left to right. Unknown codes are
// skipped without aborting the rest of the parameter list.
func (p *Processor) applySGR(params []ansi.Parameter) {
	// A bare ESC[m means reset.
	if len(params) == 0 {
		p.state.Reset()
		return
	}

	for i := 0; i < len(params); i++ {
		code := params[i].Param(0)

		switch code {
		case 0:
			p.state.Reset()
			continue
		case 1:
			p.state.Bold = true
			continue
		case 22:
			p.state.Bold = false
			continue
		case 3:
			p.state.Italic = true
			continue
		case 23:
			p.state.Italic = false
			continue
		case 4:
			p.state.Underline = true
			continue
		case 24:
			p.state.Underline = false
			continue
		case 9:
			p.state.Strikethrough = true
			continue
		case 29:
			p.state.Strikethrough = false
			continue
		case 38:
			i += p.applyExtendedColor(params[i+1:], false)
			continue
		case 48:
			i += p.applyExtendedColor(params[i+1:], true)
			continue
		case 39:
			p.state.Foreground = Color{}
			continue
		case 49:
			p.state.Background = Color{}
			continue
		}

		if p.extendedBright {
			// Nonstandard bright aliases. Only 36/37 and 46/47 overlap a
			// standard range and yield to the alias; the rest of the
			// standard background run (40-45) keeps its usual meaning.
			// See the extendedBright field comment.
			if code == 36 || code == 37 {
				p.state.Foreground = ANSI(code - 36 + 8)
				continue
			}
			if code == 46 || code == 47 || (code >= 50 && code <= 53) {
				p.state.Background = ANSI(code - 46 + 8)
				continue
			}
		}

		switch {
		case code >= 30 && code <= 37:
			p.state.Foreground = ANSI(code - 30)
		case code >= 40 && code <= 47:
			p.state.Background = ANSI(code - 40)
		case code >= 90 && code <= 97:
			p.state.Foreground = ANSI(code - 90 + 8)
		case code >= 100 && code <= 107:
			p.state.Background = ANSI(code - 100 + 8)
		}
		// Anything else is ignored.
	}
}

// applyExtendedColor handles the parameters following a 38 or 48 code and
// returns how many of them it consumed. Unrecognized sub-forms consume
// only the mode parameter so the remaining scan continues.
func (p *Processor) applyExtendedColor(rest []ansi.Parameter, background bool) int {
	if len(rest) == 0 {
		return 0
	}

	set := func(c Color) {
		if background {
			p.state.Background = c
		} else {
			p.state.Foreground = c
		}
	}

	switch rest[0].Param(-1) {
	case 5:
		if len(rest) < 2 {
			return 1
		}
		index := rest[1].Param(-1)
		if index >= 0 && index <= 255 {
			set(Index256(index))
		}
		return 2

	case 2:
		if len(rest) < 4 {
			return 1
		}
		r := rest[1].Param(-1)
		g := rest[2].Param(-1)
		b := rest[3].Param(-1)
		if r >= 0 && r <= 255 && g >= 0 && g <= 255 && b >= 0 && b <= 255 {
			set(RGB(uint8(r), uint8(g), uint8(b)))
		}
		return 4
	}

	return 1
}
