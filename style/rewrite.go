package style

import (
	"fmt"
	"strconv"
	"strings"
)

// colorLetters maps the @-dialect's color letters to ANSI palette indexes.
var colorLetters = map[byte]int{
	'k': 0, // black
	'r': 1,
	'g': 2,
	'y': 3,
	'b': 4,
	'm': 5,
	'c': 6,
	'w': 7,
}

// rewriteAtCodes converts the secondary @-prefixed color dialect into
// standard SGR and CSI-256 sequences so the main scan only needs one
// interpreter. Lowercase letters are the normal palette, uppercase the
// bright palette, @n resets, @[Fnnn]/@[Bnnn] select 256-table entries,
// and @@ is a literal @. Anything unrecognized passes through untouched.
func rewriteAtCodes(text string) string {
	if !strings.ContainsRune(text, '@') {
		return text
	}

	var sb strings.Builder
	sb.Grow(len(text))

	for i := 0; i < len(text); i++ {
		if text[i] != '@' || i+1 >= len(text) {
			sb.WriteByte(text[i])
			continue
		}

		next := text[i+1]
		switch {
		case next == '@':
			sb.WriteByte('@')
			i++

		case next == 'n':
			sb.WriteString("\x1b[0m")
			i++

		case next == '[':
			consumed, seq := rewriteIndexedCode(text[i:])
			if consumed == 0 {
				sb.WriteByte(text[i])
				continue
			}
			sb.WriteString(seq)
			i += consumed - 1

		default:
			if index, ok := colorLetters[lowerByte(next)]; ok {
				if next >= 'A' && next <= 'Z' {
					fmt.Fprintf(&sb, "\x1b[%dm", 90+index)
				} else {
					fmt.Fprintf(&sb, "\x1b[%dm", 30+index)
				}
				i++
				continue
			}

			sb.WriteByte(text[i])
		}
	}

	return sb.String()
}

// rewriteIndexedCode parses an @[F123] or @[B045] form starting at the @.
// It returns how many input bytes the form occupies and the SGR rewrite,
// or 0 when the form is malformed.
func rewriteIndexedCode(text string) (consumed int, seq string) {
	// Shortest valid form is @[F0]
	if len(text) < 5 {
		return 0, ""
	}

	ground := text[2]
	if ground != 'F' && ground != 'B' {
		return 0, ""
	}

	end := strings.IndexByte(text, ']')
	if end < 0 || end > 7 {
		return 0, ""
	}

	index, err := strconv.Atoi(text[3:end])
	if err != nil || index < 0 || index > 255 {
		return 0, ""
	}

	if ground == 'F' {
		return end + 1, fmt.Sprintf("\x1b[38;5;%dm", index)
	}
	return end + 1, fmt.Sprintf("\x1b[48;5;%dm", index)
}

func lowerByte(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}
