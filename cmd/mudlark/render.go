package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mudlark/mudlark/style"
)

// renderFragments writes one batch of styled fragments to the terminal.
// Newlines pass through unstyled so background colors never paint past
// the end of a line.
func renderFragments(w io.Writer, fragments []style.Fragment) {
	var out strings.Builder
	for _, fragment := range fragments {
		text := fragment.Text
		for len(text) > 0 {
			idx := strings.IndexByte(text, '\n')
			if idx < 0 {
				out.WriteString(renderRun(text, fragment.Style))
				break
			}
			if idx > 0 {
				out.WriteString(renderRun(text[:idx], fragment.Style))
			}
			out.WriteByte('\n')
			text = text[idx+1:]
		}
	}
	_, _ = io.WriteString(w, out.String())
}

func renderRun(text string, state style.State) string {
	styled := lipgloss.NewStyle().
		Bold(state.Bold).
		Italic(state.Italic).
		Underline(state.Underline).
		Strikethrough(state.Strikethrough)

	if !state.Foreground.IsDefault() {
		styled = styled.Foreground(lipgloss.Color(hexColor(state.Foreground)))
	}
	if !state.Background.IsDefault() {
		styled = styled.Background(lipgloss.Color(hexColor(state.Background)))
	}
	return styled.Render(text)
}

func hexColor(c style.Color) string {
	r, g, b := c.RGB()
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}
