package style

// State is the mutable style record carried through one processing pass.
// SGR codes are additive: each code modifies only the fields it names,
// while code 0 restores the whole record to the theme default.
type State struct {
	Foreground    Color
	Background    Color
	Bold          bool
	Italic        bool
	Underline     bool
	Strikethrough bool
}

// Reset restores the full theme default: default colors, all attributes off.
func (s *State) Reset() {
	*s = State{}
}

// Fragment is a run of text with the style that was in effect when it was
// emitted.
type Fragment struct {
	Text  string
	Style State
}
