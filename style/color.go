// Package style converts incoming text containing ANSI/VT escape
// sequences and the secondary @-code color dialect into styled text runs.
package style

// ColorKind discriminates the closed set of color spaces a style can hold.
type ColorKind uint8

const (
	// ColorDefault means the theme-supplied default color.
	ColorDefault ColorKind = iota
	// ColorANSI is one of the 16 standard/bright palette entries.
	ColorANSI
	// Color256 is an xterm-256 table index.
	Color256
	// ColorRGB is a literal 24-bit color.
	ColorRGB
)

// Color is a single foreground or background color value.
type Color struct {
	Kind  ColorKind
	Index uint8
	R     uint8
	G     uint8
	B     uint8
}

// ANSI returns a standard/bright palette color. Indexes outside 0-15 are
// clamped into the palette.
func ANSI(index int) Color {
	return Color{Kind: ColorANSI, Index: uint8(index & 0xf)}
}

// Index256 returns an xterm-256 table color.
func Index256(index int) Color {
	return Color{Kind: Color256, Index: uint8(index)}
}

// RGB returns a literal 24-bit color.
func RGB(r, g, b uint8) Color {
	return Color{Kind: ColorRGB, R: r, G: g, B: b}
}

// IsDefault reports whether this is the theme default color.
func (c Color) IsDefault() bool {
	return c.Kind == ColorDefault
}

// RGB resolves the color to a 24-bit triple. Theme defaults resolve to the
// renderer's problem, not ours; they come back as black here and callers
// should check IsDefault first.
func (c Color) RGB() (r, g, b uint8) {
	switch c.Kind {
	case ColorANSI:
		entry := ansiPalette[c.Index&0xf]
		return entry[0], entry[1], entry[2]
	case Color256:
		return XTerm256(int(c.Index))
	case ColorRGB:
		return c.R, c.G, c.B
	}
	return 0, 0, 0
}

// ansiPalette holds the fixed RGB constants for the 16 standard and bright
// ANSI colors, matching the xterm defaults.
var ansiPalette = [16][3]uint8{
	{0, 0, 0},       // black
	{205, 0, 0},     // red
	{0, 205, 0},     // green
	{205, 205, 0},   // yellow
	{0, 0, 238},     // blue
	{205, 0, 205},   // magenta
	{0, 205, 205},   // cyan
	{229, 229, 229}, // white
	{127, 127, 127}, // bright black
	{255, 0, 0},     // bright red
	{0, 255, 0},     // bright green
	{255, 255, 0},   // bright yellow
	{92, 92, 255},   // bright blue
	{255, 0, 255},   // bright magenta
	{0, 255, 255},   // bright cyan
	{255, 255, 255}, // bright white
}

// cubeLevels is the xterm 6x6x6 color cube level set.
var cubeLevels = [6]uint8{0, 95, 135, 175, 215, 255}

// XTerm256 resolves an xterm-256 table index to its fixed RGB triple:
// 0-15 are the ANSI palette, 16-231 a 6x6x6 cube indexed 16 + 36r + 6g + b,
// and 232-255 a 24-step grayscale ramp.
func XTerm256(index int) (r, g, b uint8) {
	index &= 0xff

	if index < 16 {
		entry := ansiPalette[index]
		return entry[0], entry[1], entry[2]
	}

	if index < 232 {
		index -= 16
		return cubeLevels[index/36], cubeLevels[(index/6)%6], cubeLevels[index%6]
	}

	gray := uint8(8 + 10*(index-232))
	return gray, gray, gray
}
