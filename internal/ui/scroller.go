package ui

// Scroller renders a name into a fixed-width window. Short names are padded;
// long names rotate one rune per tick with a separator between wraps.
type Scroller struct {
	runes []rune
	width int
	pos   int
}

const scrollSeparator = " • "

// NewScroller creates a scroller for name with the given window width.
func NewScroller(name string, width int) *Scroller {
	if width < 1 {
		width = 1
	}
	return &Scroller{runes: []rune(name), width: width}
}

// Frame returns the current window and advances one rune.
func (s *Scroller) Frame() string {
	if len(s.runes) <= s.width {
		out := make([]rune, s.width)
		copy(out, s.runes)
		for i := len(s.runes); i < s.width; i++ {
			out[i] = ' '
		}
		return string(out)
	}

	ring := append(append([]rune{}, s.runes...), []rune(scrollSeparator)...)
	out := make([]rune, 0, s.width)
	for i := 0; i < s.width; i++ {
		out = append(out, ring[(s.pos+i)%len(ring)])
	}
	s.pos = (s.pos + 1) % len(ring)
	return string(out)
}
