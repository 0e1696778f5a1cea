package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

var kindColors = map[string]*color.Color{
	"image": color.New(color.FgCyan),
	"text":  color.New(color.FgGreen),
	"video": color.New(color.FgMagenta),
}

type slotState struct {
	kind     string
	scroller *Scroller
	value    int64
	total    int64
	active   bool
}

// Terminal renders one line per slot plus an overall progress line, redrawn
// in place on a ticker.
type Terminal struct {
	mu      sync.Mutex
	out     io.Writer
	slots   []slotState
	total   int64
	done    int64
	frame   int
	width   int
	drawn   int
	closing chan struct{}
	closed  sync.Once
}

// NewTerminal returns a terminal renderer for n slots, or nil when stdout is
// not a TTY. Callers fall back to Noop on nil.
func NewTerminal(n int) *Terminal {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width < 20 {
		width = 80
	}
	t := &Terminal{
		out:     os.Stdout,
		slots:   make([]slotState, n),
		width:   width,
		closing: make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *Terminal) loop() {
	ticker := time.NewTicker(120 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-t.closing:
			return
		case <-ticker.C:
			t.render()
		}
	}
}

// SlotStart implements UI.
func (t *Terminal) SlotStart(row int, kind, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if row < 0 || row >= len(t.slots) {
		return
	}
	nameWidth := t.width - 20
	if nameWidth < 8 {
		nameWidth = 8
	}
	t.slots[row] = slotState{
		kind:     kind,
		scroller: NewScroller(name, nameWidth),
		active:   true,
	}
}

// SlotProgress implements UI.
func (t *Terminal) SlotProgress(row int, value, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if row < 0 || row >= len(t.slots) {
		return
	}
	t.slots[row].value = value
	t.slots[row].total = total
}

// SlotStop implements UI.
func (t *Terminal) SlotStop(row int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if row < 0 || row >= len(t.slots) {
		return
	}
	t.slots[row] = slotState{}
}

// SetTotal implements UI.
func (t *Terminal) SetTotal(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = n
}

// Advance implements UI.
func (t *Terminal) Advance() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done++
}

// Close implements UI.
func (t *Terminal) Close() {
	t.closed.Do(func() {
		close(t.closing)
		t.mu.Lock()
		defer t.mu.Unlock()
		t.clearLocked()
	})
}

func (t *Terminal) render() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clearLocked()
	spin := spinnerFrames[t.frame%len(spinnerFrames)]
	t.frame++

	lines := 0
	for i := range t.slots {
		s := &t.slots[i]
		if !s.active {
			continue
		}
		kc, ok := kindColors[s.kind]
		if !ok {
			kc = color.New(color.FgWhite)
		}
		line := fmt.Sprintf("%s %s %s%s", spin, kc.Sprintf("%-5s", s.kind),
			s.scroller.Frame(), progressSuffix(s.value, s.total))
		fmt.Fprintln(t.out, trimWidth(line, t.width))
		lines++
	}
	if t.total > 0 {
		fmt.Fprintln(t.out, trimWidth(overallBar(t.done, t.total, t.width), t.width))
		lines++
	}
	t.drawn = lines
}

func (t *Terminal) clearLocked() {
	for i := 0; i < t.drawn; i++ {
		fmt.Fprint(t.out, "\033[1A\033[2K")
	}
	t.drawn = 0
}

func progressSuffix(value, total int64) string {
	if total <= 0 {
		return ""
	}
	pct := value * 100 / total
	if pct > 100 {
		pct = 100
	}
	return fmt.Sprintf(" %3d%%", pct)
}

func overallBar(done, total int64, width int) string {
	barWidth := width - 20
	if barWidth < 10 {
		barWidth = 10
	}
	filled := int(done * int64(barWidth) / total)
	if filled > barWidth {
		filled = barWidth
	}
	return fmt.Sprintf("[%s%s] %d/%d",
		strings.Repeat("█", filled), strings.Repeat("░", barWidth-filled),
		done, total)
}

func trimWidth(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width])
}

var _ UI = (*Terminal)(nil)
