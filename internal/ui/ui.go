package ui

// UI is the side-effect sink the pipelines write progress to. The core never
// depends on a concrete renderer; tests and non-TTY runs use Noop.
type UI interface {
	// SlotStart begins rendering a slot row for the named work.
	SlotStart(row int, kind, name string)
	// SlotProgress updates a slot's progress in milliseconds. total may be
	// zero while the duration is still unknown.
	SlotProgress(row int, value, total int64)
	// SlotStop clears a slot row.
	SlotStop(row int)
	// SetTotal sets the expected number of files for the overall bar.
	SetTotal(n int64)
	// Advance moves the overall progress counter by one.
	Advance()
	// Close restores the terminal.
	Close()
}

// Noop is the do-nothing UI.
type Noop struct{}

// SlotStart implements UI.
func (Noop) SlotStart(int, string, string) {}

// SlotProgress implements UI.
func (Noop) SlotProgress(int, int64, int64) {}

// SlotStop implements UI.
func (Noop) SlotStop(int) {}

// SetTotal implements UI.
func (Noop) SetTotal(int64) {}

// Advance implements UI.
func (Noop) Advance() {}

// Close implements UI.
func (Noop) Close() {}

var _ UI = Noop{}
