package progress

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
)

// ANSI sequences used to move between rows.
const (
	cursorUp      = "\x1b[%dA"
	cursorDown    = "\x1b[%dB"
	clearLine     = "\x1b[2K"
	clearToBottom = "\x1b[J"
)

// screen keeps one terminal row per running bar.
// The cursor always rests at column 0 of the line below the last active row.
// Finished rows are printed above the active block and never touched again,
// so the cursor only travels as far as the number of running jobs.
type screen struct {
	mu     sync.Mutex
	w      io.Writer
	active []*row
}

// row is the io.Writer handed to a single progress bar.
type row struct {
	s    *screen
	text string
	done bool
}

func newScreen(w io.Writer) *screen {
	return &screen{w: w}
}

// add opens an empty row at the bottom of the active block.
func (s *screen) add() *row {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &row{s: s}
	s.active = append(s.active, r)
	_, _ = io.WriteString(s.w, "\n")

	return r
}

// Write takes the last frame a bar rendered and redraws only this row.
func (r *row) Write(p []byte) (int, error) {
	frame := lastFrame(string(p))

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.done || frame == "" {
		return len(p), nil
	}

	r.text = frame
	r.s.redraw(r)

	return len(p), nil
}

// finish freezes the row with text, or with its last frame when text is empty,
// and moves it above the active block.
func (r *row) finish(text string) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.done {
		return
	}

	r.done = true

	if text != "" {
		r.text = text
	}

	r.s.retire(r)
}

func (s *screen) redraw(r *row) {
	idx := slices.Index(s.active, r)
	if idx < 0 {
		return
	}

	up := len(s.active) - idx
	_, _ = fmt.Fprintf(s.w, cursorUp+"\r"+clearLine+"%s"+cursorDown+"\r", up, r.text, up)
}

func (s *screen) retire(r *row) {
	idx := slices.Index(s.active, r)
	if idx < 0 {
		return
	}

	var b strings.Builder

	fmt.Fprintf(&b, cursorUp+"\r"+clearToBottom, len(s.active))
	b.WriteString(r.text + "\n")

	s.active = slices.Delete(s.active, idx, idx+1)
	for _, other := range s.active {
		b.WriteString(other.text + "\n")
	}

	_, _ = io.WriteString(s.w, b.String())
}

// lastFrame returns the last non-blank segment of a bar render.
// Bars clear their line with blanks and carriage returns before every frame.
func lastFrame(p string) string {
	segments := strings.FieldsFunc(p, func(r rune) bool { return r == '\r' || r == '\n' })

	for i := len(segments) - 1; i >= 0; i-- {
		if frame := strings.TrimRight(segments[i], " "); strings.TrimSpace(frame) != "" {
			return frame
		}
	}

	return ""
}
