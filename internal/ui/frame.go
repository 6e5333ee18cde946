// Package ui renders interactive progress to the terminal as a stack of
// indexed frames, and defines the sink interface the engine reports
// through. Sinks are best-effort: rendering failures are swallowed.
package ui

import (
	"fmt"
	"strings"
	"sync"
)

// Frame is one addressable block in the frame stack. Frames with a lower
// index render above frames with a higher index; logging a frame with an
// index already in the stack replaces it.
type Frame interface {
	// Index returns the position of this frame in the frame stack.
	Index() int

	// Render returns the frame's current content, possibly spanning
	// multiple lines, fitted to the given terminal width.
	Render(width int) string
}

// SimpleFrame is a static block of text.
type SimpleFrame struct {
	index   int
	content string
}

// NewSimpleFrame creates a frame rendering fixed content.
func NewSimpleFrame(index int, content string) *SimpleFrame {
	return &SimpleFrame{index: index, content: content}
}

func (f *SimpleFrame) Index() int { return f.index }

func (f *SimpleFrame) Render(width int) string { return f.content }

// TableFrame renders rows of cells with columns padded to equal width.
type TableFrame struct {
	index int
	mu    sync.Mutex
	rows  [][]string
}

// NewTableFrame creates a table frame with the given initial cells.
func NewTableFrame(index int, rows [][]string) *TableFrame {
	return &TableFrame{index: index, rows: rows}
}

func (f *TableFrame) Index() int { return f.index }

// SetCell replaces the cell at (row, col), growing the row if needed.
func (f *TableFrame) SetCell(row, col int, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.rows) <= row {
		f.rows = append(f.rows, nil)
	}
	for len(f.rows[row]) <= col {
		f.rows[row] = append(f.rows[row], "")
	}
	f.rows[row][col] = value
}

func (f *TableFrame) Render(width int) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Column widths over all rows.
	var widths []int
	for _, row := range f.rows {
		for c, cell := range row {
			for len(widths) <= c {
				widths = append(widths, 0)
			}
			if len(cell) > widths[c] {
				widths[c] = len(cell)
			}
		}
	}

	b := &strings.Builder{}
	for i, row := range f.rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		for c, cell := range row {
			if c > 0 {
				b.WriteString("  ")
			}
			if c < len(row)-1 {
				fmt.Fprintf(b, "%-*s", widths[c], cell)
			} else {
				b.WriteString(cell)
			}
		}
	}
	return b.String()
}

// barWidth is the inner width of a rendered progress bar.
const barWidth = 24

// ProgressFrame renders one or more determinate progress bars.
type ProgressFrame struct {
	index int
	mu    sync.Mutex
	bars  []progressBar
}

type progressBar struct {
	message  string
	progress int
	total    int
}

// NewProgressFrame creates a frame with n progress bars.
func NewProgressFrame(index, n int) *ProgressFrame {
	return &ProgressFrame{index: index, bars: make([]progressBar, n)}
}

func (f *ProgressFrame) Index() int { return f.index }

// SetProgress updates one bar. total <= 0 renders as complete.
func (f *ProgressFrame) SetProgress(bar, progress, total int, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bar < 0 || bar >= len(f.bars) {
		return
	}
	f.bars[bar] = progressBar{message: message, progress: progress, total: total}
}

func (f *ProgressFrame) Render(width int) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	lines := make([]string, len(f.bars))
	for i, bar := range f.bars {
		ratio := 1.0
		if bar.total > 0 {
			ratio = float64(bar.progress) / float64(bar.total)
		}
		if ratio > 1 {
			ratio = 1
		} else if ratio < 0 {
			ratio = 0
		}
		filled := int(ratio * barWidth)
		lines[i] = fmt.Sprintf("%s [%s%s] %3.0f%%",
			bar.message,
			strings.Repeat("#", filled),
			strings.Repeat(".", barWidth-filled),
			ratio*100)
	}
	return strings.Join(lines, "\n")
}

// IndeterminateProgressFrame renders bars with a bouncing block, used when
// the total amount of work is unknown.
type IndeterminateProgressFrame struct {
	index int
	mu    sync.Mutex
	bars  []progressBar
	tick  int
}

// NewIndeterminateProgressFrame creates a frame with n indeterminate bars.
func NewIndeterminateProgressFrame(index, n int) *IndeterminateProgressFrame {
	return &IndeterminateProgressFrame{index: index, bars: make([]progressBar, n)}
}

func (f *IndeterminateProgressFrame) Index() int { return f.index }

// SetProgress updates one bar's message. The progress and total values are
// accepted for interface parity with ProgressFrame but only a full bar is
// rendered once progress == total.
func (f *IndeterminateProgressFrame) SetProgress(bar, progress, total int, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bar < 0 || bar >= len(f.bars) {
		return
	}
	f.bars[bar] = progressBar{message: message, progress: progress, total: total}
}

func (f *IndeterminateProgressFrame) Render(width int) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tick++
	lines := make([]string, len(f.bars))
	for i, bar := range f.bars {
		if bar.total > 0 && bar.progress >= bar.total {
			lines[i] = fmt.Sprintf("%s [%s] 100%%", bar.message, strings.Repeat("#", barWidth))
			continue
		}
		// Bounce a small block across the bar.
		span := barWidth - 3
		pos := f.tick % (2 * span)
		if pos > span {
			pos = 2*span - pos
		}
		lines[i] = fmt.Sprintf("%s [%s###%s]",
			bar.message,
			strings.Repeat(".", pos),
			strings.Repeat(".", span-pos))
	}
	return strings.Join(lines, "\n")
}

// spinnerGlyphs are cycled by SpinnerFrame on each render.
var spinnerGlyphs = []rune{'|', '/', '-', '\\'}

// SpinnerFrame renders one or more message lines with a trailing spinner.
type SpinnerFrame struct {
	index    int
	mu       sync.Mutex
	spinners []spinner
	tick     int
}

type spinner struct {
	message string
	done    bool
}

// NewSpinnerFrame creates a frame with n spinners.
func NewSpinnerFrame(index, n int) *SpinnerFrame {
	return &SpinnerFrame{index: index, spinners: make([]spinner, n)}
}

func (f *SpinnerFrame) Index() int { return f.index }

// SetSpinner updates one spinner's message; done stops the animation.
func (f *SpinnerFrame) SetSpinner(i int, message string, done bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.spinners) {
		return
	}
	f.spinners[i] = spinner{message: message, done: done}
}

func (f *SpinnerFrame) Render(width int) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tick++
	lines := make([]string, len(f.spinners))
	for i, s := range f.spinners {
		if s.done {
			lines[i] = s.message
			continue
		}
		lines[i] = fmt.Sprintf("%s %c", s.message, spinnerGlyphs[f.tick%len(spinnerGlyphs)])
	}
	return strings.Join(lines, "\n")
}
