// Package pb renders single-line progress bars.
package pb

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fatih/color"
)

const (
	// DefaultWidth of the progress bar
	DefaultWidth = 40
	// below this the progress is rendered as a percentage
	minWidth = 8
)

// Status of the progress bar
type Status rune

// Progress bar status symbols
const (
	Running     Status = ' '
	Waiting     Status = '•'
	Stopping    Status = '↓'
	Interrupted Status = '✗'
	Done        Status = '✓'
)

func statusColor(s Status) *color.Color {
	switch s {
	case Interrupted:
		return color.New(color.FgRed)
	case Done:
		return color.New(color.FgGreen)
	case Waiting:
		return color.New(color.Faint)
	default:
		return nil
	}
}

// ProgressBar is a thread-safe progress bar whose parts are computed by
// callbacks at render time.
type ProgressBar struct {
	mutex  sync.RWMutex
	width  int
	status Status

	left     func() string
	progress func() (progress float64, right []string)
}

// ProgressBarOption modifies the progress bar, in New or in Modify.
type ProgressBarOption func(*ProgressBar)

// WithLeft sets the function rendering the left text.
func WithLeft(left func() string) ProgressBarOption {
	return func(pb *ProgressBar) { pb.left = left }
}

// WithConstLeft sets a fixed left text.
func WithConstLeft(left string) ProgressBarOption {
	return WithLeft(func() string { return left })
}

// WithProgress sets the function computing the progress, in [0, 1], and the
// texts shown right of the bar.
func WithProgress(progress func() (float64, []string)) ProgressBarOption {
	return func(pb *ProgressBar) { pb.progress = progress }
}

// WithStatus sets the status symbol.
func WithStatus(status Status) ProgressBarOption {
	return func(pb *ProgressBar) { pb.status = status }
}

// New returns a progress bar with the options applied.
func New(options ...ProgressBarOption) *ProgressBar {
	pb := &ProgressBar{width: DefaultWidth}
	pb.Modify(options...)
	return pb
}

// Modify changes the options in a thread-safe way.
func (pb *ProgressBar) Modify(options ...ProgressBarOption) {
	pb.mutex.Lock()
	defer pb.mutex.Unlock()
	for _, option := range options {
		option(pb)
	}
}

// Left returns the left text.
func (pb *ProgressBar) Left() string {
	pb.mutex.RLock()
	defer pb.mutex.RUnlock()
	return pb.renderLeft(0)
}

// renderLeft replaces text exceeding maxLen with an ellipsis.
func (pb *ProgressBar) renderLeft(maxLen int) string {
	if pb.left == nil {
		return ""
	}
	l := pb.left()
	if maxLen > 3 && len(l) > maxLen {
		l = l[:maxLen-3] + "..."
	}
	return l
}

// Render is the result of rendering a bar, it can be padded before being
// turned into a string.
type Render struct {
	Left  string
	Right []string
	// Color enables the status colors.
	Color bool

	status  Status
	percent string
	fill    string
	padding string
}

// Status returns the status symbol, colored if enabled.
func (r Render) Status() string {
	if r.status == 0 {
		return " "
	}
	s := string(r.status)
	if c := statusColor(r.status); r.Color && c != nil {
		c.EnableColor()
		return c.Sprint(s)
	}
	return s
}

// Progress returns the bracketed bar.
func (r Render) Progress() string {
	if r.percent != "" {
		return "[ " + r.percent + " ]"
	}
	padding := r.padding
	if r.Color {
		faint := color.New(color.Faint)
		faint.EnableColor()
		padding = faint.Sprint(padding)
	}
	return "[" + r.fill + padding + "]"
}

func (r Render) String() string {
	var right string
	if len(r.Right) > 0 {
		right = " " + strings.Join(r.Right, "  ")
	}
	return r.Left + " " + r.Status() + " " + r.Progress() + right
}

// Render calls the callbacks and lays out the bar. maxLeft truncates the
// left text, <= 0 disables that. widthDelta shrinks or grows the bar, below
// minWidth the progress is shown as a percentage.
func (pb *ProgressBar) Render(maxLeft, widthDelta int) Render {
	pb.mutex.Lock()
	defer pb.mutex.Unlock()

	var out Render
	var progress float64
	if pb.progress != nil {
		progress, out.Right = pb.progress()
		progress = Clampf(progress, 0, 1)
	}

	pb.width = int(Clampf(float64(pb.width+widthDelta), minWidth, DefaultWidth))
	if pb.width > minWidth {
		space := pb.width - 2
		filled := int(float64(space) * progress)
		switch {
		case filled == 0:
		case filled < space:
			out.fill = strings.Repeat("=", filled-1) + ">"
		default:
			out.fill = strings.Repeat("=", filled)
		}
		out.padding = strings.Repeat("-", space-filled)
	} else {
		out.percent = fmt.Sprintf("%3.f%%", progress*100)
	}

	out.Left = pb.renderLeft(maxLeft)
	out.status = pb.status
	return out
}

// Clampf returns the given value, "clamped" to the range [min, max].
func Clampf(val, min, max float64) float64 {
	switch {
	case val < min:
		return min
	case val > max:
		return max
	default:
		return val
	}
}
