// Package console wraps the process standard streams: TTY detection,
// colors, synchronized writes and a persistent progress line.
package console

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/liuxd6825/surge/ui/pb"
)

const (
	// Default terminal width in characters.
	defaultTermWidth = 80
	// Max length of left-side progress bar text before trimming is forced.
	maxLeftLength = 30
	// Padding between the progress bar and the right terminal edge.
	termPadding = 1
)

// fder is implemented by *os.File, terminals are only detected on those.
type fder interface {
	Fd() uintptr
}

// Console enables synced writing to stdout and stderr.
type Console struct {
	IsTTY  bool
	Stdout io.Writer
	Stderr io.Writer

	rawStdout      io.Writer
	outMx          *sync.Mutex
	stdout, stderr *consoleWriter
	theme          *color.Color
	logger         *logrus.Logger
}

// New returns a Console. Colors are only used when colorize is set and both
// streams are terminals, unless termType is "dumb".
func New(stdout, stderr io.Writer, colorize bool, termType string) *Console {
	outMx := &sync.Mutex{}
	outCW := newConsoleWriter(stdout, outMx, termType)
	errCW := newConsoleWriter(stderr, outMx, termType)
	isTTY := outCW.isTTY && errCW.isTTY

	logger := &logrus.Logger{
		Out:       errCW,
		Formatter: &logrus.TextFormatter{DisableColors: true},
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}

	var theme *color.Color
	if isTTY && colorize {
		theme = color.New(color.FgCyan)
		theme.EnableColor()
		logger.Formatter = &logrus.TextFormatter{ForceColors: true}
	}

	return &Console{
		IsTTY:     isTTY,
		Stdout:    outCW,
		Stderr:    errCW,
		rawStdout: stdout,
		outMx:     outMx,
		stdout:    outCW,
		stderr:    errCW,
		theme:     theme,
		logger:    logger,
	}
}

// Colorized reports whether colors are enabled.
func (c *Console) Colorized() bool {
	return c.theme != nil
}

// ApplyTheme adds ANSI color escape sequences to s if colors are enabled.
func (c *Console) ApplyTheme(s string) string {
	if c.Colorized() {
		return c.theme.Sprint(s)
	}
	return s
}

// Banner returns the surge ASCII art banner.
func (c *Console) Banner() string {
	banner := strings.Join([]string{
		`   ___ _   _ _ __ __ _  ___ `,
		`  / __| | | | '__/ _' |/ _ \`,
		`  \__ \ |_| | | | (_| |  __/`,
		`  |___/\__,_|_|  \__, |\___|`,
		`                 |___/      `,
	}, "\n")
	return c.ApplyTheme(banner)
}

// GetLogger returns the preconfigured plain-text logger.
func (c *Console) GetLogger() *logrus.Logger {
	return c.logger
}

// Printf writes to stdout.
func (c *Console) Printf(s string, a ...interface{}) {
	if _, err := fmt.Fprintf(c.Stdout, s, a...); err != nil {
		c.logger.Errorf("could not print '%s' to stdout: %s", s, err.Error())
	}
}

// PrintYAML marshals v to YAML and writes it to stdout.
func (c *Console) PrintYAML(v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("could not marshal YAML: %w", err)
	}
	c.Printf("%s", data)
	return nil
}

// TermWidth returns the terminal width, or 80 when stdout isn't a terminal.
func (c *Console) TermWidth() (int, error) {
	f, ok := c.rawStdout.(fder)
	if !c.IsTTY || !ok {
		return defaultTermWidth, nil
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if !(width > 0) || err != nil {
		return defaultTermWidth, err
	}
	return width, nil
}

// ShowProgress redraws bar below the other output every interval until ctx
// is done, then renders it one last time. Without a terminal the bar is
// printed every interval instead.
func (c *Console) ShowProgress(ctx context.Context, bar *pb.ProgressBar, interval time.Duration) {
	render := func() string {
		width, _ := c.TermWidth()
		r := bar.Render(maxLeftLength, 0)
		r.Color = c.Colorized()
		line := r.String()
		if over := len(line) + termPadding - width; over > 0 && c.IsTTY {
			r = bar.Render(maxLeftLength, -over)
			r.Color = c.Colorized()
			line = r.String()
		}
		return line
	}

	if !c.IsTTY {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_, _ = fmt.Fprintln(c.Stderr, render())
			case <-ctx.Done():
				_, _ = fmt.Fprintln(c.Stderr, render())
				return
			}
		}
	}

	var line string
	c.setPersistentText(func() {
		_, _ = fmt.Fprint(c.stderr.Writer, line+"\r")
	})
	defer c.setPersistentText(nil)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		c.outMx.Lock()
		line = render()
		_, _ = fmt.Fprint(c.stderr.Writer, line+"\x1b[0K\r")
		c.outMx.Unlock()
		select {
		case <-ticker.C:
		case <-ctx.Done():
			c.outMx.Lock()
			_, _ = fmt.Fprint(c.stderr.Writer, render()+"\x1b[0K\n")
			c.outMx.Unlock()
			return
		}
	}
}

func (c *Console) setPersistentText(pt func()) {
	c.outMx.Lock()
	defer c.outMx.Unlock()

	c.stdout.persistentText = pt
	c.stderr.persistentText = pt
}

// A writer that syncs writes with a mutex and, if the output is a TTY, clears
// before newlines.
type consoleWriter struct {
	io.Writer
	isTTY bool
	mutex *sync.Mutex

	// redraws the progress bar after every write
	persistentText func()
}

func newConsoleWriter(out io.Writer, mx *sync.Mutex, termType string) *consoleWriter {
	isTTY := false
	if f, ok := out.(fder); ok && termType != "dumb" {
		isTTY = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	cw := &consoleWriter{Writer: out, isTTY: isTTY, mutex: mx}
	if f, ok := out.(*os.File); ok && isTTY {
		// Translates the escape sequences on Windows consoles.
		cw.Writer = colorable.NewColorable(f)
	}
	return cw
}

func (w *consoleWriter) Write(p []byte) (n int, err error) {
	origLen := len(p)
	if w.isTTY {
		// Erase till the end of line with each new line.
		p = bytes.ReplaceAll(p, []byte{'\n'}, []byte{'\x1b', '[', '0', 'K', '\n'})
	}

	w.mutex.Lock()
	n, err = w.Writer.Write(p)
	if w.persistentText != nil {
		w.persistentText()
	}
	w.mutex.Unlock()

	if err != nil && n < origLen {
		return n, err
	}
	return origLen, err
}
