// Package console prints the human-facing status lines that accompany
// the structured event log: "[label] message", with the label colored
// by outcome. Output stays readable when piped; color is dropped for
// non-terminals, NO_COLOR, or an explicit flag.
package console

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Printer writes labeled status lines to one destination.
type Printer struct {
	out io.Writer

	blue   *color.Color
	cyan   *color.Color
	green  *color.Color
	yellow *color.Color
	red    *color.Color
	gray   *color.Color
}

// New returns a Printer writing to out. noColor forces plain output on
// top of the library's own NO_COLOR and terminal detection.
func New(out io.Writer, noColor bool) *Printer {
	mk := func(attr color.Attribute) *color.Color {
		c := color.New(attr)
		if noColor {
			c.DisableColor()
		}
		return c
	}
	return &Printer{
		out:    out,
		blue:   mk(color.FgBlue),
		cyan:   mk(color.FgCyan),
		green:  mk(color.FgGreen),
		yellow: mk(color.FgYellow),
		red:    mk(color.FgRed),
		gray:   mk(color.FgHiBlack),
	}
}

// Info marks phase starts and other neutral progress.
func (p *Printer) Info(label, format string, args ...any) {
	p.line(p.blue, label, format, args...)
}

// Progress marks intermediate wins: a plan written, a candidate saved.
func (p *Printer) Progress(label, format string, args ...any) {
	p.line(p.cyan, label, format, args...)
}

// Success marks a spec reaching done.
func (p *Printer) Success(label, format string, args ...any) {
	p.line(p.green, label, format, args...)
}

// Warn marks retries, waits, and invalidations.
func (p *Printer) Warn(label, format string, args ...any) {
	p.line(p.yellow, label, format, args...)
}

// Error marks terminal failures.
func (p *Printer) Error(label, format string, args ...any) {
	p.line(p.red, label, format, args...)
}

// Muted marks skips and other non-events.
func (p *Printer) Muted(label, format string, args ...any) {
	p.line(p.gray, label, format, args...)
}

// Println writes an unlabeled, uncolored line (batch headers, summary).
func (p *Printer) Println(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *Printer) line(c *color.Color, label, format string, args ...any) {
	fmt.Fprintf(p.out, "%s %s\n", c.Sprintf("[%s]", label), fmt.Sprintf(format, args...))
}
