package cmd

import (
	"fmt"
	"io"
	"strings"
)

// progressBar redraws a single status line as work completes.
type progressBar struct {
	total       int
	current     int
	width       int
	description string
	writer      io.Writer
}

func newProgressBar(total int, description string, writer io.Writer) *progressBar {
	return &progressBar{
		total:       total,
		width:       30,
		description: description,
		writer:      writer,
	}
}

// Set moves the bar to done out of total. The total may change between calls.
func (p *progressBar) Set(done, total int) {
	p.total = total
	p.current = min(done, total)
	p.render()
}

// Finish draws the bar as complete and ends the line.
func (p *progressBar) Finish() {
	p.current = p.total
	p.render()
	fmt.Fprintln(p.writer)
}

func (p *progressBar) render() {
	if p.total <= 0 {
		return
	}

	filled := min(p.current*p.width/p.total, p.width)
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", p.width-filled)
	fmt.Fprintf(p.writer, "\r%s [%s] %d/%d", p.description, bar, p.current, p.total)
}
