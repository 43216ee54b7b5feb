// Package render draws canvas views and tools as terminal text.
package render

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"

	"github.com/haasonsaas/livecanvas/internal/canvas"
	"github.com/haasonsaas/livecanvas/internal/toolspec"
)

const defaultWidth = 80

// Options controls terminal output.
type Options struct {
	// Width wraps long text. Zero means 80 columns.
	Width int
	// QR draws qrCode tools as scannable blocks instead of their URL only.
	QR bool
}

// ForFile picks options for f: terminal width and QR blocks when f is a
// TTY, plain 80-column text otherwise.
func ForFile(f *os.File) Options {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return Options{Width: defaultWidth}
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		width = defaultWidth
	}
	return Options{Width: width, QR: true}
}

func (o Options) width() int {
	if o.Width <= 0 {
		return defaultWidth
	}
	return o.Width
}

// View writes a full snapshot: status line, timeline, tools shared by
// others and notices.
func View(w io.Writer, v canvas.View, opts Options) error {
	p := &printer{w: w, opts: opts}
	p.statusLine(v)
	for _, e := range v.Timeline {
		p.linef("%s: %s", e.Role, e.Content)
		for _, spec := range e.Tools {
			p.tool(spec, "  ")
		}
	}
	if len(v.Shared) > 0 {
		p.linef("shared by others:")
		for _, entry := range v.Shared {
			p.tool(entry.Spec, "  ")
		}
	}
	for _, n := range v.Notices {
		p.linef("! [%s] %s", n.Level, n.Text)
	}
	return p.err
}

// Tool writes a single tool.
func Tool(w io.Writer, spec toolspec.Spec, opts Options) error {
	p := &printer{w: w, opts: opts}
	p.tool(spec, "")
	return p.err
}

type printer struct {
	w    io.Writer
	opts Options
	err  error
}

func (p *printer) linef(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) statusLine(v canvas.View) {
	names := make([]string, 0, len(v.Connectivity))
	for name := range v.Connectivity {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names)+3)
	for _, name := range names {
		state := "down"
		if v.Connectivity[name] {
			state = "up"
		}
		parts = append(parts, name+"="+state)
	}
	if v.UI.Zoom != 0 && v.UI.Zoom != canvas.DefaultZoom {
		parts = append(parts, "zoom="+trimFloat(v.UI.Zoom))
	}
	if v.ActiveChain != "" {
		parts = append(parts, "chain="+v.ActiveChain)
	}
	if v.Processing {
		parts = append(parts, "thinking")
	}
	p.linef("-- %s --", strings.Join(parts, " "))
}

func (p *printer) tool(spec toolspec.Spec, indent string) {
	header := fmt.Sprintf("%s[%s] %s", indent, spec.Type, spec.ID)
	if spec.Origin != "" {
		header += " from " + spec.Origin
	}
	if spec.Chained() {
		header += fmt.Sprintf(" (chained from %s by %s)", spec.ChainSource, spec.ChainRule)
	}
	p.linef("%s", header)
	body := indent + "  "
	for _, line := range p.body(spec.Props) {
		for _, wrapped := range wrap(line, p.opts.width()-len(body)) {
			p.linef("%s%s", body, wrapped)
		}
	}
}

func (p *printer) body(props toolspec.Props) []string {
	switch v := props.(type) {
	case toolspec.MapProps:
		return markerLines(v.Topic, v.Markers)
	case toolspec.Globe3DProps:
		return markerLines(v.Topic, v.Markers)
	case toolspec.ChartProps:
		return strings.Split(strings.TrimSpace(v.ChartDef), "\n")
	case toolspec.PollProps:
		lines := []string{v.Question}
		for i, opt := range v.Options {
			lines = append(lines, fmt.Sprintf("%d) %s", i+1, opt))
		}
		return lines
	case toolspec.TimerProps:
		mode := v.Mode
		if mode == "" {
			mode = toolspec.TimerCountdown
		}
		return []string{fmt.Sprintf("%s %s", mode, Clock(v.InitialSeconds))}
	case toolspec.QuoteCardProps:
		return quoteLines(v.Quote, v.Speaker)
	case toolspec.SpotlightProps:
		return quoteLines(v.Quote, v.Speaker)
	case toolspec.ActionItemProps:
		line := "[ ] " + v.Title
		if v.Assignee != "" {
			line += " @" + v.Assignee
		}
		if v.DueDate != "" {
			line += " due " + v.DueDate
		}
		return []string{line}
	case toolspec.AgendaProps:
		lines := []string{v.Title}
		for i, item := range v.Items {
			line := fmt.Sprintf("%d. %s", i+1, item.Title)
			if item.Duration > 0 {
				line += fmt.Sprintf(" (%d min)", item.Duration)
			}
			lines = append(lines, line)
		}
		return lines
	case toolspec.MediaEmbedProps:
		return []string{strings.TrimSpace(v.Title + " " + v.URL)}
	case toolspec.LiveChartProps:
		return barLines(v.Title, v.Data)
	case toolspec.WordCloudProps:
		words := make([]string, 0, len(v.Words))
		for _, word := range v.Words {
			words = append(words, word.Text)
		}
		return []string{strings.Join(words, " · ")}
	case toolspec.ReactionsProps:
		return []string{strings.Join(v.Icons, " ")}
	case toolspec.QRCodeProps:
		lines := []string{strings.TrimSpace(v.Title + " " + v.URL)}
		if p.opts.QR {
			if code, err := QR(v.URL); err == nil {
				lines = append(lines, code...)
			}
		}
		return lines
	case toolspec.ScoreboardProps:
		lines := []string{v.Title}
		for _, e := range v.Entries {
			lines = append(lines, fmt.Sprintf("%-20s %s", e.Name, trimFloat(e.Score)))
		}
		return lines
	case toolspec.TeleprompterProps:
		return []string{v.Text}
	case toolspec.DataCubeProps:
		lines := make([]string, 0, len(v.Data))
		for _, d := range v.Data {
			lines = append(lines, d.Label+": "+trimFloat(d.Value))
		}
		return lines
	case toolspec.ParticleFieldProps:
		return []string{fmt.Sprintf("%d particles %s", v.Count, v.Color)}
	}
	return nil
}

func markerLines(topic string, markers []toolspec.Marker) []string {
	lines := make([]string, 0, len(markers)+1)
	if topic != "" {
		lines = append(lines, topic)
	}
	for _, m := range markers {
		lines = append(lines, fmt.Sprintf("• %s (%.2f, %.2f)", m.Label, m.Lat, m.Lng))
	}
	return lines
}

func quoteLines(quote, speaker string) []string {
	lines := []string{"“" + quote + "”"}
	if speaker != "" {
		lines = append(lines, "— "+speaker)
	}
	return lines
}

const maxBar = 30

func barLines(title string, data []toolspec.DataPoint) []string {
	var lines []string
	if title != "" {
		lines = append(lines, title)
	}
	peak := 0.0
	for _, d := range data {
		if d.Value > peak {
			peak = d.Value
		}
	}
	for _, d := range data {
		n := 0
		if peak > 0 && d.Value > 0 {
			n = int(d.Value / peak * maxBar)
		}
		lines = append(lines, fmt.Sprintf("%-12s %s %s", d.Name, strings.Repeat("█", n), trimFloat(d.Value)))
	}
	return lines
}

// wrap breaks s on spaces so no line exceeds width runes. Words longer
// than width are left whole.
func wrap(s string, width int) []string {
	if width <= 0 || len([]rune(s)) <= width {
		return []string{s}
	}
	var lines []string
	var cur strings.Builder
	curLen := 0
	for _, word := range strings.Fields(s) {
		n := len([]rune(word))
		if curLen > 0 && curLen+1+n > width {
			lines = append(lines, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(word)
		curLen += n
	}
	if curLen > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}
