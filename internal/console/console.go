// Package console renders the live operator transcript on stderr.
package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hochfrequenz/adw-orchestrator/internal/command"
	"github.com/hochfrequenz/adw-orchestrator/internal/domain"
	"github.com/hochfrequenz/adw-orchestrator/internal/stream"
)

type styles struct {
	phase     lipgloss.Style
	assistant lipgloss.Style
	tool      lipgloss.Style
	toolOK    lipgloss.Style
	toolErr   lipgloss.Style
	result    lipgloss.Style
	errored   lipgloss.Style
	raw       lipgloss.Style
	success   lipgloss.Style
	failure   lipgloss.Style
	dimmed    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		phase:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		assistant: r.NewStyle().Foreground(lipgloss.Color("255")),
		tool:      r.NewStyle().Foreground(lipgloss.Color("39")),
		toolOK:    r.NewStyle().Foreground(lipgloss.Color("42")),
		toolErr:   r.NewStyle().Foreground(lipgloss.Color("214")),
		result:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		errored:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		raw:       r.NewStyle().Foreground(lipgloss.Color("250")),
		success:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		failure:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		dimmed:    r.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// Console writes the human transcript. All output goes through one locked
// writer and every call emits whole lines with a single Write.
type Console struct {
	out    io.Writer
	styled bool
	st     styles
}

// New creates a console on w. Styling is applied only when styled is true.
func New(w io.Writer, styled bool) *Console {
	lw, ok := w.(*LockedWriter)
	if !ok {
		lw = NewLockedWriter(w)
	}
	return &Console{
		out:    lw,
		styled: styled,
		st:     newStyles(lipgloss.NewRenderer(w)),
	}
}

// Writer returns the serialized writer, for sharing with the logger
func (c *Console) Writer() io.Writer {
	return c.out
}

func (c *Console) paint(s lipgloss.Style, text string) string {
	if !c.styled {
		return text
	}
	return s.Render(text)
}

func (c *Console) println(text string) {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	_, _ = io.WriteString(c.out, text)
}

// PhaseStart announces a phase and the argv it runs
func (c *Console) PhaseStart(phase domain.PhaseName, attempt int, argv []string) {
	title := "== " + phase.Title()
	if attempt > 1 {
		title += fmt.Sprintf(" (attempt %d)", attempt)
	}
	title += " =="
	c.println(c.paint(c.st.phase, title) + "\n" + c.paint(c.st.dimmed, "$ "+command.Quote(argv)))
}

// Event renders one decoded event, truncating large payloads
func (c *Console) Event(ev stream.Event) {
	c.println(c.render(ev))
}

func (c *Console) render(ev stream.Event) string {
	limit := stream.RenderLimit
	switch ev.Kind {
	case stream.KindAssistant:
		return c.paint(c.st.assistant, stream.Truncate(ev.Message, limit))
	case stream.KindToolUse:
		line := "→ " + ev.Name
		if ev.Summary != "" {
			line += " " + ev.Summary
		}
		return c.paint(c.st.tool, line)
	case stream.KindToolResult:
		if ev.OK {
			return c.paint(c.st.toolOK, "← ok "+ev.Summary)
		}
		return c.paint(c.st.toolErr, "← error "+ev.Summary)
	case stream.KindResult:
		return c.paint(c.st.result, "✓ result: ") + stream.Truncate(ev.Message, limit)
	case stream.KindError:
		return c.paint(c.st.errored, "✗ error: ") + stream.Truncate(ev.Message, limit)
	default:
		return c.paint(c.st.raw, stream.Truncate(ev.Message, limit))
	}
}

// Success prints the final banner of a run that completed
func (c *Console) Success(msg string) {
	c.println(c.paint(c.st.success, msg))
}

// Failure prints a failure banner followed by optional detail lines
func (c *Console) Failure(msg string, details ...string) {
	var b strings.Builder
	b.WriteString(c.paint(c.st.failure, msg))
	for _, d := range details {
		b.WriteString("\n  ")
		b.WriteString(d)
	}
	c.println(b.String())
}

// Tail prints the last lines of a captured transcript under a heading
func (c *Console) Tail(heading string, lines []string) {
	if len(lines) == 0 {
		c.println(c.paint(c.st.dimmed, heading+" (empty)"))
		return
	}
	var b strings.Builder
	b.WriteString(c.paint(c.st.dimmed, heading))
	for _, l := range lines {
		b.WriteString("\n  | ")
		b.WriteString(stream.Truncate(l, stream.RenderLimit))
	}
	c.println(b.String())
}

// Info prints a plain line
func (c *Console) Info(msg string) {
	c.println(msg)
}

// TailLines returns the last n non-empty lines of text
func TailLines(text string, n int) []string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
