package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/server"
	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/workflows"
)

var (
	accent = lipgloss.AdaptiveColor{Light: "#005FAF", Dark: "#5FAFFF"}
	muted  = lipgloss.AdaptiveColor{Light: "#6C6C6C", Dark: "#8A8A8A"}

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(accent)
	questionStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(accent).Padding(0, 1)
	statusStyle   = lipgloss.NewStyle().Foreground(muted)
)

// renderer prints turn results; raw mode writes plain markdown for pipes
type renderer struct {
	out      io.Writer
	raw      bool
	markdown *glamour.TermRenderer
}

func newRenderer(out io.Writer, raw bool) *renderer {
	r := &renderer{out: out, raw: raw}
	if !raw {
		// fall back to plain output when no style can be resolved
		r.markdown, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
	}
	return r
}

func (r *renderer) progress(evt workflows.Event) {
	if r.raw {
		return
	}
	line := string(evt.Type)
	if evt.Message != "" {
		line += "  " + evt.Message
	}
	fmt.Fprintln(os.Stderr, statusStyle.Render(line))
}

func (r *renderer) question(resp *server.Response) {
	if r.raw {
		fmt.Fprintln(r.out, resp.Question)
		return
	}
	fmt.Fprintln(r.out, titleStyle.Render("Clarification needed"))
	fmt.Fprintln(r.out, questionStyle.Render(resp.Question))
}

func (r *renderer) report(resp *server.Response) error {
	if r.raw || r.markdown == nil {
		_, err := fmt.Fprintln(r.out, resp.Report)
		return err
	}
	out, err := r.markdown.Render(resp.Report)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, titleStyle.Render(fmt.Sprintf("Research report (session %s)", resp.SessionID)))
	fmt.Fprint(r.out, out)
	fmt.Fprintln(r.out, statusStyle.Render(fmt.Sprintf("%d supervisor iterations in %.1fs", resp.Iterations, float64(resp.DurationMs)/1000)))
	return nil
}
