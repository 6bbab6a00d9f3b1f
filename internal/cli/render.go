package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"Pivot/internal/generation"
	"Pivot/internal/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00D9FF")).
			Background(lipgloss.Color("#1a1a2e")).
			Padding(0, 2)

	stageStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#4ECDC4"))

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666680")).
			Italic(true).
			PaddingLeft(2)

	warnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFE66D"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))

	scoreStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))
)

var stageTitles = map[string]string{
	pipeline.StageSystem:  "system → pivot",
	pipeline.StageUser:    "user → pivot",
	pipeline.StagePrimary: "answer",
	pipeline.StageAnswer:  "answer → source",
}

func stageTitle(stage string) string {
	if t, ok := stageTitles[stage]; ok {
		return t
	}
	return stage
}

// turnPrinter writes the progress of one turn. The stage that produces the
// final answer is buffered and rendered as markdown unless raw is set.
type turnPrinter struct {
	out        io.Writer
	raw        bool
	stats      bool
	finalStage string

	current string
	started time.Time
	buf     strings.Builder
}

func newTurnPrinter(out io.Writer, raw, stats, translating bool) *turnPrinter {
	final := pipeline.StagePrimary
	if translating {
		final = pipeline.StageAnswer
	}
	return &turnPrinter{out: out, raw: raw, stats: stats, finalStage: final, started: time.Now()}
}

func (p *turnPrinter) start(stage string) {
	p.current = stage
	fmt.Fprintln(p.out, stageStyle.Render("▍"+stageTitle(stage)))
}

func (p *turnPrinter) fragment(stage, text string) {
	if stage != p.current {
		p.start(stage)
	}
	if stage == p.finalStage && !p.raw {
		p.buf.WriteString(text)
		return
	}
	fmt.Fprint(p.out, text)
}

func (p *turnPrinter) finish(stage, kind string, degraded bool, st *generation.Stats, errText string) {
	if stage != p.current {
		p.start(stage)
	}
	if stage == p.finalStage && !p.raw {
		fmt.Fprint(p.out, renderMarkdown(p.buf.String(), 80))
		p.buf.Reset()
	} else {
		fmt.Fprintln(p.out)
	}
	if degraded {
		msg := "stage faulted; output is partial"
		if errText != "" {
			msg += ": " + errText
		}
		fmt.Fprintln(p.out, warnStyle.Render("! "+msg))
	}
	if p.stats && st != nil {
		fmt.Fprintln(p.out, statsStyle.Render(formatStats(kind, *st)))
	}
	fmt.Fprintln(p.out)
	p.current = ""
}

func (p *turnPrinter) done(res pipeline.TurnResult) {
	if !p.stats {
		return
	}
	fmt.Fprintln(p.out, statsStyle.Render(fmt.Sprintf("turn %s: %d stages in %s, degraded=%v",
		res.ID, len(res.Stages), res.Elapsed.Truncate(time.Millisecond), res.Degraded)))
}

func formatStats(kind string, st generation.Stats) string {
	line := fmt.Sprintf("%s | prompt=%d gen=%d seq=%d | %s | %.1f tok/s",
		kind, st.PromptTokens, st.GeneratedTokens, st.SequenceLength,
		st.Elapsed.Truncate(time.Millisecond), st.TokensPerSecond())
	if st.StopMarker != "" {
		line += " | stop=" + st.StopMarker
	}
	return line
}

// renderMarkdown falls back to the plain text when glamour cannot render it.
func renderMarkdown(text string, width int) string {
	if strings.TrimSpace(text) == "" {
		return "\n"
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		return text + "\n"
	}
	out, err := r.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}
