package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Pivot/internal/pipeline"
	"Pivot/internal/translate"
)

var (
	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B")).
			PaddingLeft(1)

	systemStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFE66D")).
			PaddingLeft(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666680")).
			Italic(true).
			PaddingLeft(2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3d3d5c"))

	inputBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("#00D9FF"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4a4a6a")).
			PaddingLeft(1)

	streamingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Italic(true)
)

const tuiHelp = `
### Commands
- **/help**: show this help
- **/clear**: clear the transcript
- **/translate on|off**: toggle pivot translation
- **/rag on|off**: toggle corpus glossary passages
- **/stats on|off**: toggle per-stage statistics
- **/exit**: quit

Every prompt is an independent turn. **Ctrl+S** sends, **Esc** quits.
`

type entryRole int

const (
	roleUser entryRole = iota
	roleStage
	roleSystem
	roleError
)

type entry struct {
	role     entryRole
	stage    string
	content  string
	result   *translate.Result
	rendered string
}

type stageStartMsg struct{ stage string }

type fragmentMsg struct {
	stage string
	text  string
}

type stageDoneMsg struct {
	stage  string
	result translate.Result
}

type turnDoneMsg struct {
	result pipeline.TurnResult
	err    error
}

// turnRunner is the part of the pipeline the TUI drives.
type turnRunner interface {
	Turn(ctx context.Context, in pipeline.TurnInput, obs pipeline.Observer) (pipeline.TurnResult, error)
}

// programRef lets turn goroutines reach the program created after the model.
type programRef struct {
	program *tea.Program
}

func (r *programRef) send(msg tea.Msg) {
	if r.program != nil {
		r.program.Send(msg)
	}
}

type tuiModel struct {
	ctx     context.Context
	runner  turnRunner
	ref     *programRef
	backend string
	system  string

	translating bool
	useRAG      bool
	showStats   bool

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	entries  []entry
	ready    bool
	loading  bool
	width    int
	height   int
}

func newTUIModel(ctx context.Context, runner turnRunner, backend, system string, translating, useRAG bool) tuiModel {
	ta := textarea.New()
	ta.Placeholder = "Type a prompt in any language and press Ctrl+S"
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 10000
	ta.SetWidth(80)
	ta.SetHeight(5)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECDC4"))

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)

	return tuiModel{
		ctx:         ctx,
		runner:      runner,
		ref:         &programRef{},
		backend:     backend,
		system:      system,
		translating: translating,
		useRAG:      useRAG,
		textarea:    ta,
		spinner:     s,
		renderer:    renderer,
	}
}

func (m tuiModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		taCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyCtrlS:
			if m.loading {
				return m, nil
			}
			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}
			m.textarea.Reset()
			if handled, cmd := m.handleLocalCommand(input); handled {
				return m, cmd
			}

			m.entries = append(m.entries, entry{role: roleUser, content: input})
			m.loading = true
			m.updateViewport()
			return m, tea.Batch(m.spinner.Tick, m.runTurn(input))
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 2
		inputHeight := 5
		verticalMarginHeight := headerHeight + inputHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, msg.Height-verticalMarginHeight-4)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = msg.Height - verticalMarginHeight - 4
		}
		m.textarea.SetWidth(msg.Width - 6)

		r, _ := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(max(m.viewport.Width-4, 20)),
		)
		m.renderer = r
		for i := range m.entries {
			m.entries[i].rendered = ""
		}
		m.updateViewport()

	case stageStartMsg:
		m.entries = append(m.entries, entry{role: roleStage, stage: msg.stage})
		m.updateViewport()
		return m, nil

	case fragmentMsg:
		if e := m.lastStage(msg.stage); e != nil {
			e.content += msg.text
			m.updateViewport()
		}
		return m, nil

	case stageDoneMsg:
		if e := m.lastStage(msg.stage); e != nil {
			res := msg.result
			e.content = res.Text
			e.result = &res
			if msg.stage == m.finalStage() {
				e.rendered = m.render(res.Text)
			}
			m.updateViewport()
		}
		return m, nil

	case turnDoneMsg:
		m.loading = false
		if msg.err != nil {
			m.entries = append(m.entries, entry{role: roleError, content: msg.err.Error()})
		} else if m.showStats {
			m.entries = append(m.entries, entry{role: roleSystem, content: fmt.Sprintf("turn %s finished in %s (degraded=%v)",
				msg.result.ID, msg.result.Elapsed.Truncate(time.Millisecond), msg.result.Degraded)})
		}
		m.updateViewport()
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var spCmd tea.Cmd
		m.spinner, spCmd = m.spinner.Update(msg)
		m.updateViewport()
		return m, spCmd
	}

	m.textarea, taCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(taCmd, vpCmd)
}

func (m *tuiModel) lastStage(stage string) *entry {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].role == roleStage && m.entries[i].stage == stage {
			return &m.entries[i]
		}
	}
	return nil
}

func (m tuiModel) finalStage() string {
	if m.translating {
		return pipeline.StageAnswer
	}
	return pipeline.StagePrimary
}

func (m *tuiModel) handleLocalCommand(input string) (bool, tea.Cmd) {
	if !strings.HasPrefix(input, "/") {
		return false, nil
	}
	fields := strings.Fields(strings.ToLower(input))
	toggle := func(name string, target *bool) {
		if len(fields) < 2 || (fields[1] != "on" && fields[1] != "off") {
			m.note(fmt.Sprintf("Usage: /%s on|off (currently %s)", name, onOff(*target)))
			return
		}
		*target = fields[1] == "on"
		m.note(fmt.Sprintf("%s: %s", name, onOff(*target)))
	}

	switch fields[0] {
	case "/help":
		m.entries = append(m.entries, entry{role: roleSystem, content: tuiHelp, rendered: m.render(tuiHelp)})
	case "/clear":
		m.entries = nil
	case "/translate":
		toggle("translate", &m.translating)
	case "/rag":
		toggle("rag", &m.useRAG)
	case "/stats":
		toggle("stats", &m.showStats)
	case "/exit", "/quit":
		return true, tea.Quit
	default:
		m.note(fmt.Sprintf("Unknown command %s. Type /help.", fields[0]))
	}
	m.updateViewport()
	return true, nil
}

func (m *tuiModel) note(text string) {
	m.entries = append(m.entries, entry{role: roleSystem, content: text})
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func (m tuiModel) render(text string) string {
	if m.renderer == nil || strings.TrimSpace(text) == "" {
		return ""
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return ""
	}
	return out
}

func (m *tuiModel) updateViewport() {
	if !m.ready {
		return
	}
	var sb strings.Builder
	for _, e := range m.entries {
		switch e.role {
		case roleUser:
			sb.WriteString(userStyle.Render("YOU") + "\n")
			sb.WriteString(e.content + "\n\n")

		case roleStage:
			sb.WriteString(stageStyle.Render(" "+stageTitle(e.stage)) + "\n")
			if e.rendered != "" {
				sb.WriteString(e.rendered)
			} else {
				sb.WriteString(e.content + "\n")
			}
			if e.result != nil && e.result.Degraded {
				sb.WriteString(warnStyle.Render(" ! stage faulted: "+e.result.Error) + "\n")
			}
			if e.result != nil && m.showStats {
				sb.WriteString(statsStyle.Render(formatStats(e.result.Kind.String(), e.result.Stats)) + "\n")
			}
			sb.WriteString("\n")

		case roleError:
			sb.WriteString(errorStyle.Render(" ERROR") + "\n")
			sb.WriteString(e.content + "\n\n")

		default:
			sb.WriteString(systemStyle.Render("SYSTEM") + "\n")
			if e.rendered != "" {
				sb.WriteString(e.rendered)
			} else {
				sb.WriteString(e.content + "\n\n")
			}
		}
	}

	if m.loading {
		sb.WriteString("\n" + m.spinner.View() + streamingStyle.Render(" Generating..."))
	}

	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

func (m tuiModel) runTurn(user string) tea.Cmd {
	in := pipeline.TurnInput{System: m.system, User: user}
	translating, useRAG := m.translating, m.useRAG
	in.Translate = &translating
	in.UseRAG = &useRAG
	ref, runner, ctx := m.ref, m.runner, m.ctx

	return func() tea.Msg {
		obs := pipeline.ObserverFuncs{
			OnStart:    func(stage string) { ref.send(stageStartMsg{stage: stage}) },
			OnFragment: func(stage, text string) { ref.send(fragmentMsg{stage: stage, text: text}) },
			OnFinish: func(stage string, res translate.Result) {
				ref.send(stageDoneMsg{stage: stage, result: res})
			},
		}
		res, err := runner.Turn(ctx, in, obs)
		return turnDoneMsg{result: res, err: err}
	}
}

func (m tuiModel) View() string {
	if !m.ready {
		return "\n  Initializing Pivot..."
	}

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		titleStyle.Render(" Pivot "),
		subtitleStyle.Render(fmt.Sprintf("backend: %s", m.backend)),
	)
	body := borderStyle.Render(m.viewport.View())
	input := inputBorderStyle.Render(m.textarea.View())
	help := helpStyle.Render(fmt.Sprintf("Ctrl+S Send | /help Commands | Translate: %s | RAG: %s | Stats: %s",
		onOff(m.translating), onOff(m.useRAG), onOff(m.showStats)))

	return fmt.Sprintf("%s\n%s\n%s\n%s", header, body, input, help)
}

func newTUICommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Interactive terminal UI; every prompt is an independent turn",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Logging goes to a file so that it cannot corrupt the screen.
			cfg, logger, closer, err := root.setup(true)
			if err != nil {
				return err
			}
			defer closer()

			ctx := cmd.Context()
			p, err := pipeline.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := p.Close(); err != nil {
					logger.Warn("failed to close pipeline", zap.Error(err))
				}
			}()

			m := newTUIModel(ctx, p, p.Stats().Backend, cfg.Prompts.System, cfg.Translation.Enabled, cfg.Translation.UseRAG)
			prog := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
			m.ref.program = prog

			if _, err := prog.Run(); err != nil {
				return fmt.Errorf("terminal UI failed: %w", err)
			}
			return nil
		},
	}
}
