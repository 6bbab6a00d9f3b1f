package cli

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"Pivot/internal/config"
	"Pivot/internal/pipeline"
	"Pivot/internal/translate"
	"Pivot/server"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pivot.yaml")
	content := "engine:\n  backend: scripted\nlogging:\n  level: error\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	cfgPath := writeConfig(t, "prompts:\n  system: Be brief.\n  user: Tifa runs a bar.\n")

	out, err := execute(t, "run", "--config", cfgPath, "--raw", "--stats")
	require.NoError(t, err)
	for _, stage := range []string{pipeline.StageSystem, pipeline.StageUser, pipeline.StagePrimary, pipeline.StageAnswer} {
		assert.Contains(t, out, stageTitle(stage))
	}
	assert.Contains(t, out, "Tifa runs a bar.")
	assert.Contains(t, out, "tok/s")
	assert.Contains(t, out, "4 stages")
}

func TestRunCommandFlagsOverridePrompts(t *testing.T) {
	cfgPath := writeConfig(t, "")

	out, err := execute(t, "run", "--config", cfgPath, "--raw", "--no-translate", "--system", "S", "--user", "plain answer")
	require.NoError(t, err)
	assert.Contains(t, out, "plain answer")
	assert.NotContains(t, out, stageTitle(pipeline.StageAnswer))
}

func TestRunCommandMissingPrompts(t *testing.T) {
	cfgPath := writeConfig(t, "")

	_, err := execute(t, "run", "--config", cfgPath)
	var missing *config.MissingKeyError
	require.True(t, errors.As(err, &missing))
	assert.ElementsMatch(t, []string{"prompts.system", "prompts.user"}, missing.Keys)
	assert.Contains(t, describe(err), "prompts.system")
}

func TestRunCommandRemote(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Backend = "scripted"
	p, err := pipeline.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()
	srv, err := server.NewHTTPServer(p, cfg, zap.NewNop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	cfgPath := writeConfig(t, "")
	out, err := execute(t, "run", "--config", cfgPath, "--raw", "--remote", ts.URL,
		"--system", "S", "--user", "remote answer")
	require.NoError(t, err)
	assert.Contains(t, out, "remote answer")
	assert.Contains(t, out, stageTitle(pipeline.StageAnswer))
}

func TestTranslateCommand(t *testing.T) {
	cfgPath := writeConfig(t, "")

	out, err := execute(t, "translate", "--config", cfgPath, "--direction", "b_to_a", "Good", "morning.")
	require.NoError(t, err)
	assert.Equal(t, "Good morning.", strings.TrimSpace(out))

	_, err = execute(t, "translate", "--config", cfgPath, "--direction", "sideways", "x")
	require.Error(t, err)

	_, err = execute(t, "translate", "--config", cfgPath)
	require.Error(t, err)
}

func TestSearchCommand(t *testing.T) {
	corpus := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(corpus, "terms.txt"),
		[]byte("Barret Wallace = leader of AVALANCHE\n\nMarlene = Barret's daughter"), 0o644))
	cfgPath := writeConfig(t, "rag:\n  corpus_path: "+corpus+"\n")

	out, err := execute(t, "search", "--config", cfgPath, "Barret", "Wallace", "leader")
	require.NoError(t, err)
	assert.Contains(t, out, "[1]")
	assert.Contains(t, out, "Barret Wallace = leader of AVALANCHE")
	assert.Contains(t, out, "terms.txt#")

	out, err = execute(t, "search", "--config", cfgPath, "--threshold", "0.99", "unrelated words")
	require.NoError(t, err)
	assert.Contains(t, out, "no passages")
}

func TestSearchCommandWithoutCorpus(t *testing.T) {
	cfgPath := writeConfig(t, "")
	_, err := execute(t, "search", "--config", cfgPath, "anything")
	var missing *config.MissingKeyError
	require.True(t, errors.As(err, &missing))
}

func TestBenchCommand(t *testing.T) {
	cfgPath := writeConfig(t, "")
	out, err := execute(t, "bench", "--config", cfgPath, "-n", "1", "--warmup", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "--- Benchmark: short-a_to_b")
	assert.Contains(t, out, "Gen TPS")
}

func TestHistoryCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "turns.db")
	cfgPath := writeConfig(t, "transcript:\n  enabled: true\n  path: "+db+"\n")

	_, err := execute(t, "run", "--config", cfgPath, "--raw", "--system", "S", "--user", "Cid flies the Highwind.")
	require.NoError(t, err)

	out, err := execute(t, "history", "--config", cfgPath, "--stages")
	require.NoError(t, err)
	assert.Contains(t, out, "Cid flies the Highwind.")
	assert.Contains(t, out, stageTitle(pipeline.StagePrimary))
	assert.Contains(t, out, "done")

	_, err = execute(t, "history", "--config", writeConfig(t, "transcript:\n  path: "+filepath.Join(t.TempDir(), "none.db")+"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transcript")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pivot "+Version)
	assert.Contains(t, out, "scripted")
	assert.Contains(t, out, "http")
}

type fakeRunner struct {
	in pipeline.TurnInput
}

func (f *fakeRunner) Turn(_ context.Context, in pipeline.TurnInput, obs pipeline.Observer) (pipeline.TurnResult, error) {
	f.in = in
	obs.StageStarted(pipeline.StagePrimary)
	obs.Fragment(pipeline.StagePrimary, "ok")
	res := translate.Result{Stage: pipeline.StagePrimary, Text: "ok"}
	obs.StageFinished(pipeline.StagePrimary, res)
	return pipeline.TurnResult{ID: "t1", Stages: []translate.Result{res}, Final: "ok"}, nil
}

func TestTUIModelStreamsStages(t *testing.T) {
	runner := &fakeRunner{}
	m := newTUIModel(context.Background(), runner, "scripted", "sys", true, false)

	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m = next.(tuiModel)
	require.True(t, m.ready)

	next, _ = m.Update(stageStartMsg{stage: pipeline.StageUser})
	m = next.(tuiModel)
	next, _ = m.Update(fragmentMsg{stage: pipeline.StageUser, text: "Hel"})
	m = next.(tuiModel)
	next, _ = m.Update(fragmentMsg{stage: pipeline.StageUser, text: "lo"})
	m = next.(tuiModel)

	require.Len(t, m.entries, 1)
	assert.Equal(t, "Hello", m.entries[0].content)

	next, _ = m.Update(stageDoneMsg{stage: pipeline.StageUser, result: translate.Result{Text: "Hello"}})
	m = next.(tuiModel)
	require.NotNil(t, m.entries[0].result)

	next, _ = m.Update(turnDoneMsg{err: errors.New("boom")})
	m = next.(tuiModel)
	assert.False(t, m.loading)
	assert.Equal(t, roleError, m.entries[len(m.entries)-1].role)
}

func TestTUIRunTurnUsesToggles(t *testing.T) {
	runner := &fakeRunner{}
	m := newTUIModel(context.Background(), runner, "scripted", "sys", true, false)

	handled, _ := m.handleLocalCommand("/translate off")
	require.True(t, handled)
	handled, _ = m.handleLocalCommand("/rag on")
	require.True(t, handled)
	assert.False(t, m.translating)
	assert.True(t, m.useRAG)
	assert.Equal(t, pipeline.StagePrimary, m.finalStage())

	msg := m.runTurn("question")()
	done, ok := msg.(turnDoneMsg)
	require.True(t, ok)
	require.NoError(t, done.err)
	assert.Equal(t, "ok", done.result.Final)
	assert.Equal(t, "sys", runner.in.System)
	assert.Equal(t, "question", runner.in.User)
	require.NotNil(t, runner.in.Translate)
	assert.False(t, *runner.in.Translate)
	assert.True(t, *runner.in.UseRAG)
}

func TestTUILocalCommands(t *testing.T) {
	m := newTUIModel(context.Background(), &fakeRunner{}, "scripted", "", false, false)

	handled, _ := m.handleLocalCommand("not a command")
	assert.False(t, handled)

	handled, _ = m.handleLocalCommand("/stats maybe")
	assert.True(t, handled)
	assert.Contains(t, m.entries[len(m.entries)-1].content, "Usage: /stats")

	handled, cmd := m.handleLocalCommand("/exit")
	assert.True(t, handled)
	require.NotNil(t, cmd)

	m.handleLocalCommand("/clear")
	assert.Empty(t, m.entries)
}
