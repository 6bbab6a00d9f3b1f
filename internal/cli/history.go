package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Pivot/client"
	"Pivot/internal/transcript"
)

type historyOptions struct {
	limit  int
	stages bool
	remote string
}

func newHistoryCommand(root *rootOptions) *cobra.Command {
	o := &historyOptions{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded turns from the transcript, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, root)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&o.limit, "limit", "n", 10, "number of turns to list")
	f.BoolVar(&o.stages, "stages", false, "print every stage's input and output")
	f.StringVar(&o.remote, "remote", "", "read the transcript of a pivot server at this URL")
	return cmd
}

func (o *historyOptions) run(cmd *cobra.Command, root *rootOptions) error {
	if o.limit <= 0 {
		return errors.New("--limit must be greater than zero")
	}
	cfg, logger, closer, err := root.setup(false)
	if err != nil {
		return err
	}
	defer closer()

	var turns []transcript.TurnRecord
	if o.remote != "" {
		turns, err = client.New(o.remote).History(cmd.Context(), o.limit)
	} else {
		path := cfg.Transcript.Path
		if _, statErr := os.Stat(path); statErr != nil {
			return fmt.Errorf("no transcript at %q (set transcript.enabled to record turns)", path)
		}
		var store *transcript.Store
		store, err = transcript.Open(path)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close transcript", zap.Error(err))
			}
		}()
		turns, err = store.Recent(cmd.Context(), o.limit)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(turns) == 0 {
		fmt.Fprintln(out, statsStyle.Render("no turns recorded"))
		return nil
	}
	for _, t := range turns {
		printTurnRecord(out, t, o.stages)
	}
	return nil
}

func printTurnRecord(out io.Writer, t transcript.TurnRecord, stages bool) {
	header := fmt.Sprintf("%s  %s", t.CreatedAt.Format("2006-01-02 15:04:05"), t.ID)
	fmt.Fprintln(out, titleStyle.Render(header))
	if t.Degraded {
		fmt.Fprintln(out, warnStyle.Render("degraded"))
	}
	if stages {
		for _, st := range t.Stages {
			fmt.Fprintln(out, stageStyle.Render(stageTitle(st.Stage)),
				statsStyle.Render(fmt.Sprintf("%s | %d+%d tokens | %s", st.Kind, st.PromptTokens, st.GeneratedTokens, st.Elapsed)))
			fmt.Fprintln(out, "  in: ", st.Input)
			fmt.Fprintln(out, "  out:", st.Output)
		}
	}
	if t.Glossary != "" {
		fmt.Fprintln(out, statsStyle.Render("glossary: "+t.Glossary))
	}
	fmt.Fprintln(out, t.Final)
	fmt.Fprintln(out)
}
