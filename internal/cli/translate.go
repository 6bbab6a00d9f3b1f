package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Pivot/client"
	"Pivot/internal/pipeline"
	"Pivot/internal/prompt"
	"Pivot/internal/translate"
	"Pivot/server"
)

type translateOptions struct {
	direction string
	rag       bool
	stats     bool
	remote    string
}

func newTranslateCommand(root *rootOptions) *cobra.Command {
	o := &translateOptions{}
	cmd := &cobra.Command{
		Use:   "translate [flags] TEXT",
		Short: "Translate text in one direction",
		Example: `  pivot translate "今日はいい天気ですね"
  pivot translate --direction b_to_a --rag "Cloud joins AVALANCHE."`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, root, strings.Join(args, " "))
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.direction, "direction", "d", "a_to_b", "a_to_b (source to pivot) or b_to_a (pivot to source)")
	f.BoolVar(&o.rag, "rag", false, "use corpus glossary passages (overrides translation.use_rag)")
	f.BoolVar(&o.stats, "stats", false, "print token and timing statistics")
	f.StringVar(&o.remote, "remote", "", "translate on a pivot server at this URL")
	return cmd
}

func (o *translateOptions) run(cmd *cobra.Command, root *rootOptions, text string) error {
	dir, err := prompt.ParseDirection(o.direction)
	if err != nil {
		return err
	}
	cfg, logger, closer, err := root.setup(false)
	if err != nil {
		return err
	}
	defer closer()

	var useRAG *bool
	if cmd.Flags().Changed("rag") {
		useRAG = &o.rag
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	out := cmd.OutOrStdout()

	var res translate.Result
	if o.remote != "" {
		res, err = client.New(o.remote).Translate(ctx, server.TranslateRequest{Text: text, Direction: dir.String(), RAG: useRAG})
		if err != nil {
			return err
		}
		fmt.Fprint(out, res.Text)
	} else {
		p, err := pipeline.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := p.Close(); err != nil {
				logger.Warn("failed to close pipeline", zap.Error(err))
			}
		}()
		res = p.Translate(ctx, text, dir, useRAG, func(frag string) { fmt.Fprint(out, frag) })
	}
	fmt.Fprintln(out)

	if res.Degraded {
		fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("! translation faulted; output is partial: "+res.Error))
	}
	if o.stats {
		fmt.Fprintln(out, statsStyle.Render(formatStats(res.Kind.String(), res.Stats)))
	}
	return nil
}
