package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Pivot/client"
	"Pivot/internal/generation"
	"Pivot/internal/pipeline"
	"Pivot/internal/translate"
	"Pivot/server"
)

type runOptions struct {
	system      string
	user        string
	raw         bool
	stats       bool
	pace        time.Duration
	remote      string
	noTranslate bool
	rag         bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one turn from the configured prompts",
		Long: `Run one turn: translate prompts.system and prompts.user into the pivot language,
answer them, and translate the answer back. Stage output is streamed as it is
generated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, root)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.system, "system", "", "system prompt (overrides prompts.system)")
	f.StringVar(&o.user, "user", "", "user prompt (overrides prompts.user)")
	f.BoolVar(&o.raw, "raw", false, "print the final answer without markdown rendering")
	f.BoolVar(&o.stats, "stats", false, "print token and timing statistics per stage")
	f.DurationVar(&o.pace, "pace", 0, "delay before every generation step (overrides generation.step_delay)")
	f.StringVar(&o.remote, "remote", "", "run the turn on a pivot server at this URL")
	f.BoolVar(&o.noTranslate, "no-translate", false, "answer directly without pivot translation")
	f.BoolVar(&o.rag, "rag", false, "use corpus glossary passages (overrides translation.use_rag)")
	return cmd
}

func (o *runOptions) run(cmd *cobra.Command, root *rootOptions) error {
	cfg, logger, closer, err := root.setup(false)
	if err != nil {
		return err
	}
	defer closer()

	if o.system != "" {
		cfg.Prompts.System = o.system
	}
	if o.user != "" {
		cfg.Prompts.User = o.user
	}
	if err := cfg.Require("prompts.system", "prompts.user"); err != nil {
		return err
	}

	in := pipeline.TurnInput{System: cfg.Prompts.System, User: cfg.Prompts.User}
	translating := cfg.Translation.Enabled
	if cmd.Flags().Changed("no-translate") {
		translating = !o.noTranslate
		in.Translate = &translating
	}
	if cmd.Flags().Changed("rag") {
		in.UseRAG = &o.rag
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	printer := newTurnPrinter(cmd.OutOrStdout(), o.raw, o.stats, translating)
	if o.remote != "" {
		return o.runRemote(ctx, in, printer)
	}

	var popts []pipeline.Option
	if cmd.Flags().Changed("pace") {
		popts = append(popts, pipeline.WithThrottle(generation.Fixed(o.pace)))
	}
	p, err := pipeline.New(ctx, cfg, logger, popts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn("failed to close pipeline", zap.Error(err))
		}
	}()

	res, err := p.Turn(ctx, in, pipeline.ObserverFuncs{
		OnStart:    printer.start,
		OnFragment: printer.fragment,
		OnFinish: func(stage string, r translate.Result) {
			st := r.Stats
			printer.finish(stage, r.Kind.String(), r.Degraded, &st, r.Error)
		},
	})
	if err != nil {
		return err
	}
	printer.done(res)
	return nil
}

func (o *runOptions) runRemote(ctx context.Context, in pipeline.TurnInput, printer *turnPrinter) error {
	req := server.TurnRequest{System: in.System, User: in.User, Translate: in.Translate, RAG: in.UseRAG}
	res, err := client.New(o.remote).Turn(ctx, req, func(ev server.TurnEvent) {
		switch {
		case ev.Stage == "":
		case ev.Done:
			printer.finish(ev.Stage, ev.Kind, ev.Degraded, ev.Stats, ev.Error)
		case ev.Token != "":
			printer.fragment(ev.Stage, ev.Token)
		}
	})
	if err != nil {
		return err
	}
	printer.done(res)
	return nil
}
