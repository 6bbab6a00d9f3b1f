package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Pivot/internal/inferbench"
	"Pivot/internal/pipeline"
)

func newBenchCommand(root *rootOptions) *cobra.Command {
	bcfg := inferbench.DefaultConfig()
	var rag bool
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure translation session latency and throughput on the configured engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closer, err := root.setup(false)
			if err != nil {
				return err
			}
			defer closer()
			if cmd.Flags().Changed("rag") {
				bcfg.UseRAG = &rag
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			p, err := pipeline.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := p.Close(); err != nil {
					logger.Warn("failed to close pipeline", zap.Error(err))
				}
			}()

			_, err = inferbench.NewRunner(p, p.Stats().Backend, bcfg, cmd.OutOrStdout()).Run(ctx)
			return err
		},
	}
	f := cmd.Flags()
	f.IntVarP(&bcfg.Iterations, "iterations", "n", bcfg.Iterations, "recorded iterations per prompt")
	f.IntVar(&bcfg.WarmupIterations, "warmup", bcfg.WarmupIterations, "unrecorded warmup iterations per prompt")
	f.StringVarP(&bcfg.OutputPath, "out", "o", "", "write the JSON report to this file")
	f.BoolVarP(&bcfg.Verbose, "verbose", "v", false, "print every iteration")
	f.BoolVar(&rag, "rag", false, "force glossary augmentation on or off")
	return cmd
}
