package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Pivot/internal/pipeline"
	"Pivot/server"
)

type serveOptions struct {
	host   string
	port   int
	corpus bool
}

func newServeCommand(root *rootOptions) *cobra.Command {
	o := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve turns, translations and corpus search over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, root)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.host, "host", "", "listen host (overrides server.host)")
	f.IntVar(&o.port, "port", 0, "listen port (overrides server.port)")
	f.BoolVar(&o.corpus, "corpus", false, "index rag.corpus_path even when translation.use_rag is off")
	return cmd
}

func (o *serveOptions) run(cmd *cobra.Command, root *rootOptions) error {
	cfg, logger, closer, err := root.setup(false)
	if err != nil {
		return err
	}
	defer closer()

	if o.host != "" {
		cfg.Server.Host = o.host
	}
	if o.port > 0 {
		cfg.Server.Port = o.port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var popts []pipeline.Option
	if o.corpus {
		popts = append(popts, pipeline.WithCorpus())
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

	srv, err := server.NewHTTPServer(p, cfg, logger)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}
