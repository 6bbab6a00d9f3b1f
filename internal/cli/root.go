// Package cli implements the pivot command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Pivot/internal/config"
	"Pivot/internal/engine"
	"Pivot/internal/logging"

	_ "Pivot/internal/engine/llama"
	_ "Pivot/internal/engine/scripted"
	_ "Pivot/internal/llmclient"
)

// Version is set at build time with -ldflags "-X Pivot/internal/cli.Version=...".
var Version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "pivot",
		Short: "Answer through a pivot language with a local small language model",
		Long: `Pivot runs each turn through a small local model three times: the prompts are
translated into the pivot language, answered there, and the answer is translated
back. An optional document corpus supplies glossary passages for the translations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default pivot.yaml or $APP_CONFIG)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(
		newRunCommand(opts),
		newTranslateCommand(opts),
		newSearchCommand(opts),
		newServeCommand(opts),
		newTUICommand(opts),
		newBenchCommand(opts),
		newHistoryCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), describe(err))
		return 1
	}
	return 0
}

// setup resolves the configuration and builds the logger. toFile forces file
// logging for full-screen commands.
func (o *rootOptions) setup(toFile bool) (config.Config, *zap.Logger, func(), error) {
	cfg, err := config.Resolve(o.configPath)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if toFile {
		cfg.Logging.ToFile = true
	}
	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return cfg, nil, nil, err
	}
	return cfg, logger, closer, nil
}

func describe(err error) string {
	var missing *config.MissingKeyError
	var load *engine.LoadError
	switch {
	case errors.As(err, &missing):
		return fmt.Sprintf("%v (set them in the config file or the environment)", err)
	case errors.As(err, &load):
		return fmt.Sprintf("model could not be loaded: %v", err)
	default:
		return err.Error()
	}
}
