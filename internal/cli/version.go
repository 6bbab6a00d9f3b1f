package cli

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"Pivot/internal/engine"
	"Pivot/internal/engine/llama"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and the compiled-in backends",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			backends := engine.DefaultRegistry.Names()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pivot %s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(out, "backends: %s\n", strings.Join(backends, ", "))
			fmt.Fprintf(out, "llama.cpp in-process: %v\n", llama.Built)
		},
	}
}
