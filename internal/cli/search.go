package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Pivot/client"
	"Pivot/internal/pipeline"
	"Pivot/internal/vectordb"
	"Pivot/server"
)

type searchOptions struct {
	pageCount int
	threshold float64
	remote    string
}

func newSearchCommand(root *rootOptions) *cobra.Command {
	o := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search [flags] QUERY",
		Short: "Index the corpus and print the passages ranked for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, root, strings.Join(args, " "))
		},
	}
	f := cmd.Flags()
	f.IntVarP(&o.pageCount, "page-count", "k", 0, "passages to return (default rag.page_count)")
	f.Float64Var(&o.threshold, "threshold", 0, "minimum similarity (default rag.threshold)")
	f.StringVar(&o.remote, "remote", "", "search the index of a pivot server at this URL")
	return cmd
}

func (o *searchOptions) run(cmd *cobra.Command, root *rootOptions, query string) error {
	cfg, logger, closer, err := root.setup(false)
	if err != nil {
		return err
	}
	defer closer()

	pageCount := cfg.RAG.PageCount
	if cmd.Flags().Changed("page-count") {
		pageCount = o.pageCount
	}
	threshold := cfg.RAG.Threshold
	if cmd.Flags().Changed("threshold") {
		threshold = o.threshold
	}

	var results []vectordb.Result
	if o.remote != "" {
		results, err = client.New(o.remote).Search(cmd.Context(), server.SearchRequest{
			Query: query, PageCount: &pageCount, Threshold: &threshold,
		})
	} else {
		var corpus *pipeline.Corpus
		corpus, err = pipeline.LoadCorpus(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := corpus.Close(); err != nil {
				logger.Warn("failed to close corpus", zap.Error(err))
			}
		}()
		logger.Info("corpus indexed",
			zap.Int("documents", corpus.Stats.Documents),
			zap.Int("chunks", corpus.Stats.Chunks))
		results, err = corpus.Index.Search(cmd.Context(), query, pageCount, threshold)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, statsStyle.Render("no passages above the threshold"))
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%s %s %s\n", stageStyle.Render(fmt.Sprintf("[%d]", i+1)),
			scoreStyle.Render(fmt.Sprintf("%.3f", r.Score)), r.ChunkID)
		fmt.Fprintln(out, r.Text)
		fmt.Fprintln(out)
	}
	return nil
}
