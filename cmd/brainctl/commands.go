package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"docbrain/internal/app"
	"docbrain/internal/bootstrap"
	"docbrain/internal/vectorindex"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the chunk tables, vector column and search index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, true, func(_ context.Context, a *bootstrap.App) error {
				fmt.Fprintf(cmd.OutOrStdout(), "schema migrated (driver=%s, dimensions=%d)\n",
					a.DB.Dialector.Name(), a.Config.Embedding.Dimensions)
				return nil
			})
		},
	}
}

func newIndexCmd(opts *rootOptions) *cobra.Command {
	var maxTokens, overlapTokens int
	cmd := &cobra.Command{
		Use:   "index <document-id> <file>",
		Short: "Extract a file and replace the document's chunks with it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			documentID, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			content, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read file failed: %w", err)
			}

			return withApp(cmd, opts, false, func(ctx context.Context, a *bootstrap.App) error {
				text, err := a.Extractor.Extract(filepath.Base(args[1]), content)
				if err != nil {
					return fmt.Errorf("extract text failed: %w", err)
				}
				input := app.IngestInput{
					DocumentID: documentID,
					Text:       text,
					MaxTokens:  maxTokens,
				}
				if cmd.Flags().Changed("overlap-tokens") {
					input.OverlapTokens = app.Tokens(overlapTokens)
				}
				result, err := a.Brain.IngestDocument(ctx, input)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed document %d: %d chunks (%d replaced, ~%d tokens), job %s\n",
					result.DocumentID, result.ChunkCount, result.DeletedCount, result.TokenCount, result.JobID)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "token budget per chunk (0 uses the configured value)")
	cmd.Flags().IntVar(&overlapTokens, "overlap-tokens", 0, "overlap budget, 0 disables overlap (default: configured value)")
	return cmd
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		topK        int
		minScore    float64
		documentIDs []uint
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Embed a query and print the most similar chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withApp(cmd, opts, false, func(ctx context.Context, a *bootstrap.App) error {
				searchOpts := vectorindex.SearchOptions{
					TopK:        a.Config.Search.TopK,
					MinScore:    vectorindex.Score(a.Config.Search.MinScore),
					DocumentIDs: documentIDs,
				}
				if cmd.Flags().Changed("top-k") {
					searchOpts.TopK = topK
				}
				if cmd.Flags().Changed("min-score") {
					searchOpts.MinScore = vectorindex.Score(minScore)
				}

				results, err := a.Brain.SearchText(ctx, query, searchOpts)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, results)
				}
				printResults(cmd, results)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", vectorindex.DefaultTopK, "maximum number of results")
	cmd.Flags().Float64Var(&minScore, "min-score", vectorindex.DefaultMinScore, "minimum cosine similarity")
	cmd.Flags().UintSliceVar(&documentIDs, "document-ids", nil, "restrict the search to these documents")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	return cmd
}

func printResults(cmd *cobra.Command, results []vectorindex.SearchResult) {
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return
	}
	for i, r := range results {
		fmt.Fprintf(out, "[%d] document %d, chunk %d (score %.4f)\n", i+1, r.DocumentID, r.ChunkIndex, r.Score)
		fmt.Fprintf(out, "    %s\n", snippet(r.Content, 160))
	}
}

func snippet(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Remove every chunk of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			documentID, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, false, func(ctx context.Context, a *bootstrap.App) error {
				deleted, err := a.Brain.DeleteDocumentChunks(ctx, documentID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d chunks of document %d\n", deleted, documentID)
				return nil
			})
		},
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, false, func(ctx context.Context, a *bootstrap.App) error {
				stats, err := a.Brain.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, stats)
			})
		},
	}
}

func parseDocumentID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid document id %q", s)
	}
	return uint(id), nil
}
