package main

import (
	"github.com/spf13/cobra"

	"rag-sync-go/internal/service"
)

var (
	searchCollection string
	searchLimit      int
	contextLimit     int
	searchThreshold  float32
	contextMaxTokens int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Semantic search over indexed chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var contextCmd = &cobra.Command{
	Use:   "context [query]",
	Short: "Print a prompt-ready context block for a question",
	Args:  cobra.ExactArgs(1),
	RunE:  runContext,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", service.DefaultSearchLimit, "maximum number of results")
	contextCmd.Flags().IntVarP(&contextLimit, "limit", "n", service.DefaultContextLimit, "maximum number of chunks")
	contextCmd.Flags().IntVar(&contextMaxTokens, "max-tokens", service.DefaultContextMaxTokens, "approximate size budget in tokens")
	for _, c := range []*cobra.Command{searchCmd, contextCmd} {
		c.Flags().StringVar(&searchCollection, "collection", "", "collection to search (default from config)")
		c.Flags().Float32Var(&searchThreshold, "threshold", 0, "minimum similarity score in [0,1]")
		rootCmd.AddCommand(c)
	}
}

func threshold(cmd *cobra.Command) *float32 {
	if !cmd.Flags().Changed("threshold") {
		return nil
	}
	t := searchThreshold
	return &t
}

func runSearch(cmd *cobra.Command, args []string) error {
	results, err := app.Search.Search(cmd.Context(), service.SearchRequest{
		Collection:     searchCollection,
		Query:          args[0],
		Limit:          searchLimit,
		ScoreThreshold: threshold(cmd),
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, results)
	}
	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for i, r := range results {
		cmd.Printf("[%d] %s #%d (%.3f)\n", i+1, r.FileName, r.ChunkIndex, r.Score)
		cmd.Printf("    %s\n", snippet(r.Text, 160))
	}
	return nil
}

func runContext(cmd *cobra.Command, args []string) error {
	out, err := app.Search.GetContext(cmd.Context(), service.ContextRequest{
		Collection:     searchCollection,
		Query:          args[0],
		Limit:          contextLimit,
		ScoreThreshold: threshold(cmd),
		MaxTokens:      contextMaxTokens,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, out)
	}
	if out.Text == "" {
		cmd.PrintErrln("No relevant context found.")
		return nil
	}
	cmd.Println(out.Text)
	return nil
}

func snippet(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "…"
}
