package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forsc/docsearch/internal/searcher/executor"
	apperrors "github.com/forsc/docsearch/pkg/errors"
)

var (
	searchLimit int
	searchField string
	searchJSON  bool
	searchIndex string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index",
	Long: `Search the index for documents containing any of the query words,
ranked by how often they occur.

Examples:
  docsearch search "cat dog"
  docsearch search -n 3 --field title report
  docsearch search --json invoice`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of results")
	searchCmd.Flags().StringVar(&searchField, "field", "", "field to search (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	searchCmd.Flags().StringVar(&searchIndex, "index", "", "index directory (default from config)")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if searchIndex != "" {
		cfg.Index.Dir = searchIndex
	}

	exec := executor.New(cfg.Index.Dir, cfg.Index.DefaultField, nil)
	defer exec.Close()
	if _, err := exec.Reload(); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("%w: no committed index in %s", apperrors.ErrIndexNotOpen, cfg.Index.Dir)
		}
		return fmt.Errorf("opening index %s: %w", cfg.Index.Dir, err)
	}

	result, err := exec.Query(cmd.Context(), args[0], searchField, searchLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if searchJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	if len(result.Results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	for _, r := range result.Results {
		fmt.Fprintf(out, "%g  %s\n", r.Score, r.Path)
	}
	return nil
}
