package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forsc/docsearch/internal/indexer"
	"github.com/forsc/docsearch/internal/indexer/source"
	"github.com/forsc/docsearch/pkg/resilience"
)

var (
	indexDocsDir   string
	indexDir       string
	indexRecursive bool
	indexTimeout   time.Duration
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the index from the document directory",
	Long: `Rebuild the index from every supported document in the document
directory. Files that cannot be read are skipped and listed. The previous
index stays live until the new one is committed.

Examples:
  docsearch index
  docsearch index --docs ./papers --index ./papers.idx --recursive
  docsearch index --timeout 2m`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&indexDocsDir, "docs", "", "document directory (default from config)")
	indexCmd.Flags().StringVar(&indexDir, "index", "", "index directory (default from config)")
	indexCmd.Flags().BoolVar(&indexRecursive, "recursive", false, "descend into subdirectories")
	indexCmd.Flags().DurationVar(&indexTimeout, "timeout", 0, "abort the rebuild after this long (0 = no limit)")

	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if indexDocsDir != "" {
		cfg.Index.DocsDir = indexDocsDir
	}
	if indexDir != "" {
		cfg.Index.Dir = indexDir
	}
	if cmd.Flags().Changed("recursive") {
		cfg.Index.Recursive = indexRecursive
	}
	timeout := cfg.Index.BuildTimeout
	if cmd.Flags().Changed("timeout") {
		timeout = indexTimeout
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := indexer.NewEngine(indexer.Options{
		IndexDir:    cfg.Index.Dir,
		ReadWorkers: cfg.Index.ReadWorkers,
		LockTimeout: cfg.Index.LockTimeout,
		FailOnEmpty: cfg.Index.FailOnEmpty,
	})
	src := &source.Directory{Root: cfg.Index.DocsDir, Recursive: cfg.Index.Recursive, Readers: source.DefaultReaders()}

	var report *indexer.RebuildReport
	build := func(ctx context.Context) error {
		report, err = engine.BuildIndex(ctx, src)
		return err
	}
	if timeout > 0 {
		err = resilience.WithTimeout(ctx, timeout, "index rebuild", build)
	} else {
		err = build(ctx)
	}
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func printReport(w io.Writer, report *indexer.RebuildReport) {
	fmt.Fprintf(w, "indexed %d documents into %s (generation %d) in %s\n",
		report.Indexed, report.IndexDir, report.Generation, report.Duration.Round(time.Millisecond))
	if n := report.SkippedCount(); n > 0 {
		fmt.Fprintf(w, "skipped %d:\n", n)
		for _, s := range report.Skipped {
			fmt.Fprintf(w, "  %s: %s\n", s.Path, s.Reason)
		}
	}
}
