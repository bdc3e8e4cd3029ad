// Package cmd implements the docsearch command line: building the index,
// querying it, listing stored documents and serving the HTTP API.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forsc/docsearch/pkg/config"
	"github.com/forsc/docsearch/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "docsearch",
	Short: "keyword search over a directory of documents",
	Long: `docsearch builds an inverted index from a directory of documents and
answers keyword queries against it, ranking matches by term frequency.

Examples:
  docsearch index --docs ./upload        # rebuild the index
  docsearch search "cat dog" -n 5        # top five matches
  docsearch serve                        # HTTP API on :8888`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
}

// loadConfig reads the config and installs the logger. Logs go to stderr
// so command output stays parseable.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}
