package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forsc/docsearch/internal/docstore"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List stored documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := docstore.New(cfg.Index.DocsDir)
		if err != nil {
			return err
		}
		files, err := store.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(files) == 0 {
			fmt.Fprintln(out, "No files stored.")
			return nil
		}
		for _, f := range files {
			fmt.Fprintln(out, f.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(filesCmd)
}
