// Package main is the entry point for the docsearch CLI.
package main

import (
	"os"

	"github.com/forsc/docsearch/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
