// Package main provides the entry point for the mnemo CLI.
package main

import (
	"os"

	"github.com/mnemosyne-notes/mnemo/cmd/mnemo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
