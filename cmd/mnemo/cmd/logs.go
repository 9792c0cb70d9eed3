package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemosyne-notes/mnemo/internal/logging"
)

func newLogsCmd() *cobra.Command {
	var (
		pathOnly bool
		lines    int
		file     string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent server log lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := logging.FindLogFile(file)
			if err != nil {
				return err
			}

			if pathOnly {
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read log file: %w", err)
			}

			all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
			if lines > 0 && len(all) > lines {
				all = all[len(all)-lines:]
			}
			for _, line := range all {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&pathOnly, "path", false, "Print only the log file path")
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "Number of trailing lines to show (0 for all)")
	cmd.Flags().StringVar(&file, "file", "", "Read a specific log file instead of the default")
	return cmd
}
