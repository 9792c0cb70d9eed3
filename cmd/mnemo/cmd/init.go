package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mnemosyne-notes/mnemo/configs"
	"github.com/mnemosyne-notes/mnemo/internal/config"
	"github.com/mnemosyne-notes/mnemo/internal/lifecycle"
	"github.com/mnemosyne-notes/mnemo/internal/output"
)

func newInitCmd() *cobra.Command {
	var (
		force    bool
		skipPull bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a starter config and prepare the model backend",
		Long: `Init writes a commented mnemo.yaml into the config directory and
verifies that the Ollama backend has the embedding and generation models,
pulling any that are missing.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, force, skipPull)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing mnemo.yaml")
	cmd.Flags().BoolVar(&skipPull, "skip-pull", false, "Do not pull missing models")
	return cmd
}

func runInit(cmd *cobra.Command, force, skipPull bool) error {
	out := output.New(cmd.OutOrStdout())

	existing := config.LocalConfigPath(configDir)
	switch {
	case existing != "" && !force:
		out.Statusf("📝", "Config already exists at %s (use --force to overwrite)", existing)
	default:
		path := existing
		if path == "" {
			path = filepath.Join(configDir, "mnemo.yaml")
		}
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		out.Success("Wrote " + path)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Both backends usually share one endpoint. Group required models per
	// endpoint so shared hosts are checked once.
	required := map[string][]string{}
	required[cfg.Embeddings.Endpoint] = append(required[cfg.Embeddings.Endpoint], cfg.Embeddings.Model)
	required[cfg.Generation.Endpoint] = append(required[cfg.Generation.Endpoint], cfg.Generation.Model)

	for endpoint, models := range required {
		mgr := lifecycle.NewManager(endpoint)
		out.Statusf("🔌", "Checking backend at %s", mgr.Host())

		err := mgr.EnsureReady(cmd.Context(), models, lifecycle.EnsureOpts{
			AutoPull: !skipPull,
			Stdout:   cmd.OutOrStdout(),
			ProgressFunc: func(p lifecycle.PullProgress) {
				out.Download(p.Status, p.Completed, p.Total)
			},
		})
		if err != nil {
			out.Warning(err.Error())
			out.Status("", "Retrieval will run in keyword-only mode until the backend is ready.")
			continue
		}
		out.Success("Backend ready")
	}

	out.Newline()
	out.Status("", "Run `mnemo serve` to start the API.")
	return nil
}
