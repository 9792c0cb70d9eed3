package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemosyne-notes/mnemo/internal/answer"
	"github.com/mnemosyne-notes/mnemo/internal/config"
	mnerrors "github.com/mnemosyne-notes/mnemo/internal/errors"
	"github.com/mnemosyne-notes/mnemo/internal/output"
	"github.com/mnemosyne-notes/mnemo/internal/prompt"
)

func newAskCmd() *cobra.Command {
	var (
		tenant   string
		format   string
		language string
		verify   bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question from the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), strings.Join(args, " "), tenant, format, language, verify, asJSON)
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "default", "Tenant whose notes are searched")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Response format (concise, detailed, bullet, structured)")
	cmd.Flags().StringVar(&language, "language", "", "Answer language hint, e.g. pt-BR")
	cmd.Flags().BoolVar(&verify, "verify", false, "Run per-citation verification")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full response as JSON")
	return cmd
}

func runAsk(ctx context.Context, question, tenant, format, language string, verify, asJSON bool) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.Default()
	s, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	defer s.Close()

	resp, err := s.pipeline.Ask(ctx, answer.Request{
		TenantID: tenant,
		Question: question,
		Format:   prompt.Format(format),
		Overrides: &answer.Overrides{
			VerifyCitations: verify,
			Language:        language,
		},
	})
	if err != nil {
		fmt.Fprint(os.Stderr, mnerrors.FormatForCLI(err))
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	printAnswer(output.New(os.Stdout), resp)
	return nil
}

func printAnswer(w *output.Writer, resp *answer.Response) {
	fmt.Println(resp.Answer)

	if len(resp.Sources) > 0 {
		w.Newline()
		for _, src := range resp.Sources {
			w.Statusf("📄", "[%d] %s (%s, relevance %.2f)", src.ID, src.NoteID, src.Date, src.Relevance)
		}
	}

	w.Newline()
	w.Statusf("ℹ️", "confidence: %s, %d source(s), %dms",
		resp.Metadata.Confidence, resp.Metadata.SourceCount, resp.Metadata.ElapsedMs)
}
