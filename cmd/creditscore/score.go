package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/notenetra/creditscore/internal/domain"
	"github.com/notenetra/creditscore/internal/insights"
	"github.com/notenetra/creditscore/internal/ledger"
	"github.com/notenetra/creditscore/internal/service"
)

type scoreOptions struct {
	file       string
	merchantID string
	asOf       string
	windowDays int
	compact    bool
}

func newScoreCommand(loadConfig func() (*domain.Config, error)) *cobra.Command {
	var opts scoreOptions

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a ledger file offline",
		Long: "Score a ledger exported as JSON or CSV without a server or a database.\n" +
			"Rejected records are reported on stderr and excluded from the score.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("window-days") {
				cfg.Scoring.WindowDays = opts.windowDays
			}
			slog.SetDefault(newLogger(cfg.Logging, cmd.ErrOrStderr()))

			report, err := runScore(cmd, cfg.Scoring, opts)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if !opts.compact {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(report)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "ledger file (.json or .csv)")
	_ = cmd.MarkFlagRequired("file")
	cmd.Flags().StringVar(&opts.merchantID, "merchant", "", "merchant ID reported in the result")
	cmd.Flags().StringVar(&opts.asOf, "as-of", "", "end of the scored window (default: last record)")
	cmd.Flags().IntVar(&opts.windowDays, "window-days", 0, "trailing days scored, 0 for all history")
	cmd.Flags().BoolVar(&opts.compact, "compact", false, "print single-line JSON")

	return cmd
}

func runScore(cmd *cobra.Command, cfg domain.ScoringConfig, opts scoreOptions) (*service.Report, error) {
	raw, err := ledger.ReadFile(opts.file)
	if err != nil {
		return nil, err
	}

	var asOf time.Time
	if opts.asOf != "" {
		asOf, err = ledger.ParseTimestamp(opts.asOf)
		if err != nil {
			return nil, fmt.Errorf("invalid --as-of: %w", err)
		}
	}

	insightEngine, err := insights.NewEngine(0)
	if err != nil {
		return nil, err
	}
	defer insightEngine.Close()

	svc, err := service.New(cfg, service.Options{Insights: insightEngine})
	if err != nil {
		return nil, err
	}
	if _, err := svc.ReloadInsights(cmd.Context(), ""); err != nil {
		return nil, err
	}

	merchantID := opts.merchantID
	if merchantID == "" {
		merchantID = "local"
	}

	report, err := svc.ScoreOffline(cmd.Context(), merchantID, raw, asOf)
	if err != nil {
		return nil, err
	}
	for _, r := range report.Rejected {
		fmt.Fprintf(cmd.ErrOrStderr(), "rejected record #%d: %s\n", r.Index, r.Reason)
	}
	if len(report.Rejected) > 0 {
		slog.Warn("records rejected", "file", opts.file, "count", len(report.Rejected))
	}

	if len(raw) == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s holds no records\n", opts.file)
	}
	return report, nil
}
