package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sevigo/pr-warden/internal/app"
	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/logger"
)

// Color definitions
var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	infoColor    = color.New(color.FgWhite)
	dimColor     = color.New(color.FgHiBlack)
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one review pass over all configured repositories",
	Long: `Run one review pass: list open pull requests in every configured
repository, generate a review for each one that changed since the last run,
and post it.

Examples:
  warden run
  warden run --dry-run
  warden run --pr 123`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() { //nolint:gochecknoinits // Cobra command registration
	rootCmd.AddCommand(runCmd)
}

func runRun(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w\n\nTip: set REPOS and either GITHUB_TOKEN or the GitHub App variables", err)
	}
	log := logger.NewLogger(cfg.LoggerConfig, nil)

	appInstance, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer appInstance.Close()

	titleColor.Println("pr-warden - review run")
	dimColor.Printf("   Repos: %s | mode: %s | dry-run: %v\n\n",
		strings.Join(cfg.Repos, ", "), cfg.ReviewMode, cfg.DryRun)

	summary := appInstance.Runner().Run(ctx)
	printSummary(summary)
	return nil
}

func printSummary(summary *core.RunSummary) {
	separator := strings.Repeat("=", 60)

	fmt.Println()
	titleColor.Println(separator)
	titleColor.Printf("RUN SUMMARY  %s\n", summary.RunID)
	titleColor.Println(separator)
	dimColor.Printf("Duration: %s\n\n", summary.EndTime.Sub(summary.StartTime).Round(time.Millisecond))

	successColor.Printf("  Reviewed: %d\n", summary.ReviewedCount)
	warnColor.Printf("  Skipped:  %d\n", summary.SkippedCount)
	errorColor.Printf("  Errors:   %d\n", summary.ErrorCount)

	if len(summary.Results) == 0 {
		fmt.Println()
		infoColor.Println("Nothing to do: no open pull requests matched.")
		return
	}

	fmt.Println()
	for _, r := range summary.Results {
		switch {
		case r.Err != nil:
			errorColor.Printf("  ✗ %s: %v\n", itemLabel(r.Item), r.Err)
		case r.Skipped:
			dimColor.Printf("  - %s: skipped (%s)\n", itemLabel(r.Item), r.SkipReason)
		case r.Posted:
			successColor.Printf("  ✓ %s: reviewed", itemLabel(r.Item))
			if r.InputTokens > 0 {
				dimColor.Printf(" (%d in / %d out tokens)", r.InputTokens, r.OutputTokens)
			}
			fmt.Println()
		}
	}
}

func itemLabel(item *core.ReviewItem) string {
	if item == nil {
		return "(unknown)"
	}
	if item.PRNumber == 0 {
		return item.FullName()
	}
	return fmt.Sprintf("%s#%d", item.FullName(), item.PRNumber)
}
