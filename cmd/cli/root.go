package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	githubToken string
	dryRun      bool
	prNumber    int
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "warden reviews open pull requests with an LLM.",
	Long: `A CLI for running automated pull request reviews: it scans the
configured repositories for open PRs, generates a review per PR, and posts
it, skipping anything already reviewed.`,
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&githubToken, "github-token", "t", "", "GitHub Token")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Generate reviews but do not post them")
	rootCmd.PersistentFlags().IntVar(&prNumber, "pr", 0, "Review only this PR number")

	for flag, env := range map[string]string{
		"github-token": "GITHUB_TOKEN",
		"dry-run":      "DRY_RUN",
		"pr":           "PR_FILTER",
	} {
		if err := viper.BindPFlag(env, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			slog.Error("Error binding flag", "flag", flag, "error", err)
			os.Exit(1)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetEnvPrefix("WRDN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
