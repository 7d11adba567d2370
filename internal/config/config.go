// Package config loads run-level configuration from environment variables
// and a .env file, and the review policy from a YAML file. Both are read
// once at startup and treated as immutable afterward.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sevigo/pr-warden/internal/logger"
)

// Review modes.
const (
	ModeSinglePass = "single"
	ModeTwoPass    = "two-pass"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// DBConfig holds the Postgres connection settings for the distributed
// context store.
type DBConfig struct {
	DSN             string
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Config holds the application's run-level configuration.
type Config struct {
	// Review run parameters.
	Repos           []string // "owner/name"
	MaxPRsPerRepo   int
	MaxRuntime      time.Duration
	Model           string
	TokenBudget     int
	MaxOutputTokens int
	DryRun          bool
	SanitizerMode   string
	ReviewMode      string
	ForceFullReview bool
	PRFilter        int // review only this PR number when > 0
	QuotaFloor      int

	// Credentials and auth mode.
	GitHubToken          string
	GitHubAppID          int64
	GitHubInstallationID int64
	GitHubPrivateKeyPath string
	AnthropicAPIKey      string

	// Infrastructure.
	StoreDriver string
	Database    *DBConfig
	CachePath   string
	PolicyPath  string
	ServerPort  string

	LoggerConfig logger.Config
}

// LoadConfig reads configuration from environment variables and a .env
// file, applies defaults, and validates required fields.
func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("MAX_PRS_PER_REPO", 10)
	viper.SetDefault("MAX_RUNTIME_MINUTES", 30)
	viper.SetDefault("MODEL", "claude-sonnet-4-5")
	viper.SetDefault("TOKEN_BUDGET", 150000)
	viper.SetDefault("MAX_OUTPUT_TOKENS", 8192)
	viper.SetDefault("SANITIZER_MODE", "strict")
	viper.SetDefault("REVIEW_MODE", ModeTwoPass)
	viper.SetDefault("QUOTA_FLOOR", 100)
	viper.SetDefault("STORE_DRIVER", StoreMemory)
	viper.SetDefault("CACHE_PATH", ".pr-warden/cache.db")
	viper.SetDefault("POLICY_PATH", ".pr-warden.yml")
	viper.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	viper.SetDefault("DB_CONN_MAX_IDLE_TIME", "5m")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// A present-but-broken .env should not be silently ignored;
			// a missing one is fine.
			if !strings.Contains(err.Error(), "no such file") {
				return nil, fmt.Errorf("failed to read .env: %w", err)
			}
		}
	}

	cfg := &Config{
		Repos:           splitRepos(viper.GetString("REPOS")),
		MaxPRsPerRepo:   viper.GetInt("MAX_PRS_PER_REPO"),
		MaxRuntime:      time.Duration(viper.GetInt("MAX_RUNTIME_MINUTES")) * time.Minute,
		Model:           viper.GetString("MODEL"),
		TokenBudget:     viper.GetInt("TOKEN_BUDGET"),
		MaxOutputTokens: viper.GetInt("MAX_OUTPUT_TOKENS"),
		DryRun:          viper.GetBool("DRY_RUN"),
		SanitizerMode:   viper.GetString("SANITIZER_MODE"),
		ReviewMode:      viper.GetString("REVIEW_MODE"),
		ForceFullReview: viper.GetBool("FORCE_FULL_REVIEW"),
		PRFilter:        viper.GetInt("PR_FILTER"),
		QuotaFloor:      viper.GetInt("QUOTA_FLOOR"),

		GitHubToken:          viper.GetString("GITHUB_TOKEN"),
		GitHubAppID:          viper.GetInt64("GITHUB_APP_ID"),
		GitHubInstallationID: viper.GetInt64("GITHUB_INSTALLATION_ID"),
		GitHubPrivateKeyPath: viper.GetString("GITHUB_PRIVATE_KEY_PATH"),
		AnthropicAPIKey:      viper.GetString("ANTHROPIC_API_KEY"),

		StoreDriver: viper.GetString("STORE_DRIVER"),
		CachePath:   viper.GetString("CACHE_PATH"),
		PolicyPath:  viper.GetString("POLICY_PATH"),
		ServerPort:  viper.GetString("SERVER_PORT"),

		LoggerConfig: logger.Config{
			Level:  viper.GetString("LOG_LEVEL"),
			Format: viper.GetString("LOG_FORMAT"),
			Output: viper.GetString("LOG_OUTPUT"),
		},
	}

	if cfg.StoreDriver == StorePostgres {
		lifetime, _ := time.ParseDuration(viper.GetString("DB_CONN_MAX_LIFETIME"))
		idle, _ := time.ParseDuration(viper.GetString("DB_CONN_MAX_IDLE_TIME"))
		cfg.Database = &DBConfig{
			DSN:             viper.GetString("DATABASE_DSN"),
			ConnMaxLifetime: lifetime,
			ConnMaxIdleTime: idle,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for required fields and consistent modes.
func (c *Config) Validate() error {
	if len(c.Repos) == 0 {
		return fmt.Errorf("REPOS must list at least one owner/name repository")
	}
	for _, r := range c.Repos {
		if _, _, err := SplitRepo(r); err != nil {
			return err
		}
	}
	if c.TokenBudget <= 0 {
		return fmt.Errorf("TOKEN_BUDGET must be positive")
	}
	if c.MaxOutputTokens <= 0 {
		return fmt.Errorf("MAX_OUTPUT_TOKENS must be positive")
	}
	if c.ReviewMode != ModeSinglePass && c.ReviewMode != ModeTwoPass {
		return fmt.Errorf("REVIEW_MODE must be %q or %q, got %q", ModeSinglePass, ModeTwoPass, c.ReviewMode)
	}
	if c.SanitizerMode != "strict" && c.SanitizerMode != "permissive" {
		return fmt.Errorf("SANITIZER_MODE must be \"strict\" or \"permissive\", got %q", c.SanitizerMode)
	}
	if c.StoreDriver != StoreMemory && c.StoreDriver != StorePostgres {
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMemory, StorePostgres, c.StoreDriver)
	}
	if c.StoreDriver == StorePostgres && (c.Database == nil || c.Database.DSN == "") {
		return fmt.Errorf("DATABASE_DSN must be set for the postgres store")
	}

	hasPAT := c.GitHubToken != ""
	hasApp := c.GitHubAppID != 0 && c.GitHubInstallationID != 0 && c.GitHubPrivateKeyPath != ""
	if !hasPAT && !hasApp {
		return fmt.Errorf("either GITHUB_TOKEN or the GITHUB_APP_ID/GITHUB_INSTALLATION_ID/GITHUB_PRIVATE_KEY_PATH triple must be set")
	}
	return nil
}

// SplitRepo parses an "owner/name" slug.
func SplitRepo(slug string) (owner, name string, err error) {
	parts := strings.Split(slug, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository slug %q, expected owner/name", slug)
	}
	return parts[0], parts[1], nil
}

func splitRepos(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		r = strings.TrimSpace(r)
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}
