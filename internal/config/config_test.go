package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Repos:           []string{"sevigo/demo"},
		MaxPRsPerRepo:   10,
		MaxRuntime:      30 * time.Minute,
		Model:           "claude-sonnet-4-5",
		TokenBudget:     150000,
		MaxOutputTokens: 8192,
		SanitizerMode:   "strict",
		ReviewMode:      ModeTwoPass,
		QuotaFloor:      100,
		GitHubToken:     "ghp_token",
		StoreDriver:     StoreMemory,
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"no repos", func(c *Config) { c.Repos = nil }, "REPOS"},
		{"bad slug", func(c *Config) { c.Repos = []string{"noslash"} }, "slug"},
		{"zero budget", func(c *Config) { c.TokenBudget = 0 }, "TOKEN_BUDGET"},
		{"zero output tokens", func(c *Config) { c.MaxOutputTokens = 0 }, "MAX_OUTPUT_TOKENS"},
		{"bad review mode", func(c *Config) { c.ReviewMode = "triple" }, "REVIEW_MODE"},
		{"bad sanitizer mode", func(c *Config) { c.SanitizerMode = "yolo" }, "SANITIZER_MODE"},
		{"bad store driver", func(c *Config) { c.StoreDriver = "redis" }, "STORE_DRIVER"},
		{"postgres without dsn", func(c *Config) { c.StoreDriver = StorePostgres }, "DATABASE_DSN"},
		{"no auth at all", func(c *Config) { c.GitHubToken = "" }, "GITHUB_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidateAcceptsAppAuth(t *testing.T) {
	cfg := validConfig()
	cfg.GitHubToken = ""
	cfg.GitHubAppID = 1234
	cfg.GitHubInstallationID = 5678
	cfg.GitHubPrivateKeyPath = "/etc/warden/key.pem"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("App auth triple rejected: %v", err)
	}
}

func TestSplitRepo(t *testing.T) {
	owner, name, err := SplitRepo("sevigo/pr-warden")
	if err != nil || owner != "sevigo" || name != "pr-warden" {
		t.Fatalf("SplitRepo = %q %q %v", owner, name, err)
	}

	for _, bad := range []string{"", "justname", "a/b/c", "/x", "x/"} {
		if _, _, err := SplitRepo(bad); err == nil {
			t.Errorf("SplitRepo(%q) should fail", bad)
		}
	}
}
