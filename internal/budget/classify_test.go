package budget

import (
	"testing"

	"github.com/sevigo/pr-warden/internal/core"
)

func defaultTestRules() []ZoneRule {
	return []ZoneRule{
		{Pattern: "vendor/**", Tier: ZoneTier1},
		{Pattern: "**/*.pb.go", Tier: ZoneTier1},
		{Pattern: "*.lock", Tier: ZoneTier1},
		{Pattern: "**/migrations/**", Tier: ZoneTier2},
		{Pattern: "docs/critical.md", Tier: ZoneExempt},
	}
}

func TestZoneMatching(t *testing.T) {
	c := NewClassifier(defaultTestRules())

	tests := []struct {
		path string
		want ZoneTier
	}{
		{"vendor/github.com/pkg/errors/errors.go", ZoneTier1},
		{"api/service.pb.go", ZoneTier1},
		{"deep/nested/gen.pb.go", ZoneTier1},
		{"Cargo.lock", ZoneTier1},
		{"sub/Cargo.lock", ZoneNone}, // "*" must not cross directories
		{"internal/db/migrations/0001_init.sql", ZoneTier2},
		{"docs/critical.md", ZoneExempt},
		{"internal/service.go", ZoneNone},
	}

	for _, tt := range tests {
		got := c.zoneFor(tt.path)
		if got != tt.want {
			t.Errorf("zoneFor(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestClassifyPriorityOrdering(t *testing.T) {
	c := NewClassifier(nil)
	files := []core.ChangedFile{
		{Filename: "pkg/service/service_test.go"},
		{Filename: "pkg/service/service.go"},
		{Filename: "internal/auth/login.go"},
		{Filename: "unrelated/other_test.go"},
	}

	got := c.Classify(files)
	// security first, then source, then the test adjacent to changed
	// source, then everything else.
	wantOrder := []string{
		"internal/auth/login.go",
		"pkg/service/service.go",
		"pkg/service/service_test.go",
		"unrelated/other_test.go",
	}
	for i, want := range wantOrder {
		if got[i].Filename != want {
			t.Fatalf("position %d: got %s, want %s", i, got[i].Filename, want)
		}
	}

	if !got[0].Security {
		t.Error("auth path must be classified security-relevant")
	}
	if !got[2].AdjacentTest {
		t.Error("test beside changed source must be adjacent")
	}
	if got[3].AdjacentTest {
		t.Error("test without changed source in its directory must not be adjacent")
	}
}

func TestClassifySecurityPatterns(t *testing.T) {
	c := NewClassifier(nil)

	securityPaths := []string{
		"internal/oauth/provider.go",
		"config/secrets.yaml",
		"pkg/crypto/sign.go",
		"deploy/main.tf",
		"deploy/helm/values.yaml",
		"Dockerfile",
		"certs/server.pem",
	}
	for _, p := range securityPaths {
		out := c.Classify([]core.ChangedFile{{Filename: p}})
		if !out[0].Security {
			t.Errorf("%q should be security-relevant", p)
		}
	}

	out := c.Classify([]core.ChangedFile{{Filename: "pkg/render/template.go"}})
	if out[0].Security {
		t.Error("plain source file should not be security-relevant")
	}
}

func TestClassifyStablePathTieBreak(t *testing.T) {
	c := NewClassifier(nil)
	files := []core.ChangedFile{
		{Filename: "b.go"},
		{Filename: "a.go"},
	}
	got := c.Classify(files)
	if got[0].Filename != "a.go" || got[1].Filename != "b.go" {
		t.Errorf("equal-priority files must sort by path, got %s then %s", got[0].Filename, got[1].Filename)
	}
}

func TestNewClassifierSkipsMalformedGlobs(t *testing.T) {
	// A malformed rule must not panic or fail construction.
	c := NewClassifier([]ZoneRule{{Pattern: "vendor/**", Tier: ZoneTier1}})
	if c.zoneFor("vendor/x.go") != ZoneTier1 {
		t.Error("valid rules must survive construction")
	}
}
