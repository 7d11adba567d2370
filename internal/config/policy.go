package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sevigo/pr-warden/internal/budget"
)

// ErrPolicyNotFound signals that no policy file exists; callers fall back
// to DefaultPolicy.
var ErrPolicyNotFound = errors.New("policy file not found")

// zoneRuleYAML is one framework-path exclusion rule in the policy file.
type zoneRuleYAML struct {
	Pattern string `yaml:"pattern"`
	Tier    string `yaml:"tier"` // tier1 | tier2 | exempt
}

// ReviewPolicy is the operator-editable pattern policy: which paths are
// framework zones and how aggressively they are excluded from review.
type ReviewPolicy struct {
	FrameworkZones []zoneRuleYAML `yaml:"framework_zones"`
}

// DefaultPolicy covers the common generated/vendored paths.
func DefaultPolicy() *ReviewPolicy {
	return &ReviewPolicy{
		FrameworkZones: []zoneRuleYAML{
			{Pattern: "vendor/**", Tier: "tier1"},
			{Pattern: "node_modules/**", Tier: "tier1"},
			{Pattern: "dist/**", Tier: "tier1"},
			{Pattern: "**/*.pb.go", Tier: "tier1"},
			{Pattern: "**/*_gen.go", Tier: "tier1"},
			{Pattern: "*.lock", Tier: "tier1"},
			{Pattern: "**/package-lock.json", Tier: "tier1"},
			{Pattern: "**/go.sum", Tier: "tier1"},
			{Pattern: "**/migrations/**", Tier: "tier2"},
			{Pattern: "**/testdata/**", Tier: "tier2"},
			{Pattern: "**/*.snap", Tier: "tier2"},
		},
	}
}

// LoadPolicy reads the policy file at path. A missing file returns the
// default policy together with ErrPolicyNotFound so callers can log it.
func LoadPolicy(path string) (*ReviewPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), ErrPolicyNotFound
		}
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	policy := &ReviewPolicy{}
	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	if len(policy.FrameworkZones) == 0 {
		policy.FrameworkZones = DefaultPolicy().FrameworkZones
	}
	return policy, nil
}

// ZoneRules converts the policy into the truncation engine's rule type.
// Unknown tiers are skipped.
func (p *ReviewPolicy) ZoneRules() []budget.ZoneRule {
	var rules []budget.ZoneRule
	for _, z := range p.FrameworkZones {
		var tier budget.ZoneTier
		switch z.Tier {
		case "tier1":
			tier = budget.ZoneTier1
		case "tier2":
			tier = budget.ZoneTier2
		case "exempt":
			tier = budget.ZoneExempt
		default:
			continue
		}
		rules = append(rules, budget.ZoneRule{Pattern: z.Pattern, Tier: tier})
	}
	return rules
}
