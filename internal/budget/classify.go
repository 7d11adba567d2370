package budget

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/sevigo/pr-warden/internal/core"
)

// ZoneTier is the framework-path exclusion tier for a file. Tier 1 files
// contribute name and stats only; Tier 2 files contribute their first diff
// hunk plus stats; exempt files pass through untouched regardless of other
// classification.
type ZoneTier int

const (
	ZoneNone ZoneTier = iota
	ZoneTier1
	ZoneTier2
	ZoneExempt
)

// ZoneRule binds a path glob to an exclusion tier. Rules come from the
// review policy file and are compiled once at startup.
type ZoneRule struct {
	Pattern string
	Tier    ZoneTier
}

// securityPathPatterns flags paths whose changes must survive truncation the
// longest: authentication, secrets, crypto, credentials, and
// infrastructure-as-code.
var securityPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(^|/)(auth|oauth|sso|iam)(/|[._-]|$)`),
	regexp.MustCompile(`(?i)secret|credential|password|token`),
	regexp.MustCompile(`(?i)(^|/)crypto(/|[._-])|\.pem$|\.key$`),
	regexp.MustCompile(`(?i)\.tf$|\.tfvars$|cloudformation|(^|/)helm/|(^|/)k8s/`),
	regexp.MustCompile(`(?i)(^|/)dockerfile|docker-compose`),
}

var testPathPattern = regexp.MustCompile(`(?i)_test\.go$|\.test\.[jt]sx?$|\.spec\.[jt]sx?$|(^|/)tests?/|(^|/)__tests__/`)

// Priority buckets; lower sorts first and is sacrificed last.
const (
	prioritySecurity = iota
	prioritySource
	priorityAdjacentTest
	priorityOther
)

// ClassifiedFile is a changed file annotated with its truncation-relevant
// classification.
type ClassifiedFile struct {
	core.ChangedFile
	Security     bool
	Test         bool
	AdjacentTest bool
	Zone         ZoneTier
	priority     int
}

type compiledZone struct {
	re   *regexp.Regexp
	tier ZoneTier
}

// Classifier applies the immutable pattern tables to a diff set. Build one
// at startup and reuse it for every item.
type Classifier struct {
	zones []compiledZone
}

// NewClassifier compiles the framework-zone rules. Malformed globs are
// skipped rather than failing the run; the pattern tables are operator
// configuration, not untrusted input.
func NewClassifier(rules []ZoneRule) *Classifier {
	c := &Classifier{}
	for _, r := range rules {
		re, err := compileGlob(r.Pattern)
		if err != nil {
			continue
		}
		c.zones = append(c.zones, compiledZone{re: re, tier: r.Tier})
	}
	return c
}

// compileGlob translates a path glob ("vendor/**", "*.pb.go") into a
// regexp anchored over the whole path. "**" crosses directory separators,
// "*" does not.
func compileGlob(glob string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); i++ {
		switch {
		case strings.HasPrefix(glob[i:], "**"):
			b.WriteString(".*")
			i++
		case glob[i] == '*':
			b.WriteString("[^/]*")
		default:
			b.WriteString(regexp.QuoteMeta(string(glob[i])))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// zoneFor returns the first matching zone tier for a path.
func (c *Classifier) zoneFor(filename string) ZoneTier {
	for _, z := range c.zones {
		if z.re.MatchString(filename) {
			return z.tier
		}
	}
	return ZoneNone
}

// Classify annotates and orders the diff set. The returned slice is sorted
// by sacrifice priority: security-relevant files first, then non-test
// source, then tests adjacent to changed source, then everything else, with
// a stable path tie-break. Level-3 truncation drops from the tail.
func (c *Classifier) Classify(files []core.ChangedFile) []ClassifiedFile {
	out := make([]ClassifiedFile, 0, len(files))

	// Directories containing changed non-test source, for test adjacency.
	sourceDirs := make(map[string]struct{})
	for _, f := range files {
		if !testPathPattern.MatchString(f.Filename) {
			sourceDirs[path.Dir(f.Filename)] = struct{}{}
		}
	}

	for _, f := range files {
		cf := ClassifiedFile{ChangedFile: f}
		cf.Zone = c.zoneFor(f.Filename)
		cf.Test = testPathPattern.MatchString(f.Filename)
		if cf.Test {
			if _, ok := sourceDirs[path.Dir(f.Filename)]; ok {
				cf.AdjacentTest = true
			}
		}
		for _, re := range securityPathPatterns {
			if re.MatchString(f.Filename) {
				cf.Security = true
				break
			}
		}

		switch {
		case cf.Security && !cf.Test:
			cf.priority = prioritySecurity
		case !cf.Test:
			cf.priority = prioritySource
		case cf.AdjacentTest:
			cf.priority = priorityAdjacentTest
		default:
			cf.priority = priorityOther
		}
		out = append(out, cf)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].Filename < out[j].Filename
	})
	return out
}
