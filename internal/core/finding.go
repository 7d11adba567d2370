package core

// Severity classifies a single review finding. The set is closed: the
// enrichment pass may rephrase prose but can never move a finding between
// severities, so downstream checks compare these values verbatim.
type Severity string

const (
	SeverityCritical    Severity = "CRITICAL"
	SeverityHigh        Severity = "HIGH"
	SeverityMedium      Severity = "MEDIUM"
	SeverityLow         Severity = "LOW"
	SeverityPraise      Severity = "PRAISE"
	SeveritySpeculation Severity = "SPECULATION"
	SeverityReframe     Severity = "REFRAME"
)

var validSeverities = map[Severity]struct{}{
	SeverityCritical:    {},
	SeverityHigh:        {},
	SeverityMedium:      {},
	SeverityLow:         {},
	SeverityPraise:      {},
	SeveritySpeculation: {},
	SeverityReframe:     {},
}

// Valid reports whether s is a member of the closed severity set.
func (s Severity) Valid() bool {
	_, ok := validSeverities[s]
	return ok
}

// Finding is one analytical observation produced by the convergence pass.
// The enrichment pass may extend Description and Suggestion but must keep
// ID and Severity untouched.
type Finding struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	File        string   `json:"file"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion,omitempty"`
}
