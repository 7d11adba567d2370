package llm

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"text/template"

	"github.com/sevigo/pr-warden/internal/budget"
	"github.com/sevigo/pr-warden/internal/core"
)

//go:embed prompts/*.prompt
var promptFiles embed.FS

// Template keys; each corresponds to prompts/<key>.prompt.
const (
	convergenceSystemKey = "convergence_system"
	convergenceUserKey   = "convergence_user"
	enrichmentSystemKey  = "enrichment_system"
	enrichmentUserKey    = "enrichment_user"
	singleSystemKey      = "single_system"
	singleUserKey        = "single_user"
)

var promptKeys = []string{
	convergenceSystemKey, convergenceUserKey,
	enrichmentSystemKey, enrichmentUserKey,
	singleSystemKey, singleUserKey,
}

// userScaffoldChars approximates the non-diff part of a rendered user
// prompt (metadata, banners, instructions) for budget admission.
const userScaffoldChars = 1500

// PromptExtras carries the per-item banner lines the pipeline decides on.
type PromptExtras struct {
	IncrementalBanner string
	ExclusionBanner   string
	Disclaimer        string
}

// Prompts is one rendered system/user prompt pair.
type Prompts struct {
	System string
	User   string
}

// Builder renders system and user prompts for both review modes from a
// ReviewItem plus a truncation decision. Templates are embedded and parsed
// once at construction.
type Builder struct {
	tmpls        map[string]*template.Template
	templateHash string
}

// NewBuilder parses the embedded prompt templates.
func NewBuilder() (*Builder, error) {
	b := &Builder{tmpls: make(map[string]*template.Template)}

	h := sha256.New()
	for _, key := range promptKeys {
		content, err := promptFiles.ReadFile("prompts/" + key + ".prompt")
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded prompt %s: %w", key, err)
		}
		tmpl, err := template.New(key).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse prompt template %s: %w", key, err)
		}
		b.tmpls[key] = tmpl

		// Only the convergence pair participates in the cache key: pass-1
		// results are reusable as long as the pass-1 prompts are unchanged.
		if key == convergenceSystemKey || key == convergenceUserKey {
			h.Write(content)
		}
	}
	b.templateHash = hex.EncodeToString(h.Sum(nil))
	return b, nil
}

// TemplateHash identifies the pass-1 prompt templates for cache keying.
func (b *Builder) TemplateHash() string {
	return b.templateHash
}

// FixedOverheadChars estimates the prompt characters spent before any diff
// content: the system prompt plus the user-prompt scaffold. Passed to the
// truncation engine as fixed overhead.
func (b *Builder) FixedOverheadChars(mode string) int {
	key := convergenceSystemKey
	if mode == "single" {
		key = singleSystemKey
	}
	var buf bytes.Buffer
	if err := b.tmpls[key].Execute(&buf, promptData{}); err != nil {
		return userScaffoldChars
	}
	return buf.Len() + userScaffoldChars
}

// promptData is the template context for diff-bearing prompts.
type promptData struct {
	Repo       string
	PRNumber   int
	Title      string
	Author     string
	BaseBranch string
	HeadCommit string
	Labels     []string

	IncrementalBanner string
	ExclusionBanner   string
	Disclaimer        string

	Files    []budget.RenderedFile
	Excluded []budget.FileStat

	FindingsBegin string
	FindingsEnd   string
}

// enrichmentData is the template context for the pass-2 prompt; no diffs.
type enrichmentData struct {
	Repo          string
	PRNumber      int
	Title         string
	Author        string
	BaseBranch    string
	FindingsBlock string
	FindingsBegin string
	FindingsEnd   string
}

func (b *Builder) newPromptData(item *core.ReviewItem, dec *budget.Decision, extras PromptExtras) promptData {
	return promptData{
		Repo:              item.FullName(),
		PRNumber:          item.PRNumber,
		Title:             item.PRTitle,
		Author:            item.Author,
		BaseBranch:        item.BaseBranch,
		HeadCommit:        item.HeadCommit,
		Labels:            item.Labels,
		IncrementalBanner: extras.IncrementalBanner,
		ExclusionBanner:   extras.ExclusionBanner,
		Disclaimer:        extras.Disclaimer,
		Files:             dec.Included,
		Excluded:          dec.Excluded,
		FindingsBegin:     FindingsBegin,
		FindingsEnd:       FindingsEnd,
	}
}

// Convergence renders the pass-1 prompts: injection-hardening preamble plus
// purely analytical instructions, no persona.
func (b *Builder) Convergence(item *core.ReviewItem, dec *budget.Decision, extras PromptExtras) (*Prompts, error) {
	return b.renderPair(convergenceSystemKey, convergenceUserKey, b.newPromptData(item, dec, extras))
}

// Enrichment renders the pass-2 prompts: persona system prompt plus
// condensed metadata and the verbatim pass-1 findings block.
func (b *Builder) Enrichment(item *core.ReviewItem, findingsBlock string) (*Prompts, error) {
	data := enrichmentData{
		Repo:          item.FullName(),
		PRNumber:      item.PRNumber,
		Title:         item.PRTitle,
		Author:        item.Author,
		BaseBranch:    item.BaseBranch,
		FindingsBlock: findingsBlock,
		FindingsBegin: FindingsBegin,
		FindingsEnd:   FindingsEnd,
	}
	return b.renderPair(enrichmentSystemKey, enrichmentUserKey, data)
}

// SinglePass renders the one-shot review prompts.
func (b *Builder) SinglePass(item *core.ReviewItem, dec *budget.Decision, extras PromptExtras) (*Prompts, error) {
	return b.renderPair(singleSystemKey, singleUserKey, b.newPromptData(item, dec, extras))
}

func (b *Builder) renderPair(systemKey, userKey string, data any) (*Prompts, error) {
	system, err := b.render(systemKey, data)
	if err != nil {
		return nil, err
	}
	user, err := b.render(userKey, data)
	if err != nil {
		return nil, err
	}
	return &Prompts{System: system, User: user}, nil
}

func (b *Builder) render(key string, data any) (string, error) {
	tmpl, ok := b.tmpls[key]
	if !ok {
		return "", fmt.Errorf("no template registered for key %q", key)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", key, err)
	}
	return buf.String(), nil
}
