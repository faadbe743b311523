// Package secrets redacts credentials from captured content before the
// pipeline keeps, persists or forwards it.
//
// Clipboard and screen captures routinely contain API keys, passwords and
// connection strings. A built-in rule set always runs; the gitleaks default
// configuration adds several hundred provider-specific rules on top.
// Matches are replaced by [REDACTED:<rule-id>] markers so downstream stages
// still see that a credential was there.
package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Config controls the scrubber.
type Config struct {
	Enabled bool
	// Gitleaks adds the gitleaks default rule set to the built-in rules.
	Gitleaks bool
	// AllowlistFile is a gitleaks-style TOML file of patterns to leave alone.
	AllowlistFile string
	// Allow lists extra patterns to leave alone.
	Allow []string
}

// DefaultConfig enables both rule sets.
func DefaultConfig() Config {
	return Config{Enabled: true, Gitleaks: true}
}

// Finding locates one redacted credential. The secret itself is never kept.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line"`
}

// Result is the scrubbed content plus what was removed.
type Result struct {
	Content  string    `json:"content"`
	Findings []Finding `json:"findings,omitempty"`
}

// Redacted returns the number of credentials removed.
func (r Result) Redacted() int { return len(r.Findings) }

// ByRule counts findings per rule id.
func (r Result) ByRule() map[string]int {
	out := make(map[string]int, len(r.Findings))
	for _, f := range r.Findings {
		out[f.RuleID]++
	}
	return out
}

// Scrubber redacts credentials. The zero value and a nil *Scrubber pass
// content through unchanged.
type Scrubber struct {
	enabled bool
	rules   []rule
	allow   []*regexp.Regexp

	mu       sync.Mutex // detector is not safe for concurrent scans
	detector *detect.Detector
}

// New builds a scrubber. Building the gitleaks detector compiles its whole
// rule set, so keep one scrubber per process.
func New(cfg Config) (*Scrubber, error) {
	if !cfg.Enabled {
		return &Scrubber{}, nil
	}
	patterns := append([]string(nil), cfg.Allow...)
	fromFile, err := LoadAllowlist(cfg.AllowlistFile)
	if err != nil {
		return nil, err
	}
	patterns = append(patterns, fromFile...)
	allow, err := compileAll(patterns)
	if err != nil {
		return nil, err
	}

	s := &Scrubber{enabled: true, rules: builtinRules, allow: allow}
	if cfg.Gitleaks {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return nil, fmt.Errorf("loading gitleaks rules: %w", err)
		}
		s.detector = d
	}
	return s, nil
}

// Enabled reports whether Scrub changes anything.
func (s *Scrubber) Enabled() bool { return s != nil && s.enabled }

type span struct {
	start, end int
	ruleID     string
	desc       string
}

// Scrub returns content with every detected credential replaced.
func (s *Scrubber) Scrub(content string) Result {
	if !s.Enabled() || content == "" {
		return Result{Content: content}
	}

	var spans []span
	for _, r := range s.rules {
		for _, m := range r.pattern.FindAllStringIndex(content, -1) {
			spans = append(spans, span{m[0], m[1], r.id, r.description})
		}
	}
	spans = append(spans, s.gitleaksSpans(content)...)

	kept := spans[:0]
	for _, sp := range spans {
		if !s.allowed(content[sp.start:sp.end]) {
			kept = append(kept, sp)
		}
	}
	if len(kept) == 0 {
		return Result{Content: content}
	}

	merged := merge(kept)
	res := Result{Findings: make([]Finding, 0, len(merged))}
	var b strings.Builder
	last := 0
	for _, sp := range merged {
		b.WriteString(content[last:sp.start])
		b.WriteString("[REDACTED:" + sp.ruleID + "]")
		last = sp.end
		res.Findings = append(res.Findings, Finding{
			RuleID:      sp.ruleID,
			Description: sp.desc,
			Line:        strings.Count(content[:sp.start], "\n") + 1,
		})
	}
	b.WriteString(content[last:])
	res.Content = b.String()
	return res
}

// gitleaksSpans locates each secret gitleaks reports. Findings carry the
// secret text, so every occurrence of it is redacted.
func (s *Scrubber) gitleaksSpans(content string) []span {
	if s.detector == nil {
		return nil
	}
	s.mu.Lock()
	findings := s.detector.DetectString(content)
	s.mu.Unlock()

	var out []span
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		for from := 0; from < len(content); {
			i := strings.Index(content[from:], f.Secret)
			if i < 0 {
				break
			}
			start := from + i
			out = append(out, span{start, start + len(f.Secret), f.RuleID, f.Description})
			from = start + len(f.Secret)
		}
	}
	return out
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// merge sorts spans and joins overlapping ones; the earliest span names the
// merged rule.
func merge(spans []span) []span {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})
	out := []span{spans[0]}
	for _, sp := range spans[1:] {
		last := &out[len(out)-1]
		if sp.start < last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		out = append(out, sp)
	}
	return out
}
