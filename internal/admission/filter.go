// Package admission decides whether a captured item deserves any further
// processing.
//
// The decision is a three-tier cascade: cheap substring rules, an optional
// model verdict when the enhancement service is idle, then a detailed rule
// pass that defaults to admitting. The filter is biased toward false
// positives and fails open.
package admission

import (
	"context"
	"regexp"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	"github.com/fyrsmithlabs/nudged/internal/enhance"
)

// Tier names the stage of the cascade that made a decision.
type Tier string

const (
	TierQuick    Tier = "quick"
	TierAI       Tier = "ai"
	TierDetailed Tier = "detailed"
	TierFailOpen Tier = "fail_open"
)

// Decision is the outcome of Evaluate.
type Decision struct {
	Admit  bool   `json:"admit"`
	Tier   Tier   `json:"tier"`
	Reason string `json:"reason"`
}

// Stats is the observability snapshot of the filter counters.
type Stats struct {
	TotalProcessed int64   `json:"total_processed"`
	Filtered       int64   `json:"filtered"`
	Passed         int64   `json:"passed"`
	FilterRate     float64 `json:"filter_rate"`
}

// Config tunes the quick pass.
type Config struct {
	// ShortLength is the length under which a casual acknowledgement is
	// rejected outright.
	ShortLength int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{ShortLength: 10}
}

var (
	timePattern     = regexp.MustCompile(`\b\d{1,2}(:\d{2})?\s?(am|pm)\b|\b\d{1,2}:\d{2}\b|\b\d{1,2}/\d{1,2}(/\d{2,4})?\b|\b\d{4}-\d{2}-\d{2}\b`)
	ackTrimPattern  = regexp.MustCompile(`[.!?,~\s]+$`)
	wordOnlyPattern = regexp.MustCompile(`[^\p{L}\p{N}'\s]+`)
)

const admissionPrompt = `You decide whether a captured snippet of a user's activity could contain something actionable: a task, a promise, a question awaiting reply, a deadline, or information worth remembering.
Answer with exactly one word: PROCESS if it might be actionable, SKIP if it is clearly noise (small talk, ads, boilerplate, entertainment).`

// Filter is the admission gate. It is safe for concurrent use.
type Filter struct {
	cfg    Config
	guard  *enhance.Guard
	logger *zap.Logger

	processed atomic.Int64
	filtered  atomic.Int64
	passed    atomic.Int64
}

// New creates a filter. guard may be nil.
func New(cfg Config, guard *enhance.Guard, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ShortLength <= 0 {
		cfg.ShortLength = DefaultConfig().ShortLength
	}
	return &Filter{cfg: cfg, guard: guard, logger: logger}
}

// ShouldProcess reports whether item should continue down the pipeline.
func (f *Filter) ShouldProcess(ctx context.Context, item activity.ContentItem) bool {
	return f.Evaluate(ctx, item).Admit
}

// Evaluate runs the cascade and updates the counters.
func (f *Filter) Evaluate(ctx context.Context, item activity.ContentItem) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("admission filter panicked, admitting item",
				zap.String("item.id", item.ID),
				zap.Any("panic", r),
			)
			d = Decision{Admit: true, Tier: TierFailOpen, Reason: "filter error"}
		}
		f.count(d)
		f.logger.Debug("admission decision",
			zap.String("item.id", item.ID),
			zap.Bool("admit", d.Admit),
			zap.String("tier", string(d.Tier)),
			zap.String("reason", d.Reason),
		)
	}()

	if d, ok := f.quick(item); ok {
		return d
	}
	if d, ok := f.ai(ctx, item); ok {
		return d
	}
	return f.detailed(item)
}

func (f *Filter) count(d Decision) {
	f.processed.Add(1)
	if d.Admit {
		f.passed.Add(1)
	} else {
		f.filtered.Add(1)
	}
}

// quick returns ok=false when undecided.
func (f *Filter) quick(item activity.ContentItem) (Decision, bool) {
	admit := func(reason string) (Decision, bool) {
		return Decision{Admit: true, Tier: TierQuick, Reason: reason}, true
	}
	reject := func(reason string) (Decision, bool) {
		return Decision{Admit: false, Tier: TierQuick, Reason: reason}, true
	}

	switch item.Source.Kind {
	case activity.SourceEmail:
		return admit("email source")
	case activity.SourceMeeting:
		return admit("meeting source")
	}

	content := strings.TrimSpace(item.Content)
	lower := strings.ToLower(content)
	if content == "" {
		return reject("empty")
	}
	if strings.Contains(content, "@") {
		return admit("mention or address")
	}
	if activity.HasURL(content) {
		return admit("link")
	}
	if activity.ContainsAny(lower, urgencyLexicon) {
		return admit("urgency or action phrase")
	}
	if len([]rune(content)) < f.cfg.ShortLength && ackLexicon[ackTrimPattern.ReplaceAllString(lower, "")] {
		return reject("short acknowledgement")
	}
	if activity.ContainsAny(lower, boilerplateLexicon) {
		return reject("boilerplate")
	}
	return Decision{}, false
}

func (f *Filter) ai(ctx context.Context, item activity.ContentItem) (Decision, bool) {
	if !f.guard.Available() {
		return Decision{}, false
	}
	text, err := f.guard.Text(ctx, enhance.Prompt{
		Task:    enhance.TaskAdmission,
		System:  admissionPrompt,
		Content: item.Content,
	})
	if err != nil {
		return Decision{}, false
	}
	switch strings.ToUpper(strings.Trim(text, " .\n\t\"'")) {
	case "PROCESS":
		return Decision{Admit: true, Tier: TierAI, Reason: "model verdict"}, true
	case "SKIP":
		return Decision{Admit: false, Tier: TierAI, Reason: "model verdict"}, true
	}
	f.logger.Warn("admission verdict not categorical", zap.String("item.id", item.ID))
	return Decision{}, false
}

func (f *Filter) detailed(item activity.ContentItem) Decision {
	lower := item.Lower()
	reject := func(reason string) Decision { return Decision{Admit: false, Tier: TierDetailed, Reason: reason} }
	accept := func(reason string) Decision { return Decision{Admit: true, Tier: TierDetailed, Reason: reason} }

	business := activity.ContainsAny(lower, businessLexicon)

	if pureSmallTalk(lower) {
		return reject("small talk")
	}
	if activity.ContainsAny(lower, weatherLexicon) && !business && !activity.ContainsAny(lower, travelLexicon) {
		return reject("weather talk")
	}
	if activity.ContainsAny(lower, socialFluffLexicon) && !business {
		return reject("social media")
	}
	if activity.ContainsAny(lower, entertainmentLexicon) && !business {
		return reject("entertainment")
	}

	switch {
	case business:
		return accept("business vocabulary")
	case strings.Contains(lower, "?") || activity.ContainsAny(lower, requestLexicon):
		return accept("question or request")
	case activity.ContainsAny(lower+" ", timeLexicon) || timePattern.MatchString(lower):
		return accept("time reference")
	}
	return accept("undecided")
}

// pureSmallTalk reports whether every word is a greeting or pleasantry.
func pureSmallTalk(lower string) bool {
	words := strings.Fields(wordOnlyPattern.ReplaceAllString(lower, " "))
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if !smallTalkWords[w] {
			return false
		}
	}
	return true
}

// Stats returns the current counters.
func (f *Filter) Stats() Stats {
	s := Stats{
		TotalProcessed: f.processed.Load(),
		Filtered:       f.filtered.Load(),
		Passed:         f.passed.Load(),
	}
	if s.TotalProcessed > 0 {
		s.FilterRate = float64(s.Filtered) / float64(s.TotalProcessed)
	}
	return s
}

// Reset zeroes the counters.
func (f *Filter) Reset() {
	f.processed.Store(0)
	f.filtered.Store(0)
	f.passed.Store(0)
}
