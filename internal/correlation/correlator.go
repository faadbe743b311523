// Package correlation links new items to recently seen ones and groups them
// into conversation threads.
package correlation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nudged/internal/activity"
	"github.com/fyrsmithlabs/nudged/internal/bus"
)

// AgentName identifies the correlator on the bus.
const AgentName = "context_correlator"

// ContextItem is the correlator's record of one admitted item.
type ContextItem struct {
	ID        string                `json:"id"`
	Content   string                `json:"content"`
	Source    activity.Source       `json:"source"`
	Tags      activity.TagSet       `json:"tags"`
	Timestamp time.Time             `json:"timestamp"`
	Entities  map[string]EntityType `json:"entities,omitempty"`
}

// NewContextItem builds the record for item, extracting its entities.
func NewContextItem(item activity.ContentItem, tags activity.TagSet) ContextItem {
	return ContextItem{
		ID:        item.ID,
		Content:   item.Content,
		Source:    item.Source,
		Tags:      tags.Clone(),
		Timestamp: item.Timestamp,
		Entities:  ExtractEntities(item.Content, item.Source),
	}
}

// Match is a window item that scored above the threshold.
type Match struct {
	Item  ContextItem `json:"item"`
	Score float64     `json:"score"`
}

// Result is the outcome of Correlate.
type Result struct {
	Matches    []Match `json:"matches"`
	TaskWorthy bool    `json:"task_worthy"`
	ThreadID   string  `json:"thread_id"`
}

// Config holds the scoring weights and retention limits.
type Config struct {
	WindowSize   int           `json:"window_size"`
	MaxMatches   int           `json:"max_matches"`
	Threshold    float64       `json:"threshold"`
	EntityWeight float64       `json:"entity_weight"`
	SourceWeight float64       `json:"source_weight"`
	TimeWeight   float64       `json:"time_weight"`
	TimeWindow   time.Duration `json:"time_window"`
	TagWeight    float64       `json:"tag_weight"`

	ThreadRetention   time.Duration `json:"thread_retention"`
	MaxThreads        int           `json:"max_threads"`
	MaxThreadMessages int           `json:"max_thread_messages"`
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		WindowSize:        50,
		MaxMatches:        5,
		Threshold:         0.5,
		EntityWeight:      0.3,
		SourceWeight:      0.4,
		TimeWeight:        0.2,
		TimeWindow:        2 * time.Hour,
		TagWeight:         0.1,
		ThreadRetention:   7 * 24 * time.Hour,
		MaxThreads:        500,
		MaxThreadMessages: 200,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.MaxMatches <= 0 {
		c.MaxMatches = d.MaxMatches
	}
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.EntityWeight <= 0 {
		c.EntityWeight = d.EntityWeight
	}
	if c.SourceWeight <= 0 {
		c.SourceWeight = d.SourceWeight
	}
	if c.TimeWeight <= 0 {
		c.TimeWeight = d.TimeWeight
	}
	if c.TimeWindow <= 0 {
		c.TimeWindow = d.TimeWindow
	}
	if c.TagWeight <= 0 {
		c.TagWeight = d.TagWeight
	}
	if c.ThreadRetention <= 0 {
		c.ThreadRetention = d.ThreadRetention
	}
	if c.MaxThreads <= 0 {
		c.MaxThreads = d.MaxThreads
	}
	if c.MaxThreadMessages <= 0 {
		c.MaxThreadMessages = d.MaxThreadMessages
	}
	return c
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithClock overrides the clock used by Purge and thread bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) { c.now = now }
}

// Correlator keeps a sliding window of recent items and the thread table.
// The window is an LRU sized to the configured window, so the oldest item
// drops out as each new one arrives.
type Correlator struct {
	cfg    Config
	window *lru.Cache[string, ContextItem]
	bus    bus.Publisher
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	threads map[string]*thread
	byItem  map[string]string
}

// New creates a correlator. publisher may be nil.
func New(cfg Config, publisher bus.Publisher, logger *zap.Logger, opts ...Option) (*Correlator, error) {
	cfg = cfg.withDefaults()
	window, err := lru.New[string, ContextItem](cfg.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("creating correlation window: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Correlator{
		cfg:     cfg,
		window:  window,
		bus:     publisher,
		logger:  logger,
		now:     time.Now,
		threads: make(map[string]*thread),
		byItem:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Correlator) Config() Config { return c.cfg }

// Score rates how related a and b are.
func (c *Correlator) Score(a, b ContextItem) float64 {
	score := c.cfg.EntityWeight * float64(sharedEntities(a.Entities, b.Entities))
	if relatedSources(a.Source, b.Source) {
		score += c.cfg.SourceWeight
	}
	gap := a.Timestamp.Sub(b.Timestamp)
	if gap < 0 {
		gap = -gap
	}
	if gap <= c.cfg.TimeWindow {
		score += c.cfg.TimeWeight
	}
	score += c.cfg.TagWeight * float64(a.Tags.Shared(b.Tags))
	score += Jaccard(a.Content, b.Content)
	return score
}

// Correlate scores item against the window, records it in the window and
// its thread, and publishes context_update when the links are worth acting
// on.
func (c *Correlator) Correlate(ctx context.Context, item activity.ContentItem, tags activity.TagSet) (Result, error) {
	ci := NewContextItem(item, tags)

	var matches []Match
	for _, other := range c.window.Values() {
		if other.ID == ci.ID {
			continue
		}
		if s := c.Score(ci, other); s >= c.cfg.Threshold {
			matches = append(matches, Match{Item: other, Score: s})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].Item.Timestamp.After(matches[j].Item.Timestamp)
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > c.cfg.MaxMatches {
		matches = matches[:c.cfg.MaxMatches]
	}
	c.window.Add(ci.ID, ci)

	res := Result{
		Matches:    matches,
		TaskWorthy: taskWorthy(ci, matches),
		ThreadID:   c.thread(ci),
	}

	c.logger.Debug("item correlated",
		zap.String("item.id", ci.ID),
		zap.Int("matches", len(matches)),
		zap.Bool("task_worthy", res.TaskWorthy),
		zap.String("thread.id", res.ThreadID),
	)

	if !res.TaskWorthy || c.bus == nil {
		return res, nil
	}
	related := make([]bus.Related, len(matches))
	for i, m := range matches {
		related[i] = bus.Related{ItemID: m.Item.ID, Score: m.Score}
	}
	priority := activity.PriorityNormal
	if ci.Tags.HasAny(activity.TagUrgentAction, activity.TagImportant) {
		priority = activity.PriorityHigh
	}
	err := c.bus.Publish(ctx, bus.Message{
		Type: bus.TypeContextUpdate,
		From: AgentName,
		Payload: bus.ContextPayload{
			ItemID:   ci.ID,
			Content:  ci.Content,
			ThreadID: res.ThreadID,
			Related:  related,
			Tags:     ci.Tags,
		},
		Priority: priority,
	})
	if err != nil {
		return res, fmt.Errorf("publishing context update: %w", err)
	}
	return res, nil
}

// taskWorthy holds when there are at least two matches or any matched pair
// carries a high-importance tag.
func taskWorthy(item ContextItem, matches []Match) bool {
	if len(matches) >= 2 {
		return true
	}
	if len(matches) == 0 {
		return false
	}
	return hasHighImportance(item.Tags) || hasHighImportance(matches[0].Item.Tags)
}

func hasHighImportance(tags activity.TagSet) bool {
	for t := range tags {
		if t.HighImportance() {
			return true
		}
	}
	return false
}

// thread files item into a matching thread or starts a new one and
// returns the thread id.
func (c *Correlator) thread(item ContextItem) string {
	platform := item.Source.Platform()
	ident := Identifier(item.Source)
	people := participantsOf(item)
	at := item.Timestamp
	if at.IsZero() {
		at = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(at)

	var best *thread
	for _, t := range c.threads {
		if t.Platform != platform {
			continue
		}
		var ok bool
		switch {
		case ident != "" && t.Identifier != "":
			ok = ident == t.Identifier
		default:
			ok = t.shares(people)
		}
		if ok && (best == nil || t.LastUpdated.After(best.LastUpdated)) {
			best = t
		}
	}
	if best == nil {
		if len(c.threads) >= c.cfg.MaxThreads {
			c.evictOldestLocked(len(c.threads) - c.cfg.MaxThreads + 1)
		}
		best = &thread{
			Thread: Thread{
				ID:         uuid.New().String(),
				Identifier: ident,
				Platform:   platform,
				CreatedAt:  at,
			},
			people: make(map[string]struct{}),
		}
		c.threads[best.ID] = best
	}
	best.addParticipants(people)
	best.Messages = append(best.Messages, ThreadMessage{
		ItemID:    item.ID,
		Content:   activity.Truncate(item.Content, 500),
		Author:    authorOf(item.Source),
		Timestamp: at,
	})
	if n := len(best.Messages) - c.cfg.MaxThreadMessages; n > 0 {
		for _, m := range best.Messages[:n] {
			delete(c.byItem, m.ItemID)
		}
		best.Messages = append([]ThreadMessage(nil), best.Messages[n:]...)
	}
	if at.After(best.LastUpdated) {
		best.LastUpdated = at
	}
	c.byItem[item.ID] = best.ID
	return best.ID
}

// AttachCommitment records commitmentID on the thread holding itemID. It
// reports false when the item is in no thread.
func (c *Correlator) AttachCommitment(itemID, commitmentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.threads[c.byItem[itemID]]
	if !ok || !t.hasItem(itemID) {
		return false
	}
	for _, id := range t.CommitmentIDs {
		if id == commitmentID {
			return true
		}
	}
	t.CommitmentIDs = append(t.CommitmentIDs, commitmentID)
	return true
}

// Thread returns a copy of the thread with id.
func (c *Correlator) Thread(id string) (Thread, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.threads[id]
	if !ok {
		return Thread{}, false
	}
	return t.snapshot(), true
}

// Threads returns copies of all live threads, most recently updated first.
func (c *Correlator) Threads() []Thread {
	c.mu.Lock()
	out := make([]Thread, 0, len(c.threads))
	for _, t := range c.threads {
		out = append(out, t.snapshot())
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastUpdated.After(out[j].LastUpdated)
	})
	return out
}

// Recent returns up to n window items, newest first. n <= 0 returns the
// whole window.
func (c *Correlator) Recent(n int) []ContextItem {
	values := c.window.Values()
	out := make([]ContextItem, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		out = append(out, values[i])
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}

// Since returns window items stamped strictly after t, oldest first.
func (c *Correlator) Since(t time.Time) []ContextItem {
	var out []ContextItem
	for _, v := range c.window.Values() {
		if v.Timestamp.After(t) {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Get returns the window item with id.
func (c *Correlator) Get(id string) (ContextItem, bool) {
	return c.window.Peek(id)
}

// Purge drops threads idle longer than the retention window, then the
// oldest threads beyond the configured maximum. It returns how many were
// removed.
func (c *Correlator) Purge(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeLocked(now)
}

func (c *Correlator) purgeLocked(now time.Time) int {
	removed := 0
	cutoff := now.Add(-c.cfg.ThreadRetention)
	for id, t := range c.threads {
		if t.LastUpdated.Before(cutoff) {
			c.dropLocked(id)
			removed++
		}
	}
	if over := len(c.threads) - c.cfg.MaxThreads; over > 0 {
		removed += c.evictOldestLocked(over)
	}
	if removed > 0 {
		c.logger.Debug("threads purged", zap.Int("count", removed))
	}
	return removed
}

func (c *Correlator) evictOldestLocked(n int) int {
	all := make([]*thread, 0, len(c.threads))
	for _, t := range c.threads {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastUpdated.Before(all[j].LastUpdated) })
	if n > len(all) {
		n = len(all)
	}
	for _, t := range all[:n] {
		c.dropLocked(t.ID)
	}
	return n
}

func (c *Correlator) dropLocked(id string) {
	t, ok := c.threads[id]
	if !ok {
		return
	}
	for _, m := range t.Messages {
		if c.byItem[m.ItemID] == id {
			delete(c.byItem, m.ItemID)
		}
	}
	delete(c.threads, id)
}
