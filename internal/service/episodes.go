package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ThatHunky/gryag-sub000/internal/background"
	"github.com/ThatHunky/gryag-sub000/internal/config"
	"github.com/ThatHunky/gryag-sub000/internal/db"
	"github.com/ThatHunky/gryag-sub000/internal/llm"
	"github.com/ThatHunky/gryag-sub000/internal/metrics"
	"github.com/ThatHunky/gryag-sub000/internal/models"
	"github.com/ThatHunky/gryag-sub000/internal/search"
	"github.com/google/uuid"
)

// EpisodeStore is the persistence surface the episode manager needs.
type EpisodeStore interface {
	CreateEpisode(ctx context.Context, e models.Episode) error
	EpisodeCandidates(ctx context.Context, conversationID string, embedding []float32, participantID *string, minImportance float64, limit int) ([]db.ScoredEpisode, error)
	BumpEpisodeAccess(ctx context.Context, id string) error
	ArchiveStaleEpisodes(ctx context.Context, staleDays int, maxImportance float64) (int, error)
}

// Summarizer condenses turn windows into episode summaries.
type Summarizer interface {
	Summarize(ctx context.Context, turns []models.Turn) (*llm.EpisodeSummary, error)
}

// Topic-shift markers in the two conversation languages. Any match is a
// boundary signal on its own.
var (
	topicMarkersEN = regexp.MustCompile(`(?i)\b(by the way|btw|anyway|speaking of|changing (the )?subject|on another note|new topic|unrelated)\b`)
	topicMarkersUA = regexp.MustCompile(`(?i)(до речі|між іншим|коротше|тим часом|зміню(ю|ємо) тему|інша тема|нова тема|поговорімо про|а ще таке)`)
)

// Boundary signal weights and decision threshold.
const (
	semanticSignalWeight = 0.4
	temporalSignalWeight = 0.35
	markerSignalWeight   = 0.25
	boundaryThreshold    = 0.5

	// Importance component weights.
	lengthWeight    = 0.4
	diversityWeight = 0.25
	assistantWeight = 0.2
	questionWeight  = 0.15
)

// BoundarySignals is the per-signal breakdown of a boundary decision.
type BoundarySignals struct {
	Semantic float64
	Temporal float64
	Marker   float64
	Score    float64
	Boundary bool
}

// window accumulates the open turn span of one conversation.
type window struct {
	turns []models.Turn
}

// EpisodeManager watches conversation flow, closes topic spans at
// detected boundaries, and persists the significant ones as episodes.
type EpisodeManager struct {
	store      EpisodeStore
	summarizer Summarizer
	embedder   Embedder
	queue      *background.Queue
	metrics    *metrics.Collector

	similarityThreshold float64
	gap                 time.Duration
	minTurns            int
	minImportance       float64

	mu      sync.Mutex
	windows map[string]*window

	now func() time.Time
}

// NewEpisodeManager creates an episode manager from configuration.
func NewEpisodeManager(store EpisodeStore, summarizer Summarizer, embedder Embedder, queue *background.Queue, collector *metrics.Collector, cfg config.Config) *EpisodeManager {
	return &EpisodeManager{
		store:               store,
		summarizer:          summarizer,
		embedder:            embedder,
		queue:               queue,
		metrics:             collector,
		similarityThreshold: cfg.EpisodeSimilarityThreshold,
		gap:                 time.Duration(cfg.EpisodeGapSeconds) * time.Second,
		minTurns:            cfg.EpisodeMinTurns,
		minImportance:       cfg.EpisodeMinImportance,
		windows:             make(map[string]*window),
		now:                 time.Now,
	}
}

func windowKey(conversationID string, threadID *string) string {
	if threadID == nil {
		return conversationID
	}
	return conversationID + "/" + *threadID
}

// TrackTurn feeds one turn into boundary detection. When the turn opens
// a new topic span, the closed window is evaluated and, if significant,
// persisted as an episode. Returns the created episode or nil.
func (m *EpisodeManager) TrackTurn(ctx context.Context, t models.Turn) (*models.Episode, error) {
	key := windowKey(t.ConversationID, t.ThreadID)

	m.mu.Lock()
	w, ok := m.windows[key]
	if !ok {
		m.windows[key] = &window{turns: []models.Turn{t}}
		m.mu.Unlock()
		return nil, nil
	}

	signals := m.detectBoundary(w.turns, t)
	if !signals.Boundary {
		w.turns = append(w.turns, t)
		m.mu.Unlock()
		return nil, nil
	}

	closed := w.turns
	m.windows[key] = &window{turns: []models.Turn{t}}
	m.mu.Unlock()

	slog.Debug("episode boundary detected",
		"conversation", t.ConversationID,
		"score", signals.Score,
		"semantic", signals.Semantic,
		"temporal", signals.Temporal,
		"marker", signals.Marker,
		"window_len", len(closed))

	return m.maybeCreateEpisode(ctx, closed)
}

// Flush closes the open window of a conversation unconditionally,
// evaluating it for episode creation. Used at shutdown and by the
// periodic sweep for long-idle conversations.
func (m *EpisodeManager) Flush(ctx context.Context, conversationID string, threadID *string) (*models.Episode, error) {
	key := windowKey(conversationID, threadID)

	m.mu.Lock()
	w, ok := m.windows[key]
	if !ok {
		m.mu.Unlock()
		return nil, nil
	}
	closed := w.turns
	delete(m.windows, key)
	m.mu.Unlock()

	return m.maybeCreateEpisode(ctx, closed)
}

// FlushIdle closes every window whose newest turn is older than maxIdle
// and evaluates each for episode creation. Returns the number of
// episodes created.
func (m *EpisodeManager) FlushIdle(ctx context.Context, maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)

	m.mu.Lock()
	var closed [][]models.Turn
	for key, w := range m.windows {
		last := w.turns[len(w.turns)-1]
		if last.Timestamp.Before(cutoff) {
			closed = append(closed, w.turns)
			delete(m.windows, key)
		}
	}
	m.mu.Unlock()

	created := 0
	for _, turns := range closed {
		ep, err := m.maybeCreateEpisode(ctx, turns)
		if err != nil {
			slog.Warn("idle window flush failed", "conversation", turns[0].ConversationID, "error", err)
			continue
		}
		if ep != nil {
			created++
		}
	}
	return created
}

// detectBoundary blends three signals: semantic drift from the window,
// dead time since the last turn, and explicit topic-shift phrasing.
// Agreement between signal kinds amplifies the score.
func (m *EpisodeManager) detectBoundary(windowTurns []models.Turn, next models.Turn) BoundarySignals {
	var s BoundarySignals

	if sim, ok := windowSimilarity(windowTurns, next); ok && sim < m.similarityThreshold {
		s.Semantic = 1 - sim
	}

	last := windowTurns[len(windowTurns)-1]
	if gap := next.Timestamp.Sub(last.Timestamp); gap > m.gap {
		// Saturates at twice the configured gap.
		s.Temporal = math.Min(1, float64(gap)/float64(2*m.gap))
	}

	if topicMarkersEN.MatchString(next.Text) || topicMarkersUA.MatchString(next.Text) {
		s.Marker = 1
	}

	s.Score = s.Semantic*semanticSignalWeight +
		s.Temporal*temporalSignalWeight +
		s.Marker*markerSignalWeight

	kinds := 0
	for _, v := range []float64{s.Semantic, s.Temporal, s.Marker} {
		if v > 0 {
			kinds++
		}
	}
	if kinds >= 2 {
		s.Score *= 1.2
	}
	if kinds == 3 {
		s.Score *= 1.1
	}

	s.Boundary = s.Score >= boundaryThreshold
	return s
}

// windowSimilarity is the mean cosine similarity between the next turn
// and the window turns that have embeddings.
func windowSimilarity(windowTurns []models.Turn, next models.Turn) (float64, bool) {
	if len(next.Embedding) == 0 {
		return 0, false
	}
	var total float64
	var n int
	for _, t := range windowTurns {
		if len(t.Embedding) == 0 {
			continue
		}
		total += search.CosineSimilarity(next.Embedding, t.Embedding)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return total / float64(n), true
}

// maybeCreateEpisode persists a closed window when it clears both the
// size and importance gates.
func (m *EpisodeManager) maybeCreateEpisode(ctx context.Context, turns []models.Turn) (*models.Episode, error) {
	if len(turns) < m.minTurns {
		return nil, nil
	}
	importance := WindowImportance(turns)
	if importance < m.minImportance {
		return nil, nil
	}

	summary := m.summarize(ctx, turns)

	var embedding []float32
	if vec, err := m.embedder.Embed(ctx, summary.Summary); err != nil {
		slog.Warn("episode embedding failed, storing without vector", "error", err)
	} else {
		embedding = vec
	}

	participants := make([]string, 0, 4)
	seen := make(map[string]struct{})
	turnIDs := make([]string, len(turns))
	var threadID *string
	for i, t := range turns {
		turnIDs[i] = t.ID
		threadID = t.ThreadID
		if _, ok := seen[t.ActorID]; !ok {
			seen[t.ActorID] = struct{}{}
			participants = append(participants, t.ActorID)
		}
	}

	e := models.Episode{
		ID:             uuid.NewString(),
		ConversationID: turns[0].ConversationID,
		ThreadID:       threadID,
		ParticipantIDs: participants,
		Topic:          summary.Topic,
		Summary:        summary.Summary,
		Embedding:      embedding,
		Importance:     importance,
		Emotion:        summary.Emotion,
		TurnIDs:        turnIDs,
		Tags:           summary.Tags,
		CreatedAt:      m.now(),
	}
	if err := m.store.CreateEpisode(ctx, e); err != nil {
		return nil, fmt.Errorf("create episode: %w", err)
	}

	slog.Info("episode created",
		"conversation", e.ConversationID,
		"topic", e.Topic,
		"turns", len(turnIDs),
		"importance", importance)
	return &e, nil
}

// summarize runs the LLM summarizer with a deterministic fallback so
// episode creation never depends on model availability.
func (m *EpisodeManager) summarize(ctx context.Context, turns []models.Turn) llm.EpisodeSummary {
	start := m.now()
	if m.summarizer != nil {
		if s, err := m.summarizer.Summarize(ctx, turns); err == nil {
			if m.metrics != nil {
				m.metrics.RecordTiming(metrics.OpSummarize, time.Since(start))
			}
			return *s
		} else {
			slog.Warn("episode summarization failed, using fallback", "error", err)
		}
	}
	return fallbackSummary(turns)
}

// fallbackSummary derives a crude topic and summary from the window
// text itself.
func fallbackSummary(turns []models.Turn) llm.EpisodeSummary {
	keywords := search.ExtractKeywords(turns[0].Text)
	if len(keywords) > 5 {
		keywords = keywords[:5]
	}
	topic := strings.Join(keywords, " ")
	if topic == "" {
		topic = "conversation"
	}

	first := excerpt(turns[0].Text, 120)
	last := excerpt(turns[len(turns)-1].Text, 120)
	return llm.EpisodeSummary{
		Topic:   topic,
		Summary: fmt.Sprintf("%d turns starting with %q and ending with %q", len(turns), first, last),
		Tags:    keywords,
		Emotion: models.EmotionNeutral,
	}
}

func excerpt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

// WindowImportance blends four signals of how memorable a window is:
// its length, participant diversity, assistant involvement, and
// question density. All components are in [0,1].
func WindowImportance(turns []models.Turn) float64 {
	if len(turns) == 0 {
		return 0
	}

	lengthFactor := math.Min(1, float64(len(turns))/20)

	actors := make(map[string]struct{})
	assistantTurns := 0
	questions := 0
	for _, t := range turns {
		actors[t.ActorID] = struct{}{}
		if t.Role == models.RoleAssistant {
			assistantTurns++
		}
		if strings.ContainsAny(t.Text, "?") {
			questions++
		}
	}

	diversity := math.Min(1, float64(len(actors))/4)
	assistant := math.Min(1, float64(assistantTurns)/3)
	questionDensity := float64(questions) / float64(len(turns))

	return lengthFactor*lengthWeight +
		diversity*diversityWeight +
		assistant*assistantWeight +
		questionDensity*questionWeight
}

// Relevant retrieves the episodes most relevant to a query embedding:
// 0.6 similarity + 0.3 tag overlap + 0.1 importance. Access counters
// are bumped off the request path.
func (m *EpisodeManager) Relevant(ctx context.Context, conversationID, query string, queryEmbedding []float32, participantID *string, limit int) ([]models.Episode, error) {
	candidates, err := m.store.EpisodeCandidates(ctx, conversationID, queryEmbedding, participantID, m.minImportance, limit*4)
	if err != nil {
		return nil, fmt.Errorf("episode candidates: %w", err)
	}
	if len(candidates) == 0 {
		return []models.Episode{}, nil
	}

	keywords := search.ExtractKeywords(query)
	type ranked struct {
		episode models.Episode
		score   float64
	}
	rankedEpisodes := make([]ranked, 0, len(candidates))
	for _, c := range candidates {
		score := 0.6*c.Similarity +
			0.3*tagOverlap(keywords, c.Tags) +
			0.1*c.Importance
		rankedEpisodes = append(rankedEpisodes, ranked{episode: c.Episode, score: score})
	}

	sort.SliceStable(rankedEpisodes, func(i, j int) bool {
		return rankedEpisodes[i].score > rankedEpisodes[j].score
	})
	if len(rankedEpisodes) > limit {
		rankedEpisodes = rankedEpisodes[:limit]
	}

	out := make([]models.Episode, len(rankedEpisodes))
	for i, r := range rankedEpisodes {
		out[i] = r.episode
		id := r.episode.ID
		if m.queue != nil {
			m.queue.Submit(background.Task{
				Name:     "episode-access-bump",
				Priority: background.PriorityLow,
				Run: func(taskCtx context.Context) {
					if err := m.store.BumpEpisodeAccess(taskCtx, id); err != nil {
						slog.Warn("episode access bump failed", "id", id, "error", err)
					}
				},
			})
		}
	}
	return out, nil
}

// tagOverlap is the fraction of episode tags present in the query
// keywords.
func tagOverlap(keywords, tags []string) float64 {
	if len(tags) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		set[strings.ToLower(k)] = struct{}{}
	}
	matched := 0
	for _, t := range tags {
		if _, ok := set[strings.ToLower(t)]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(tags))
}

// Sweep archives stale low-importance episodes. Returns the count
// archived.
func (m *EpisodeManager) Sweep(ctx context.Context, staleDays int, maxImportance float64) (int, error) {
	n, err := m.store.ArchiveStaleEpisodes(ctx, staleDays, maxImportance)
	if err != nil {
		return 0, fmt.Errorf("episode sweep: %w", err)
	}
	if n > 0 {
		slog.Info("archived stale episodes", "count", n)
	}
	return n, nil
}
