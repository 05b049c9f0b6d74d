package search

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ThatHunky/gryag-sub000/internal/background"
	"github.com/ThatHunky/gryag-sub000/internal/cache"
	"github.com/ThatHunky/gryag-sub000/internal/config"
	"github.com/ThatHunky/gryag-sub000/internal/db"
	"github.com/ThatHunky/gryag-sub000/internal/metrics"
	"github.com/ThatHunky/gryag-sub000/internal/models"
)

// TurnStore is the history access the engine needs.
type TurnStore interface {
	SemanticCandidates(ctx context.Context, conversationID string, embedding []float32, limit int) ([]db.ScoredTurn, error)
	KeywordCandidates(ctx context.Context, conversationID, query string, limit int) ([]models.Turn, error)
	ActorMessageCounts(ctx context.Context, conversationID string) ([]db.ActorCount, error)
	BumpTurnAccess(ctx context.Context, ids []string) error
}

// Embedder produces query embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Engine ranks conversation turns against a query by blending semantic
// similarity, keyword match, recency, and actor importance.
type Engine struct {
	store    TurnStore
	embedder Embedder
	weights  *cache.WeightCache
	metrics  *metrics.Collector
	queue    *background.Queue

	semanticWeight   float64
	keywordWeight    float64
	temporalWeight   float64
	temporalHalfLife float64
	addressedBoost   float64
	maxCandidates    int

	now func() time.Time
}

// NewEngine creates a search engine from configuration. The queue is
// optional; without it access counts are not bumped.
func NewEngine(store TurnStore, embedder Embedder, weights *cache.WeightCache, queue *background.Queue, collector *metrics.Collector, cfg config.Config) *Engine {
	return &Engine{
		store:            store,
		embedder:         embedder,
		weights:          weights,
		metrics:          collector,
		queue:            queue,
		semanticWeight:   cfg.SemanticWeight,
		keywordWeight:    cfg.KeywordWeight,
		temporalWeight:   cfg.TemporalWeight,
		temporalHalfLife: cfg.TemporalHalfLife,
		addressedBoost:   cfg.AddressedBoost,
		maxCandidates:    cfg.MaxSearchCandidates,
		now:              time.Now,
	}
}

// Search returns the top turns for a query, best first. Retrieval
// degrades rather than fails: a keyword-pass error falls back to
// semantic-only, an embedding error yields an empty result.
func (e *Engine) Search(ctx context.Context, conversationID, query string, limit int) ([]models.SearchResult, error) {
	start := e.now()
	defer func() {
		if e.metrics != nil {
			e.metrics.RecordTiming(metrics.OpSearch, time.Since(start))
		}
	}()

	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("query embedding failed, returning no results", "error", err)
		return []models.SearchResult{}, nil
	}

	candidateLimit := limit * 4
	if candidateLimit > e.maxCandidates {
		candidateLimit = e.maxCandidates
	}

	// The fulltext pass gets the keyword-reduced query: stop words and
	// index-breaking characters are already stripped.
	keywords := ExtractKeywords(query)
	keywordQuery := strings.Join(keywords, " ")

	var (
		wg          sync.WaitGroup
		semantic    []db.ScoredTurn
		semanticErr error
		keyword     []models.Turn
		keywordErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		semantic, semanticErr = e.store.SemanticCandidates(ctx, conversationID, embedding, candidateLimit)
	}()
	go func() {
		defer wg.Done()
		if keywordQuery == "" {
			return
		}
		keyword, keywordErr = e.store.KeywordCandidates(ctx, conversationID, keywordQuery, candidateLimit)
	}()
	wg.Wait()

	if semanticErr != nil {
		slog.Warn("semantic pass failed", "conversation", conversationID, "error", semanticErr)
	}
	if keywordErr != nil {
		slog.Warn("keyword pass failed, using semantic only", "conversation", conversationID, "error", keywordErr)
		keyword = nil
	}
	if semanticErr != nil && keywordErr != nil {
		return []models.SearchResult{}, nil
	}

	// Merge by turn id; a turn found by both passes keeps both signals.
	merged := make(map[string]*models.SearchResult, len(semantic)+len(keyword))
	order := make([]string, 0, len(semantic)+len(keyword))
	for _, st := range semantic {
		merged[st.ID] = &models.SearchResult{Turn: st.Turn, SemanticScore: st.Similarity}
		order = append(order, st.ID)
	}
	for rank, t := range keyword {
		score := KeywordRankScore(rank)
		if r, ok := merged[t.ID]; ok {
			r.KeywordScore = score
		} else {
			merged[t.ID] = &models.SearchResult{Turn: t, KeywordScore: score}
			order = append(order, t.ID)
		}
	}

	actorWeights := e.actorWeights(ctx, conversationID)
	now := e.now()

	results := make([]models.SearchResult, 0, len(merged))
	for _, id := range order {
		r := merged[id]
		r.TemporalFactor = TemporalFactor(now.Sub(r.Turn.Timestamp), e.temporalHalfLife)
		r.ImportanceFactor = actorWeights[r.Turn.ActorID]
		if r.ImportanceFactor == 0 {
			r.ImportanceFactor = 1.0
		}
		r.TypeBoost = 1.0
		if r.Turn.Addressed {
			r.TypeBoost = e.addressedBoost
		}
		r.MatchedKeywords = MatchedKeywords(r.Turn.Text, keywords)

		base := BaseScore(r.SemanticScore, r.KeywordScore, e.semanticWeight, e.keywordWeight)
		r.FinalScore = base *
			math.Pow(r.TemporalFactor, e.temporalWeight) *
			r.ImportanceFactor *
			r.TypeBoost

		results = append(results, *r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].FinalScore > results[j].FinalScore
	})
	if len(results) > limit {
		results = results[:limit]
	}

	if e.queue != nil && len(results) > 0 {
		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.Turn.ID
		}
		e.queue.Submit(background.Task{
			Name:     "turn-access-bump",
			Priority: background.PriorityLow,
			Run: func(taskCtx context.Context) {
				if err := e.store.BumpTurnAccess(taskCtx, ids); err != nil {
					slog.Warn("turn access bump failed", "error", err)
				}
			},
		})
	}

	return results, nil
}

// actorWeights returns per-actor importance factors for a conversation:
// 1.0 + count/maxCount, so the most active actor weighs 2.0 and rare
// actors stay near 1.0. Cached per conversation.
func (e *Engine) actorWeights(ctx context.Context, conversationID string) map[string]float64 {
	if e.weights != nil {
		if cached := e.weights.Get(conversationID); cached != nil {
			return cached
		}
	}

	counts, err := e.store.ActorMessageCounts(ctx, conversationID)
	if err != nil {
		slog.Warn("actor counts failed, using neutral weights", "conversation", conversationID, "error", err)
		return nil
	}

	maxCount := 0
	for _, c := range counts {
		if c.Count > maxCount {
			maxCount = c.Count
		}
	}
	if maxCount == 0 {
		return nil
	}

	weights := make(map[string]float64, len(counts))
	for _, c := range counts {
		weights[c.ActorID] = 1.0 + float64(c.Count)/float64(maxCount)
	}
	if e.weights != nil {
		e.weights.Put(conversationID, weights)
	}
	return weights
}
