package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ThatHunky/gryag-sub000/internal/cache"
	"github.com/ThatHunky/gryag-sub000/internal/config"
	"github.com/ThatHunky/gryag-sub000/internal/metrics"
	"github.com/ThatHunky/gryag-sub000/internal/models"
	"github.com/ThatHunky/gryag-sub000/internal/tokens"
)

// HistoryStore reads conversation history for the turn layers.
type HistoryStore interface {
	RecentTurns(ctx context.Context, conversationID string, threadID *string, limit int) ([]models.Turn, error)
}

// Searcher runs hybrid retrieval for the relevant layer.
type Searcher interface {
	Search(ctx context.Context, conversationID, query string, limit int) ([]models.SearchResult, error)
}

// FactProvider supplies ranked facts for the background layer.
type FactProvider interface {
	TopFacts(ctx context.Context, subjectID string, scope models.Scope, limit int) ([]models.Assertion, error)
}

// EpisodeProvider supplies relevant episodes for the episodic layer.
type EpisodeProvider interface {
	Relevant(ctx context.Context, conversationID, query string, queryEmbedding []float32, participantID *string, limit int) ([]models.Episode, error)
}

// Layer fetch sizes before token trimming.
const (
	relevantFetchLimit = 10
	factFetchLimit     = 20
	episodicMaxCount   = 3
)

// BuildRequest identifies the conversation position a reply is being
// generated for.
type BuildRequest struct {
	ConversationID string
	ThreadID       *string
	ActorID        string
	Query          string
}

// Assembler builds layered generation context under a token budget.
// Layers are fetched in parallel with a per-layer timeout; a slow or
// failing layer degrades to empty rather than stalling the reply.
type Assembler struct {
	history   HistoryStore
	searcher  Searcher
	facts     FactProvider
	episodes  EpisodeProvider
	embedder  Embedder
	turnCache *cache.TurnCache
	estimator tokens.Estimator
	metrics   *metrics.Collector

	budget         int
	immediateShare float64
	recentShare    float64
	relevantShare  float64
	bgShare        float64
	episodicShare  float64
	actorFactShare float64
	immediateSize  int
	recentSize     int
	layerTimeout   time.Duration

	now func() time.Time
}

// NewAssembler creates a context assembler from configuration.
func NewAssembler(history HistoryStore, searcher Searcher, facts FactProvider, episodes EpisodeProvider, embedder Embedder, turnCache *cache.TurnCache, estimator tokens.Estimator, collector *metrics.Collector, cfg config.Config) *Assembler {
	return &Assembler{
		history:        history,
		searcher:       searcher,
		facts:          facts,
		episodes:       episodes,
		embedder:       embedder,
		turnCache:      turnCache,
		estimator:      estimator,
		metrics:        collector,
		budget:         cfg.TokenBudget,
		immediateShare: cfg.ImmediateShare,
		recentShare:    cfg.RecentShare,
		relevantShare:  cfg.RelevantShare,
		bgShare:        cfg.BackgroundShare,
		episodicShare:  cfg.EpisodicShare,
		actorFactShare: cfg.ActorFactShare,
		immediateSize:  cfg.ImmediateSize,
		recentSize:     cfg.RecentSize,
		layerTimeout:   cfg.LayerTimeout,
		now:            time.Now,
	}
}

// Assemble fetches all five layers and trims each to its budget share.
// The merge order is fixed regardless of fetch completion order.
func (a *Assembler) Assemble(ctx context.Context, req BuildRequest) (*models.LayeredContext, error) {
	start := a.now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordTiming(metrics.OpAssemble, time.Since(start))
		}
	}()

	var (
		wg        sync.WaitGroup
		immediate []models.Turn
		recent    []models.Turn
		relevant  []models.SearchResult
		actorF    []models.Assertion
		convF     []models.Assertion
		episodic  []models.Episode
	)

	run := func(name string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			layerCtx, cancel := context.WithTimeout(ctx, a.layerTimeout)
			defer cancel()
			if err := fn(layerCtx); err != nil {
				slog.Warn("context layer failed, continuing without it",
					"layer", name, "conversation", req.ConversationID, "error", err)
			}
		}()
	}

	run("immediate", func(ctx context.Context) error {
		turns, err := a.immediateTurns(ctx, req)
		if err != nil {
			return err
		}
		immediate = turns
		return nil
	})
	run("recent", func(ctx context.Context) error {
		turns, err := a.history.RecentTurns(ctx, req.ConversationID, req.ThreadID, a.immediateSize+a.recentSize)
		if err != nil {
			return err
		}
		recent = turns
		return nil
	})
	run("relevant", func(ctx context.Context) error {
		results, err := a.searcher.Search(ctx, req.ConversationID, req.Query, relevantFetchLimit)
		if err != nil {
			return err
		}
		relevant = results
		return nil
	})
	run("background", func(ctx context.Context) error {
		// Each fact scope degrades on its own; one failing source must
		// not empty the other's half of the layer.
		af, actorErr := a.facts.TopFacts(ctx, req.ActorID, models.ScopeUser, factFetchLimit)
		if actorErr == nil {
			actorF = af
		}
		cf, convErr := a.facts.TopFacts(ctx, req.ConversationID, models.ScopeConversation, factFetchLimit)
		if convErr == nil {
			convF = cf
		}
		return errors.Join(actorErr, convErr)
	})
	run("episodic", func(ctx context.Context) error {
		embedding, err := a.embedder.Embed(ctx, req.Query)
		if err != nil {
			return err
		}
		eps, err := a.episodes.Relevant(ctx, req.ConversationID, req.Query, embedding, &req.ActorID, episodicMaxCount)
		if err != nil {
			return err
		}
		episodic = eps
		return nil
	})
	wg.Wait()

	// Recent excludes the immediate window.
	recent = dropOverlap(recent, immediate)
	if len(recent) > a.recentSize {
		recent = recent[len(recent)-a.recentSize:]
	}

	lc := &models.LayeredContext{}
	lc.Immediate = a.trimTurnLayer(immediate, a.share(a.immediateShare))
	lc.Recent = a.trimTurnLayer(recent, a.share(a.recentShare))

	// The relevant layer excludes turns the history layers already carry.
	seen := make(map[string]struct{}, len(lc.Immediate.Turns)+len(lc.Recent.Turns))
	for _, t := range lc.Immediate.Turns {
		seen[t.ID] = struct{}{}
	}
	for _, t := range lc.Recent.Turns {
		seen[t.ID] = struct{}{}
	}
	fresh := make([]models.SearchResult, 0, len(relevant))
	for _, r := range relevant {
		if _, dup := seen[r.Turn.ID]; !dup {
			fresh = append(fresh, r)
		}
	}
	lc.Relevant = a.trimRelevantLayer(fresh, a.share(a.relevantShare))
	lc.Background = a.trimBackgroundLayer(actorF, convF, a.share(a.bgShare))
	lc.Episodic = a.trimEpisodicLayer(episodic, a.share(a.episodicShare))

	lc.TotalTokens = lc.Immediate.Tokens + lc.Recent.Tokens + lc.Relevant.Tokens +
		lc.Background.Tokens + lc.Episodic.Tokens
	lc.AssemblyTime = time.Since(start)
	return lc, nil
}

// immediateTurns serves the hot window from cache, falling back to the
// store and repopulating on miss.
func (a *Assembler) immediateTurns(ctx context.Context, req BuildRequest) ([]models.Turn, error) {
	if a.turnCache != nil {
		if cached := a.turnCache.Get(req.ConversationID, req.ThreadID); cached != nil {
			return cached, nil
		}
	}
	turns, err := a.history.RecentTurns(ctx, req.ConversationID, req.ThreadID, a.immediateSize)
	if err != nil {
		return nil, err
	}
	if a.turnCache != nil {
		a.turnCache.Put(req.ConversationID, req.ThreadID, turns)
	}
	return turns, nil
}

func (a *Assembler) share(s float64) int {
	return int(float64(a.budget) * s)
}

// trimTurnLayer keeps the newest turns that fit the layer budget,
// dropping oldest first.
func (a *Assembler) trimTurnLayer(turns []models.Turn, budget int) models.TurnLayer {
	total := 0
	cut := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := a.estimator.Turn(turns[i])
		if total+cost > budget {
			break
		}
		total += cost
		cut = i
	}
	kept := turns[cut:]
	if len(kept) == 0 {
		kept = []models.Turn{}
	}
	return models.TurnLayer{Turns: kept, Tokens: total}
}

// trimRelevantLayer keeps the highest-scored results that fit.
func (a *Assembler) trimRelevantLayer(results []models.SearchResult, budget int) models.RelevantLayer {
	total := 0
	kept := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		cost := a.estimator.Turn(r.Turn)
		if total+cost > budget {
			break
		}
		total += cost
		kept = append(kept, r)
	}
	return models.RelevantLayer{Results: kept, Tokens: total}
}

// trimBackgroundLayer splits the layer budget between actor and
// conversation facts, keeping the highest-ranked of each.
func (a *Assembler) trimBackgroundLayer(actorFacts, convFacts []models.Assertion, budget int) models.BackgroundLayer {
	actorBudget := int(float64(budget) * a.actorFactShare)
	convBudget := budget - actorBudget

	keep := func(facts []models.Assertion, budget int) ([]models.Assertion, int) {
		total := 0
		kept := make([]models.Assertion, 0, len(facts))
		for _, f := range facts {
			cost := tokens.Assertion(a.estimator, f)
			if total+cost > budget {
				break
			}
			total += cost
			kept = append(kept, f)
		}
		return kept, total
	}

	keptActor, actorTokens := keep(actorFacts, actorBudget)
	keptConv, convTokens := keep(convFacts, convBudget)
	return models.BackgroundLayer{
		ActorFacts:        keptActor,
		ConversationFacts: keptConv,
		Tokens:            actorTokens + convTokens,
	}
}

// trimEpisodicLayer keeps the best-ranked episodes that fit.
func (a *Assembler) trimEpisodicLayer(episodes []models.Episode, budget int) models.EpisodicLayer {
	total := 0
	kept := make([]models.Episode, 0, len(episodes))
	for _, e := range episodes {
		if len(kept) == episodicMaxCount {
			break
		}
		cost := a.estimator.Text(e.Topic) + a.estimator.Text(e.Summary)
		if total+cost > budget {
			break
		}
		total += cost
		kept = append(kept, e)
	}
	return models.EpisodicLayer{Episodes: kept, Tokens: total}
}

// dropOverlap removes turns already present in the immediate window.
func dropOverlap(turns, immediate []models.Turn) []models.Turn {
	if len(immediate) == 0 {
		return turns
	}
	seen := make(map[string]struct{}, len(immediate))
	for _, t := range immediate {
		seen[t.ID] = struct{}{}
	}
	out := make([]models.Turn, 0, len(turns))
	for _, t := range turns {
		if _, ok := seen[t.ID]; !ok {
			out = append(out, t)
		}
	}
	return out
}
