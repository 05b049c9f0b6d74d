package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ThatHunky/gryag-sub000/internal/config"
	"github.com/ThatHunky/gryag-sub000/internal/models"
	"github.com/ThatHunky/gryag-sub000/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	turns []models.Turn
	err   error
	delay time.Duration
}

func (f *fakeHistory) RecentTurns(ctx context.Context, conversationID string, threadID *string, limit int) ([]models.Turn, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.turns) > limit {
		return f.turns[len(f.turns)-limit:], nil
	}
	return f.turns, nil
}

type fakeSearcher struct {
	results []models.SearchResult
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, conversationID, query string, limit int) ([]models.SearchResult, error) {
	return f.results, f.err
}

type fakeFacts struct {
	byScope map[models.Scope][]models.Assertion
	errFor  map[models.Scope]error
	err     error
}

func (f *fakeFacts) TopFacts(ctx context.Context, subjectID string, scope models.Scope, limit int) ([]models.Assertion, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := f.errFor[scope]; err != nil {
		return nil, err
	}
	return f.byScope[scope], nil
}

type fakeEpisodes struct {
	episodes []models.Episode
	err      error
}

func (f *fakeEpisodes) Relevant(ctx context.Context, conversationID, query string, queryEmbedding []float32, participantID *string, limit int) ([]models.Episode, error) {
	return f.episodes, f.err
}

func assemblerConfig() config.Config {
	return config.Config{
		TokenBudget:     1000,
		ImmediateShare:  0.20,
		RecentShare:     0.30,
		RelevantShare:   0.25,
		BackgroundShare: 0.15,
		EpisodicShare:   0.10,
		ActorFactShare:  0.60,
		ImmediateSize:   5,
		RecentSize:      30,
		LayerTimeout:    100 * time.Millisecond,
		MediaTokenCost:  256,
	}
}

func historyTurns(n int, wordsPerTurn int) []models.Turn {
	base := time.Now().Add(-time.Duration(n) * time.Minute)
	turns := make([]models.Turn, n)
	for i := range turns {
		turns[i] = models.Turn{
			ID:             fmt.Sprintf("h-%d", i),
			ConversationID: "conv-1",
			ActorID:        "alice",
			Role:           models.RoleUser,
			Text:           strings.Repeat("word ", wordsPerTurn),
			Timestamp:      base.Add(time.Duration(i) * time.Minute),
		}
	}
	return turns
}

func newTestAssembler(h HistoryStore, s Searcher, f FactProvider, e EpisodeProvider, cfg config.Config) *Assembler {
	return NewAssembler(h, s, f, e, &stubEmbedder{}, nil, tokens.NewHeuristic(cfg.MediaTokenCost), nil, cfg)
}

func emptyDeps() (*fakeSearcher, *fakeFacts, *fakeEpisodes) {
	return &fakeSearcher{}, &fakeFacts{}, &fakeEpisodes{}
}

func TestAssembleStaysWithinBudget(t *testing.T) {
	// Far more content than the budget allows on every layer.
	history := &fakeHistory{turns: historyTurns(40, 50)}
	searcher := &fakeSearcher{}
	for i := 0; i < 10; i++ {
		searcher.results = append(searcher.results, models.SearchResult{
			Turn:       historyTurns(1, 60)[0],
			FinalScore: 1.0 - float64(i)*0.05,
		})
	}
	facts := &fakeFacts{byScope: map[models.Scope][]models.Assertion{}}
	for i := 0; i < 20; i++ {
		a := models.Assertion{
			Key:   fmt.Sprintf("key-%d", i),
			Value: strings.Repeat("detail ", 10),
		}
		facts.byScope[models.ScopeUser] = append(facts.byScope[models.ScopeUser], a)
		facts.byScope[models.ScopeConversation] = append(facts.byScope[models.ScopeConversation], a)
	}
	episodes := &fakeEpisodes{episodes: []models.Episode{
		{ID: "e1", Topic: "deploy", Summary: strings.Repeat("summary ", 15)},
		{ID: "e2", Topic: "lunch", Summary: strings.Repeat("summary ", 15)},
		{ID: "e3", Topic: "trip", Summary: strings.Repeat("summary ", 15)},
	}}

	cfg := assemblerConfig()
	a := newTestAssembler(history, searcher, facts, episodes, cfg)

	lc, err := a.Assemble(context.Background(), BuildRequest{
		ConversationID: "conv-1", ActorID: "alice", Query: "what about the deploy",
	})
	require.NoError(t, err)

	// Hard budget invariant with the estimator's 10% tolerance.
	assert.LessOrEqual(t, lc.TotalTokens, int(float64(cfg.TokenBudget)*1.1))
	assert.LessOrEqual(t, lc.Immediate.Tokens, a.share(cfg.ImmediateShare))
	assert.LessOrEqual(t, lc.Recent.Tokens, a.share(cfg.RecentShare))
	assert.LessOrEqual(t, lc.Relevant.Tokens, a.share(cfg.RelevantShare))
	assert.LessOrEqual(t, lc.Background.Tokens, a.share(cfg.BackgroundShare))
	assert.LessOrEqual(t, lc.Episodic.Tokens, a.share(cfg.EpisodicShare))
	assert.Greater(t, lc.TotalTokens, 0)
	assert.Greater(t, lc.AssemblyTime, time.Duration(0))
}

func TestAssembleRecentDropsOldestFirst(t *testing.T) {
	history := &fakeHistory{turns: historyTurns(40, 2)}
	s, f, e := emptyDeps()
	a := newTestAssembler(history, s, f, e, assemblerConfig())

	lc, err := a.Assemble(context.Background(), BuildRequest{
		ConversationID: "conv-1", ActorID: "alice", Query: "q",
	})
	require.NoError(t, err)

	// Immediate holds the newest five turns.
	require.Len(t, lc.Immediate.Turns, 5)
	assert.Equal(t, "h-39", lc.Immediate.Turns[4].ID)
	assert.Equal(t, "h-35", lc.Immediate.Turns[0].ID)

	// Recent holds the 30 turns before the immediate window, with no
	// overlap and oldest turns dropped.
	require.Len(t, lc.Recent.Turns, 30)
	assert.Equal(t, "h-5", lc.Recent.Turns[0].ID)
	assert.Equal(t, "h-34", lc.Recent.Turns[29].ID)
	for _, rt := range lc.Recent.Turns {
		for _, it := range lc.Immediate.Turns {
			assert.NotEqual(t, it.ID, rt.ID)
		}
	}
}

func TestAssembleRelevantExcludesHistoryTurns(t *testing.T) {
	history := &fakeHistory{turns: historyTurns(10, 2)}
	// h-9 lands in the immediate window and h-2 in the recent window;
	// search returning either must not duplicate them into relevant.
	archived := models.Turn{
		ID:             "old-1",
		ConversationID: "conv-1",
		ActorID:        "bob",
		Role:           models.RoleUser,
		Text:           "the deploy broke last month",
		Timestamp:      time.Now().Add(-30 * 24 * time.Hour),
	}
	searcher := &fakeSearcher{results: []models.SearchResult{
		{Turn: history.turns[9], FinalScore: 0.95},
		{Turn: archived, FinalScore: 0.90},
		{Turn: history.turns[2], FinalScore: 0.85},
	}}
	_, f, e := emptyDeps()
	a := newTestAssembler(history, searcher, f, e, assemblerConfig())

	lc, err := a.Assemble(context.Background(), BuildRequest{
		ConversationID: "conv-1", ActorID: "alice", Query: "deploy",
	})
	require.NoError(t, err)

	require.Len(t, lc.Relevant.Results, 1)
	assert.Equal(t, "old-1", lc.Relevant.Results[0].Turn.ID)
}

func TestAssembleBackgroundKeepsHealthyFactScope(t *testing.T) {
	history := &fakeHistory{turns: historyTurns(5, 2)}
	facts := &fakeFacts{
		byScope: map[models.Scope][]models.Assertion{
			models.ScopeUser: {{Key: "city", Value: "Kyiv"}},
		},
		errFor: map[models.Scope]error{
			models.ScopeConversation: errors.New("conversation facts unavailable"),
		},
	}
	s, _, e := emptyDeps()
	a := newTestAssembler(history, s, facts, e, assemblerConfig())

	lc, err := a.Assemble(context.Background(), BuildRequest{
		ConversationID: "conv-1", ActorID: "alice", Query: "q",
	})
	require.NoError(t, err)

	// One failing fact source leaves the other scope's half intact.
	require.Len(t, lc.Background.ActorFacts, 1)
	assert.Equal(t, "city", lc.Background.ActorFacts[0].Key)
	assert.Empty(t, lc.Background.ConversationFacts)
}

func TestAssembleFailedLayerDegradesToEmpty(t *testing.T) {
	history := &fakeHistory{turns: historyTurns(10, 2)}
	searcher := &fakeSearcher{err: errors.New("search index down")}
	facts := &fakeFacts{err: errors.New("fact store down")}
	episodes := &fakeEpisodes{err: errors.New("episode store down")}
	a := newTestAssembler(history, searcher, facts, episodes, assemblerConfig())

	lc, err := a.Assemble(context.Background(), BuildRequest{
		ConversationID: "conv-1", ActorID: "alice", Query: "q",
	})
	require.NoError(t, err)

	assert.Empty(t, lc.Relevant.Results)
	assert.Empty(t, lc.Background.ActorFacts)
	assert.Empty(t, lc.Background.ConversationFacts)
	assert.Empty(t, lc.Episodic.Episodes)
	// The healthy layers still arrive.
	assert.NotEmpty(t, lc.Immediate.Turns)
	assert.NotEmpty(t, lc.Recent.Turns)
}

func TestAssembleSlowLayerTimesOut(t *testing.T) {
	cfg := assemblerConfig()
	cfg.LayerTimeout = 30 * time.Millisecond
	history := &fakeHistory{turns: historyTurns(10, 2), delay: 200 * time.Millisecond}
	s, f, e := emptyDeps()
	e.episodes = []models.Episode{{ID: "e1", Topic: "t", Summary: "s"}}
	a := newTestAssembler(history, s, f, e, cfg)

	start := time.Now()
	lc, err := a.Assemble(context.Background(), BuildRequest{
		ConversationID: "conv-1", ActorID: "alice", Query: "q",
	})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.Empty(t, lc.Immediate.Turns)
	assert.Empty(t, lc.Recent.Turns)
	assert.Len(t, lc.Episodic.Episodes, 1)
}

func TestFormatIsPureAndOrdered(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	lc := &models.LayeredContext{
		Immediate: models.TurnLayer{Turns: []models.Turn{
			{ID: "i-1", ActorID: "alice", Role: models.RoleUser, Text: "newest message", Timestamp: now},
		}},
		Recent: models.TurnLayer{Turns: []models.Turn{
			{ID: "r-1", ActorID: "bob", Role: models.RoleUser, Text: "older message", Timestamp: now.Add(-time.Hour)},
		}},
		Relevant: models.RelevantLayer{Results: []models.SearchResult{
			{Turn: models.Turn{ActorID: "carol", Text: "the deploy broke", Timestamp: now.Add(-48 * time.Hour)}},
		}},
		Background: models.BackgroundLayer{
			ActorFacts:        []models.Assertion{{Key: "city", Value: "Kyiv"}},
			ConversationFacts: []models.Assertion{{Key: "chat-rule", Value: "no spoilers"}},
		},
		Episodic: models.EpisodicLayer{Episodes: []models.Episode{
			{Topic: "release", Summary: "shipped v2 after a rough week"},
		}},
	}
	estimator := tokens.NewHeuristic(256)

	first := Format(lc, estimator)
	second := Format(lc, estimator)
	assert.Equal(t, first, second)

	// History is recent then immediate, chronological.
	require.Len(t, first.History, 2)
	assert.Equal(t, "r-1", first.History[0].ID)
	assert.Equal(t, "i-1", first.History[1].ID)

	// System context keeps a fixed section order.
	sc := first.SystemContext
	relevantIdx := strings.Index(sc, "Relevant earlier messages:")
	userIdx := strings.Index(sc, "Known about this user:")
	chatIdx := strings.Index(sc, "Known about this chat:")
	episodeIdx := strings.Index(sc, "Past episodes:")
	require.True(t, relevantIdx >= 0 && userIdx >= 0 && chatIdx >= 0 && episodeIdx >= 0)
	assert.Less(t, relevantIdx, userIdx)
	assert.Less(t, userIdx, chatIdx)
	assert.Less(t, chatIdx, episodeIdx)

	assert.Contains(t, sc, "city: Kyiv")
	assert.Contains(t, sc, "chat-rule: no spoilers")
	assert.Contains(t, sc, "release: shipped v2 after a rough week")
	assert.Contains(t, sc, "2026-08-18")
	assert.Greater(t, first.TokenCount, 0)
}

func TestFormatEmptyLayers(t *testing.T) {
	lc := &models.LayeredContext{}
	got := Format(lc, tokens.NewHeuristic(256))
	assert.Empty(t, got.History)
	assert.Empty(t, got.SystemContext)
	assert.Zero(t, got.TokenCount)
}
