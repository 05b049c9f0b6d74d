// Package db integration tests run against a disposable SurrealDB
// container.
package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/ThatHunky/gryag-sub000/internal/models"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx, 384); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

// dummyEmbedding returns a 384-dim vector with a direction bias so
// similarity ordering is deterministic per seed.
func dummyEmbedding(seed int) []float32 {
	embedding := make([]float32, 384)
	for i := range embedding {
		embedding[i] = float32((i+seed)%384) / 384.0
	}
	return embedding
}

func testTurn(id, conversationID, actorID, text string, ts time.Time) models.Turn {
	return models.Turn{
		ID:             id,
		ConversationID: conversationID,
		ActorID:        actorID,
		Role:           models.RoleUser,
		Text:           text,
		Embedding:      dummyEmbedding(0),
		Timestamp:      ts,
	}
}

// =============================================================================
// TURN TESTS
// =============================================================================

func TestInsertAndGetTurn(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	thread := "thread-1"
	reply := "turn-parent"
	turn := models.Turn{
		ID:             "turn-get-1",
		ConversationID: "conv-get",
		ThreadID:       &thread,
		ActorID:        "alice",
		Role:           models.RoleUser,
		Text:           "привіт, як справи?",
		Media:          []models.Media{{Kind: "photo", Mime: "image/jpeg", URI: "file://x.jpg"}},
		Embedding:      dummyEmbedding(0),
		ReplyToID:      &reply,
		Addressed:      true,
		Timestamp:      now,
	}
	if err := testDB.InsertTurn(ctx, turn); err != nil {
		t.Fatalf("InsertTurn failed: %v", err)
	}

	got, err := testDB.GetTurn(ctx, "turn-get-1")
	if err != nil {
		t.Fatalf("GetTurn failed: %v", err)
	}
	if got.Text != turn.Text {
		t.Errorf("Text mismatch: got %q", got.Text)
	}
	if got.ThreadID == nil || *got.ThreadID != thread {
		t.Errorf("ThreadID mismatch: got %v", got.ThreadID)
	}
	if !got.Addressed {
		t.Error("Addressed flag lost")
	}
	if len(got.Media) != 1 || got.Media[0].Kind != "photo" {
		t.Errorf("Media mismatch: got %v", got.Media)
	}
	if len(got.Embedding) != 384 {
		t.Errorf("Embedding length mismatch: got %d", len(got.Embedding))
	}

	_, err = testDB.GetTurn(ctx, "does-not-exist")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRecentTurnsOrderAndThreadFilter(t *testing.T) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	thread := "topic-9"

	for i := 0; i < 6; i++ {
		turn := testTurn(fmt.Sprintf("turn-recent-%d", i), "conv-recent", "alice",
			fmt.Sprintf("message %d", i), base.Add(time.Duration(i)*time.Minute))
		if i%2 == 0 {
			turn.ThreadID = &thread
		}
		if err := testDB.InsertTurn(ctx, turn); err != nil {
			t.Fatalf("InsertTurn failed: %v", err)
		}
	}

	// Conversation-wide: chronological, newest window.
	turns, err := testDB.RecentTurns(ctx, "conv-recent", nil, 4)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("Expected 4 turns, got %d", len(turns))
	}
	if turns[0].ID != "turn-recent-2" || turns[3].ID != "turn-recent-5" {
		t.Errorf("Unexpected order: first %s last %s", turns[0].ID, turns[3].ID)
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].Timestamp.Before(turns[i-1].Timestamp) {
			t.Error("RecentTurns not chronological")
		}
	}

	// Thread filter.
	threaded, err := testDB.RecentTurns(ctx, "conv-recent", &thread, 10)
	if err != nil {
		t.Fatalf("RecentTurns with thread failed: %v", err)
	}
	if len(threaded) != 3 {
		t.Fatalf("Expected 3 threaded turns, got %d", len(threaded))
	}
	for _, turn := range threaded {
		if turn.ThreadID == nil || *turn.ThreadID != thread {
			t.Errorf("Turn %s outside thread", turn.ID)
		}
	}
}

func TestSemanticCandidates(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	near := testTurn("turn-sem-near", "conv-sem", "alice", "about deploy pipelines", now)
	near.Embedding = dummyEmbedding(0)
	far := testTurn("turn-sem-far", "conv-sem", "bob", "about weekend trips", now)
	far.Embedding = dummyEmbedding(120)
	other := testTurn("turn-sem-other", "conv-sem-other", "carol", "same vector other chat", now)
	other.Embedding = dummyEmbedding(0)

	for _, turn := range []models.Turn{near, far, other} {
		if err := testDB.InsertTurn(ctx, turn); err != nil {
			t.Fatalf("InsertTurn failed: %v", err)
		}
	}

	results, err := testDB.SemanticCandidates(ctx, "conv-sem", dummyEmbedding(0), 10)
	if err != nil {
		t.Fatalf("SemanticCandidates failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Expected semantic candidates")
	}
	if results[0].ID != "turn-sem-near" {
		t.Errorf("Expected nearest first, got %s", results[0].ID)
	}
	for _, r := range results {
		if r.ConversationID != "conv-sem" {
			t.Errorf("Candidate %s leaked from another conversation", r.ID)
		}
		if r.Similarity <= 0 || r.Similarity > 1.0001 {
			t.Errorf("Similarity out of range: %f", r.Similarity)
		}
	}
}

func TestKeywordCandidates(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	hit := testTurn("turn-kw-hit", "conv-kw", "alice", "the docker deploy broke again", now)
	miss := testTurn("turn-kw-miss", "conv-kw", "bob", "lunch plans for friday", now)
	for _, turn := range []models.Turn{hit, miss} {
		if err := testDB.InsertTurn(ctx, turn); err != nil {
			t.Fatalf("InsertTurn failed: %v", err)
		}
	}

	results, err := testDB.KeywordCandidates(ctx, "conv-kw", "docker deploy", 10)
	if err != nil {
		t.Fatalf("KeywordCandidates failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 keyword hit, got %d", len(results))
	}
	if results[0].ID != "turn-kw-hit" {
		t.Errorf("Expected turn-kw-hit, got %s", results[0].ID)
	}
}

func TestActorMessageCounts(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		turn := testTurn(fmt.Sprintf("turn-count-a-%d", i), "conv-counts", "alice", "msg", now)
		if err := testDB.InsertTurn(ctx, turn); err != nil {
			t.Fatalf("InsertTurn failed: %v", err)
		}
	}
	turn := testTurn("turn-count-b", "conv-counts", "bob", "msg", now)
	if err := testDB.InsertTurn(ctx, turn); err != nil {
		t.Fatalf("InsertTurn failed: %v", err)
	}

	counts, err := testDB.ActorMessageCounts(ctx, "conv-counts")
	if err != nil {
		t.Fatalf("ActorMessageCounts failed: %v", err)
	}
	got := make(map[string]int)
	for _, c := range counts {
		got[c.ActorID] = c.Count
	}
	if got["alice"] != 3 || got["bob"] != 1 {
		t.Errorf("Unexpected counts: %v", got)
	}
}

func TestBumpTurnAccess(t *testing.T) {
	ctx := context.Background()

	turn := testTurn("turn-bump", "conv-bump", "alice", "bump me", time.Now().UTC())
	if err := testDB.InsertTurn(ctx, turn); err != nil {
		t.Fatalf("InsertTurn failed: %v", err)
	}

	if err := testDB.BumpTurnAccess(ctx, []string{"turn-bump"}); err != nil {
		t.Fatalf("BumpTurnAccess failed: %v", err)
	}
	if err := testDB.BumpTurnAccess(ctx, nil); err != nil {
		t.Errorf("Empty bump should be a no-op: %v", err)
	}

	got, err := testDB.GetTurn(ctx, "turn-bump")
	if err != nil {
		t.Fatalf("GetTurn failed: %v", err)
	}
	if got.AccessCount != 1 {
		t.Errorf("Expected access_count 1, got %d", got.AccessCount)
	}
}

// =============================================================================
// ASSERTION TESTS
// =============================================================================

func baseAssertion(id, key, value string) models.Assertion {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return models.Assertion{
		ID:             id,
		SubjectID:      "user-facts",
		Scope:          models.ScopeUser,
		Category:       models.CategoryPreference,
		Key:            key,
		Value:          value,
		Confidence:     0.7,
		Evidence:       "said so in chat",
		EvidenceCount:  1,
		Embedding:      dummyEmbedding(0),
		Active:         true,
		Version:        1,
		FirstObserved:  now,
		LastReinforced: now,
	}
}

func TestAssertionLifecycle(t *testing.T) {
	ctx := context.Background()

	first := baseAssertion("fact-life-1", "favorite-editor", "vim")
	if err := testDB.InsertAssertion(ctx, first); err != nil {
		t.Fatalf("InsertAssertion failed: %v", err)
	}

	active, err := testDB.ActiveAssertion(ctx, "user-facts", models.ScopeUser, models.CategoryPreference, "favorite-editor")
	if err != nil {
		t.Fatalf("ActiveAssertion failed: %v", err)
	}
	if active.Value != "vim" || active.Version != 1 {
		t.Errorf("Unexpected active row: %+v", active)
	}

	// Reinforce bumps evidence and updates confidence.
	if err := testDB.ReinforceAssertion(ctx, "fact-life-1", 0.82, nil); err != nil {
		t.Fatalf("ReinforceAssertion failed: %v", err)
	}
	active, err = testDB.ActiveAssertion(ctx, "user-facts", models.ScopeUser, models.CategoryPreference, "favorite-editor")
	if err != nil {
		t.Fatalf("ActiveAssertion after reinforce failed: %v", err)
	}
	if active.EvidenceCount != 2 {
		t.Errorf("Expected evidence_count 2, got %d", active.EvidenceCount)
	}
	if active.Confidence < 0.81 || active.Confidence > 0.83 {
		t.Errorf("Expected confidence ~0.82, got %f", active.Confidence)
	}

	// Evolve supersedes in one transaction.
	next := baseAssertion("fact-life-2", "favorite-editor", "neovim")
	next.Version = 2
	damped := 0.72
	if err := testDB.EvolveAssertion(ctx, "fact-life-1", &damped, next); err != nil {
		t.Fatalf("EvolveAssertion failed: %v", err)
	}

	active, err = testDB.ActiveAssertion(ctx, "user-facts", models.ScopeUser, models.CategoryPreference, "favorite-editor")
	if err != nil {
		t.Fatalf("ActiveAssertion after evolve failed: %v", err)
	}
	if active.ID != "fact-life-2" || active.Value != "neovim" {
		t.Errorf("Successor not active: %+v", active)
	}
	if active.PrevVersionID == nil || *active.PrevVersionID != "fact-life-1" {
		t.Errorf("Version link missing: %v", active.PrevVersionID)
	}

	chain, err := testDB.VersionChain(ctx, "user-facts", models.ScopeUser, models.CategoryPreference, "favorite-editor")
	if err != nil {
		t.Fatalf("VersionChain failed: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("Expected 2 versions, got %d", len(chain))
	}
	if chain[0].Version != 2 || chain[1].Version != 1 {
		t.Error("Chain not newest-first")
	}
	if chain[1].Active {
		t.Error("Old version still active")
	}
	if chain[1].Confidence < 0.71 || chain[1].Confidence > 0.73 {
		t.Errorf("Damped confidence not recorded: %f", chain[1].Confidence)
	}

	// Retire deactivates with a reason, keeping the row.
	if err := testDB.RetireAssertion(ctx, "fact-life-2", "user requested removal"); err != nil {
		t.Fatalf("RetireAssertion failed: %v", err)
	}
	_, err = testDB.ActiveAssertion(ctx, "user-facts", models.ScopeUser, models.CategoryPreference, "favorite-editor")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after retire, got %v", err)
	}
	chain, err = testDB.VersionChain(ctx, "user-facts", models.ScopeUser, models.CategoryPreference, "favorite-editor")
	if err != nil {
		t.Fatalf("VersionChain after retire failed: %v", err)
	}
	if chain[0].RetiredReason == nil || *chain[0].RetiredReason != "user requested removal" {
		t.Errorf("Retired reason missing: %v", chain[0].RetiredReason)
	}
}

func TestActiveAssertionsFiltering(t *testing.T) {
	ctx := context.Background()

	personal := baseAssertion("fact-filter-1", "city", "Kyiv")
	personal.SubjectID = "user-filter"
	personal.Category = models.CategoryPersonal

	pref := baseAssertion("fact-filter-2", "favorite-drink", "coffee")
	pref.SubjectID = "user-filter"

	inactive := baseAssertion("fact-filter-3", "old-fact", "stale")
	inactive.SubjectID = "user-filter"
	inactive.Active = false

	for _, a := range []models.Assertion{personal, pref, inactive} {
		if err := testDB.InsertAssertion(ctx, a); err != nil {
			t.Fatalf("InsertAssertion failed: %v", err)
		}
	}

	all, err := testDB.ActiveAssertions(ctx, "user-filter", models.ScopeUser)
	if err != nil {
		t.Fatalf("ActiveAssertions failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 active facts, got %d", len(all))
	}

	prefs, err := testDB.ActiveAssertionsInCategory(ctx, "user-filter", models.ScopeUser, models.CategoryPreference)
	if err != nil {
		t.Fatalf("ActiveAssertionsInCategory failed: %v", err)
	}
	if len(prefs) != 1 || prefs[0].Key != "favorite-drink" {
		t.Errorf("Unexpected category filter result: %+v", prefs)
	}
}

// =============================================================================
// EPISODE TESTS
// =============================================================================

func testEpisode(id, conversationID string, importance float64, seed int) models.Episode {
	return models.Episode{
		ID:             id,
		ConversationID: conversationID,
		ParticipantIDs: []string{"alice", "bob"},
		Topic:          "deploy incident",
		Summary:        "the friday deploy broke prod and got rolled back",
		Embedding:      dummyEmbedding(seed),
		Importance:     importance,
		Emotion:        models.EmotionNegative,
		TurnIDs:        []string{"t1", "t2", "t3", "t4", "t5"},
		Tags:           []string{"deploy", "incident"},
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestCreateAndGetEpisode(t *testing.T) {
	ctx := context.Background()

	ep := testEpisode("ep-get", "conv-ep-get", 0.8, 0)
	if err := testDB.CreateEpisode(ctx, ep); err != nil {
		t.Fatalf("CreateEpisode failed: %v", err)
	}

	got, err := testDB.GetEpisode(ctx, "ep-get")
	if err != nil {
		t.Fatalf("GetEpisode failed: %v", err)
	}
	if got.Topic != ep.Topic || got.Emotion != models.EmotionNegative {
		t.Errorf("Episode fields lost: %+v", got)
	}
	if len(got.TurnIDs) != 5 || len(got.ParticipantIDs) != 2 {
		t.Errorf("Membership lost: %+v", got)
	}
	if got.Archived {
		t.Error("New episode should not be archived")
	}

	_, err = testDB.GetEpisode(ctx, "ep-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestEpisodeCandidates(t *testing.T) {
	ctx := context.Background()

	relevant := testEpisode("ep-cand-near", "conv-ep-cand", 0.9, 0)
	offTopic := testEpisode("ep-cand-far", "conv-ep-cand", 0.9, 120)
	trivial := testEpisode("ep-cand-trivial", "conv-ep-cand", 0.2, 0)
	solo := testEpisode("ep-cand-solo", "conv-ep-cand", 0.9, 0)
	solo.ParticipantIDs = []string{"carol"}

	for _, ep := range []models.Episode{relevant, offTopic, trivial, solo} {
		if err := testDB.CreateEpisode(ctx, ep); err != nil {
			t.Fatalf("CreateEpisode failed: %v", err)
		}
	}

	results, err := testDB.EpisodeCandidates(ctx, "conv-ep-cand", dummyEmbedding(0), nil, 0.6, 10)
	if err != nil {
		t.Fatalf("EpisodeCandidates failed: %v", err)
	}
	for _, r := range results {
		if r.ID == "ep-cand-trivial" {
			t.Error("Importance filter leaked a trivial episode")
		}
	}
	if len(results) == 0 || results[0].ID != "ep-cand-near" {
		t.Errorf("Expected ep-cand-near first, got %+v", results)
	}

	alice := "alice"
	withParticipant, err := testDB.EpisodeCandidates(ctx, "conv-ep-cand", dummyEmbedding(0), &alice, 0.6, 10)
	if err != nil {
		t.Fatalf("EpisodeCandidates with participant failed: %v", err)
	}
	for _, r := range withParticipant {
		if r.ID == "ep-cand-solo" {
			t.Error("Participant filter leaked a non-member episode")
		}
	}
}

func TestBumpEpisodeAccess(t *testing.T) {
	ctx := context.Background()

	ep := testEpisode("ep-bump", "conv-ep-bump", 0.8, 0)
	if err := testDB.CreateEpisode(ctx, ep); err != nil {
		t.Fatalf("CreateEpisode failed: %v", err)
	}

	if err := testDB.BumpEpisodeAccess(ctx, "ep-bump"); err != nil {
		t.Fatalf("BumpEpisodeAccess failed: %v", err)
	}

	got, err := testDB.GetEpisode(ctx, "ep-bump")
	if err != nil {
		t.Fatalf("GetEpisode failed: %v", err)
	}
	if got.AccessCount != 1 {
		t.Errorf("Expected access_count 1, got %d", got.AccessCount)
	}
}

func TestListEpisodes(t *testing.T) {
	ctx := context.Background()

	older := testEpisode("ep-list-old", "conv-ep-list", 0.8, 0)
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := testEpisode("ep-list-new", "conv-ep-list", 0.8, 0)

	for _, ep := range []models.Episode{older, newer} {
		if err := testDB.CreateEpisode(ctx, ep); err != nil {
			t.Fatalf("CreateEpisode failed: %v", err)
		}
	}

	episodes, err := testDB.ListEpisodes(ctx, "conv-ep-list", false, 10)
	if err != nil {
		t.Fatalf("ListEpisodes failed: %v", err)
	}
	if len(episodes) != 2 {
		t.Fatalf("Expected 2 episodes, got %d", len(episodes))
	}
	if episodes[0].ID != "ep-list-new" {
		t.Errorf("Expected newest first, got %s", episodes[0].ID)
	}
}
