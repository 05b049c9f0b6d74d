package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThatHunky/gryag-sub000/internal/background"
	"github.com/ThatHunky/gryag-sub000/internal/cache"
	"github.com/ThatHunky/gryag-sub000/internal/models"
	"github.com/google/uuid"
)

// TurnWriter persists turns.
type TurnWriter interface {
	InsertTurn(ctx context.Context, t models.Turn) error
}

// TurnTracker feeds turns into episode boundary detection.
type TurnTracker interface {
	TrackTurn(ctx context.Context, t models.Turn) (*models.Episode, error)
}

// Recorder is the ingest path for new turns: embed, persist, refresh
// the hot cache, and hand off to episode tracking.
type Recorder struct {
	store     TurnWriter
	embedder  Embedder
	turnCache *cache.TurnCache
	tracker   TurnTracker
	queue     *background.Queue
}

// NewRecorder creates a turn recorder. The queue carries episode
// tracking and must run a single worker: boundary windows assume turns
// arrive in submission order, and parallel workers would interleave
// them.
func NewRecorder(store TurnWriter, embedder Embedder, turnCache *cache.TurnCache, tracker TurnTracker, queue *background.Queue) *Recorder {
	return &Recorder{
		store:     store,
		embedder:  embedder,
		turnCache: turnCache,
		tracker:   tracker,
		queue:     queue,
	}
}

// Record persists one turn. An embedding failure stores the turn
// without a vector; it still serves the recency layers and keyword
// search. Returns the stored turn.
func (r *Recorder) Record(ctx context.Context, t models.Turn) (*models.Turn, error) {
	if t.ConversationID == "" || t.ActorID == "" {
		return nil, fmt.Errorf("conversation and actor ids are required")
	}
	if t.Text == "" && len(t.Media) == 0 {
		return nil, fmt.Errorf("turn has no content")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}

	if len(t.Embedding) == 0 && t.Text != "" {
		embedding, err := r.embedder.Embed(ctx, t.Text)
		if err != nil {
			slog.Warn("turn embedding failed, storing without vector", "turn", t.ID, "error", err)
		} else {
			t.Embedding = embedding
		}
	}

	if err := r.store.InsertTurn(ctx, t); err != nil {
		return nil, fmt.Errorf("record turn: %w", err)
	}

	if r.turnCache != nil {
		r.turnCache.Append(t.ConversationID, t.ThreadID, t)
	}

	if r.tracker != nil {
		turn := t
		track := func(taskCtx context.Context) {
			if _, err := r.tracker.TrackTurn(taskCtx, turn); err != nil {
				slog.Warn("episode tracking failed", "turn", turn.ID, "error", err)
			}
		}
		if r.queue != nil {
			r.queue.Submit(background.Task{
				Name:     "episode-track",
				Priority: background.PriorityNormal,
				Run:      track,
			})
		} else {
			track(ctx)
		}
	}

	return &t, nil
}
