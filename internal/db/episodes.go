package db

import (
	"context"
	"fmt"

	"github.com/ThatHunky/gryag-sub000/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

const episodeFields = `record::id(id) AS id, conversation_id, thread_id,
	participant_ids, topic, summary, embedding, importance, emotion, turn_ids,
	tags, archived, created_at, last_accessed, access_count`

// ScoredEpisode is an episode with a cosine similarity against a query
// vector.
type ScoredEpisode struct {
	models.Episode
	Similarity float64 `json:"similarity"`
}

// CreateEpisode persists one episode.
func (c *Client) CreateEpisode(ctx context.Context, e models.Episode) error {
	sql := `
		CREATE type::record("episode", $id) SET
			conversation_id = $conversation_id,
			thread_id = $thread_id,
			participant_ids = $participant_ids,
			topic = $topic,
			summary = $summary,
			embedding = $embedding,
			importance = $importance,
			emotion = $emotion,
			turn_ids = $turn_ids,
			tags = $tags,
			created_at = $created_at
	`
	embedding := e.Embedding
	if embedding == nil {
		embedding = []float32{}
	}
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":              e.ID,
		"conversation_id": e.ConversationID,
		"thread_id":       e.ThreadID,
		"participant_ids": e.ParticipantIDs,
		"topic":           e.Topic,
		"summary":         e.Summary,
		"embedding":       embedding,
		"importance":      e.Importance,
		"emotion":         string(e.Emotion),
		"turn_ids":        e.TurnIDs,
		"tags":            tags,
		"created_at":      e.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("create episode: %w", wrapQueryError(err))
	}
	return nil
}

// GetEpisode retrieves an episode by id. Returns ErrNotFound when
// absent.
func (c *Client) GetEpisode(ctx context.Context, id string) (*models.Episode, error) {
	sql := fmt.Sprintf(`SELECT %s FROM type::record("episode", $id)`, episodeFields)
	results, err := surrealdb.Query[[]models.Episode](ctx, c.db, sql, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get episode: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("get episode %s: %w", id, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// EpisodeCandidates returns unarchived episodes of a conversation
// nearest to the query embedding, similarity attached. Participant and
// importance filters apply before ranking.
func (c *Client) EpisodeCandidates(ctx context.Context, conversationID string, embedding []float32, participantID *string, minImportance float64, limit int) ([]ScoredEpisode, error) {
	participantClause := ""
	vars := map[string]any{
		"conversation_id": conversationID,
		"emb":             embedding,
		"min_importance":  minImportance,
	}
	if participantID != nil {
		participantClause = "AND participant_ids CONTAINS $participant_id"
		vars["participant_id"] = *participantID
	}

	sql := fmt.Sprintf(`
		SELECT %s, vector::similarity::cosine(embedding, $emb) AS similarity
		FROM episode
		WHERE conversation_id = $conversation_id
			AND archived = false
			AND importance >= $min_importance
			%s
			AND embedding <|%d,40|> $emb
		ORDER BY similarity DESC
	`, episodeFields, participantClause, limit)

	results, err := surrealdb.Query[[]ScoredEpisode](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("episode candidates: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []ScoredEpisode{}, nil
	}
	return (*results)[0].Result, nil
}

// ListEpisodes returns episodes of a conversation, newest first.
func (c *Client) ListEpisodes(ctx context.Context, conversationID string, includeArchived bool, limit int) ([]models.Episode, error) {
	archivedClause := ""
	if !includeArchived {
		archivedClause = "AND archived = false"
	}
	sql := fmt.Sprintf(`
		SELECT %s FROM episode
		WHERE conversation_id = $conversation_id %s
		ORDER BY created_at DESC
		LIMIT $limit
	`, episodeFields, archivedClause)

	results, err := surrealdb.Query[[]models.Episode](ctx, c.db, sql, map[string]any{
		"conversation_id": conversationID,
		"limit":           limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.Episode{}, nil
	}
	return (*results)[0].Result, nil
}

// BumpEpisodeAccess updates access tracking for an episode.
func (c *Client) BumpEpisodeAccess(ctx context.Context, id string) error {
	sql := `
		UPDATE type::record("episode", $id) SET
			last_accessed = time::now(),
			access_count += 1
	`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("bump episode access: %w", wrapQueryError(err))
	}
	return nil
}

// ArchiveStaleEpisodes soft-archives low-importance episodes not
// accessed within the given number of days. Returns the count archived.
func (c *Client) ArchiveStaleEpisodes(ctx context.Context, staleDays int, maxImportance float64) (int, error) {
	sql := `
		UPDATE episode SET archived = true
		WHERE archived = false
			AND importance < $max_importance
			AND last_accessed < time::now() - duration::from::days($stale_days)
		RETURN BEFORE
	`
	results, err := surrealdb.Query[[]models.Episode](ctx, c.db, sql, map[string]any{
		"stale_days":     staleDays,
		"max_importance": maxImportance,
	})
	if err != nil {
		return 0, fmt.Errorf("archive stale episodes: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return 0, nil
	}
	return len((*results)[0].Result), nil
}
