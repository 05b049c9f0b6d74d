package db

import (
	"context"
	"fmt"

	"github.com/ThatHunky/gryag-sub000/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// turnFields projects a turn row with its record id flattened to a
// plain string.
const turnFields = `record::id(id) AS id, conversation_id, thread_id, actor_id,
	role, text, media, embedding, reply_to_id, addressed, timestamp, access_count`

// ScoredTurn is a turn with a cosine similarity against a query vector.
type ScoredTurn struct {
	models.Turn
	Similarity float64 `json:"similarity"`
}

// InsertTurn appends one turn to the conversation history.
func (c *Client) InsertTurn(ctx context.Context, t models.Turn) error {
	sql := `
		CREATE type::record("turn", $id) SET
			conversation_id = $conversation_id,
			thread_id = $thread_id,
			actor_id = $actor_id,
			role = $role,
			text = $text,
			media = $media,
			embedding = $embedding,
			reply_to_id = $reply_to_id,
			addressed = $addressed,
			timestamp = $timestamp
	`
	media := t.Media
	if media == nil {
		media = []models.Media{}
	}
	embedding := t.Embedding
	if embedding == nil {
		embedding = []float32{}
	}
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":              t.ID,
		"conversation_id": t.ConversationID,
		"thread_id":       t.ThreadID,
		"actor_id":        t.ActorID,
		"role":            string(t.Role),
		"text":            t.Text,
		"media":           media,
		"embedding":       embedding,
		"reply_to_id":     t.ReplyToID,
		"addressed":       t.Addressed,
		"timestamp":       t.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("insert turn: %w", wrapQueryError(err))
	}
	return nil
}

// GetTurn retrieves a turn by id. Returns ErrNotFound when absent.
func (c *Client) GetTurn(ctx context.Context, id string) (*models.Turn, error) {
	sql := fmt.Sprintf(`SELECT %s FROM type::record("turn", $id)`, turnFields)
	results, err := surrealdb.Query[[]models.Turn](ctx, c.db, sql, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get turn: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("get turn %s: %w", id, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// RecentTurns returns the newest turns of a conversation in
// chronological order. The thread filter applies only when threadID is
// non-nil.
func (c *Client) RecentTurns(ctx context.Context, conversationID string, threadID *string, limit int) ([]models.Turn, error) {
	threadClause := ""
	vars := map[string]any{
		"conversation_id": conversationID,
		"limit":           limit,
	}
	if threadID != nil {
		threadClause = "AND thread_id = $thread_id"
		vars["thread_id"] = *threadID
	}

	// Newest first for the LIMIT, reversed after for chronological order
	sql := fmt.Sprintf(`
		SELECT %s FROM turn
		WHERE conversation_id = $conversation_id %s
		ORDER BY timestamp DESC
		LIMIT $limit
	`, turnFields, threadClause)

	results, err := surrealdb.Query[[]models.Turn](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.Turn{}, nil
	}
	turns := (*results)[0].Result
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SemanticCandidates returns turns nearest to the query embedding via
// the HNSW index, with cosine similarity attached.
func (c *Client) SemanticCandidates(ctx context.Context, conversationID string, embedding []float32, limit int) ([]ScoredTurn, error) {
	// KNN bound must be a literal; ef=40 for recall
	sql := fmt.Sprintf(`
		SELECT %s, vector::similarity::cosine(embedding, $emb) AS similarity
		FROM turn
		WHERE conversation_id = $conversation_id AND embedding <|%d,40|> $emb
		ORDER BY similarity DESC
	`, turnFields, limit)

	results, err := surrealdb.Query[[]ScoredTurn](ctx, c.db, sql, map[string]any{
		"conversation_id": conversationID,
		"emb":             embedding,
	})
	if err != nil {
		return nil, fmt.Errorf("semantic candidates: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []ScoredTurn{}, nil
	}
	return (*results)[0].Result, nil
}

// KeywordCandidates returns turns matching the full-text query, best
// BM25 score first.
func (c *Client) KeywordCandidates(ctx context.Context, conversationID, query string, limit int) ([]models.Turn, error) {
	sql := fmt.Sprintf(`
		SELECT %s, search::score(0) AS score
		FROM turn
		WHERE conversation_id = $conversation_id AND text @0@ $q
		ORDER BY score DESC
		LIMIT $limit
	`, turnFields)

	results, err := surrealdb.Query[[]models.Turn](ctx, c.db, sql, map[string]any{
		"conversation_id": conversationID,
		"q":               query,
		"limit":           limit,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword candidates: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.Turn{}, nil
	}
	return (*results)[0].Result, nil
}

// ActorCount is one actor's message count within a conversation.
type ActorCount struct {
	ActorID string `json:"actor_id"`
	Count   int    `json:"count"`
}

// ActorMessageCounts returns per-actor message counts for a
// conversation, used to derive interaction weights.
func (c *Client) ActorMessageCounts(ctx context.Context, conversationID string) ([]ActorCount, error) {
	sql := `
		SELECT actor_id, count() AS count FROM turn
		WHERE conversation_id = $conversation_id
		GROUP BY actor_id
	`
	results, err := surrealdb.Query[[]ActorCount](ctx, c.db, sql, map[string]any{
		"conversation_id": conversationID,
	})
	if err != nil {
		return nil, fmt.Errorf("actor message counts: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []ActorCount{}, nil
	}
	return (*results)[0].Result, nil
}

// BumpTurnAccess increments access counters for the given turns.
func (c *Client) BumpTurnAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	sql := `UPDATE turn SET access_count += 1 WHERE record::id(id) IN $ids`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{"ids": ids})
	if err != nil {
		return fmt.Errorf("bump turn access: %w", wrapQueryError(err))
	}
	return nil
}
