package db

import (
	"context"
	"fmt"

	"github.com/ThatHunky/gryag-sub000/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

const assertionFields = `record::id(id) AS id, subject_id, scope, category, key,
	value, confidence, evidence, evidence_count, embedding, active, version,
	prev_version_id, retired_reason, first_observed, last_reinforced`

// ActiveAssertion returns the single active row for a fact key, or
// ErrNotFound when no active version exists.
func (c *Client) ActiveAssertion(ctx context.Context, subjectID string, scope models.Scope, category models.Category, key string) (*models.Assertion, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM assertion
		WHERE subject_id = $subject_id AND scope = $scope
			AND category = $category AND key = $key AND active = true
		LIMIT 1
	`, assertionFields)

	results, err := surrealdb.Query[[]models.Assertion](ctx, c.db, sql, map[string]any{
		"subject_id": subjectID,
		"scope":      string(scope),
		"category":   string(category),
		"key":        key,
	})
	if err != nil {
		return nil, fmt.Errorf("active assertion: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("active assertion %s/%s: %w", category, key, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// ActiveAssertions returns all active facts for a subject.
func (c *Client) ActiveAssertions(ctx context.Context, subjectID string, scope models.Scope) ([]models.Assertion, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM assertion
		WHERE subject_id = $subject_id AND scope = $scope AND active = true
	`, assertionFields)

	results, err := surrealdb.Query[[]models.Assertion](ctx, c.db, sql, map[string]any{
		"subject_id": subjectID,
		"scope":      string(scope),
	})
	if err != nil {
		return nil, fmt.Errorf("active assertions: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.Assertion{}, nil
	}
	return (*results)[0].Result, nil
}

// ActiveAssertionsInCategory returns active facts for one subject and
// category, embeddings included, for near-duplicate detection.
func (c *Client) ActiveAssertionsInCategory(ctx context.Context, subjectID string, scope models.Scope, category models.Category) ([]models.Assertion, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM assertion
		WHERE subject_id = $subject_id AND scope = $scope
			AND category = $category AND active = true
	`, assertionFields)

	results, err := surrealdb.Query[[]models.Assertion](ctx, c.db, sql, map[string]any{
		"subject_id": subjectID,
		"scope":      string(scope),
		"category":   string(category),
	})
	if err != nil {
		return nil, fmt.Errorf("active assertions in category: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.Assertion{}, nil
	}
	return (*results)[0].Result, nil
}

// VersionChain walks prev_version_id links from the newest version of a
// fact key, newest first.
func (c *Client) VersionChain(ctx context.Context, subjectID string, scope models.Scope, category models.Category, key string) ([]models.Assertion, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM assertion
		WHERE subject_id = $subject_id AND scope = $scope
			AND category = $category AND key = $key
		ORDER BY version DESC
	`, assertionFields)

	results, err := surrealdb.Query[[]models.Assertion](ctx, c.db, sql, map[string]any{
		"subject_id": subjectID,
		"scope":      string(scope),
		"category":   string(category),
		"key":        key,
	})
	if err != nil {
		return nil, fmt.Errorf("version chain: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.Assertion{}, nil
	}
	return (*results)[0].Result, nil
}

// InsertAssertion writes a new assertion row.
func (c *Client) InsertAssertion(ctx context.Context, a models.Assertion) error {
	sql := `
		CREATE type::record("assertion", $id) SET
			subject_id = $subject_id,
			scope = $scope,
			category = $category,
			key = $key,
			value = $value,
			confidence = $confidence,
			evidence = $evidence,
			evidence_count = $evidence_count,
			embedding = $embedding,
			active = $active,
			version = $version,
			prev_version_id = $prev_version_id,
			first_observed = $first_observed,
			last_reinforced = $last_reinforced
	`
	embedding := a.Embedding
	if embedding == nil {
		embedding = []float32{}
	}
	var evidence *string
	if a.Evidence != "" {
		evidence = &a.Evidence
	}
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":              a.ID,
		"subject_id":      a.SubjectID,
		"scope":           string(a.Scope),
		"category":        string(a.Category),
		"key":             a.Key,
		"value":           a.Value,
		"confidence":      a.Confidence,
		"evidence":        evidence,
		"evidence_count":  a.EvidenceCount,
		"embedding":       embedding,
		"active":          a.Active,
		"version":         a.Version,
		"prev_version_id": a.PrevVersionID,
		"first_observed":  a.FirstObserved,
		"last_reinforced": a.LastReinforced,
	})
	if err != nil {
		return fmt.Errorf("insert assertion: %w", wrapQueryError(err))
	}
	return nil
}

// ReinforceAssertion updates confidence and bumps the evidence counter
// on an existing active row.
func (c *Client) ReinforceAssertion(ctx context.Context, id string, confidence float64, evidence *string) error {
	sql := `
		UPDATE type::record("assertion", $id) SET
			confidence = $confidence,
			evidence = $evidence ?? evidence,
			evidence_count += 1,
			last_reinforced = time::now()
	`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":         id,
		"confidence": confidence,
		"evidence":   evidence,
	})
	if err != nil {
		return fmt.Errorf("reinforce assertion: %w", wrapQueryError(err))
	}
	return nil
}

// EvolveAssertion deactivates the old version (optionally damping its
// recorded confidence) and inserts the successor in one transaction, so
// the single-active-version invariant holds even under a crash between
// the two writes.
func (c *Client) EvolveAssertion(ctx context.Context, oldID string, dampedConfidence *float64, next models.Assertion) error {
	embedding := next.Embedding
	if embedding == nil {
		embedding = []float32{}
	}
	var evidence *string
	if next.Evidence != "" {
		evidence = &next.Evidence
	}

	sql := `
		BEGIN TRANSACTION;
		UPDATE type::record("assertion", $old_id) SET
			active = false,
			confidence = $damped ?? confidence;
		CREATE type::record("assertion", $id) SET
			subject_id = $subject_id,
			scope = $scope,
			category = $category,
			key = $key,
			value = $value,
			confidence = $confidence,
			evidence = $evidence,
			evidence_count = $evidence_count,
			embedding = $embedding,
			active = true,
			version = $version,
			prev_version_id = $old_id,
			first_observed = $first_observed,
			last_reinforced = $last_reinforced;
		COMMIT TRANSACTION;
	`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"old_id":          oldID,
		"damped":          dampedConfidence,
		"id":              next.ID,
		"subject_id":      next.SubjectID,
		"scope":           string(next.Scope),
		"category":        string(next.Category),
		"key":             next.Key,
		"value":           next.Value,
		"confidence":      next.Confidence,
		"evidence":        evidence,
		"evidence_count":  next.EvidenceCount,
		"embedding":       embedding,
		"version":         next.Version,
		"first_observed":  next.FirstObserved,
		"last_reinforced": next.LastReinforced,
	})
	if err != nil {
		return fmt.Errorf("evolve assertion: %w", wrapQueryError(err))
	}
	return nil
}

// RetireAssertion deactivates a fact with a reason. The row is kept for
// audit; nothing hard-deletes assertions.
func (c *Client) RetireAssertion(ctx context.Context, id, reason string) error {
	sql := `
		UPDATE type::record("assertion", $id) SET
			active = false,
			retired_reason = $reason
	`
	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":     id,
		"reason": reason,
	})
	if err != nil {
		return fmt.Errorf("retire assertion: %w", wrapQueryError(err))
	}
	return nil
}
