// Package service implements the orchestration layer: fact quality
// control, episodic memory, and context assembly.
package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/ThatHunky/gryag-sub000/internal/config"
	"github.com/ThatHunky/gryag-sub000/internal/db"
	"github.com/ThatHunky/gryag-sub000/internal/metrics"
	"github.com/ThatHunky/gryag-sub000/internal/models"
	"github.com/ThatHunky/gryag-sub000/internal/search"
	"github.com/google/uuid"
)

// AssertionStore is the persistence surface the fact manager needs.
type AssertionStore interface {
	ActiveAssertion(ctx context.Context, subjectID string, scope models.Scope, category models.Category, key string) (*models.Assertion, error)
	ActiveAssertions(ctx context.Context, subjectID string, scope models.Scope) ([]models.Assertion, error)
	ActiveAssertionsInCategory(ctx context.Context, subjectID string, scope models.Scope, category models.Category) ([]models.Assertion, error)
	InsertAssertion(ctx context.Context, a models.Assertion) error
	ReinforceAssertion(ctx context.Context, id string, confidence float64, evidence *string) error
	EvolveAssertion(ctx context.Context, oldID string, dampedConfidence *float64, next models.Assertion) error
	RetireAssertion(ctx context.Context, id, reason string) error
}

// Embedder produces text embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FactOutcome reports what an upsert did.
type FactOutcome string

const (
	FactCreated    FactOutcome = "created"
	FactReinforced FactOutcome = "reinforced"
	FactEvolved    FactOutcome = "evolved"
)

// FactInput is one observed fact candidate.
type FactInput struct {
	SubjectID  string
	Scope      models.Scope
	Category   models.Category
	Key        string
	Value      string
	Confidence float64
	Evidence   string
}

// UpsertResult is the stored state after an upsert plus what happened.
type UpsertResult struct {
	Assertion models.Assertion
	Outcome   FactOutcome
}

// FactManager guards the versioned fact store: it deduplicates,
// reinforces, and evolves assertions so at most one version per fact
// key is active. Writes to the same key are serialized; reads are
// lock-free.
type FactManager struct {
	store    AssertionStore
	embedder Embedder
	metrics  *metrics.Collector

	duplicateThreshold float64
	halfLifeDays       float64
	minConfidence      float64

	// Striped write locks: bounded memory regardless of how many fact
	// keys a long-lived process touches. Collisions only over-serialize.
	locks [64]sync.Mutex

	now func() time.Time
}

// NewFactManager creates a fact manager from configuration.
func NewFactManager(store AssertionStore, embedder Embedder, collector *metrics.Collector, cfg config.Config) *FactManager {
	return &FactManager{
		store:              store,
		embedder:           embedder,
		metrics:            collector,
		duplicateThreshold: cfg.DuplicateThreshold,
		halfLifeDays:       cfg.FactHalfLife,
		minConfidence:      cfg.MinFactConfidence,
		now:                time.Now,
	}
}

// keyLock returns the stripe mutex serializing writes to one fact key.
func (m *FactManager) keyLock(subjectID string, scope models.Scope, category models.Category, key string) *sync.Mutex {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s/%s/%s/%s", subjectID, scope, category, key)
	return &m.locks[h.Sum32()%uint32(len(m.locks))]
}

// Upsert stores an observed fact: reinforcing a matching active
// version, evolving a contradicted one, or creating a new fact.
func (m *FactManager) Upsert(ctx context.Context, in FactInput) (*UpsertResult, error) {
	start := m.now()
	defer func() {
		if m.metrics != nil {
			m.metrics.RecordTiming(metrics.OpFactUpsert, time.Since(start))
		}
	}()

	if !in.Category.Valid() {
		return nil, fmt.Errorf("unknown category %q", in.Category)
	}
	if in.Confidence <= 0 || in.Confidence > 1 {
		return nil, fmt.Errorf("confidence out of range: %f", in.Confidence)
	}
	if in.Key == "" || in.Value == "" {
		return nil, fmt.Errorf("key and value are required")
	}

	lock := m.keyLock(in.SubjectID, in.Scope, in.Category, in.Key)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.store.ActiveAssertion(ctx, in.SubjectID, in.Scope, in.Category, in.Key)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("lookup fact: %w", err)
	}

	if existing == nil {
		// No active version under this key; a near-duplicate under a
		// differently-worded key still counts as the same fact.
		existing, err = m.findNearDuplicate(ctx, in)
		if err != nil {
			return nil, err
		}
	}

	if existing == nil {
		return m.create(ctx, in)
	}
	if normalizeValue(existing.Value) == normalizeValue(in.Value) {
		return m.reinforce(ctx, existing, in)
	}
	return m.evolve(ctx, existing, in)
}

// create inserts version 1 of a new fact.
func (m *FactManager) create(ctx context.Context, in FactInput) (*UpsertResult, error) {
	now := m.now()
	a := models.Assertion{
		ID:             uuid.NewString(),
		SubjectID:      in.SubjectID,
		Scope:          in.Scope,
		Category:       in.Category,
		Key:            in.Key,
		Value:          in.Value,
		Confidence:     in.Confidence,
		Evidence:       in.Evidence,
		EvidenceCount:  1,
		Embedding:      m.embedFact(ctx, in),
		Active:         true,
		Version:        1,
		FirstObserved:  now,
		LastReinforced: now,
	}
	if err := m.store.InsertAssertion(ctx, a); err != nil {
		return nil, fmt.Errorf("create fact: %w", err)
	}
	slog.Debug("fact created", "subject", in.SubjectID, "category", in.Category, "key", in.Key)
	return &UpsertResult{Assertion: a, Outcome: FactCreated}, nil
}

// reinforce blends confidence toward the new observation and bumps the
// evidence counter: 0.7*old + 0.3*new, capped at 1.0.
func (m *FactManager) reinforce(ctx context.Context, existing *models.Assertion, in FactInput) (*UpsertResult, error) {
	confidence := math.Min(1.0, 0.7*existing.Confidence+0.3*in.Confidence)

	var evidence *string
	if in.Evidence != "" {
		evidence = &in.Evidence
	}
	if err := m.store.ReinforceAssertion(ctx, existing.ID, confidence, evidence); err != nil {
		return nil, fmt.Errorf("reinforce fact: %w", err)
	}

	updated := *existing
	updated.Confidence = confidence
	updated.EvidenceCount++
	updated.LastReinforced = m.now()
	if in.Evidence != "" {
		updated.Evidence = in.Evidence
	}
	slog.Debug("fact reinforced", "subject", in.SubjectID, "key", existing.Key, "confidence", confidence)
	return &UpsertResult{Assertion: updated, Outcome: FactReinforced}, nil
}

// evolve deactivates the current version and links a successor. A
// contradiction of a high-confidence fact damps the retired version's
// recorded confidence by 0.1, floored at 0.5.
func (m *FactManager) evolve(ctx context.Context, existing *models.Assertion, in FactInput) (*UpsertResult, error) {
	var damped *float64
	if existing.Confidence >= 0.8 {
		d := math.Max(0.5, existing.Confidence-0.1)
		damped = &d
	}

	now := m.now()
	prevID := existing.ID
	next := models.Assertion{
		ID:             uuid.NewString(),
		SubjectID:      existing.SubjectID,
		Scope:          existing.Scope,
		Category:       existing.Category,
		Key:            existing.Key,
		Value:          in.Value,
		Confidence:     in.Confidence,
		Evidence:       in.Evidence,
		EvidenceCount:  1,
		Embedding:      m.embedFact(ctx, in),
		Active:         true,
		Version:        existing.Version + 1,
		PrevVersionID:  &prevID,
		FirstObserved:  now,
		LastReinforced: now,
	}
	if err := m.store.EvolveAssertion(ctx, existing.ID, damped, next); err != nil {
		return nil, fmt.Errorf("evolve fact: %w", err)
	}
	slog.Info("fact evolved", "subject", in.SubjectID, "key", existing.Key, "version", next.Version)
	return &UpsertResult{Assertion: next, Outcome: FactEvolved}, nil
}

// findNearDuplicate looks for an active fact in the same subject and
// category that is the same fact under different wording: first by
// normalized key, then by embedding similarity.
func (m *FactManager) findNearDuplicate(ctx context.Context, in FactInput) (*models.Assertion, error) {
	candidates, err := m.store.ActiveAssertionsInCategory(ctx, in.SubjectID, in.Scope, in.Category)
	if err != nil {
		return nil, fmt.Errorf("duplicate scan: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	normKey := normalizeValue(in.Key)
	for i := range candidates {
		if normalizeValue(candidates[i].Key) == normKey {
			return &candidates[i], nil
		}
	}

	embedding := m.embedFact(ctx, in)
	if embedding == nil {
		return nil, nil
	}
	for i := range candidates {
		if search.CosineSimilarity(embedding, candidates[i].Embedding) >= m.duplicateThreshold {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// embedFact embeds "key: value". Embedding failures degrade to a
// fact without a vector rather than failing the write.
func (m *FactManager) embedFact(ctx context.Context, in FactInput) []float32 {
	embedding, err := m.embedder.Embed(ctx, in.Key+": "+in.Value)
	if err != nil {
		slog.Warn("fact embedding failed, storing without vector", "key", in.Key, "error", err)
		return nil
	}
	return embedding
}

// TopFacts returns the highest-ranked active facts for a subject:
// confidence × category weight × recency decay × evidence boost.
func (m *FactManager) TopFacts(ctx context.Context, subjectID string, scope models.Scope, limit int) ([]models.Assertion, error) {
	facts, err := m.store.ActiveAssertions(ctx, subjectID, scope)
	if err != nil {
		return nil, fmt.Errorf("top facts: %w", err)
	}

	now := m.now()
	type ranked struct {
		fact  models.Assertion
		score float64
	}
	rankedFacts := make([]ranked, 0, len(facts))
	for _, f := range facts {
		if f.Confidence < m.minConfidence {
			continue
		}
		rankedFacts = append(rankedFacts, ranked{fact: f, score: factRank(f, now, m.halfLifeDays)})
	}

	sort.SliceStable(rankedFacts, func(i, j int) bool {
		return rankedFacts[i].score > rankedFacts[j].score
	})
	if len(rankedFacts) > limit {
		rankedFacts = rankedFacts[:limit]
	}

	out := make([]models.Assertion, len(rankedFacts))
	for i, r := range rankedFacts {
		out[i] = r.fact
	}
	return out, nil
}

// factRank scores one fact for retrieval ordering. Corroboration adds
// up to 50%: 1 + min(0.5, 0.1*(evidenceCount-1)).
func factRank(f models.Assertion, now time.Time, halfLifeDays float64) float64 {
	ageDays := now.Sub(f.LastReinforced).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	evidenceBoost := 1 + math.Min(0.5, 0.1*float64(f.EvidenceCount-1))
	return f.Confidence * f.Category.Weight() * math.Exp(-ageDays/halfLifeDays) * evidenceBoost
}

// Retire soft-deletes a fact with an audit reason.
func (m *FactManager) Retire(ctx context.Context, id, reason string) error {
	if reason == "" {
		return fmt.Errorf("retire reason is required")
	}
	if err := m.store.RetireAssertion(ctx, id, reason); err != nil {
		return fmt.Errorf("retire fact: %w", err)
	}
	slog.Info("fact retired", "id", id, "reason", reason)
	return nil
}

// normalizeValue lowercases and strips everything but letters and
// digits, so trivial rewording compares equal.
func normalizeValue(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
