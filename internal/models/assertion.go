package models

import "time"

// Scope identifies what kind of subject an assertion describes.
type Scope string

const (
	ScopeUser         Scope = "user"
	ScopeConversation Scope = "conversation"
)

// Category is the closed set of assertion categories.
type Category string

const (
	CategoryPersonal        Category = "personal"
	CategoryPreference      Category = "preference"
	CategoryTrait           Category = "trait"
	CategoryRule            Category = "rule"
	CategoryTradition       Category = "tradition"
	CategoryNorm            Category = "norm"
	CategoryTopic           Category = "topic"
	CategoryCulture         Category = "culture"
	CategoryEvent           Category = "event"
	CategorySharedKnowledge Category = "shared-knowledge"
)

// categoryWeights is the fixed ranking priority table for TopFacts.
var categoryWeights = map[Category]float64{
	CategoryRule:            1.0,
	CategoryPersonal:        0.95,
	CategoryPreference:      0.9,
	CategoryTradition:       0.85,
	CategoryTrait:           0.8,
	CategoryCulture:         0.75,
	CategoryNorm:            0.7,
	CategoryEvent:           0.65,
	CategoryTopic:           0.6,
	CategorySharedKnowledge: 0.55,
}

// Weight returns the ranking weight for a category. Unknown categories
// rank at the bottom of the table.
func (c Category) Weight() float64 {
	if w, ok := categoryWeights[c]; ok {
		return w
	}
	return 0.5
}

// Valid reports whether c is in the closed category set.
func (c Category) Valid() bool {
	_, ok := categoryWeights[c]
	return ok
}

// Assertion is a versioned, confidence-scored claim about a subject
// (user or conversation). At most one row per (subject, scope, category,
// key) is active; superseded rows stay inactive and version-linked.
type Assertion struct {
	ID        string   `json:"id"`
	SubjectID string   `json:"subject_id"`
	Scope     Scope    `json:"scope"`
	Category  Category `json:"category"`
	Key       string   `json:"key"`
	Value     string   `json:"value"`

	Confidence    float64   `json:"confidence"`
	Evidence      string    `json:"evidence,omitempty"`
	EvidenceCount int       `json:"evidence_count"`
	Embedding     []float32 `json:"embedding,omitempty"`

	Active        bool    `json:"active"`
	Version       int     `json:"version"`
	PrevVersionID *string `json:"prev_version_id,omitempty"`
	RetiredReason *string `json:"retired_reason,omitempty"`

	FirstObserved  time.Time `json:"first_observed"`
	LastReinforced time.Time `json:"last_reinforced"`
}
