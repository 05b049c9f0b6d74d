package models

import "time"

// SearchResult is a ranked turn with its decomposed scores. Ephemeral,
// never persisted.
type SearchResult struct {
	Turn Turn

	SemanticScore    float64
	KeywordScore     float64
	TemporalFactor   float64
	ImportanceFactor float64
	TypeBoost        float64

	FinalScore float64

	MatchedKeywords []string
}

// TurnLayer is a budgeted, ordered slice of turns.
type TurnLayer struct {
	Turns  []Turn
	Tokens int
}

// RelevantLayer holds hybrid search results for the query.
type RelevantLayer struct {
	Results []SearchResult
	Tokens  int
}

// BackgroundLayer holds active assertions about the actor and the
// conversation.
type BackgroundLayer struct {
	ActorFacts        []Assertion
	ConversationFacts []Assertion
	Tokens            int
}

// EpisodicLayer holds episodes relevant to the query.
type EpisodicLayer struct {
	Episodes []Episode
	Tokens   int
}

// LayeredContext is one assembled context payload: five budgeted layers
// plus the total token estimate. Produced fresh per Build call.
type LayeredContext struct {
	Immediate  TurnLayer
	Recent     TurnLayer
	Relevant   RelevantLayer
	Background BackgroundLayer
	Episodic   EpisodicLayer

	TotalTokens  int
	AssemblyTime time.Duration
}

// GenerationInput is the shape the generation collaborator consumes:
// conversation history plus a synthesized system context block.
type GenerationInput struct {
	History       []Turn
	SystemContext string
	TokenCount    int
}
