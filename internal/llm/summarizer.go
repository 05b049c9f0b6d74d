package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ThatHunky/gryag-sub000/internal/config"
	"github.com/ThatHunky/gryag-sub000/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// EpisodeSummary is the summarizer's structured output for one
// conversation window.
type EpisodeSummary struct {
	Topic   string         `json:"topic"`
	Summary string         `json:"summary"`
	Tags    []string       `json:"tags"`
	Emotion models.Emotion `json:"emotion"`
}

// Summarizer condenses conversation windows into episode summaries.
type Summarizer struct {
	llm       llms.Model
	modelName string
}

// NewSummarizer creates a summarizer based on configuration.
func NewSummarizer(cfg config.Config) (*Summarizer, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Summarizer{llm: model, modelName: cfg.LLMModel}, nil
}

// Model returns the LLM model name.
func (s *Summarizer) Model() string {
	return s.modelName
}

const summarizeSystemPrompt = `You summarize chat conversation excerpts into episode records.
Respond with a single JSON object and nothing else:
{"topic": "<short topic, max 8 words>",
 "summary": "<2-3 sentence summary of what happened>",
 "tags": ["<up to 5 lowercase tags>"],
 "emotion": "<one of: positive, negative, mixed, neutral>"}
The conversation may mix Ukrainian and English; keep the topic and
summary in the dominant language of the excerpt.`

// Summarize produces a structured summary for a window of turns. The
// caller provides fallback behavior; any model or parse failure is
// returned as an error.
func (s *Summarizer) Summarize(ctx context.Context, turns []models.Turn) (*EpisodeSummary, error) {
	if len(turns) == 0 {
		return nil, fmt.Errorf("summarize: empty window")
	}

	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "[%s] %s: %s\n", t.Role, t.ActorID, t.Text)
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, summarizeSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, b.String()),
	}

	response, err := s.llm.GenerateContent(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("summarize: no response choices")
	}

	summary, err := parseSummary(response.Choices[0].Content)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	return summary, nil
}

// parseSummary extracts the JSON object from model output, tolerating
// markdown fences and surrounding prose.
func parseSummary(raw string) (*EpisodeSummary, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in output")
	}

	var out EpisodeSummary
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("parse summary: %w", err)
	}
	if out.Summary == "" {
		return nil, fmt.Errorf("summary missing from output")
	}
	switch out.Emotion {
	case models.EmotionPositive, models.EmotionNegative, models.EmotionMixed, models.EmotionNeutral:
	default:
		out.Emotion = models.EmotionNeutral
	}
	return &out, nil
}
