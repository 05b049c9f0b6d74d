// Package tokens estimates generation-input sizes for budget accounting.
package tokens

import (
	"strings"

	"github.com/ThatHunky/gryag-sub000/internal/models"
)

// Estimator approximates token counts for budget trimming. Estimates may
// deviate up to ~10% from a real tokenizer; a precise implementation can
// be swapped in without changing callers.
type Estimator interface {
	Text(s string) int
	Turn(t models.Turn) int
}

// Heuristic counts words scaled by a per-word factor plus a flat cost per
// media descriptor.
type Heuristic struct {
	WordFactor float64
	MediaCost  int
}

// NewHeuristic returns the default estimator: words ×1.3, mediaCost per
// attachment.
func NewHeuristic(mediaCost int) *Heuristic {
	return &Heuristic{WordFactor: 1.3, MediaCost: mediaCost}
}

func (h *Heuristic) Text(s string) int {
	if s == "" {
		return 0
	}
	words := len(strings.Fields(s))
	return int(float64(words) * h.WordFactor)
}

func (h *Heuristic) Turn(t models.Turn) int {
	return h.Text(t.Text) + len(t.Media)*h.MediaCost
}

// Turns sums the estimate over a slice of turns.
func Turns(e Estimator, ts []models.Turn) int {
	total := 0
	for _, t := range ts {
		total += e.Turn(t)
	}
	return total
}

// Assertion estimates one fact line ("key: value").
func Assertion(e Estimator, a models.Assertion) int {
	return e.Text(a.Key) + e.Text(a.Value) + 2
}
