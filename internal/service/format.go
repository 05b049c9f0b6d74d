package service

import (
	"fmt"
	"strings"

	"github.com/ThatHunky/gryag-sub000/internal/models"
	"github.com/ThatHunky/gryag-sub000/internal/tokens"
)

// Format renders a layered context into generation input. It is a pure
// function of its arguments: the recent and immediate layers become the
// chat history, everything else becomes the system context block.
func Format(lc *models.LayeredContext, estimator tokens.Estimator) models.GenerationInput {
	history := make([]models.Turn, 0, len(lc.Recent.Turns)+len(lc.Immediate.Turns))
	history = append(history, lc.Recent.Turns...)
	history = append(history, lc.Immediate.Turns...)

	var b strings.Builder

	if len(lc.Relevant.Results) > 0 {
		b.WriteString("Relevant earlier messages:\n")
		for _, r := range lc.Relevant.Results {
			fmt.Fprintf(&b, "- [%s] %s: %s\n",
				r.Turn.Timestamp.Format("2006-01-02"), r.Turn.ActorID, r.Turn.Text)
		}
		b.WriteString("\n")
	}

	writeFacts := func(header string, facts []models.Assertion) {
		if len(facts) == 0 {
			return
		}
		b.WriteString(header + "\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Value)
		}
		b.WriteString("\n")
	}
	writeFacts("Known about this user:", lc.Background.ActorFacts)
	writeFacts("Known about this chat:", lc.Background.ConversationFacts)

	if len(lc.Episodic.Episodes) > 0 {
		b.WriteString("Past episodes:\n")
		for _, e := range lc.Episodic.Episodes {
			fmt.Fprintf(&b, "- %s: %s\n", e.Topic, e.Summary)
		}
	}

	systemContext := strings.TrimRight(b.String(), "\n")

	total := estimator.Text(systemContext)
	for _, t := range history {
		total += estimator.Turn(t)
	}

	return models.GenerationInput{
		History:       history,
		SystemContext: systemContext,
		TokenCount:    total,
	}
}
