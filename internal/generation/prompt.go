package generation

import (
	"fmt"
	"strings"

	"github.com/tutorloop/tutorloop/models"
)

// BuildPrompt assembles the single generation prompt: instructions,
// the ranked passages up to the context budget (highest rank first),
// the most recent conversation turns, and the question itself.
func BuildPrompt(req models.GenerationRequest, contextBudget, historyWindow int) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf(`You are a patient tutor for a grade %d student following the %s syllabus. Answer the question using ONLY the course passages below. Explain step by step in simple language appropriate for the grade. If the passages do not fully cover the question, say which part you are unsure about.

COURSE PASSAGES:
`, req.Grade, strings.ToUpper(string(req.Syllabus))))

	used := 0
	for _, cand := range req.Candidates {
		passage := fmt.Sprintf("[%d] (%s, chapter %q)\n%s\n\n", cand.Rank, cand.Chunk.Subject, cand.Chunk.Chapter, strings.TrimSpace(cand.Chunk.Text))
		if contextBudget > 0 && used+len(passage) > contextBudget {
			break
		}
		b.WriteString(passage)
		used += len(passage)
	}

	history := req.History
	if historyWindow > 0 && len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	if len(history) > 0 {
		b.WriteString("RECENT CONVERSATION:\n")
		for _, turn := range history {
			b.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, strings.TrimSpace(turn.Content)))
		}
		b.WriteString("\n")
	}

	b.WriteString("QUESTION: " + strings.TrimSpace(req.Query) + "\n")
	return b.String()
}
