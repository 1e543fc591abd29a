package generation

import (
	"regexp"
	"strings"

	"github.com/tutorloop/tutorloop/models"
)

// FallbackDisclosure labels degraded output so raw passages are never
// presented as a synthesized answer.
const FallbackDisclosure = "Here is a simplified view of the most relevant course material (I could not generate a full explanation right now):"

var (
	sourcePrefixRe = regexp.MustCompile(`(?i)^\s*(from\s+chapter[^:\n]*|chapter\s+[\dIVXivx]+[^:\n]*|source[^:\n]*|page\s+\d+[^:\n]*)\s*:\s*`)
	noiseRe        = regexp.MustCompile(`[^\p{L}\p{N}\s.,;:!?%/=+()'"-]+`)
	spaceRe        = regexp.MustCompile(`\s+`)
	sentenceEndRe  = regexp.MustCompile(`([.!?])\s+`)
)

// FallbackFormat renders the top retrieved passages as a labeled,
// deterministic plain-text view: source prefixes and symbol noise are
// stripped, text is reflowed into sentences, and multi-sentence
// passages become bullet groups. The function is pure: calling it
// twice on the same candidates yields the same string.
func FallbackFormat(candidates []models.RetrievalCandidate, topN int) string {
	if topN <= 0 {
		topN = 3
	}
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}

	var b strings.Builder
	b.WriteString(FallbackDisclosure)
	b.WriteString("\n")
	for _, cand := range candidates {
		sentences := reflowSentences(cleanPassage(cand.Chunk.Text))
		if len(sentences) == 0 {
			continue
		}
		b.WriteString("\n")
		if len(sentences) == 1 {
			b.WriteString(sentences[0])
			b.WriteString("\n")
			continue
		}
		for _, s := range sentences {
			b.WriteString("- ")
			b.WriteString(s)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// cleanPassage strips source-document prefixes and non-alphanumeric
// noise and normalises whitespace.
func cleanPassage(text string) string {
	text = strings.TrimSpace(text)
	for {
		stripped := sourcePrefixRe.ReplaceAllString(text, "")
		if stripped == text {
			break
		}
		text = strings.TrimSpace(stripped)
	}
	text = noiseRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}

func reflowSentences(text string) []string {
	if text == "" {
		return nil
	}
	parts := sentenceEndRe.Split(text, -1)
	ends := sentenceEndRe.FindAllStringSubmatch(text, -1)
	var sentences []string
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i < len(ends) {
			part += ends[i][1]
		} else if !strings.ContainsAny(part[len(part)-1:], ".!?") {
			part += "."
		}
		sentences = append(sentences, part)
	}
	return sentences
}
