// Package classifier splits a generated explanation into
// conversational framing ("meta") and educational substance
// ("content"). Classification is a pure function over an ordered rule
// table so the rule set can be tuned and tested in isolation.
package classifier

import (
	"regexp"
	"strings"
)

type ruleKind int

const (
	metaPattern ruleKind = iota
	preserveMarker
)

type rule struct {
	name string
	kind ruleKind
	re   *regexp.Regexp
}

// rules is evaluated in order for every sentence. A sentence matching
// any meta pattern and no preserve marker is meta; everything else is
// content.
var rules = []rule{
	// Conversational framing.
	{"first_person_opening", metaPattern, regexp.MustCompile(`(?i)^\s*(i|i'm|i am|i'll|i will|i'd|we|let me|let's|as an ai)\b`)},
	{"first_person_inline", metaPattern, regexp.MustCompile(`(?i)\b(i think|i believe|i hope|i'm glad|i'd be happy|i can help)\b`)},
	{"hedge", metaPattern, regexp.MustCompile(`(?i)\b(maybe|perhaps|i guess|not entirely sure|hard to say)\b`)},
	{"reader_question", metaPattern, regexp.MustCompile(`(?i)\b(you|your|we|us)\b[^?]*\?\s*$`)},
	{"encouragement", metaPattern, regexp.MustCompile(`(?i)\b(great question|good question|well done|keep it up|don'?t worry|happy to help|hope (this|that) helps|feel free|you('re| are) doing great)\b`)},
	{"apology", metaPattern, regexp.MustCompile(`(?i)\b(sorry|apologi[sz]e|my mistake)\b`)},

	// Educational substance worth preserving even when phrased
	// conversationally.
	{"definition", preserveMarker, regexp.MustCompile(`(?i)\b(is defined as|refers to|means that|is called|is known as|consists of|is measured in)\b`)},
	{"enumeration", preserveMarker, regexp.MustCompile(`(?i)(^\s*(\d+[.)]|[-*•])\s+|\b(first|second|third|finally|step \d+)\b\s*[,:])`)},
	{"markdown_emphasis", preserveMarker, regexp.MustCompile("(\\*\\*|__|`|^#{1,6}\\s)")},
	{"logical_connector", preserveMarker, regexp.MustCompile(`(?i)\b(because|therefore|hence|thus|so that|which means|as a result|for example|such as)\b`)},
}

// Classify splits rawText into meta and content sentence groups,
// preserving sentence order within each group. When every sentence is
// meta, contentText is empty; callers must treat that as a signal to
// regenerate rather than display nothing.
func Classify(rawText string) (metaText, contentText string) {
	var meta, content []string
	for _, sentence := range splitSentences(rawText) {
		if isMeta(sentence) {
			meta = append(meta, sentence)
		} else {
			content = append(content, sentence)
		}
	}
	return strings.Join(meta, " "), strings.Join(content, " ")
}

func isMeta(sentence string) bool {
	matchedMeta := false
	for _, r := range rules {
		if !r.re.MatchString(sentence) {
			continue
		}
		if r.kind == preserveMarker {
			return false
		}
		matchedMeta = true
	}
	return matchedMeta
}

var sentenceSplitRe = regexp.MustCompile(`(?m)([.!?])(\s+|$)|\n+`)

// splitSentences breaks text into trimmed sentences, keeping their
// terminal punctuation.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var sentences []string
	last := 0
	for _, loc := range sentenceSplitRe.FindAllStringSubmatchIndex(text, -1) {
		end := loc[1]
		// Keep the punctuation, drop the trailing whitespace.
		if loc[2] >= 0 {
			end = loc[3]
		}
		s := strings.TrimSpace(text[last:end])
		if s != "" {
			sentences = append(sentences, s)
		}
		last = loc[1]
	}
	if rest := strings.TrimSpace(text[last:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}
