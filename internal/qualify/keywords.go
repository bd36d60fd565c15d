// ABOUTME: Deterministic keyword heuristics for BANT detection
// ABOUTME: Used when no classification backend is configured or when it fails

package qualify

import (
	"context"
	"strings"
	"unicode"
)

// Term lists are matched against whole words (or whole-word phrases) of the
// lower-cased message. "approved" deliberately does not count as authority:
// it usually describes a budget, not the speaker's role.
var (
	budgetTerms = []string{
		"budget", "budgets", "budgeted", "spend", "spending", "cost", "costs",
		"price", "pricing", "afford", "invest", "investment", "funding", "funds",
		"money", "quote", "roi",
	}
	authorityTerms = []string{
		"decision", "decisions", "decide", "decides", "decision maker",
		"decision-maker", "sign off", "sign-off", "approve", "approval", "approver",
		"authorize", "authorise", "ceo", "cto", "cfo", "coo", "founder", "owner",
		"director", "head of", "vp", "in charge", "my call", "authority",
	}
	needTerms = []string{
		"need", "needs", "needed", "problem", "problems", "challenge", "challenges",
		"pain", "issue", "issues", "struggle", "struggling", "bottleneck",
		"looking for", "require", "requirement", "requirements",
	}
	timelineTerms = []string{
		"timeline", "deadline", "asap", "urgent", "urgently", "soon", "quarter",
		"q1", "q2", "q3", "q4", "immediately", "right away", "this week",
		"next week", "this month", "next month", "this year", "next year",
		"by monday", "by friday", "within", "launch date",
	}
)

// KeywordClassifier detects BANT signals by term presence. It never fails.
type KeywordClassifier struct{}

// Classify implements Classifier.
func (KeywordClassifier) Classify(_ context.Context, text string) (Signals, error) {
	return DetectKeywords(text), nil
}

// DetectKeywords applies the heuristic term lists to text.
func DetectKeywords(text string) Signals {
	normalized := normalize(text)
	return Signals{
		Budget:    strings.ContainsRune(text, '$') || containsAny(normalized, budgetTerms),
		Authority: containsAny(normalized, authorityTerms),
		Need:      containsAny(normalized, needTerms),
		Timeline:  containsAny(normalized, timelineTerms),
	}
}

// normalize lower-cases text and collapses it into space-separated words,
// padded with a leading and trailing space so phrases can be matched on word
// boundaries with a plain substring search.
func normalize(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	return " " + strings.Join(words, " ") + " "
}

// negators cancel a term when they appear in the two words before it.
// Contractions split on the apostrophe, so "don't" arrives as "don t".
var negators = map[string]bool{
	"no": true, "not": true, "never": true, "without": true, "zero": true,
	"t": true, "dont": true, "doesnt": true, "cant": true, "isnt": true, "arent": true,
}

// containsAny reports whether any term occurs in normalized without a
// negator just before it. Negation further back ("no way we could ever
// afford it") is not detected.
func containsAny(normalized string, terms []string) bool {
	for _, term := range terms {
		needle := " " + term + " "
		for from := 0; ; {
			i := strings.Index(normalized[from:], needle)
			if i < 0 {
				break
			}
			at := from + i
			if !negated(normalized[:at]) {
				return true
			}
			from = at + 1
		}
	}
	return false
}

func negated(prefix string) bool {
	words := strings.Fields(prefix)
	if len(words) > 2 {
		words = words[len(words)-2:]
	}
	for _, w := range words {
		if negators[w] {
			return true
		}
	}
	return false
}
