package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/siherrmann/mailrank/model"
)

var stopwords = map[string]bool{
	"a": true, "about": true, "after": true, "all": true, "also": true,
	"an": true, "and": true, "any": true, "are": true, "as": true,
	"at": true, "be": true, "been": true, "but": true, "by": true,
	"can": true, "could": true, "for": true, "from": true, "had": true,
	"has": true, "have": true, "her": true, "his": true, "how": true,
	"in": true, "into": true, "is": true, "it": true, "its": true,
	"just": true, "more": true, "most": true, "not": true, "of": true,
	"on": true, "one": true, "or": true, "our": true, "out": true,
	"over": true, "should": true, "so": true, "some": true, "than": true,
	"that": true, "the": true, "their": true, "them": true, "then": true,
	"there": true, "these": true, "they": true, "this": true, "to": true,
	"up": true, "was": true, "we": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "will": true,
	"with": true, "would": true, "you": true, "your": true,
}

// categoryMarkers maps a category label to the words that vote for it.
// The category with the most votes wins, ties break alphabetically so
// classification stays deterministic.
var categoryMarkers = map[string][]string{
	"planning":   {"plan", "planning", "roadmap", "kickoff", "milestone", "schedule", "deadline", "timeline"},
	"finance":    {"budget", "cost", "invoice", "revenue", "forecast", "expense", "funding"},
	"technical":  {"deploy", "deployment", "architecture", "database", "api", "bug", "incident", "release", "migration"},
	"people":     {"hiring", "interview", "onboarding", "team", "staffing", "review", "promotion"},
	"operations": {"oncall", "handover", "maintenance", "outage", "monitoring", "rollout"},
}

var wordPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9]+`)

// ExtractKeywords returns up to max keywords by descending frequency,
// lowercased, stopword-filtered, at least 4 characters long. Frequency
// ties break alphabetically.
func ExtractKeywords(text string, max int) []string {
	if max <= 0 {
		return nil
	}

	counts := map[string]int{}
	for _, word := range wordPattern.FindAllString(text, -1) {
		word = strings.ToLower(word)
		if len(word) < 4 || stopwords[word] {
			continue
		}
		counts[word]++
	}

	keywords := make([]string, 0, len(counts))
	for word := range counts {
		keywords = append(keywords, word)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})

	if len(keywords) > max {
		keywords = keywords[:max]
	}
	return keywords
}

// DetermineCategory classifies text into a coarse category by counting
// marker word occurrences. Returns "general" when nothing matches.
func DetermineCategory(text string) string {
	lower := strings.ToLower(text)

	best := "general"
	bestVotes := 0

	categories := make([]string, 0, len(categoryMarkers))
	for category := range categoryMarkers {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		votes := 0
		for _, marker := range categoryMarkers[category] {
			votes += strings.Count(lower, marker)
		}
		if votes > bestVotes {
			best = category
			bestVotes = votes
		}
	}

	return best
}

// GenerateQA builds synthetic question/answer pairs describing what a
// chunk can answer. One pair per leading sentence, capped at maxPairs.
func GenerateQA(text string, maxPairs int) ([]string, []string) {
	if maxPairs <= 0 {
		return nil, nil
	}

	normalized := strings.ReplaceAll(text, "! ", "!|")
	normalized = strings.ReplaceAll(normalized, "? ", "?|")
	normalized = strings.ReplaceAll(normalized, ". ", ".|")

	var questions []string
	var answers []string
	for _, sentence := range strings.Split(normalized, "|") {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		topic := sentenceTopic(sentence)
		if topic == "" {
			continue
		}

		questions = append(questions, fmt.Sprintf("What does this document say about %s?", topic))
		answers = append(answers, strings.TrimRight(sentence, ".!?"))

		if len(questions) >= maxPairs {
			break
		}
	}

	return questions, answers
}

// sentenceTopic picks the most frequent keyword of a sentence as its
// topic, or the first non-stopword as a fallback.
func sentenceTopic(sentence string) string {
	keywords := ExtractKeywords(sentence, 1)
	if len(keywords) > 0 {
		return keywords[0]
	}
	for _, word := range wordPattern.FindAllString(sentence, -1) {
		lower := strings.ToLower(word)
		if !stopwords[lower] {
			return lower
		}
	}
	return ""
}

// DefaultEnricher annotates chunks with keywords, a category and
// synthetic Q/A pairs. Fields already set upstream are kept.
func DefaultEnricher() EnrichFunc {
	return func(chunk *model.Chunk) {
		if len(chunk.Keywords) == 0 {
			chunk.Keywords = ExtractKeywords(chunk.Text, 8)
		}
		if chunk.Category == "" {
			chunk.Category = DetermineCategory(chunk.Text)
		}
		if len(chunk.Questions) == 0 && len(chunk.Answers) == 0 {
			chunk.Questions, chunk.Answers = GenerateQA(chunk.Text, 3)
		}
	}
}
