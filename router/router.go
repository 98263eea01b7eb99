// Package router classifies queries with a deterministic rule cascade so that
// model selection is auditable and reproducible. Rules are evaluated in a
// fixed order; the first match decides.
package router

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type Category string

const (
	CategorySimple  Category = "simple"
	CategoryComplex Category = "complex"
)

// Rule names recorded in classifications and the decision log.
const (
	RuleOODFilter         = "ood_filter"
	RuleComplexKeyword    = "complex_keyword"
	RuleQueryLength       = "query_length"
	RuleMultipleQuestions = "multiple_questions"
	RuleComparisonWords   = "comparison_words"
	RuleDefault           = "default"
)

const maxQueryWords = 15

// Default word lists. They are configuration data, not logic: callers can
// supply their own sets through Options to retune routing without touching
// the cascade.
var (
	DefaultGreetings = []string{"hi", "hello", "hey", "thanks", "thank you"}

	DefaultMetaComments = []string{"who are you", "what can you do", "help"}

	DefaultComplexKeywords = []string{"why", "how", "explain", "compare", "analyze", "difference", "relationship"}

	DefaultComparisonWords = []string{"versus", "vs", "better", "worse", "compared to"}
)

// Classification is the immutable result of classifying one query.
type Classification struct {
	Category      Category
	Model         string
	Reasoning     string
	SkipRetrieval bool
	RuleTriggered string
	Score         ComplexityScore
}

// ComplexityScore holds the raw signals the cascade looked at, for the
// decision log.
type ComplexityScore struct {
	WordCount           int `json:"word_count"`
	ComplexKeywordCount int `json:"complex_keyword_count"`
	QuestionMarkCount   int `json:"question_mark_count"`
	ComparisonWordCount int `json:"comparison_word_count"`
}

type Options struct {
	SimpleModel  string
	ComplexModel string

	Greetings       []string
	MetaComments    []string
	ComplexKeywords []string
	ComparisonWords []string
}

// Router routes queries to a model tier. Safe for concurrent use; all state
// is read-only after construction.
type Router struct {
	simpleModel  string
	complexModel string

	greetingRe   *regexp.Regexp
	metaRe       *regexp.Regexp
	helpRe       *regexp.Regexp
	complexRe    *regexp.Regexp
	comparisonRe *regexp.Regexp

	rules []rule
}

// rule pairs a name with its predicate. The ordered slice makes the cascade a
// visible, reorderable configuration instead of buried control flow.
type rule struct {
	name  string
	apply func(q query) (Classification, bool)
}

// query carries the precomputed facts each rule consults.
type query struct {
	raw   string
	lower string
	score ComplexityScore
}

func New(opts Options) *Router {
	greetings := fallback(opts.Greetings, DefaultGreetings)
	meta := fallback(opts.MetaComments, DefaultMetaComments)
	complexKeywords := fallback(opts.ComplexKeywords, DefaultComplexKeywords)
	comparison := fallback(opts.ComparisonWords, DefaultComparisonWords)

	// The word "help" gets its own guarded pattern; see oodFilter.
	metaPhrases := make([]string, 0, len(meta))
	for _, phrase := range meta {
		if phrase != "help" {
			metaPhrases = append(metaPhrases, phrase)
		}
	}

	r := &Router{
		simpleModel:  opts.SimpleModel,
		complexModel: opts.ComplexModel,
		greetingRe:   regexp.MustCompile(`^\s*(?:` + alternation(greetings) + `)\s*[.!?,\s]*$`),
		metaRe:       wordBoundaryPattern(metaPhrases),
		helpRe:       regexp.MustCompile(`\bhelp\b`),
		complexRe:    wordBoundaryPattern(complexKeywords),
		comparisonRe: wordBoundaryPattern(comparison),
	}

	// Evaluation order is the contract: the OOD filter must win over every
	// complexity trigger, and the default closes the cascade.
	r.rules = []rule{
		{RuleOODFilter, r.oodFilter},
		{RuleComplexKeyword, r.complexKeyword},
		{RuleQueryLength, r.queryLength},
		{RuleMultipleQuestions, r.multipleQuestions},
		{RuleComparisonWords, r.comparisonWords},
	}

	return r
}

// Classify maps a query to a model tier. Total over all string inputs; the
// returned reasoning is never empty, and keyword rules name the literal
// matched terms.
func (r *Router) Classify(text string) Classification {
	lower := strings.ToLower(strings.TrimSpace(text))

	q := query{
		raw:   text,
		lower: lower,
		score: ComplexityScore{
			WordCount:           len(strings.Fields(text)),
			ComplexKeywordCount: len(r.findMatches(r.complexRe, lower)),
			QuestionMarkCount:   strings.Count(text, "?"),
			ComparisonWordCount: len(r.findMatches(r.comparisonRe, lower)),
		},
	}

	if lower == "" {
		return Classification{
			Category:      CategorySimple,
			Model:         r.simpleModel,
			Reasoning:     "Empty query defaults to the simple model",
			RuleTriggered: RuleDefault,
			Score:         q.score,
		}
	}

	for _, rule := range r.rules {
		if c, ok := rule.apply(q); ok {
			c.RuleTriggered = rule.name
			c.Score = q.score
			return c
		}
	}

	return Classification{
		Category:      CategorySimple,
		Model:         r.simpleModel,
		Reasoning:     "Query does not match any complexity triggers, defaults to simple",
		RuleTriggered: RuleDefault,
		Score:         q.score,
	}
}

// oodFilter catches queries that are entirely conversational noise: a bare
// greeting, or a short meta-comment about the assistant itself. Greetings
// embedded in a substantive question do not match, and "help" only counts as
// a meta-comment in queries of three words or fewer.
func (r *Router) oodFilter(q query) (Classification, bool) {
	isGreeting := r.greetingRe.MatchString(q.lower)
	isMeta := r.metaRe != nil && r.metaRe.MatchString(q.lower)
	if !isMeta && q.score.WordCount <= 3 {
		isMeta = r.helpRe.MatchString(q.lower)
	}

	if !isGreeting && !isMeta {
		return Classification{}, false
	}

	return Classification{
		Category:      CategorySimple,
		Model:         r.simpleModel,
		Reasoning:     "Query is a greeting or meta-comment (OOD filter)",
		SkipRetrieval: true,
	}, true
}

func (r *Router) complexKeyword(q query) (Classification, bool) {
	matches := r.findMatches(r.complexRe, q.lower)
	if len(matches) == 0 {
		return Classification{}, false
	}
	return Classification{
		Category:  CategoryComplex,
		Model:     r.complexModel,
		Reasoning: "Query contains complex keywords: " + strings.Join(matches, ", "),
	}, true
}

func (r *Router) queryLength(q query) (Classification, bool) {
	if q.score.WordCount <= maxQueryWords {
		return Classification{}, false
	}
	return Classification{
		Category:  CategoryComplex,
		Model:     r.complexModel,
		Reasoning: fmt.Sprintf("Query length (%d words) exceeds %d words", q.score.WordCount, maxQueryWords),
	}, true
}

func (r *Router) multipleQuestions(q query) (Classification, bool) {
	if q.score.QuestionMarkCount <= 1 {
		return Classification{}, false
	}
	return Classification{
		Category:  CategoryComplex,
		Model:     r.complexModel,
		Reasoning: fmt.Sprintf("Query contains multiple question marks (%d)", q.score.QuestionMarkCount),
	}, true
}

func (r *Router) comparisonWords(q query) (Classification, bool) {
	matches := r.findMatches(r.comparisonRe, q.lower)
	if len(matches) == 0 {
		return Classification{}, false
	}
	return Classification{
		Category:  CategoryComplex,
		Model:     r.complexModel,
		Reasoning: "Query contains comparison words: " + strings.Join(matches, ", "),
	}, true
}

// findMatches returns the distinct matched terms, sorted for stable reasoning
// strings.
func (r *Router) findMatches(re *regexp.Regexp, lower string) []string {
	if re == nil || lower == "" {
		return nil
	}
	raw := re.FindAllString(lower, -1)
	if len(raw) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(raw))
	matches := make([]string, 0, len(raw))
	for _, m := range raw {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		matches = append(matches, m)
	}
	sort.Strings(matches)
	return matches
}

// wordBoundaryPattern builds a strict whole-word alternation so substrings
// never match (e.g. "csv" must not trigger "vs").
func wordBoundaryPattern(terms []string) *regexp.Regexp {
	if len(terms) == 0 {
		return nil
	}
	return regexp.MustCompile(`\b(?:` + alternation(terms) + `)\b`)
}

// alternation joins escaped terms longest-first so multi-word phrases win
// over their prefixes ("thank you" before "thanks" would otherwise never
// match whole-string patterns).
func alternation(terms []string) string {
	sorted := make([]string, len(terms))
	copy(sorted, terms)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	escaped := make([]string, len(sorted))
	for i, term := range sorted {
		escaped[i] = regexp.QuoteMeta(term)
	}
	return strings.Join(escaped, "|")
}

func fallback(values, defaults []string) []string {
	if len(values) == 0 {
		return defaults
	}
	return values
}
