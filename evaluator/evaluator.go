// Package evaluator applies lexical heuristics to a generated answer and
// flags likely quality problems. Each check is independent; the result is the
// union of triggered flags. The checks are best-effort signals for the
// decision log and the caller, not a correctness guarantee.
package evaluator

import (
	"regexp"
	"strings"

	"github.com/clearpath/support-agent/store"
)

type Flag string

const (
	FlagNoContext          Flag = "no_context"
	FlagRefusal            Flag = "refusal"
	FlagUnverifiedFeature  Flag = "unverified_feature"
	FlagPricingUncertainty Flag = "pricing_uncertainty"
)

// Word lists tuned against observed support-bot output. Phrases, not single
// tokens, where the single token would be too noisy.
var (
	refusalPhrases = []string{
		"i don't have",
		"not mentioned",
		"cannot find",
		"don't know",
		"no information",
		"i cannot",
		"i can't",
		"unable to find",
		"not available",
		"doesn't mention",
	}

	// A refusal phrase followed by one of these usually marks a pivot into a
	// partial answer rather than a flat refusal.
	partialAnswerIndicators = []string{
		"but",
		"however",
		"although",
		"on the other hand",
		"does mention",
		"is available",
		"instead",
		"alternatively",
	}

	hedgingPhrases = []string{
		"may",
		"might",
		"approximately",
		"around",
		"varies",
		"could be",
		"possibly",
		"perhaps",
		"roughly",
	}

	pricingKeywords = []string{
		"price",
		"pricing",
		"cost",
		"fee",
		"plan",
		"subscription",
		"payment",
		"charge",
	}

	conflictPhrases = []string{
		"conflict",
		"contradict",
		"contradictory",
		"different prices",
		"inconsistent",
		"discrepancy",
		"unclear",
		"not explicitly stated",
		"multiple prices listed",
		"differing information",
	}

	properNounStopWords = map[string]struct{}{
		"the": {}, "this": {}, "that": {}, "these": {}, "those": {},
		"it": {}, "they": {}, "we": {}, "you": {},
		"a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "for": {},
	}
)

const partialAnswerMinWords = 12

var (
	nonWordRe       = regexp.MustCompile(`[^\w-]`)
	listMarkerRe    = regexp.MustCompile(`^(\d+[.)]|[-*+>])$`)
	integrationsRe  = regexp.MustCompile(`(?i)\b(slack|github|jira|trello|asana|monday|notion|confluence|google|microsoft|apple|amazon|salesforce|api|rest|graphql|oauth|sso|saml)\b`)
	refusalRe       = wordBoundaryPattern(refusalPhrases)
	pricingRe       = wordBoundaryPattern(pricingKeywords)
	hedgingRe       = wordBoundaryPattern(hedgingPhrases)
	conflictPattern = wordBoundaryPattern(conflictPhrases)
)

// Evaluator is stateless and safe for concurrent use.
type Evaluator struct{}

func New() *Evaluator {
	return &Evaluator{}
}

// Evaluate runs all checks over the response. chunksRetrieved is the size of
// the evidence set that grounded the generation; evidence carries the chunk
// texts for the groundedness check. Total over all string inputs.
func (e *Evaluator) Evaluate(response string, chunksRetrieved int, evidence []store.ScoredChunk) []Flag {
	flags := make([]Flag, 0, 4)

	if e.isNoContext(response, chunksRetrieved) {
		flags = append(flags, FlagNoContext)
	}
	if e.isRefusal(response) {
		flags = append(flags, FlagRefusal)
	}
	if e.hasUnverifiedFeatures(response, evidence) {
		flags = append(flags, FlagUnverifiedFeature)
	}
	if e.hasPricingUncertainty(response) {
		flags = append(flags, FlagPricingUncertainty)
	}

	return flags
}

// isNoContext fires when the model answered from parametric knowledge with no
// grounding at all. A refusal with no context is the appropriate behavior, so
// the two flags are mutually exclusive by construction.
func (e *Evaluator) isNoContext(response string, chunksRetrieved int) bool {
	if chunksRetrieved > 0 {
		return false
	}
	return !e.isRefusal(response)
}

// isRefusal detects an explicit refusal, while letting genuine partial
// answers through: a response that pivots with a contrast marker and is long
// enough to carry real information is not a refusal.
func (e *Evaluator) isRefusal(response string) bool {
	lower := strings.ToLower(response)
	if !refusalRe.MatchString(lower) {
		return false
	}

	hasContrast := false
	for _, indicator := range partialAnswerIndicators {
		if strings.Contains(lower, indicator) {
			hasContrast = true
			break
		}
	}

	if hasContrast && len(strings.Fields(response)) > partialAnswerMinWords {
		return false
	}
	return true
}

// hasUnverifiedFeatures flags responses naming products or integrations that
// appear nowhere in the retrieved evidence.
func (e *Evaluator) hasUnverifiedFeatures(response string, evidence []store.ScoredChunk) bool {
	responseNouns := extractProperNouns(response)
	if len(responseNouns) == 0 {
		return false
	}

	texts := make([]string, 0, len(evidence))
	for _, item := range evidence {
		texts = append(texts, item.Chunk.Text)
	}
	evidenceNouns := extractProperNouns(strings.Join(texts, " "))

	for noun := range responseNouns {
		if _, ok := evidenceNouns[noun]; ok {
			continue
		}
		if len(noun) <= 2 {
			continue
		}
		if _, stop := properNounStopWords[noun]; stop {
			continue
		}
		return true
	}
	return false
}

// extractProperNouns pulls candidate product/feature names from text. A word
// capitalized only because it opens a sentence or list item does not count
// unless it is ALL-CAPS or internally mixed-case. Known integration and
// protocol names are always included. Results are lowercased so set
// comparison is case-insensitive.
func extractProperNouns(text string) map[string]struct{} {
	nouns := make(map[string]struct{})

	words := strings.Fields(text)
	for i, word := range words {
		// Strip possessives before cleaning so "ClearPath's" does not
		// become "ClearPaths".
		word = strings.ReplaceAll(word, "'s", "")
		word = strings.ReplaceAll(word, "’s", "")

		clean := nonWordRe.ReplaceAllString(word, "")
		if clean == "" {
			continue
		}

		runes := []rune(clean)
		if !isUpperRune(runes[0]) {
			continue
		}

		sentenceStart := i == 0
		if i > 0 {
			prev := strings.TrimSpace(words[i-1])
			if strings.HasSuffix(prev, ".") || strings.HasSuffix(prev, "!") ||
				strings.HasSuffix(prev, "?") || strings.HasSuffix(prev, ":") ||
				listMarkerRe.MatchString(prev) {
				sentenceStart = true
			}
		}

		if !sentenceStart {
			nouns[strings.ToLower(clean)] = struct{}{}
		} else if isAllUpper(clean) || hasInnerUpper(runes) {
			nouns[strings.ToLower(clean)] = struct{}{}
		}
	}

	for _, match := range integrationsRe.FindAllString(text, -1) {
		nouns[strings.ToLower(match)] = struct{}{}
	}

	return nouns
}

// hasPricingUncertainty flags pricing talk combined with hedging language or
// an explicit mention of conflicting documentation.
func (e *Evaluator) hasPricingUncertainty(response string) bool {
	lower := strings.ToLower(response)
	if !pricingRe.MatchString(lower) {
		return false
	}
	return hedgingRe.MatchString(lower) || conflictPattern.MatchString(lower)
}

func wordBoundaryPattern(terms []string) *regexp.Regexp {
	escaped := make([]string, len(terms))
	for i, term := range terms {
		escaped[i] = regexp.QuoteMeta(term)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(escaped, "|") + `)\b`)
}

func isUpperRune(r rune) bool {
	return r >= 'A' && r <= 'Z'
}

func isAllUpper(s string) bool {
	sawLetter := false
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if isUpperRune(r) {
			sawLetter = true
		}
	}
	return sawLetter
}

func hasInnerUpper(runes []rune) bool {
	for _, r := range runes[1:] {
		if isUpperRune(r) {
			return true
		}
	}
	return false
}
