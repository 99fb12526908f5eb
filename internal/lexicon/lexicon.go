// Package lexicon corrects misrecognized technical terms in user transcripts.
//
// Speech recognition reliably mangles programming vocabulary: "get hub" for
// "GitHub", "pie test" for "pytest", "go routine" split in two. The Corrector
// holds a canonical term list and rewrites transcript tokens that match a
// term phonetically (Double Metaphone code overlap plus Jaro-Winkler ranking)
// or by close string similarity alone.
package lexicon

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a Corrector.
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

// term is one canonical vocabulary entry with precomputed phonetic codes.
type term struct {
	canonical string
	lower     string
	tokens    []string
	codes     map[string]struct{}
}

// Corrector rewrites transcript text against a fixed technical vocabulary.
// Read-only after construction; safe for concurrent use.
type Corrector struct {
	terms             []term
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New builds a Corrector for the given vocabulary. Multi-word terms are
// supported and matched against adjacent transcript token pairs.
func New(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, v := range vocabulary {
		lower := strings.ToLower(strings.TrimSpace(v))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		c.terms = append(c.terms, term{
			canonical: strings.TrimSpace(v),
			lower:     lower,
			tokens:    tokens,
			codes:     codesForTokens(tokens),
		})
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Match finds the vocabulary term most similar to phrase. When matched is
// false, corrected equals phrase unchanged and confidence is 0.
func (c *Corrector) Match(phrase string) (corrected string, confidence float64, matched bool) {
	lower := strings.ToLower(strings.TrimSpace(phrase))
	if lower == "" || len(c.terms) == 0 {
		return phrase, 0, false
	}
	tokens := strings.Fields(lower)
	inputCodes := codesForTokens(tokens)

	var (
		bestTerm     string
		bestScore    float64
		bestPhonetic bool
	)

	for _, t := range c.terms {
		// Exact hits need no correction.
		if t.lower == lower {
			return t.canonical, 1, true
		}

		phonetic := codesOverlap(inputCodes, t.codes)
		score := bestJWScore(tokens, t.tokens, lower, t.lower)

		switch {
		case phonetic && score >= c.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				bestTerm, bestScore, bestPhonetic = t.canonical, score, true
			}
		case !phonetic && !bestPhonetic:
			if score >= c.fuzzyThreshold && score > bestScore {
				bestTerm, bestScore = t.canonical, score
			}
		}
	}

	if bestTerm == "" {
		return phrase, 0, false
	}
	return bestTerm, bestScore, true
}

// Correct rewrites text token by token. Single tokens are corrected first;
// when neither token of an adjacent pair matches on its own, the pair is
// tried as one phrase so that split terms ("get hub") collapse into their
// canonical form. Punctuation attached to the final token of a window is
// preserved.
func (c *Corrector) Correct(text string) string {
	if len(c.terms) == 0 {
		return text
	}

	words := strings.Fields(text)
	out := make([]string, 0, len(words))

	for i := 0; i < len(words); i++ {
		core := trimPunct(words[i])
		if corrected, _, ok := c.Match(core); ok {
			if !strings.EqualFold(corrected, core) {
				out = append(out, corrected+punctSuffix(words[i]))
			} else {
				out = append(out, words[i])
			}
			continue
		}

		// The token alone matched nothing; try collapsing it with the next
		// token, provided that one matches nothing alone either.
		if i+1 < len(words) {
			next := trimPunct(words[i+1])
			if _, _, ok := c.Match(next); !ok {
				pair := core + " " + next
				if corrected, _, ok := c.matchPhrase(pair); ok && !strings.EqualFold(corrected, pair) {
					out = append(out, corrected+punctSuffix(words[i+1]))
					i++
					continue
				}
			}
		}

		out = append(out, words[i])
	}

	return strings.Join(out, " ")
}

// matchPhrase matches a multi-token phrase using only whole-phrase similarity
// (full-string and space-stripped Jaro-Winkler). Pairwise token scoring is
// deliberately excluded here: a strong single-token score must not drag an
// unrelated neighbouring token into the replacement.
func (c *Corrector) matchPhrase(phrase string) (corrected string, confidence float64, matched bool) {
	lower := strings.ToLower(strings.TrimSpace(phrase))
	if lower == "" {
		return phrase, 0, false
	}
	concat := strings.Join(strings.Fields(lower), "")

	var bestTerm string
	var bestScore float64
	for _, t := range c.terms {
		score := matchr.JaroWinkler(lower, t.lower, false)
		if s := matchr.JaroWinkler(concat, strings.Join(t.tokens, ""), false); s > score {
			score = s
		}
		if score >= c.fuzzyThreshold && score > bestScore {
			bestTerm, bestScore = t.canonical, score
		}
	}

	if bestTerm == "" {
		return phrase, 0, false
	}
	return bestTerm, bestScore, true
}

func trimPunct(w string) string {
	return strings.TrimRight(w, ".,!?:;")
}

func punctSuffix(w string) string {
	return w[len(trimPunct(w)):]
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens, excluding empty codes.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and the term across full-string, space-stripped, and pairwise-token
// comparisons.
func bestJWScore(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(it, tt, false); s > score {
				score = s
			}
		}
	}

	return score
}
