// Package similarity computes the composite fuzzy score the deduplication
// engine uses to compare publication texts.
package similarity

import (
	"fmt"
	"math"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"
)

// DefaultMaxChars bounds the text prefix each algorithm sees.
const DefaultMaxChars = 5000

// Algorithm is one weighted component of the composite score. Fn returns a
// ratio in [0, 1].
type Algorithm struct {
	Name   string
	Weight float64
	Fn     func(a, b string) float64
}

// ScoringAlgorithmError records a component that could not produce a value.
// It never escapes Score; the component is dropped from the average.
type ScoringAlgorithmError struct {
	Algorithm string
	Cause     any
}

func (e *ScoringAlgorithmError) Error() string {
	return fmt.Sprintf("similarity: %s failed: %v", e.Algorithm, e.Cause)
}

// Outcome is the result-or-absent value of one algorithm.
type Outcome struct {
	Algorithm string
	Value     float64
	OK        bool
	Err       *ScoringAlgorithmError
}

// Scorer combines several algorithms into a 0-100 score.
type Scorer struct {
	algorithms []Algorithm
	maxChars   int
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithMaxChars overrides the truncation length.
func WithMaxChars(n int) Option {
	return func(s *Scorer) {
		if n > 0 {
			s.maxChars = n
		}
	}
}

// WithAlgorithms replaces the default algorithm set.
func WithAlgorithms(algs ...Algorithm) Option {
	return func(s *Scorer) {
		s.algorithms = algs
	}
}

// DefaultAlgorithms returns edit distance (0.5), matching blocks (0.3) and
// word Jaccard (0.2).
func DefaultAlgorithms() []Algorithm {
	return []Algorithm{
		{Name: "levenshtein", Weight: 0.5, Fn: EditRatio},
		{Name: "matching_blocks", Weight: 0.3, Fn: BlocksRatio},
		{Name: "jaccard", Weight: 0.2, Fn: Jaccard},
	}
}

// NewScorer creates a Scorer with the default algorithms.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		algorithms: DefaultAlgorithms(),
		maxChars:   DefaultMaxChars,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score returns the composite similarity of a and b in [0, 100]. When every
// algorithm succeeds the result is their weighted average; when some fail it
// is the unweighted mean of the rest; when all fail it is 0.
func (s *Scorer) Score(a, b string) float64 {
	score, _ := s.ScoreDetail(a, b)
	return score
}

// ScoreDetail is Score plus the per-algorithm outcomes.
func (s *Scorer) ScoreDetail(a, b string) (float64, []Outcome) {
	a = truncate(a, s.maxChars)
	b = truncate(b, s.maxChars)

	outcomes := make([]Outcome, 0, len(s.algorithms))
	for _, alg := range s.algorithms {
		outcomes = append(outcomes, run(alg, a, b))
	}
	return combine(s.algorithms, outcomes) * 100, outcomes
}

func combine(algs []Algorithm, outcomes []Outcome) float64 {
	var weighted, weights, sum float64
	ok := 0
	for i, o := range outcomes {
		if !o.OK {
			continue
		}
		ok++
		sum += o.Value
		weighted += o.Value * algs[i].Weight
		weights += algs[i].Weight
	}
	switch {
	case ok == 0:
		return 0
	case ok == len(outcomes) && weights > 0:
		return weighted / weights
	default:
		return sum / float64(ok)
	}
}

// run executes one algorithm, converting panics and out-of-range values into
// an absent outcome.
func run(alg Algorithm, a, b string) (out Outcome) {
	out.Algorithm = alg.Name
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Algorithm: alg.Name, Err: &ScoringAlgorithmError{Algorithm: alg.Name, Cause: r}}
			zap.L().Debug("similarity: algorithm failed", zap.String("algorithm", alg.Name), zap.Any("cause", r))
		}
	}()

	if a == "" || b == "" {
		out.Err = &ScoringAlgorithmError{Algorithm: alg.Name, Cause: "empty input"}
		return out
	}
	v := alg.Fn(a, b)
	if math.IsNaN(v) || v < 0 || v > 1 {
		out.Err = &ScoringAlgorithmError{Algorithm: alg.Name, Cause: fmt.Sprintf("value %v out of range", v)}
		return out
	}
	out.Value = v
	out.OK = true
	return out
}

// EditRatio is 1 - levenshtein(a, b) / max(len(a), len(b)), over runes.
func EditRatio(a, b string) float64 {
	return levenshtein.Similarity(a, b, nil)
}

// BlocksRatio is 2*M/T where M is the total size of the longest matching
// blocks between the rune sequences of a and b, and T their combined length.
func BlocksRatio(a, b string) float64 {
	m := difflib.NewMatcherWithJunk(splitRunes(a), splitRunes(b), false, nil)
	return m.Ratio()
}

// Jaccard is |A∩B| / |A∪B| over the word sets of a and b.
func Jaccard(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	intersection := 0
	for w := range wordsA {
		if wordsB[w] {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(s)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?()[]{}\"'")
		if w != "" {
			set[w] = true
		}
	}
	return set
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
