package aiscore

import (
	"context"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Scorer estimates the probability, 0-100, that a text was machine
// generated. Implementations must treat failure as recoverable: the
// aggregator drops the probability and still reports plagiarism.
type Scorer interface {
	Score(ctx context.Context, text string) (float64, error)
}

type Config struct {
	// MinTextBytes is the shortest text worth scoring; anything below
	// scores 0 rather than guessing from a handful of sentences.
	MinTextBytes int
	// MinSentenceWords filters fragments out of the burstiness sample.
	MinSentenceWords int
}

func DefaultConfig() Config {
	return Config{
		MinTextBytes:     getenvInt("CHEQMATE_AI_MIN_TEXT_BYTES", 100),
		MinSentenceWords: getenvInt("CHEQMATE_AI_MIN_SENTENCE_WORDS", 2),
	}
}

var sentenceSplit = regexp.MustCompile(`[.!?]+`)

// BurstinessScorer scores texts by sentence-length uniformity. Human prose
// alternates short and long sentences; generated prose tends to hold a
// steady cadence, so low burstiness maps to high probability.
type BurstinessScorer struct {
	cfg Config
}

func NewBurstinessScorer(cfg Config) *BurstinessScorer {
	return &BurstinessScorer{cfg: cfg}
}

func (s *BurstinessScorer) Score(ctx context.Context, text string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(text) < s.cfg.MinTextBytes {
		return 0, nil
	}

	b := burstiness(text, s.cfg.MinSentenceWords)
	prob := (1.0 - b) * 100
	if prob < 0 {
		prob = 0
	}
	if prob > 100 {
		prob = 100
	}
	return math.Round(prob*100) / 100, nil
}

// burstiness is the coefficient of variation of sentence lengths: standard
// deviation over mean, in words.
func burstiness(text string, minWords int) float64 {
	var lengths []int
	for _, raw := range sentenceSplit.Split(text, -1) {
		words := strings.Fields(raw)
		if len(words) < minWords {
			continue
		}
		lengths = append(lengths, len(words))
	}
	if len(lengths) == 0 {
		return 0
	}

	sum := 0
	for _, l := range lengths {
		sum += l
	}
	mean := float64(sum) / float64(len(lengths))
	if mean == 0 {
		return 0
	}

	variance := 0.0
	for _, l := range lengths {
		d := float64(l) - mean
		variance += d * d
	}
	variance /= float64(len(lengths))
	return math.Sqrt(variance) / mean
}

func getenvInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
