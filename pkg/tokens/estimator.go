// Package tokens estimates token counts for text and chat messages.
//
// Estimates use a characters-per-token heuristic; they are deterministic and
// never touch the network. Accuracy is good enough for context budgeting and
// rate limiting, not for billing.
package tokens

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/pario-ai/goscli/pkg/models"
)

const (
	// DefaultCharsPerToken applies to models with no configured ratio.
	DefaultCharsPerToken = 4.0

	// MessageOverhead is charged per message for role and separators.
	MessageOverhead = 4

	// ReplyPriming is charged once for any non-empty message sequence.
	ReplyPriming = 2
)

// Estimator counts tokens with per-model character ratios.
type Estimator struct {
	ratios map[string]float64
}

// NewEstimator creates an Estimator. ratios maps model ids, or model id
// prefixes, to a characters-per-token ratio. Non-positive ratios are ignored.
func NewEstimator(ratios map[string]float64) *Estimator {
	r := make(map[string]float64, len(ratios))
	for model, ratio := range ratios {
		if ratio > 0 {
			r[model] = ratio
		}
	}
	return &Estimator{ratios: r}
}

// Ratio returns the characters-per-token ratio used for model: an exact
// match, then the longest matching prefix, then DefaultCharsPerToken.
func (e *Estimator) Ratio(model string) float64 {
	if e == nil {
		return DefaultCharsPerToken
	}
	if r, ok := e.ratios[model]; ok {
		return r
	}
	best, bestLen := DefaultCharsPerToken, 0
	for prefix, r := range e.ratios {
		if len(prefix) > bestLen && strings.HasPrefix(model, prefix) {
			best, bestLen = r, len(prefix)
		}
	}
	return best
}

// EstimateText returns the token estimate for text. Empty text is zero.
func (e *Estimator) EstimateText(text, model string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / e.Ratio(model)))
}

// EstimateMessages returns the token estimate for a message sequence,
// including per-message framing and reply priming.
func (e *Estimator) EstimateMessages(msgs []models.Message, model string) int {
	if len(msgs) == 0 {
		return 0
	}
	ratio := e.Ratio(model)
	total := ReplyPriming
	for _, m := range msgs {
		total += MessageOverhead
		total += ceilDiv(string(m.Role), ratio)
		total += ceilDiv(m.Content, ratio)
	}
	return total
}

func ceilDiv(s string, ratio float64) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / ratio))
}
