// Package optimizer trims conversations to fit a model's context budget.
package optimizer

import (
	"log/slog"

	"github.com/pario-ai/goscli/pkg/models"
	"github.com/pario-ai/goscli/pkg/tokens"
)

// Result is an optimized prompt.
type Result struct {
	Messages []models.Message
	// Tokens is the estimate for Messages. It exceeds the budget only when
	// the minimal conversation itself does not fit.
	Tokens int
	// Removed counts dropped messages.
	Removed int
}

// Fits reports whether the result is within maxTokens.
func (r Result) Fits(maxTokens int) bool {
	return r.Tokens <= maxTokens
}

// Optimizer removes the oldest removable messages until a conversation fits.
// System messages and the most recent user turn are never removed.
type Optimizer struct {
	estimator *tokens.Estimator
	logger    *slog.Logger
}

// New creates an Optimizer.
func New(estimator *tokens.Estimator, logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{
		estimator: estimator,
		logger:    logger.With("component", "optimizer"),
	}
}

// Optimize returns conv trimmed to maxTokens for model. The input is never
// modified and the relative order of kept messages is preserved.
func (o *Optimizer) Optimize(conv []models.Message, maxTokens int, model string) Result {
	msgs := make([]models.Message, len(conv))
	copy(msgs, conv)

	est := o.estimator.EstimateMessages(msgs, model)
	if est <= maxTokens {
		return Result{Messages: msgs, Tokens: est}
	}

	keep := lastUserIndex(msgs)
	removed := 0
	for est > maxTokens {
		i := oldestRemovable(msgs, keep)
		if i < 0 {
			break
		}
		msgs = append(msgs[:i], msgs[i+1:]...)
		if keep > i {
			keep--
		}
		removed++
		est = o.estimator.EstimateMessages(msgs, model)
	}

	if est > maxTokens {
		o.logger.Warn("prompt exceeds budget after truncation",
			"model", model, "tokens", est, "budget", maxTokens, "removed", removed)
	} else {
		o.logger.Info("prompt truncated",
			"model", model, "tokens", est, "budget", maxTokens, "removed", removed)
	}
	return Result{Messages: msgs, Tokens: est, Removed: removed}
}

func lastUserIndex(msgs []models.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			return i
		}
	}
	return -1
}

func oldestRemovable(msgs []models.Message, keep int) int {
	for i, m := range msgs {
		if m.Role != models.RoleSystem && i != keep {
			return i
		}
	}
	return -1
}
