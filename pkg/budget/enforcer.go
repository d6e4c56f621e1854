// Package budget caps token spend per day or month using recorded usage.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/goscli/pkg/config"
)

// ErrBudgetExceeded is returned when a request would run over a budget.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Totaler reports tokens spent. *tracker.SQLiteTracker implements it.
type Totaler interface {
	TotalTokens(ctx context.Context, model string, since time.Time) (int64, error)
}

// Status is the state of one budget in its current period.
type Status struct {
	Policy    config.BudgetConfig
	Since     time.Time
	Used      int64
	Remaining int64
}

// Enforcer checks token usage against budget policies.
type Enforcer struct {
	policies []config.BudgetConfig
	usage    Totaler
	now      func() time.Time
}

// New creates an Enforcer with the given policies.
func New(policies []config.BudgetConfig, usage Totaler) *Enforcer {
	return &Enforcer{policies: policies, usage: usage, now: time.Now}
}

// Check returns an error wrapping ErrBudgetExceeded if any policy that
// applies to model is used up.
func (e *Enforcer) Check(ctx context.Context, model string) error {
	if e == nil {
		return nil
	}
	for _, p := range e.policies {
		if p.Model != "" && p.Model != model {
			continue
		}
		used, since, err := e.used(ctx, p)
		if err != nil {
			return fmt.Errorf("budget check: %w", err)
		}
		if used >= p.MaxTokens {
			return fmt.Errorf("%w: %d of %d tokens used since %s", ErrBudgetExceeded, used, p.MaxTokens, since.Format("2006-01-02"))
		}
	}
	return nil
}

// Status returns the state of every policy.
func (e *Enforcer) Status(ctx context.Context) ([]Status, error) {
	statuses := make([]Status, 0, len(e.policies))
	for _, p := range e.policies {
		used, since, err := e.used(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("budget status: %w", err)
		}
		statuses = append(statuses, Status{
			Policy:    p,
			Since:     since,
			Used:      used,
			Remaining: max(p.MaxTokens-used, 0),
		})
	}
	return statuses, nil
}

func (e *Enforcer) used(ctx context.Context, p config.BudgetConfig) (int64, time.Time, error) {
	since := periodStart(p.Period, e.now())
	used, err := e.usage.TotalTokens(ctx, p.Model, since)
	return used, since, err
}

func periodStart(period string, now time.Time) time.Time {
	now = now.UTC()
	switch period {
	case "monthly":
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
