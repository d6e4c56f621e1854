// Package service answers a conversation through the optimizer, the tiered
// cache and the retry orchestrator.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pario-ai/goscli/pkg/budget"
	"github.com/pario-ai/goscli/pkg/cache"
	"github.com/pario-ai/goscli/pkg/codec"
	"github.com/pario-ai/goscli/pkg/config"
	"github.com/pario-ai/goscli/pkg/logging"
	"github.com/pario-ai/goscli/pkg/metrics"
	"github.com/pario-ai/goscli/pkg/models"
	"github.com/pario-ai/goscli/pkg/optimizer"
	"github.com/pario-ai/goscli/pkg/provider"
	"github.com/pario-ai/goscli/pkg/retry"
	"github.com/pario-ai/goscli/pkg/tokens"
	"github.com/pario-ai/goscli/pkg/tracker"
)

// ErrEmptyConversation is returned when there is nothing to send.
var ErrEmptyConversation = errors.New("service: conversation has no user message")

// Deps are the collaborators of a Service. Only Config and Orchestrator are
// required.
type Deps struct {
	Config       *config.Config
	Estimator    *tokens.Estimator
	Orchestrator *retry.Orchestrator
	Cache        *cache.Tiered
	Budget       *budget.Enforcer
	Tracker      tracker.Tracker
	Metrics      *metrics.Collector
	Logger       *slog.Logger
}

// AskOptions control a single request.
type AskOptions struct {
	// Model defaults to the configured default model.
	Model   string
	Params  provider.Params
	NoCache bool
}

// Answer is the outcome of Ask.
type Answer struct {
	RequestID    string
	Content      string
	Provider     string
	Model        string
	Usage        models.Usage
	Cached       bool
	Attempts     int
	FellBack     bool
	PromptTokens int
	Removed      int
}

// cachedAnswer is the payload stored in the tiered cache.
type cachedAnswer struct {
	Content  string       `cbor:"content"`
	Provider string       `cbor:"provider"`
	Model    string       `cbor:"model"`
	Usage    models.Usage `cbor:"usage"`
}

// Service sequences one request through the pipeline.
type Service struct {
	cfg       *config.Config
	estimator *tokens.Estimator
	optimizer *optimizer.Optimizer
	orch      *retry.Orchestrator
	cache     *cache.Tiered
	budget    *budget.Enforcer
	tracker   tracker.Tracker
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// New creates a Service.
func New(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	est := d.Estimator
	if est == nil {
		est = tokens.NewEstimator(d.Config.CharsPerToken())
	}
	return &Service{
		cfg:       d.Config,
		estimator: est,
		optimizer: optimizer.New(est, logger),
		orch:      d.Orchestrator,
		cache:     d.Cache,
		budget:    d.Budget,
		tracker:   d.Tracker,
		metrics:   d.Metrics,
		logger:    logger.With("component", "service"),
	}
}

// Ask answers conv. The conversation is not modified.
func (s *Service) Ask(ctx context.Context, conv models.Conversation, opts AskOptions) (*Answer, error) {
	start := time.Now()
	requestID := uuid.NewString()
	ctx = logging.WithRequestID(ctx, requestID)
	logger := s.logger.With("request_id", requestID)

	if conv.LastUserIndex() < 0 {
		return nil, ErrEmptyConversation
	}

	primary := s.orch.Primary()
	model := opts.Model
	if model == "" {
		model = s.cfg.DefaultModel
	}
	if primary.Model != "" {
		model = primary.Model
	}

	opt, err := s.fit(conv, model, primary.Provider.Name())
	if err != nil {
		return nil, err
	}

	answer := &Answer{RequestID: requestID, PromptTokens: opt.Tokens, Removed: opt.Removed}

	useCache := s.cache != nil && !opts.NoCache
	var key string
	if useCache {
		key, err = cache.Fingerprint(cache.KeyInput{
			Provider: primary.Provider.Name(),
			Model:    model,
			Messages: opt.Messages,
			Params:   opts.Params,
		})
		if err != nil {
			return nil, fmt.Errorf("cache key: %w", err)
		}
		if data, ok := s.cache.Get(ctx, key); ok {
			var c cachedAnswer
			if err := codec.Unmarshal(data, &c); err == nil {
				answer.Content, answer.Provider, answer.Model, answer.Usage = c.Content, c.Provider, c.Model, c.Usage
				answer.Cached = true
				logger.Info("answered from cache", "provider", c.Provider, "model", c.Model)
				s.record(ctx, answer, time.Since(start))
				return answer, nil
			}
			logger.Warn("discarding undecodable cached answer")
		}
	}

	if err := s.budget.Check(ctx, model); err != nil {
		s.metrics.RecordRequest(primary.Provider.Name(), model, outcome(err), time.Since(start), 0, 0)
		return nil, err
	}

	res, err := s.orch.Send(ctx, provider.Request{
		Model:           model,
		Messages:        opt.Messages,
		Params:          opts.Params,
		EstimatedTokens: opt.Tokens,
	})
	if err != nil {
		s.metrics.RecordRequest(primary.Provider.Name(), model, outcome(err), time.Since(start), 0, 0)
		return nil, err
	}

	answer.Content = res.Response.Content
	answer.Provider = res.Provider
	answer.Model = res.Model
	answer.Usage = res.Response.Usage
	answer.Attempts = res.Attempts
	answer.FellBack = res.FellBack

	if useCache {
		data, err := codec.Marshal(cachedAnswer{Content: answer.Content, Provider: answer.Provider, Model: answer.Model, Usage: answer.Usage})
		if err == nil {
			err = s.cache.Set(ctx, key, data, 0)
		}
		if err != nil {
			logger.Warn("caching answer failed", "error", err)
		}
	}

	s.record(ctx, answer, time.Since(start))
	return answer, nil
}

// fit trims conv to the prompt budget of model and, when a fallback is
// configured, to the budget of the fallback's model as well, so either
// target can receive the result. Tokens in the result are estimated for model.
func (s *Service) fit(conv models.Conversation, model, providerName string) (optimizer.Result, error) {
	promptBudget := s.cfg.Model(model).PromptBudget()
	opt := s.optimizer.Optimize(conv, promptBudget, model)
	if !opt.Fits(promptBudget) {
		return opt, &provider.Failure{
			Kind:     provider.KindContextLength,
			Provider: providerName,
			Message:  fmt.Sprintf("prompt needs %d tokens but %s allows %d", opt.Tokens, model, promptBudget),
		}
	}

	if fb := s.orch.Fallback(); fb != nil {
		fbModel := model
		if fb.Model != "" {
			fbModel = fb.Model
		}
		fbBudget := s.cfg.Model(fbModel).PromptBudget()
		fbOpt := s.optimizer.Optimize(opt.Messages, fbBudget, fbModel)
		if !fbOpt.Fits(fbBudget) {
			return opt, &provider.Failure{
				Kind:     provider.KindContextLength,
				Provider: fb.Provider.Name(),
				Message:  fmt.Sprintf("prompt needs %d tokens but fallback model %s allows %d", fbOpt.Tokens, fbModel, fbBudget),
			}
		}
		if fbOpt.Removed > 0 {
			opt = optimizer.Result{
				Messages: fbOpt.Messages,
				Tokens:   s.estimator.EstimateMessages(fbOpt.Messages, model),
				Removed:  opt.Removed + fbOpt.Removed,
			}
		}
	}

	if opt.Removed > 0 {
		s.metrics.RecordTruncation(model)
	}
	return opt, nil
}

func (s *Service) record(ctx context.Context, a *Answer, latency time.Duration) {
	rec := models.UsageRecord{
		RequestID: a.RequestID,
		Provider:  a.Provider,
		Model:     a.Model,
		CacheHit:  a.Cached,
		Attempts:  a.Attempts,
		FellBack:  a.FellBack,
		LatencyMs: latency.Milliseconds(),
		CreatedAt: time.Now().UTC(),
	}
	outcome := "success"
	if a.Cached {
		outcome = "cache_hit"
	} else {
		rec.PromptTokens = a.Usage.PromptTokens
		rec.CompletionTokens = a.Usage.CompletionTokens
		rec.TotalTokens = a.Usage.TotalTokens
	}
	s.metrics.RecordRequest(a.Provider, a.Model, outcome, latency, rec.PromptTokens, rec.CompletionTokens)

	if s.tracker == nil {
		return
	}
	if err := s.tracker.Record(ctx, rec); err != nil {
		s.logger.Warn("recording usage failed", "request_id", a.RequestID, "error", err)
	}
}

func outcome(err error) string {
	var ex *retry.ExhaustedError
	var f *provider.Failure
	switch {
	case errors.As(err, &ex):
		return "exhausted"
	case errors.Is(err, budget.ErrBudgetExceeded):
		return "budget_exceeded"
	case errors.As(err, &f):
		return string(f.Kind)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
