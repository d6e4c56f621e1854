package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pario-ai/goscli/pkg/logging"
	"github.com/pario-ai/goscli/pkg/provider"
)

// scripted is a provider that replays a fixed sequence of outcomes. A nil
// entry is a success; once the script runs out the last entry repeats.
type scripted struct {
	name   string
	script []error
	mu     sync.Mutex
	calls  int
	models []string
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) Send(ctx context.Context, req provider.Request) (*provider.Response, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.models = append(s.models, req.Model)
	s.mu.Unlock()

	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	if err := s.script[i]; err != nil {
		return nil, err
	}
	return &provider.Response{Content: "ok from " + s.name, Model: req.Model}, nil
}

func (s *scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

type countingAdmitter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (a *countingAdmitter) Acquire(ctx context.Context, requests, tokens int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return a.err
	}
	return ctx.Err()
}

func transient() error {
	return &provider.Failure{Kind: provider.KindServer, Message: "503"}
}

func testPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Second,
		Multiplier:     2,
		Jitter:         0.1,
	}
}

func newTestOrchestrator(p Policy, primary Target, fallback *Target, sleeper *sleepRecorder) *Orchestrator {
	return New(p, primary, fallback,
		WithSleep(sleeper.Sleep),
		WithRand(func() float64 { return 0.5 }),
		WithLogger(logging.Discard()),
	)
}

func TestRetryThenSucceed(t *testing.T) {
	primary := &scripted{name: "openai", script: []error{transient(), transient(), nil}}
	fallback := &scripted{name: "groq", script: []error{nil}}
	sleeper := &sleepRecorder{}
	admit := &countingAdmitter{}

	o := newTestOrchestrator(testPolicy(3),
		Target{Provider: primary, Limiter: admit},
		&Target{Provider: fallback},
		sleeper)

	res, err := o.Send(context.Background(), provider.Request{Model: "gpt-4o"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempts != 3 || res.FellBack || res.Provider != "openai" {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(sleeper.delays) != 2 {
		t.Fatalf("expected exactly two backoff waits, got %v", sleeper.delays)
	}
	// Jitter sample 0.5 gives factor 1: 1s then 2s.
	if sleeper.delays[0] != time.Second || sleeper.delays[1] != 2*time.Second {
		t.Errorf("delays = %v, want [1s 2s]", sleeper.delays)
	}
	if fallback.Calls() != 0 {
		t.Error("fallback must not be invoked")
	}
	if admit.calls != 3 {
		t.Errorf("admission calls = %d, want one per attempt", admit.calls)
	}
}

func TestFallbackAfterExhaustion(t *testing.T) {
	primary := &scripted{name: "openai", script: []error{transient()}}
	fallback := &scripted{name: "groq", script: []error{nil}}
	fbAdmit := &countingAdmitter{}
	sleeper := &sleepRecorder{}

	o := newTestOrchestrator(testPolicy(2),
		Target{Provider: primary},
		&Target{Provider: fallback, Limiter: fbAdmit, Model: "llama-3.1-8b-instant"},
		sleeper)

	res, err := o.Send(context.Background(), provider.Request{Model: "gpt-4o"})
	if err != nil {
		t.Fatal(err)
	}
	if primary.Calls() != 2 {
		t.Errorf("primary calls = %d, want 2", primary.Calls())
	}
	if fallback.Calls() != 1 {
		t.Errorf("fallback calls = %d, want 1", fallback.Calls())
	}
	if !res.FellBack || res.Provider != "groq" || res.Model != "llama-3.1-8b-instant" || res.Attempts != 3 {
		t.Errorf("unexpected result: %+v", res)
	}
	if fallback.models[0] != "llama-3.1-8b-instant" {
		t.Errorf("fallback model override not applied: %v", fallback.models)
	}
	if fbAdmit.calls != 1 {
		t.Errorf("fallback admission calls = %d, want 1", fbAdmit.calls)
	}
}

func TestExhausted(t *testing.T) {
	primary := &scripted{name: "openai", script: []error{transient()}}
	fallback := &scripted{name: "groq", script: []error{&provider.Failure{Kind: provider.KindRateLimited, Message: "slow down"}}}
	sleeper := &sleepRecorder{}

	o := newTestOrchestrator(testPolicy(2), Target{Provider: primary}, &Target{Provider: fallback}, sleeper)

	_, err := o.Send(context.Background(), provider.Request{Model: "m"})
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if ex.Attempts != 4 || len(ex.Providers) != 2 {
		t.Errorf("unexpected exhaustion detail: %+v", ex)
	}
	var f *provider.Failure
	if !errors.As(err, &f) || f.Kind != provider.KindRateLimited {
		t.Errorf("last failure should be reachable, got %v", f)
	}
	// Backoff is applied fresh for the fallback: one wait per provider.
	if len(sleeper.delays) != 2 || sleeper.delays[1] != time.Second {
		t.Errorf("delays = %v", sleeper.delays)
	}
}

func TestExhaustedWithoutFallback(t *testing.T) {
	primary := &scripted{name: "openai", script: []error{transient()}}
	o := newTestOrchestrator(testPolicy(3), Target{Provider: primary}, nil, &sleepRecorder{})

	_, err := o.Send(context.Background(), provider.Request{Model: "m"})
	var ex *ExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 3 {
		t.Fatalf("expected ExhaustedError after 3 attempts, got %v", err)
	}
}

func TestTerminalShortCircuit(t *testing.T) {
	for _, kind := range []provider.Kind{provider.KindAuth, provider.KindInvalidRequest, provider.KindContentPolicy, provider.KindContextLength} {
		t.Run(string(kind), func(t *testing.T) {
			primary := &scripted{name: "openai", script: []error{&provider.Failure{Kind: kind, Message: "no"}}}
			fallback := &scripted{name: "groq", script: []error{nil}}
			sleeper := &sleepRecorder{}

			o := newTestOrchestrator(testPolicy(5), Target{Provider: primary}, &Target{Provider: fallback}, sleeper)

			_, err := o.Send(context.Background(), provider.Request{Model: "m"})
			var f *provider.Failure
			if !errors.As(err, &f) || f.Kind != kind {
				t.Fatalf("expected %s failure, got %v", kind, err)
			}
			var ex *ExhaustedError
			if errors.As(err, &ex) {
				t.Error("terminal failure must not be reported as exhaustion")
			}
			if primary.Calls() != 1 || fallback.Calls() != 0 || len(sleeper.delays) != 0 {
				t.Errorf("calls=%d fallback=%d waits=%d", primary.Calls(), fallback.Calls(), len(sleeper.delays))
			}
		})
	}
}

func TestCancelledDuringBackoff(t *testing.T) {
	primary := &scripted{name: "openai", script: []error{transient()}}
	ctx, cancel := context.WithCancel(context.Background())

	o := New(testPolicy(5), Target{Provider: primary}, nil,
		WithSleep(func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		}),
		WithLogger(logging.Discard()),
	)

	_, err := o.Send(ctx, provider.Request{Model: "m"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if primary.Calls() != 1 {
		t.Errorf("no attempt may follow cancellation, got %d calls", primary.Calls())
	}
}

func TestAdmissionError(t *testing.T) {
	primary := &scripted{name: "openai", script: []error{nil}}
	admit := &countingAdmitter{err: errors.New("cost exceeds limit")}
	o := newTestOrchestrator(testPolicy(3), Target{Provider: primary, Limiter: admit}, nil, &sleepRecorder{})

	if _, err := o.Send(context.Background(), provider.Request{Model: "m"}); err == nil {
		t.Fatal("expected admission error")
	}
	if primary.Calls() != 0 {
		t.Error("no call may be made without admission")
	}
}

func TestAttemptTimeoutIsRetryable(t *testing.T) {
	var calls int
	slow := provider.Func{ProviderName: "slow", Fn: func(ctx context.Context, req provider.Request) (*provider.Response, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &provider.Response{Content: "done"}, nil
	}}

	p := testPolicy(2)
	p.AttemptTimeout = 10 * time.Millisecond
	o := newTestOrchestrator(p, Target{Provider: slow}, nil, &sleepRecorder{})

	res, err := o.Send(context.Background(), provider.Request{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempts != 2 || res.Response.Content != "done" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestRetryAfterHonored(t *testing.T) {
	primary := &scripted{name: "openai", script: []error{
		&provider.Failure{Kind: provider.KindRateLimited, RetryAfter: 30 * time.Second},
		nil,
	}}
	sleeper := &sleepRecorder{}
	o := newTestOrchestrator(testPolicy(2), Target{Provider: primary}, nil, sleeper)

	if _, err := o.Send(context.Background(), provider.Request{Model: "m"}); err != nil {
		t.Fatal(err)
	}
	if len(sleeper.delays) != 1 || sleeper.delays[0] != 30*time.Second {
		t.Errorf("delays = %v, want [30s]", sleeper.delays)
	}
}

func TestDelayCappedByMaxBackoff(t *testing.T) {
	primary := &scripted{name: "openai", script: []error{
		&provider.Failure{Kind: provider.KindRateLimited, RetryAfter: 24 * time.Hour},
		transient(),
		nil,
	}}
	p := testPolicy(3)
	p.InitialBackoff = 10 * time.Second
	p.MaxBackoff = 5 * time.Second
	sleeper := &sleepRecorder{}
	o := newTestOrchestrator(p, Target{Provider: primary}, nil, sleeper)

	if _, err := o.Send(context.Background(), provider.Request{Model: "m"}); err != nil {
		t.Fatal(err)
	}
	if len(sleeper.delays) != 2 || sleeper.delays[0] != 5*time.Second || sleeper.delays[1] != 5*time.Second {
		t.Errorf("delays = %v, want [5s 5s]", sleeper.delays)
	}
}

func TestUnclassifiedErrorIsRetried(t *testing.T) {
	primary := &scripted{name: "openai", script: []error{errors.New("connection reset"), nil}}
	o := newTestOrchestrator(testPolicy(2), Target{Provider: primary}, nil, &sleepRecorder{})

	res, err := o.Send(context.Background(), provider.Request{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
}

func TestBackoff(t *testing.T) {
	p := Policy{InitialBackoff: time.Second, Multiplier: 2, Jitter: 0.1}

	tests := []struct {
		n    int
		r    float64
		want time.Duration
	}{
		{1, 0.5, time.Second},
		{2, 0.5, 2 * time.Second},
		{3, 0.5, 4 * time.Second},
		{1, 0, 900 * time.Millisecond},
		{2, 1, 2200 * time.Millisecond},
	}
	for _, tt := range tests {
		got := p.Backoff(tt.n, tt.r)
		diff := got - tt.want
		if diff < -time.Microsecond || diff > time.Microsecond {
			t.Errorf("Backoff(%d, %v) = %v, want %v", tt.n, tt.r, got, tt.want)
		}
	}
}
