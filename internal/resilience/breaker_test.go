package resilience

import (
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream refused")

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "gemini"})
	if b.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", b.maxFailures)
	}
	if b.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", b.resetTimeout)
	}
	if b.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", b.halfOpenMax)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_ClosedForwardsCalls(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "gemini", MaxFailures: 3})
	called := false
	if err := b.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:         "gemini",
		MaxFailures:  3,
		ResetTimeout: time.Hour,
	})

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errUpstream })
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", b.State())
	}

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "gemini", MaxFailures: 3})

	_ = b.Execute(func() error { return errUpstream })
	_ = b.Execute(func() error { return errUpstream })
	_ = b.Execute(func() error { return nil })

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after success", b.State())
	}

	_ = b.Execute(func() error { return errUpstream })
	_ = b.Execute(func() error { return errUpstream })
	if b.State() != StateClosed {
		t.Fatal("should still be closed after 2 failures post-reset")
	}
}

func TestBreaker_OpenToHalfOpenAfterTimeout(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:         "gemini",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})

	_ = b.Execute(func() error { return errUpstream })
	_ = b.Execute(func() error { return errUpstream })
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	time.Sleep(15 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after timeout", b.State())
	}
}

func TestBreaker_ClosesAfterSuccessfulProbes(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:         "gemini",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})

	_ = b.Execute(func() error { return errUpstream })
	_ = b.Execute(func() error { return errUpstream })
	time.Sleep(15 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := b.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: unexpected error: %v", i, err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after probes", b.State())
	}
}

func TestBreaker_ReopensOnFailedProbe(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:         "gemini",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  3,
	})

	_ = b.Execute(func() error { return errUpstream })
	_ = b.Execute(func() error { return errUpstream })
	time.Sleep(15 * time.Millisecond)

	if err := b.Execute(func() error { return errUpstream }); err == nil {
		t.Fatal("expected error from failing probe")
	}

	b.mu.Lock()
	s := b.state
	b.mu.Unlock()
	if s != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", s)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:         "gemini",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	_ = b.Execute(func() error { return errUpstream })
	_ = b.Execute(func() error { return errUpstream })
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", b.State())
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestSet_GetIsStablePerName(t *testing.T) {
	s := NewSet(BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	if s.Get("openai") != s.Get("openai") {
		t.Fatal("Get returned different breakers for the same name")
	}
	if s.Get("openai") == s.Get("anthropic") {
		t.Fatal("Get returned the same breaker for different names")
	}
}

func TestSet_BreakersTripIndependently(t *testing.T) {
	s := NewSet(BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	_ = s.Get("openai").Execute(func() error { return errUpstream })
	_ = s.Get("openai").Execute(func() error { return errUpstream })

	if got := s.Get("openai").State(); got != StateOpen {
		t.Fatalf("openai state = %v, want open", got)
	}
	if got := s.Get("anthropic").State(); got != StateClosed {
		t.Fatalf("anthropic state = %v, want closed", got)
	}

	s.ResetAll()
	if got := s.Get("openai").State(); got != StateClosed {
		t.Fatalf("openai state after ResetAll = %v, want closed", got)
	}
}
