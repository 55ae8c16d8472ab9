package breaker

import (
	"testing"
	"time"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := New("user", DefaultConfig())

	if got := b.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
	allowed, err := b.Allow()
	if !allowed || err != nil {
		t.Errorf("Allow() = (%v, %v), want (true, nil)", allowed, err)
	}
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := New("user", Config{FailureThreshold: 3, ResetTimeout: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() after 2 failures = %v, want %v", got, StateClosed)
	}

	b.RecordFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() after 3 failures = %v, want %v", got, StateOpen)
	}

	allowed, err := b.Allow()
	if allowed {
		t.Error("Allow() = true on open circuit, want false")
	}
	if apperrors.KindOf(err) != apperrors.KindCircuitOpen {
		t.Errorf("Allow() error kind = %v, want %v", apperrors.KindOf(err), apperrors.KindCircuitOpen)
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := New("connection", Config{FailureThreshold: 3, ResetTimeout: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	if got := b.ConsecutiveFailures(); got != 0 {
		t.Errorf("ConsecutiveFailures() = %d, want 0", got)
	}

	// Interleaved failures never reach the threshold.
	b.RecordFailure()
	b.RecordFailure()
	if got := b.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	b := New("schema", Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})

	b.RecordFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() = %v, want %v", got, StateOpen)
	}

	time.Sleep(20 * time.Millisecond)

	// First caller after the reset timeout becomes the trial.
	allowed, err := b.Allow()
	if !allowed || err != nil {
		t.Fatalf("trial Allow() = (%v, %v), want (true, nil)", allowed, err)
	}
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("State() during trial = %v, want %v", got, StateHalfOpen)
	}

	// Concurrent callers are rejected while the trial is in flight.
	allowed, err = b.Allow()
	if allowed {
		t.Error("Allow() = true during half-open trial, want false")
	}
	if apperrors.KindOf(err) != apperrors.KindCircuitOpen {
		t.Errorf("Allow() error kind = %v, want %v", apperrors.KindOf(err), apperrors.KindCircuitOpen)
	}
}

func TestBreakerHalfOpenOutcomes(t *testing.T) {
	t.Run("trial success closes", func(t *testing.T) {
		b := New("view", Config{FailureThreshold: 1, ResetTimeout: 5 * time.Millisecond})
		b.RecordFailure()
		time.Sleep(10 * time.Millisecond)
		if allowed, _ := b.Allow(); !allowed {
			t.Fatal("trial not admitted")
		}
		b.RecordSuccess()
		if got := b.State(); got != StateClosed {
			t.Errorf("State() = %v, want %v", got, StateClosed)
		}
		if allowed, _ := b.Allow(); !allowed {
			t.Error("Allow() = false after recovery, want true")
		}
	})

	t.Run("trial failure reopens", func(t *testing.T) {
		b := New("view", Config{FailureThreshold: 1, ResetTimeout: 5 * time.Millisecond})
		b.RecordFailure()
		time.Sleep(10 * time.Millisecond)
		if allowed, _ := b.Allow(); !allowed {
			t.Fatal("trial not admitted")
		}
		b.RecordFailure()
		if got := b.State(); got != StateOpen {
			t.Errorf("State() = %v, want %v", got, StateOpen)
		}
	})
}

func TestBreakerReset(t *testing.T) {
	b := New("versioning", Config{FailureThreshold: 1, ResetTimeout: time.Hour})
	b.RecordFailure()
	b.Reset()

	if got := b.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
	if got := b.ConsecutiveFailures(); got != 0 {
		t.Errorf("ConsecutiveFailures() = %d, want 0", got)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
