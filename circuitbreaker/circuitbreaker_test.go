package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func TestOpensAfterMaxFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := NewCircuitBreaker(3, 30*time.Second, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return errBackend }); !errors.Is(err, errBackend) {
			t.Fatalf("Expected backend error, got %v", err)
		}
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("Expected state open, got %s", cb.GetState())
	}

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected call to be short-circuited")
	}
}

func TestHalfOpenProbe(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := NewCircuitBreaker(1, 10*time.Second, WithClock(clock.Now))
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errBackend })
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected state open, got %s", cb.GetState())
	}

	clock.t = clock.t.Add(11 * time.Second)

	// failed probe reopens immediately
	_ = cb.Execute(ctx, func() error { return errBackend })
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected state open after failed probe, got %s", cb.GetState())
	}

	clock.t = clock.t.Add(11 * time.Second)
	if err := cb.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("Expected probe to succeed, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state closed, got %s", cb.GetState())
	}
}

func TestHalfOpenAllowsSingleProbe(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := NewCircuitBreaker(1, time.Second, WithClock(clock.Now))
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errBackend })
	clock.t = clock.t.Add(2 * time.Second)

	err := cb.Execute(ctx, func() error {
		if inner := cb.Execute(ctx, func() error { return nil }); !errors.Is(inner, ErrCircuitOpen) {
			t.Errorf("Expected concurrent probe to be rejected, got %v", inner)
		}
		return nil
	})
	if err != nil {
		t.Errorf("Expected probe to succeed, got %v", err)
	}
}

func TestFailureFilter(t *testing.T) {
	errNotFound := errors.New("not found")
	cb := NewCircuitBreaker(1, time.Minute, WithFailureFilter(func(err error) bool {
		return !errors.Is(err, errNotFound)
	}))

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func() error { return errNotFound })
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected filtered errors to keep the circuit closed, got %s", cb.GetState())
	}
}

func TestCancelledContext(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cb.Execute(ctx, func() error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
