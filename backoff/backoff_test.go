package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/courier/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 0; attempt < 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestLinear(t *testing.T) {
	l := backoff.NewLinear(time.Second, time.Minute)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{30, 30 * time.Second},
		{60, time.Minute},
		{500, time.Minute},
	}
	for _, tt := range tests {
		if got := l.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential(t *testing.T) {
	e := backoff.NewExponential(time.Second, 300*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{8, 256 * time.Second},
		{9, 300 * time.Second},
		{200, 300 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_MonotonicAndCapped(t *testing.T) {
	e := backoff.NewExponential(time.Second, 300*time.Second)
	prev := time.Duration(0)
	for attempt := 0; attempt < 100; attempt++ {
		d := e.Delay(attempt)
		if d < prev {
			t.Fatalf("Delay(%d) = %v decreased from %v", attempt, d, prev)
		}
		if d > 300*time.Second {
			t.Fatalf("Delay(%d) = %v exceeds cap", attempt, d)
		}
		prev = d
	}
}

func TestExponentialWithJitter_Bounds(t *testing.T) {
	s := backoff.DefaultStrategy()
	for attempt := 0; attempt < 40; attempt++ {
		floor := backoff.NewExponential(time.Second, 300*time.Second).Delay(attempt)
		for i := 0; i < 50; i++ {
			d := s.Delay(attempt)
			if d < floor || d >= floor+time.Second {
				t.Fatalf("Delay(%d) = %v, want in [%v, %v)", attempt, d, floor, floor+time.Second)
			}
		}
	}
}

func TestRandomRange_Bounds(t *testing.T) {
	s := backoff.DefaultBulkSpacing()
	for i := 0; i < 1000; i++ {
		d := s.Delay(i)
		if d < 2*time.Second || d >= 5*time.Second {
			t.Fatalf("Delay = %v, want in [2s, 5s)", d)
		}
	}
}

func TestRandomRange_Degenerate(t *testing.T) {
	r := backoff.NewRandomRange(3*time.Second, 3*time.Second)
	if got := r.Delay(0); got != 3*time.Second {
		t.Errorf("Delay = %v, want 3s", got)
	}
}

func TestSleepContext(t *testing.T) {
	if err := backoff.SleepContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := backoff.SleepContext(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
