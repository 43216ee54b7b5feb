package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(maxAttempts int) Config {
	return Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Factor:       2.0,
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	var retries []int
	err := Do(context.Background(), fastConfig(5), func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("dial refused")
		}
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		retries = append(retries, attempt)
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(retries) != 2 {
		t.Fatalf("expected 2 retry callbacks, got %v", retries)
	}
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	errDial := errors.New("dial refused")
	err := Do(context.Background(), fastConfig(3), func(int) error {
		calls++
		return errDial
	}, nil)
	if !errors.Is(err, errDial) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(0), func(int) error {
		calls++
		return Permanent(errors.New("bad room"))
	}, nil)
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent errors must not be retried, got %d calls", calls)
	}
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := Do(ctx, fastConfig(0), func(int) error {
		return errors.New("still down")
	}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDelay(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Factor: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 100 * time.Millisecond},
		{attempt: 1, want: 100 * time.Millisecond},
		{attempt: 2, want: 200 * time.Millisecond},
		{attempt: 4, want: 800 * time.Millisecond},
		{attempt: 10, want: time.Second},
	}
	for _, tt := range tests {
		if got := cfg.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	cfg.Jitter = true
	for i := 0; i < 20; i++ {
		d := cfg.Delay(2)
		if d < 100*time.Millisecond || d >= 300*time.Millisecond {
			t.Fatalf("jittered delay %v out of range", d)
		}
	}
}

func TestPermanentNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatalf("Permanent(nil) should be nil")
	}
}
