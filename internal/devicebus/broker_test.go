package devicebus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestConnect_FirstAttempt(t *testing.T) {
	broker := NewRecordingBroker()
	var calls atomic.Int32

	got, err := Connect(context.Background(), func(context.Context) (Broker, error) {
		calls.Add(1)
		return broker, nil
	}, RetryPolicy{Attempts: 3, Delay: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got != broker {
		t.Error("Connect() returned a different broker")
	}
	if calls.Load() != 1 {
		t.Errorf("dial calls = %d, want 1", calls.Load())
	}
}

func TestConnect_RetriesThenSucceeds(t *testing.T) {
	broker := NewRecordingBroker()
	var calls atomic.Int32

	_, err := Connect(context.Background(), func(context.Context) (Broker, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("refused")
		}
		return broker, nil
	}, RetryPolicy{Attempts: 5, Delay: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("dial calls = %d, want 3", calls.Load())
	}
}

func TestConnect_ExhaustsAttempts(t *testing.T) {
	dialErr := errors.New("refused")
	var calls atomic.Int32

	_, err := Connect(context.Background(), func(context.Context) (Broker, error) {
		calls.Add(1)
		return nil, dialErr
	}, RetryPolicy{Attempts: 3, Delay: time.Millisecond, Backoff: true, MaxDelay: 2 * time.Millisecond}, nil)

	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if !errors.Is(err, dialErr) {
		t.Errorf("Connect() error = %v, want wrapped dial error", err)
	}
	if calls.Load() != 3 {
		t.Errorf("dial calls = %d, want 3", calls.Load())
	}
}

func TestConnect_ZeroAttemptsMeansOne(t *testing.T) {
	var calls atomic.Int32

	_, err := Connect(context.Background(), func(context.Context) (Broker, error) {
		calls.Add(1)
		return nil, errors.New("refused")
	}, RetryPolicy{}, nil)

	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if calls.Load() != 1 {
		t.Errorf("dial calls = %d, want 1", calls.Load())
	}
}

func TestConnect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := Connect(ctx, func(context.Context) (Broker, error) {
		return nil, errors.New("refused")
	}, RetryPolicy{Attempts: 10, Delay: time.Hour}, nil)

	if !errors.Is(err, ErrConnectionFailed) || !errors.Is(err, context.Canceled) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed wrapping context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Connect() waited despite cancelled context")
	}
}
