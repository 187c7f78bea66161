package seif

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestReconnectorRetriesUntilSuccess(t *testing.T) {
	var attempts atomic.Int32

	r := NewReconnector(ReconnectPolicy{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2,
	}, func() error {
		n := attempts.Add(1)
		if n < 3 {
			return errors.New("simulated dial failure")
		}
		return nil
	}, nil)

	r.Start()

	deadline := time.After(2 * time.Second)
	for {
		if attempts.Load() >= 3 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("attempts = %d, want >= 3", attempts.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestReconnectorStopPreventsFurtherAttempts(t *testing.T) {
	var attempts atomic.Int32

	r := NewReconnector(ReconnectPolicy{
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2,
	}, func() error {
		attempts.Add(1)
		return errors.New("always fails")
	}, nil)

	r.Start()
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	afterStop := attempts.Load()

	time.Sleep(50 * time.Millisecond)
	if attempts.Load() > afterStop+1 {
		t.Fatalf("attempts grew after Stop: %d -> %d", afterStop, attempts.Load())
	}
}

func TestReconnectorRespectsMaxRetries(t *testing.T) {
	var attempts atomic.Int32
	failed := make(chan int, 10)

	r := NewReconnector(ReconnectPolicy{
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   1,
		MaxRetries:   2,
	}, func() error {
		attempts.Add(1)
		return errors.New("always fails")
	}, func(attempt int, err error) {
		failed <- attempt
	})

	r.Start()
	time.Sleep(100 * time.Millisecond)

	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2 (MaxRetries)", got)
	}
}
