package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestFailFastCancelsSiblings(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), Options{FailFast: true})
	boom := errors.New("boom")
	s.Go("failing", func(ctx context.Context) error { return boom })
	s.Go("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := s.Wait(waitCtx(t))
	if !errors.Is(err, boom) {
		t.Fatalf("Wait err = %v, want boom", err)
	}
	if !strings.HasPrefix(err.Error(), "failing: ") {
		t.Fatalf("err should name the goroutine: %v", err)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), Options{})
	s.Go0("panicky", func(ctx context.Context) { panic("oops") })

	if err := s.Wait(waitCtx(t)); err == nil || !strings.Contains(err.Error(), "oops") {
		t.Fatalf("panic should surface as error, got %v", err)
	}
	if s.Context().Err() != nil {
		t.Fatal("context should stay alive without FailFast")
	}
}

func TestCanceledIsNotAFailure(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), Options{FailFast: true})
	s.Go("stopping", func(ctx context.Context) error { return context.Canceled })
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait err = %v", err)
	}
}

func TestGoRestartRestartsUntilClean(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), Options{})
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, Restart{MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Record: true})

	_ = s.Wait(waitCtx(t))
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
	if s.Err() == nil {
		t.Fatal("expected first error to be recorded")
	}
}

func TestGoRestartForeverRunsAfterCleanExit(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), Options{})
	var runs atomic.Int32
	s.GoRestart("loop", func(ctx context.Context) error {
		if runs.Add(1) == 3 {
			s.Cancel()
		}
		return nil
	}, Restart{MinBackoff: time.Millisecond, Forever: true})

	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait err = %v; clean exits are not recorded without Record", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
}
