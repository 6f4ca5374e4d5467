// Package supervisor owns the long-lived goroutines of a component: engine
// workers, command workers, the poll loop and the debug server. Each runs
// under a shared context, with panics turned into errors.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	logx "whatsched/pkg/logx"
)

// Options configures a Supervisor.
type Options struct {
	Log logx.Logger
	// FailFast cancels the shared context when any goroutine fails.
	FailFast bool
}

// Restart configures GoRestart. Zero backoffs take the defaults.
type Restart struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// Forever restarts fn after a clean return too. Otherwise a nil return
	// ends the loop.
	Forever bool
	// Record keeps the first failure as the supervisor's Err.
	Record bool
}

const (
	defaultMinBackoff = 250 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
	// A run that lasted this long resets the backoff.
	healthyRun = 30 * time.Second
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   Options

	wg sync.WaitGroup

	mu  sync.Mutex
	err error
}

func New(parent context.Context, opts Options) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{ctx: ctx, cancel: cancel, opts: opts}
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first recorded failure.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Go runs fn. A non-nil error other than cancellation is recorded.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.call(name, fn); err != nil && !errors.Is(err, context.Canceled) {
			s.record(fmt.Errorf("%s: %w", name, err))
			if s.opts.FailFast {
				s.cancel()
			}
		}
	}()
}

// Go0 runs fn, which has nothing to report.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// GoRestart runs fn in a loop, backing off exponentially with jitter
// between failed runs, until the context is canceled.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, r Restart) {
	if r.MinBackoff <= 0 {
		r.MinBackoff = defaultMinBackoff
	}
	if r.MaxBackoff < r.MinBackoff {
		r.MaxBackoff = max(defaultMaxBackoff, r.MinBackoff)
	}
	s.Go0(name, func(ctx context.Context) {
		backoff := r.MinBackoff
		for ctx.Err() == nil {
			began := time.Now()
			err := s.call(name, fn)
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				if !r.Forever {
					return
				}
				err = errors.New("returned")
			}
			if r.Record {
				s.record(fmt.Errorf("%s: %w", name, err))
			}
			if time.Since(began) >= healthyRun {
				backoff = r.MinBackoff
			}
			wait := backoff + rand.N(backoff/5+1)
			s.opts.Log.Warn("restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff = min(backoff*2, r.MaxBackoff)
		}
	})
}

// Wait blocks until every goroutine returned or ctx is done. It returns the
// first recorded failure.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return s.Err()
	}
}

// call runs fn once, converting a panic into an error.
func (s *Supervisor) call(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			s.opts.Log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(s.ctx)
}

func (s *Supervisor) record(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}
