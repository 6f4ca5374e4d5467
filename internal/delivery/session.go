package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"whatsched/internal/domain"
	"whatsched/internal/eventbus"
	"whatsched/internal/message"
	logx "whatsched/pkg/logx"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateReady        State = "ready"
	StateLost         State = "lost"
)

const (
	DefaultMinInterval    = 2 * time.Second
	DefaultConnectTimeout = 60 * time.Second
)

type Options struct {
	MinInterval    time.Duration
	ConnectTimeout time.Duration
	Bus            eventbus.Bus
	Log            logx.Logger
}

// Status is a point-in-time view of the session.
type Status struct {
	Driver    string
	State     State
	Since     time.Time
	LastError string
	Sent      uint64
	Failed    uint64
}

// Session is the single owner of a Driver. Deliver holds sendMu for the
// whole send and waits on the limiter, so no two sends overlap.
type Session struct {
	driver Driver
	bus    eventbus.Bus
	log    logx.Logger

	sendMu     sync.Mutex
	limiter    *rate.Limiter
	connecting singleflight.Group

	mu             sync.Mutex
	state          State
	since          time.Time
	lastErr        string
	sent           uint64
	failed         uint64
	connectTimeout time.Duration
}

func NewSession(d Driver, opts Options) *Session {
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Session{
		driver:         d,
		bus:            opts.Bus,
		log:            log.With(logx.String("comp", "session"), logx.String("driver", d.Name())),
		limiter:        rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		state:          StateDisconnected,
		since:          time.Now(),
		connectTimeout: opts.ConnectTimeout,
	}
	if lr, ok := d.(LossReporter); ok {
		lr.OnLost(s.markLost)
	}
	return s
}

// SetPacing updates the minimum interval between sends and the connect timeout.
func (s *Session) SetPacing(minInterval, connectTimeout time.Duration) {
	if minInterval > 0 {
		s.limiter.SetLimit(rate.Every(minInterval))
	}
	if connectTimeout > 0 {
		s.mu.Lock()
		s.connectTimeout = connectTimeout
		s.mu.Unlock()
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Driver:    s.driver.Name(),
		State:     s.state,
		Since:     s.since,
		LastError: s.lastErr,
		Sent:      s.sent,
		Failed:    s.failed,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Establish connects the driver, waiting at most the connect timeout. It is
// a no-op when the session is already ready.
func (s *Session) Establish(ctx context.Context) error {
	if s.State() == StateReady {
		return nil
	}
	// Concurrent callers share one handshake; each may stop waiting on its own ctx.
	ch := s.connecting.DoChan("connect", func() (any, error) {
		return nil, s.connect(ctx)
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateReady {
		s.mu.Unlock()
		return nil
	}
	timeout := s.connectTimeout
	s.mu.Unlock()
	s.setState(StateConnecting, nil)

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	s.log.Info("establishing session", logx.Duration("timeout", timeout))
	if err := s.driver.Connect(cctx); err != nil {
		s.setState(StateDisconnected, err)
		s.log.Error("session establish failed", logx.Err(err))
		return &domain.DeliveryError{Err: fmt.Errorf("connect %s: %w", s.driver.Name(), err)}
	}
	s.setState(StateReady, nil)
	s.log.Info("session ready")
	return nil
}

// Deliver sends one message. Errors are *domain.DeliveryError.
func (s *Session) Deliver(ctx context.Context, address string, msg message.Message) error {
	switch st := s.State(); st {
	case StateReady:
	case StateLost:
		return &domain.DeliveryError{Address: address, Lost: true, Err: ErrLost}
	default:
		return &domain.DeliveryError{Address: address, Err: ErrNotReady}
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.limiter.Wait(ctx); err != nil {
		return &domain.DeliveryError{Address: address, Err: err}
	}
	// The session may have dropped while we waited for the lock.
	if st := s.State(); st != StateReady {
		return &domain.DeliveryError{Address: address, Lost: st == StateLost, Err: ErrNotReady}
	}

	start := time.Now()
	err := s.driver.Deliver(ctx, address, msg)
	if err != nil {
		lost := errors.Is(err, ErrLost)
		if lost {
			s.markLost(err)
		}
		s.mu.Lock()
		s.failed++
		s.mu.Unlock()
		s.publish(eventbus.DeliveryFailed, map[string]any{"address": address, "lost": lost, "err": err.Error()})
		return &domain.DeliveryError{Address: address, Lost: lost, Err: err}
	}

	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	s.log.Debug("delivered",
		logx.String("address", address),
		logx.String("category", msg.Category),
		logx.Bool("media", msg.MediaURL != ""),
		logx.Duration("took", time.Since(start)),
	)
	return nil
}

// Close releases the driver. The session ends disconnected.
func (s *Session) Close() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	err := s.driver.Close()
	s.setState(StateDisconnected, nil)
	return err
}

func (s *Session) markLost(err error) {
	if s.State() == StateLost {
		return
	}
	s.setState(StateLost, err)
	s.log.Error("session lost; run /session connect to re-establish", logx.Err(err))
}

func (s *Session) setState(st State, err error) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.since = time.Now()
	if err != nil {
		s.lastErr = err.Error()
	} else if st == StateReady {
		s.lastErr = ""
	}
	s.mu.Unlock()
	if prev != st {
		s.publish(eventbus.SessionState, map[string]any{"from": string(prev), "to": string(st)})
	}
}

func (s *Session) publish(typ string, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
