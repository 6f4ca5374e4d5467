package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"whatsched/internal/domain"
	"whatsched/internal/eventbus"
	"whatsched/internal/message"
)

type fakeDriver struct {
	connectErr error
	failFor    map[string]error

	inFlight atomic.Int32
	overlap  atomic.Bool

	mu   sync.Mutex
	sent []string
}

func (f *fakeDriver) Name() string                      { return "fake" }
func (f *fakeDriver) Connect(ctx context.Context) error { return f.connectErr }
func (f *fakeDriver) Close() error                      { return nil }

func (f *fakeDriver) Deliver(ctx context.Context, address string, msg message.Message) error {
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inFlight.Add(-1)
	time.Sleep(2 * time.Millisecond)
	if err := f.failFor[address]; err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, address)
	f.mu.Unlock()
	return nil
}

func TestDeliverBeforeEstablish(t *testing.T) {
	t.Parallel()
	s := NewSession(&fakeDriver{}, Options{MinInterval: time.Millisecond})
	err := s.Deliver(context.Background(), "1", message.Message{Text: "hi"})
	var de *domain.DeliveryError
	if !errors.As(err, &de) || de.Lost || !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want not-ready DeliveryError", err)
	}
}

func TestDeliverSerializesSends(t *testing.T) {
	t.Parallel()
	d := &fakeDriver{}
	s := NewSession(d, Options{MinInterval: time.Millisecond})
	if err := s.Establish(context.Background()); err != nil {
		t.Fatalf("Establish: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Deliver(context.Background(), "1", message.Message{Text: "x"}); err != nil {
				t.Errorf("Deliver: %v", err)
			}
		}()
	}
	wg.Wait()
	if d.overlap.Load() {
		t.Fatal("two deliveries overlapped")
	}
	if st := s.Status(); st.Sent != 8 || st.State != StateReady {
		t.Fatalf("status = %+v", st)
	}
}

func TestDeliverPacesSends(t *testing.T) {
	t.Parallel()
	s := NewSession(&fakeDriver{}, Options{MinInterval: 30 * time.Millisecond})
	if err := s.Establish(context.Background()); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := s.Deliver(context.Background(), "1", message.Message{Text: "x"}); err != nil {
			t.Fatal(err)
		}
	}
	if took := time.Since(start); took < 55*time.Millisecond {
		t.Fatalf("3 sends took %v, want paced at ~30ms", took)
	}
}

func TestLostSessionRejectsUntilReestablished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	d := &fakeDriver{failFor: map[string]error{"gone": ErrLost}}
	s := NewSession(d, Options{MinInterval: time.Millisecond, Bus: bus})
	if err := s.Establish(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := s.Deliver(context.Background(), "gone", message.Message{Text: "x"})
	if !domain.IsSessionLost(err) {
		t.Fatalf("err = %v, want lost", err)
	}
	if s.State() != StateLost {
		t.Fatalf("state = %s, want lost", s.State())
	}
	if err := s.Deliver(context.Background(), "ok", message.Message{Text: "x"}); !domain.IsSessionLost(err) {
		t.Fatalf("send after loss err = %v, want lost", err)
	}

	if err := s.Establish(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver(context.Background(), "ok", message.Message{Text: "x"}); err != nil {
		t.Fatalf("send after reconnect: %v", err)
	}

	var sawLost bool
	for len(events) > 0 {
		e := <-events
		if e.Type == eventbus.SessionState && e.Data.(map[string]any)["to"] == string(StateLost) {
			sawLost = true
		}
	}
	if !sawLost {
		t.Fatal("no session.state event for lost")
	}
}

func TestEstablishFailureLeavesDisconnected(t *testing.T) {
	t.Parallel()
	s := NewSession(&fakeDriver{connectErr: errors.New("no qr scanned")}, Options{})
	if err := s.Establish(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	st := s.Status()
	if st.State != StateDisconnected || st.LastError == "" {
		t.Fatalf("status = %+v", st)
	}
}

type gatedDriver struct {
	fakeDriver
	release  chan struct{}
	connects atomic.Int32
}

func (g *gatedDriver) Connect(ctx context.Context) error {
	g.connects.Add(1)
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestConcurrentEstablishSharesHandshake(t *testing.T) {
	t.Parallel()
	d := &gatedDriver{release: make(chan struct{})}
	s := NewSession(d, Options{MinInterval: time.Millisecond, ConnectTimeout: 5 * time.Second})

	errs := make(chan error, 3)
	for range 3 {
		go func() { errs <- s.Establish(context.Background()) }()
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != StateConnecting {
		if time.Now().After(deadline) {
			t.Fatal("session never started connecting")
		}
		time.Sleep(time.Millisecond)
	}
	// Let the late callers join the in-flight handshake.
	time.Sleep(20 * time.Millisecond)
	close(d.release)

	for range 3 {
		if err := <-errs; err != nil {
			t.Fatalf("Establish: %v", err)
		}
	}
	if n := d.connects.Load(); n != 1 {
		t.Fatalf("connects = %d, want 1", n)
	}
	if s.State() != StateReady {
		t.Fatalf("state = %s", s.State())
	}
}

func TestEstablishCallerCanStopWaiting(t *testing.T) {
	t.Parallel()
	d := &gatedDriver{release: make(chan struct{})}
	s := NewSession(d, Options{MinInterval: time.Millisecond, ConnectTimeout: 5 * time.Second})

	leader := make(chan error, 1)
	go func() { leader <- s.Establish(context.Background()) }()
	for s.State() != StateConnecting {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Establish(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("follower err = %v, want deadline exceeded", err)
	}
	close(d.release)
	if err := <-leader; err != nil {
		t.Fatalf("leader: %v", err)
	}
}
