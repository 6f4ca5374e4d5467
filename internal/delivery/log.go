package delivery

import (
	"context"
	"sync"

	"whatsched/internal/message"
	logx "whatsched/pkg/logx"
)

// Sent records one delivery made by LogDriver.
type Sent struct {
	Address string
	Message message.Message
}

// LogDriver performs no delivery; it logs and remembers each send.
type LogDriver struct {
	log logx.Logger

	mu   sync.Mutex
	sent []Sent
}

func NewLogDriver(log logx.Logger) *LogDriver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogDriver{log: log.With(logx.String("comp", "delivery.log"))}
}

func (d *LogDriver) Name() string { return "log" }

func (d *LogDriver) Connect(ctx context.Context) error { return nil }

func (d *LogDriver) Deliver(ctx context.Context, address string, msg message.Message) error {
	d.mu.Lock()
	d.sent = append(d.sent, Sent{Address: address, Message: msg})
	d.mu.Unlock()
	d.log.Info("dry-run delivery", logx.String("to", address), logx.String("text", msg.Text), logx.String("media", msg.MediaURL))
	return nil
}

// Sent returns a copy of every delivery so far.
func (d *LogDriver) Sent() []Sent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Sent(nil), d.sent...)
}

func (d *LogDriver) Close() error { return nil }
