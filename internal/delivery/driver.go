package delivery

import (
	"context"
	"errors"

	"whatsched/internal/message"
)

// ErrLost is wrapped by drivers when the underlying session is gone.
var ErrLost = errors.New("session lost")

// ErrNotReady is returned when sending before the session is established.
var ErrNotReady = errors.New("session not established")

// Driver is the opaque automation capability.
type Driver interface {
	Name() string
	// Connect establishes the session. It may block on a manual handshake.
	Connect(ctx context.Context) error
	// Deliver sends msg to address. Errors wrapping ErrLost mark the session lost.
	Deliver(ctx context.Context, address string, msg message.Message) error
	Close() error
}

// LossReporter is implemented by drivers that notice a dropped session on
// their own, outside of Deliver.
type LossReporter interface {
	OnLost(fn func(err error))
}

// bodyWithMedia renders msg for drivers without native media support.
func bodyWithMedia(msg message.Message) string {
	switch {
	case msg.MediaURL == "":
		return msg.Text
	case msg.Text == "":
		return msg.MediaURL
	default:
		return msg.Text + "\n\n" + msg.MediaURL
	}
}
