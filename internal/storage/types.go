package storage

import (
	"context"
	"errors"
	"time"

	"whatsched/internal/domain"
)

// ErrExists is returned when a unique name or number is already stored.
var ErrExists = errors.New("already exists")

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Reader is the read side used at firing time.
type Reader interface {
	// ListRecipients returns recipients of kind, or all recipients when kind is empty.
	ListRecipients(ctx context.Context, kind domain.Kind) ([]domain.Recipient, error)
	// ListTemplates returns templates in category, or all templates when category is empty.
	ListTemplates(ctx context.Context, category string) ([]domain.Template, error)
	GetRecipient(ctx context.Context, kind domain.Kind, id int64) (domain.Recipient, error)
	FindRecipient(ctx context.Context, kind domain.Kind, name string) (domain.Recipient, error)
	GroupMembers(ctx context.Context, groupID int64) ([]domain.Recipient, error)
	Categories(ctx context.Context) ([]string, error)
}

// Writer is the data-entry side used by the CLI and the bot.
type Writer interface {
	AddFriend(ctx context.Context, name, number string) (domain.Recipient, error)
	AddGroup(ctx context.Context, name, address string) (domain.Recipient, error)
	AddGroupMember(ctx context.Context, groupID, friendID int64) error
	AddTemplate(ctx context.Context, category, text string, isImage bool) (domain.Template, error)
}

type Store interface {
	Reader
	Writer
	Close() error
}
