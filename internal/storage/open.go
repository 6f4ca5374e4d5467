package storage

import (
	"errors"
	"strings"

	logx "whatsched/pkg/logx"
)

// Open initializes the configured store and applies the schema.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log.With(logx.String("comp", "storage.sqlite")))
	case "memory":
		return openMemory(cfg, log.With(logx.String("comp", "storage.memory")))
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
