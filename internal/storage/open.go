package storage

import (
	"context"
	"errors"
	"strings"

	logx "formulabot/pkg/logx"
)

// Store is the minimal persistence API used by core/plugins.
//
// Messages are the named reusable texts managed by the messages plugin.
// State is a small string KV the notifier uses to survive restarts.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error

	PutMessage(ctx context.Context, name, text string) error
	GetMessage(ctx context.Context, name string) (text string, ok bool, err error)
	DeleteMessage(ctx context.Context, name string) error
	ListMessages(ctx context.Context) ([]string, error)

	PutState(ctx context.Context, key, value string) error
	GetState(ctx context.Context, key string) (value string, ok bool, err error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "memory":
		return openMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
