package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"beacontrace/internal/config"
	"beacontrace/internal/model"
	"beacontrace/internal/risk"
)

// Store persists contacts and exposure results. Contacts are written by the
// detection path and deleted only by retention pruning. Credentials never
// go through this store: the registry owns them, so no single record links
// identity to the codes the device heard.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveContact(ctx context.Context, c model.Contact) error
	LoadContacts(ctx context.Context, since time.Time) ([]model.Contact, error)
	DeleteContactsBefore(ctx context.Context, t time.Time) error
	SaveResult(ctx context.Context, r risk.Result) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
