package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"beacontrace/internal/model"
	"beacontrace/internal/risk"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/beacontrace?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS contacts (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			code TEXT NOT NULL,
			signal_strength INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_ts ON contacts(ts)`,
		`CREATE TABLE IF NOT EXISTS results (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			advice TEXT NOT NULL,
			contact_status TEXT NOT NULL,
			totals_json JSONB NOT NULL,
			contacts INTEGER NOT NULL,
			reports INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_ts ON results(ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveContact(ctx context.Context, c model.Contact) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (ts, code, signal_strength) VALUES ($1, $2, $3)`,
		c.Time.UTC(),
		c.Code.String(),
		c.SignalStrength,
	)
	return err
}

func (s *postgresStore) LoadContacts(ctx context.Context, since time.Time) ([]model.Contact, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, code, signal_strength FROM contacts WHERE ts >= $1 ORDER BY ts`,
		since.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Contact
	for rows.Next() {
		var ts time.Time
		var code string
		var rssi int
		if err := rows.Scan(&ts, &code, &rssi); err != nil {
			return nil, err
		}
		parsed, err := model.ParseBeaconCode(code)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Contact{Time: ts.UTC(), Code: parsed, SignalStrength: rssi})
	}
	return out, rows.Err()
}

func (s *postgresStore) DeleteContactsBefore(ctx context.Context, t time.Time) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE ts < $1`, t.UTC())
	return err
}

func (s *postgresStore) SaveResult(ctx context.Context, r risk.Result) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (ts, advice, contact_status, totals_json, contacts, reports)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ComputedAt.UTC(),
		string(r.Advice),
		string(r.ContactStatus),
		encodeJSON(r.Totals),
		r.Contacts,
		r.Reports,
	)
	return err
}
