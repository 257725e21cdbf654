package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"beacontrace/internal/model"
	"beacontrace/internal/risk"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:beacontrace.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS contacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			code TEXT NOT NULL,
			signal_strength INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_ts ON contacts(ts)`,
		`CREATE TABLE IF NOT EXISTS results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			advice TEXT NOT NULL,
			contact_status TEXT NOT NULL,
			totals_json TEXT NOT NULL,
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

func (s *sqliteStore) SaveContact(ctx context.Context, c model.Contact) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (ts, code, signal_strength) VALUES (?, ?, ?)`,
		c.Time.UTC().Format(time.RFC3339Nano),
		c.Code.String(),
		c.SignalStrength,
	)
	return err
}

func (s *sqliteStore) LoadContacts(ctx context.Context, since time.Time) ([]model.Contact, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, code, signal_strength FROM contacts WHERE ts >= ? ORDER BY ts`,
		since.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanContacts(rows)
}

func (s *sqliteStore) DeleteContactsBefore(ctx context.Context, t time.Time) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM contacts WHERE ts < ?`,
		t.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) SaveResult(ctx context.Context, r risk.Result) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (ts, advice, contact_status, totals_json, contacts, reports)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ComputedAt.UTC().Format(time.RFC3339Nano),
		string(r.Advice),
		string(r.ContactStatus),
		encodeJSON(r.Totals),
		r.Contacts,
		r.Reports,
	)
	return err
}

func scanContacts(rows *sql.Rows) ([]model.Contact, error) {
	var out []model.Contact
	for rows.Next() {
		var ts, code string
		var rssi int
		if err := rows.Scan(&ts, &code, &rssi); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		parsed, err := model.ParseBeaconCode(code)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Contact{Time: t, Code: parsed, SignalStrength: rssi})
	}
	return out, rows.Err()
}
