// Package pg implements [cloudlock.Store] in terms of a PostgresQL database.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bobg/errors"

	"github.com/bobg/cloudlock"
)

// Store is a cloudlock.Store implemented in terms of a PostgresQL database.
// Times are stored as epoch milliseconds.
type Store struct {
	table string // name of the table that stores lease records
	db    *sql.DB
}

var _ cloudlock.Store = &Store{}

// New creates a new PostgresQL lease record store.
// Records are stored in a table with the given name.
// The table is created if it does not already exist.
func New(ctx context.Context, db *sql.DB, table string) (*Store, error) {
	const qfmt = `CREATE TABLE IF NOT EXISTS %s (
		label TEXT NOT NULL PRIMARY KEY,
		holder TEXT NOT NULL,
		start_ms BIGINT NOT NULL,
		expire_ms BIGINT NOT NULL,
		version TEXT NOT NULL
	)`
	q := fmt.Sprintf(qfmt, table)

	if _, err := db.ExecContext(ctx, q); err != nil {
		return nil, errors.Wrapf(err, "creating table %s", table)
	}

	return &Store{
		table: table,
		db:    db,
	}, nil
}

func (s *Store) Get(ctx context.Context, label string) (*cloudlock.Record, error) {
	const qfmt = `SELECT holder, start_ms, expire_ms, version FROM %s WHERE label = $1`
	q := fmt.Sprintf(qfmt, s.table)

	var (
		rec               = cloudlock.Record{Label: label}
		startMS, expireMS int64
	)
	err := s.db.QueryRowContext(ctx, q, label).Scan(&rec.Holder, &startMS, &expireMS, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(cloudlock.ErrNotFound, "label %s", label)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading lease record %s", label)
	}

	rec.Start = time.UnixMilli(startMS)
	rec.Expire = time.UnixMilli(expireMS)

	return &rec, nil
}

func (s *Store) Put(ctx context.Context, rec cloudlock.Record, expected string) error {
	var (
		q     string
		qargs = []any{rec.Label, rec.Holder, rec.Start.UnixMilli(), rec.Expire.UnixMilli(), rec.Version}
	)

	if expected == cloudlock.MustNotExist {
		const qfmt = `
			INSERT INTO %s (label, holder, start_ms, expire_ms, version) VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (label) DO NOTHING`
		q = fmt.Sprintf(qfmt, s.table)
	} else {
		const qfmt = `
			UPDATE %s SET holder = $2, start_ms = $3, expire_ms = $4, version = $5
				WHERE label = $1 AND version = $6`
		q = fmt.Sprintf(qfmt, s.table)
		qargs = append(qargs, expected)
	}

	res, err := s.db.ExecContext(ctx, q, qargs...)
	if err != nil {
		return errors.Wrapf(err, "writing lease record %s", rec.Label)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting affected rows")
	}
	if aff == 0 {
		return errors.Wrapf(cloudlock.ErrConflict, "label %s", rec.Label)
	}

	return nil
}
