// Package postgres implements the transaction watch store for PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq" //nolint:gci // load the postgres driver that is used by the system

	"github.com/tarancss/capgw/lib/store"
)

const schema = `CREATE TABLE IF NOT EXISTS tx_watch (
	tx_hash       TEXT PRIMARY KEY,
	reference_id  TEXT NOT NULL,
	provider_id   TEXT NOT NULL,
	success_event TEXT NOT NULL,
	birth         BIGINT NOT NULL DEFAULT 0,
	death         BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL
)`

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection' and creates the schema.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	if _, err = db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("cannot create schema: %w", err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// AddTxWatch upserts the entry keyed by its transaction hash.
func (p *Postgres) AddTxWatch(ctx context.Context, e store.TxWatchEntry) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO tx_watch
		(tx_hash, reference_id, provider_id, success_event, birth, death, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash) DO UPDATE SET reference_id = $2, provider_id = $3, success_event = $4,
		birth = $5, death = $6, created_at = $7`,
		e.TxHash, e.ReferenceID, e.ProviderID, e.SuccessEvent, int64(e.Birth), int64(e.Death), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("could not save tx watch entry in db: %w", err)
	}

	return nil
}

// GetTxWatch returns the entry for txHash.
func (p *Postgres) GetTxWatch(ctx context.Context, txHash string) (e store.TxWatchEntry, err error) {
	var birth, death int64

	err = p.db.QueryRowContext(ctx, `SELECT tx_hash, reference_id, provider_id, success_event, birth, death,
		created_at FROM tx_watch WHERE tx_hash = $1`, txHash).
		Scan(&e.TxHash, &e.ReferenceID, &e.ProviderID, &e.SuccessEvent, &birth, &death, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return e, store.ErrDataNotFound
	}

	e.Birth, e.Death = uint64(birth), uint64(death)

	return e, err
}

// RemoveTxWatch deletes the entry for txHash.
func (p *Postgres) RemoveTxWatch(ctx context.Context, txHash string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM tx_watch WHERE tx_hash = $1`, txHash)
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n != 1 {
		return store.ErrDataNotFound
	}

	return nil
}
