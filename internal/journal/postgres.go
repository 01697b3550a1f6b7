package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS escrow_journal (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	tournament_id TEXT NOT NULL DEFAULT '',
	wallet        TEXT NOT NULL,
	amount        NUMERIC NOT NULL,
	tx_hash       TEXT NOT NULL,
	status        TEXT NOT NULL,
	note          TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
ALTER TABLE escrow_journal ADD COLUMN IF NOT EXISTS scope TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS escrow_journal_wallet_status ON escrow_journal (wallet, status);
CREATE INDEX IF NOT EXISTS escrow_journal_scope_status ON escrow_journal (scope, status);
`

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the journal table when it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, e Entry) (*Entry, error) {
	stored := prepare(e, time.Now().UTC())

	query := `
		INSERT INTO escrow_journal (id, kind, tournament_id, wallet, amount, tx_hash, scope, status, note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.Exec(ctx, query,
		stored.ID,
		string(stored.Kind),
		stored.TournamentID,
		stored.Wallet,
		stored.Amount,
		stored.TxHash,
		stored.Scope,
		string(stored.Status),
		stored.Note,
		stored.CreatedAt,
		stored.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record journal entry: %w", err)
	}

	return &stored, nil
}

func (s *PostgresStore) MarkSettled(ctx context.Context, id, tournamentID string) error {
	query := `
		UPDATE escrow_journal
		SET status = $2,
		    tournament_id = CASE WHEN $3::text = '' THEN tournament_id ELSE $3 END,
		    updated_at = $4
		WHERE id = $1`

	return s.exec(ctx, "settle", query, id, string(StatusSettled), tournamentID, time.Now().UTC())
}

func (s *PostgresStore) MarkStranded(ctx context.Context, id, reason string) error {
	query := `
		UPDATE escrow_journal
		SET status = $2, note = $3, updated_at = $4
		WHERE id = $1`

	return s.exec(ctx, "strand", query, id, string(StatusStranded), reason, time.Now().UTC())
}

func (s *PostgresStore) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s journal entry: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

const selectEntries = `
		SELECT id, kind, tournament_id, wallet, amount, tx_hash, scope, status, note, created_at, updated_at
		FROM escrow_journal`

func (s *PostgresStore) Stranded(ctx context.Context, wallet string) ([]Entry, error) {
	query := selectEntries + `
		WHERE wallet = $1 AND status = $2
		ORDER BY created_at DESC`

	return s.query(ctx, query, strings.ToLower(strings.TrimSpace(wallet)), string(StatusStranded))
}

func (s *PostgresStore) Resume(ctx context.Context, scope string) (*Entry, error) {
	query := selectEntries + `
		WHERE scope = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1`

	entries, err := s.query(ctx, query, scope, string(StatusStranded))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEntryNotFound
	}
	return &entries[0], nil
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind, status string
		if err := rows.Scan(
			&e.ID,
			&kind,
			&e.TournamentID,
			&e.Wallet,
			&e.Amount,
			&e.TxHash,
			&e.Scope,
			&status,
			&e.Note,
			&e.CreatedAt,
			&e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.Kind, e.Status = Kind(kind), Status(status)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Close is a no-op; the pool belongs to whoever opened it.
func (s *PostgresStore) Close() {}
