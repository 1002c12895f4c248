package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises concurrent Append calls across gateway replicas.
// The value is arbitrary but must be consistent across all instances.
const advisoryLockKey = int64(2_024_051_313)

const selectColumns = `SELECT idx, timestamp, transaction_id, collection_id, kind, content_hash, prev_hash, hash
	FROM ledger_journal`

// PostgresJournal persists the journal to PostgreSQL. The schema lives in
// migrations/ and is applied by cmd/migrate.
type PostgresJournal struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ Journal = (*PostgresJournal)(nil)

// NewPostgres creates a PostgresJournal backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *PostgresJournal {
	return &PostgresJournal{pool: pool, logger: logger}
}

// Append implements Journal. It takes a transaction-scoped advisory lock,
// reads the chain tail and inserts the new entry in one transaction.
func (j *PostgresJournal) Append(ctx context.Context, rec Record) (*Entry, error) {
	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	prev := &Entry{}
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM ledger_journal ORDER BY idx DESC LIMIT 1",
	).Scan(&prev.Index, &prev.Hash); err != nil {
		return nil, fmt.Errorf("read journal tail: %w", err)
	}

	entry := next(prev, rec)
	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_journal (idx, timestamp, transaction_id, collection_id, kind, content_hash, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.Index, entry.Timestamp, entry.TransactionID,
		entry.CollectionID, entry.Kind, entry.ContentHash,
		entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert journal entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit journal tx: %w", err)
	}

	j.logger.Debug("journal entry appended",
		zap.Int("idx", entry.Index),
		zap.String("kind", entry.Kind),
		zap.String("transaction_id", entry.TransactionID),
	)
	return entry, nil
}

// Get implements Journal.
func (j *PostgresJournal) Get(ctx context.Context, index int) (*Entry, error) {
	e, err := scanEntry(j.pool.QueryRow(ctx, selectColumns+" WHERE idx = $1", index))
	if err != nil {
		return nil, fmt.Errorf("get journal entry %d: %w", index, err)
	}
	return e, nil
}

// FindByTransaction implements Journal.
func (j *PostgresJournal) FindByTransaction(ctx context.Context, txID string) (*Entry, error) {
	e, err := scanEntry(j.pool.QueryRow(ctx,
		selectColumns+" WHERE transaction_id = $1 ORDER BY idx DESC LIMIT 1", txID))
	if err != nil {
		return nil, fmt.Errorf("find journal entry for %s: %w", txID, err)
	}
	return e, nil
}

// Len implements Journal.
func (j *PostgresJournal) Len(ctx context.Context) (int, error) {
	var n int
	if err := j.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_journal").Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal entries: %w", err)
	}
	return n, nil
}

// Verify implements Journal. It streams all rows ordered by idx; O(n) in
// journal length.
func (j *PostgresJournal) Verify(ctx context.Context) error {
	rows, err := j.pool.Query(ctx, selectColumns+" ORDER BY idx ASC")
	if err != nil {
		return fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan journal row: %w", err)
		}
		if err := verifyLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return rows.Err()
}

// Root implements Journal.
func (j *PostgresJournal) Root(ctx context.Context) (string, error) {
	var hash string
	if err := j.pool.QueryRow(ctx,
		"SELECT hash FROM ledger_journal ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get journal root: %w", err)
	}
	return hash, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	e := &Entry{}
	err := row.Scan(
		&e.Index, &e.Timestamp, &e.TransactionID,
		&e.CollectionID, &e.Kind, &e.ContentHash,
		&e.PrevHash, &e.Hash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}
