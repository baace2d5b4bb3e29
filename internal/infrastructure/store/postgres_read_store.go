package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/komodo-checkout/internal/readmodel"
)

// PostgresReadStore implements ReadStoreInterface using PostgreSQL
type PostgresReadStore struct {
	db *sql.DB
}

// NewPostgresReadStore creates a new PostgreSQL-based read store
func NewPostgresReadStore(db *sql.DB) *PostgresReadStore {
	return &PostgresReadStore{db: db}
}

const attemptColumns = `id, user_id, stand_id, total_amount, item_count, idempotency_key, status, error, order_id, created_at, updated_at`

// SaveAttempt inserts or replaces an attempt
func (rs *PostgresReadStore) SaveAttempt(ctx context.Context, a *readmodel.CheckoutAttemptReadModel) error {
	var orderID sql.NullInt64
	if a.OrderID != nil {
		orderID = sql.NullInt64{Int64: *a.OrderID, Valid: true}
	}
	total := a.TotalAmount
	if total == "" {
		total = "0"
	}

	_, err := rs.db.ExecContext(ctx, `
		INSERT INTO checkout_attempts (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			stand_id = EXCLUDED.stand_id,
			total_amount = EXCLUDED.total_amount,
			item_count = EXCLUDED.item_count,
			idempotency_key = EXCLUDED.idempotency_key,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			order_id = EXCLUDED.order_id,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
	`, a.ID, a.UserID, a.StandID, total, a.ItemCount, a.IdempotencyKey, a.Status, a.Error, orderID, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save attempt %s: %w", a.ID, err)
	}
	return nil
}

// GetAttempt retrieves an attempt by id
func (rs *PostgresReadStore) GetAttempt(ctx context.Context, id string) (*readmodel.CheckoutAttemptReadModel, bool, error) {
	row := rs.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM checkout_attempts WHERE id = $1`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get attempt %s: %w", id, err)
	}
	return a, true, nil
}

// ListAttemptsByUser returns a user's attempts, newest first
func (rs *PostgresReadStore) ListAttemptsByUser(ctx context.Context, userID string, limit int) ([]*readmodel.CheckoutAttemptReadModel, error) {
	q := `SELECT ` + attemptColumns + ` FROM checkout_attempts WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := rs.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*readmodel.CheckoutAttemptReadModel
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*readmodel.CheckoutAttemptReadModel, error) {
	var a readmodel.CheckoutAttemptReadModel
	var orderID sql.NullInt64
	err := row.Scan(&a.ID, &a.UserID, &a.StandID, &a.TotalAmount, &a.ItemCount, &a.IdempotencyKey,
		&a.Status, &a.Error, &orderID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if orderID.Valid {
		id := orderID.Int64
		a.OrderID = &id
	}
	return &a, nil
}
