// README: Postgres ai_usage store; one upsert spends a token and rolls the month over.
package aiusage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// spendSQL seeds a missing row with the allowance minus the spent token. On
// an existing row a stale month restarts from the allowance; the WHERE on
// the conflict branch leaves an exhausted current-month row untouched, so
// RETURNING yields nothing.
const spendSQL = `
INSERT INTO ai_usage AS u (uid, tokens_remaining, last_reset_month)
VALUES ($1, $2 - 1, $3)
ON CONFLICT (uid) DO UPDATE SET
	tokens_remaining = CASE
		WHEN u.last_reset_month < EXCLUDED.last_reset_month THEN $2
		ELSE u.tokens_remaining
	END - 1,
	last_reset_month = EXCLUDED.last_reset_month
WHERE u.last_reset_month < EXCLUDED.last_reset_month OR u.tokens_remaining > 0
RETURNING tokens_remaining`

// Store keeps monthly allowances in the ai_usage table.
type Store struct {
	db      *pgxpool.Pool
	monthly int
	now     func() time.Time
}

// NewStore uses DefaultTokens when monthly is not positive.
func NewStore(db *pgxpool.Pool, monthly int) *Store {
	if monthly <= 0 {
		monthly = DefaultTokens
	}
	return &Store{db: db, monthly: monthly, now: time.Now}
}

func (s *Store) Spend(ctx context.Context, uid string) (int, error) {
	var left int
	err := s.db.QueryRow(ctx, spendSQL, uid, s.monthly, monthOf(s.now())).Scan(&left)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientTokens
	}
	if err != nil {
		return 0, err
	}
	return left, nil
}
