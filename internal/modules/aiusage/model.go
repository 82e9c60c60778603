// README: AI-usage quota model (monthly token allowance per user).
package aiusage

import (
	"context"
	"errors"
	"time"
)

var ErrInsufficientTokens = errors.New("insufficient tokens")

// DefaultTokens is the monthly allowance when none is configured.
const DefaultTokens = 100

// Repository persists per-user monthly allowances.
type Repository interface {
	// Spend takes one token and reports what is left. A user seen for the
	// first time starts with the full allowance; a row from an earlier month
	// is refilled before spending.
	Spend(ctx context.Context, uid string) (int, error)
}

// monthOf keys allowances by UTC calendar month ("2026-01").
func monthOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}
