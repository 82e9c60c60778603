// README: Order store backed by PostgreSQL; accept is a single conditional
// update, other transitions lock the row and re-check before writing.
package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"drillflow/internal/modules/location"
	"drillflow/internal/modules/user"
	"drillflow/internal/types"
)

// Repository is the persistence contract for orders. Every transition
// returns the order as committed, or a typed error with nothing written.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	TryAccept(ctx context.Context, id, contractorID types.ID) (*Order, error)
	Start(ctx context.Context, id, contractorID types.ID) (*Order, error)
	Cancel(ctx context.Context, id types.ID, actor Actor, reason string) (*Order, error)
	Complete(ctx context.Context, id, contractorID types.ID, rating *int) (*Order, error)
	Rate(ctx context.Context, id, clientID types.ID, score int) (*Order, error)
	ListActiveNear(ctx context.Context, p types.Point, radiusKm float64) ([]*Order, error)
	ListForUser(ctx context.Context, userID types.ID, role user.Role) ([]*Order, error)
	ListStaleNew(ctx context.Context, createdBefore time.Time) ([]*Order, error)
	CountAcceptedSince(ctx context.Context, contractorID types.ID, since time.Time) (int, error)
}

type StoreOptions struct {
	Rating RatingStrategy
	// AutoBusy flips a FREE contractor to BUSY on accept and back once they
	// have no active orders left.
	AutoBusy bool
}

func (o StoreOptions) withDefaults() StoreOptions {
	if o.Rating == nil {
		o.Rating = RunningAverage{}
	}
	return o
}

const listLimit = 100

const orderColumns = `
	id, client_id, contractor_id, service_type, address, lat, lng, description,
	price, currency, deadline, status, status_version, created_at,
	accepted_at, started_at, completed_at, cancelled_at, cancel_reason, rating`

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Store struct {
	db   *pgxpool.Pool
	opts StoreOptions
}

func NewStore(db *pgxpool.Pool, opts StoreOptions) *Store {
	return &Store{db: db, opts: opts.withDefaults()}
}

func (s *Store) Create(ctx context.Context, o *Order) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		price, currency := moneyColumns(o.Price)
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (
				id, client_id, service_type, address, lat, lng, description,
				price, currency, deadline, status, status_version, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			string(o.ID), string(o.ClientID), o.ServiceType, o.Address,
			o.Location.Lat, o.Location.Lng, o.Description,
			price, currency, o.Deadline, string(o.Status), o.StatusVersion, o.CreatedAt,
		)
		if err != nil {
			return err
		}
		return appendEvent(ctx, tx, newEvent(o.ID, StatusNone, o.Status, Client(o.ClientID), o.CreatedAt))
	})
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

// TryAccept is the compare-and-set that decides the accept race: the status
// predicate lets exactly one UPDATE through per order.
func (s *Store) TryAccept(ctx context.Context, id, contractorID types.ID) (*Order, error) {
	errLost := errors.New("accept not applied")
	var accepted *Order
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx, `
			UPDATE orders
			SET status = $3,
			    contractor_id = $2,
			    accepted_at = NOW(),
			    status_version = status_version + 1
			WHERE id = $1 AND status = $4
			RETURNING `+orderColumns,
			string(id), string(contractorID), string(StatusAccepted), string(StatusNew),
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return errLost
		}
		if err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, newEvent(id, StatusNew, StatusAccepted, Contractor(contractorID), time.Now())); err != nil {
			return err
		}
		if s.opts.AutoBusy {
			if _, err := tx.Exec(ctx, `
				UPDATE contractor_profiles
				SET availability = $2, updated_at = NOW()
				WHERE user_id = $1 AND availability = $3`,
				string(contractorID), string(user.AvailabilityBusy), string(user.AvailabilityFree),
			); err != nil {
				return err
			}
		}
		accepted = o
		return nil
	})
	if errors.Is(err, errLost) {
		return nil, s.classifyAccept(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

// classifyAccept explains a lost accept by re-reading the committed row.
func (s *Store) classifyAccept(ctx context.Context, id types.ID) error {
	o, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := CheckAccept(o); err != nil {
		return err
	}
	return ErrConflict
}

func (s *Store) Start(ctx context.Context, id, contractorID types.ID) (*Order, error) {
	return s.mutate(ctx, id, func(o *Order) error {
		return CheckStart(o, contractorID)
	}, func(tx pgx.Tx, o *Order) error {
		now := time.Now()
		from := o.Status
		o.Status = StatusInProgress
		o.StartedAt = &now
		if err := saveOrder(ctx, tx, o); err != nil {
			return err
		}
		return appendEvent(ctx, tx, newEvent(o.ID, from, o.Status, Contractor(contractorID), now))
	})
}

func (s *Store) Cancel(ctx context.Context, id types.ID, actor Actor, reason string) (*Order, error) {
	return s.mutate(ctx, id, func(o *Order) error {
		return CheckCancel(o, actor)
	}, func(tx pgx.Tx, o *Order) error {
		now := time.Now()
		from := o.Status
		o.Status = StatusCancelled
		o.CancelledAt = &now
		if reason != "" {
			o.CancelReason = &reason
		}
		if err := saveOrder(ctx, tx, o); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, newEvent(o.ID, from, o.Status, actor, now)); err != nil {
			return err
		}
		if o.ContractorID != nil {
			return s.release(ctx, tx, *o.ContractorID)
		}
		return nil
	})
}

// Complete closes the order and folds price and optional rating into the
// contractor's statistics inside the same transaction.
func (s *Store) Complete(ctx context.Context, id, contractorID types.ID, rating *int) (*Order, error) {
	return s.mutate(ctx, id, func(o *Order) error {
		return CheckComplete(o, contractorID)
	}, func(tx pgx.Tx, o *Order) error {
		now := time.Now()
		from := o.Status
		o.Status = StatusCompleted
		o.CompletedAt = &now
		o.Rating = rating
		if err := saveOrder(ctx, tx, o); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, newEvent(o.ID, from, o.Status, Contractor(contractorID), now)); err != nil {
			return err
		}
		if err := s.updateStats(ctx, tx, contractorID, true, o.Price, rating); err != nil {
			return err
		}
		return s.release(ctx, tx, contractorID)
	})
}

func (s *Store) Rate(ctx context.Context, id, clientID types.ID, score int) (*Order, error) {
	return s.mutate(ctx, id, func(o *Order) error {
		return CheckRate(o, clientID)
	}, func(tx pgx.Tx, o *Order) error {
		o.Rating = &score
		if err := saveOrder(ctx, tx, o); err != nil {
			return err
		}
		return s.updateStats(ctx, tx, *o.ContractorID, false, nil, &score)
	})
}

// mutate loads the row FOR UPDATE, lets check veto the action and runs apply
// in the same transaction.
func (s *Store) mutate(ctx context.Context, id types.ID, check func(*Order) error, apply func(pgx.Tx, *Order) error) (*Order, error) {
	var out *Order
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, string(id)))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := check(o); err != nil {
			return err
		}
		if err := apply(tx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// updateStats locks the profile row. price is nil for negotiable orders and
// score is nil when the client did not rate.
func (s *Store) updateStats(ctx context.Context, tx pgx.Tx, contractorID types.ID, completed bool, price *types.Money, score *int) error {
	var p user.ContractorProfile
	err := tx.QueryRow(ctx, `
		SELECT rating, rating_count, completed_orders, total_income
		FROM contractor_profiles WHERE user_id = $1 FOR UPDATE`, string(contractorID),
	).Scan(&p.Rating, &p.RatingCount, &p.CompletedOrders, &p.TotalIncome.Amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("contractor %s: %w", contractorID, user.ErrNotContractor)
	}
	if err != nil {
		return err
	}

	if score != nil {
		p.SetRating(s.opts.Rating.Next(p.Rating, p.RatingCount, *score))
	}
	var done int
	var income int64
	if completed {
		done = 1
		if price != nil {
			income = price.Amount
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE contractor_profiles
		SET rating = $2,
		    rating_count = $3,
		    completed_orders = completed_orders + $4,
		    total_income = total_income + $5,
		    updated_at = NOW()
		WHERE user_id = $1`,
		string(contractorID), p.Rating, p.RatingCount, done, income,
	)
	return err
}

func (s *Store) release(ctx context.Context, q querier, contractorID types.ID) error {
	if !s.opts.AutoBusy {
		return nil
	}
	_, err := q.Exec(ctx, `
		UPDATE contractor_profiles
		SET availability = $2, updated_at = NOW()
		WHERE user_id = $1 AND availability = $3
		  AND NOT EXISTS (
			SELECT 1 FROM orders WHERE contractor_id = $1 AND status IN ($4, $5)
		  )`,
		string(contractorID), string(user.AvailabilityFree), string(user.AvailabilityBusy),
		string(StatusAccepted), string(StatusInProgress),
	)
	return err
}

func (s *Store) ListActiveNear(ctx context.Context, p types.Point, radiusKm float64) ([]*Order, error) {
	box := location.BoundingBox(p, radiusKm)
	orders, err := s.query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1
		  AND lat BETWEEN $2 AND $3
		  AND lng BETWEEN $4 AND $5`,
		string(StatusNew), box.MinLat, box.MaxLat, box.MinLng, box.MaxLng,
	)
	if err != nil {
		return nil, err
	}
	return filterNear(orders, p, radiusKm), nil
}

func (s *Store) ListForUser(ctx context.Context, userID types.ID, role user.Role) ([]*Order, error) {
	switch role {
	case user.RoleClient:
		return s.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE client_id = $1 ORDER BY created_at DESC LIMIT $2`, string(userID), listLimit)
	case user.RoleContractor:
		return s.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE contractor_id = $1 ORDER BY created_at DESC LIMIT $2`, string(userID), listLimit)
	case user.RoleAdmin:
		return s.query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT $1`, listLimit)
	}
	return nil, fmt.Errorf("list orders: unknown role %q", role)
}

func (s *Store) ListStaleNew(ctx context.Context, createdBefore time.Time) ([]*Order, error) {
	return s.query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at`, string(StatusNew), createdBefore)
}

func (s *Store) CountAcceptedSince(ctx context.Context, contractorID types.ID, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE contractor_id = $1 AND accepted_at >= $2`, string(contractorID), since,
	).Scan(&n)
	return n, err
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]*Order, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// saveOrder writes the mutable columns back; callers hold the row lock.
func saveOrder(ctx context.Context, tx pgx.Tx, o *Order) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $2,
		    status_version = status_version + 1,
		    started_at = $3,
		    completed_at = $4,
		    cancelled_at = $5,
		    cancel_reason = $6,
		    rating = $7
		WHERE id = $1 AND status_version = $8`,
		string(o.ID), string(o.Status), o.StartedAt, o.CompletedAt, o.CancelledAt,
		o.CancelReason, o.Rating, o.StatusVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrConflict
	}
	o.StatusVersion++
	return nil
}

func appendEvent(ctx context.Context, q querier, e *Event) error {
	_, err := q.Exec(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.ActorType),
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var contractorID, cancelReason sql.NullString
	var price sql.NullInt64
	var currency string
	var deadline, acceptedAt, startedAt, completedAt, cancelledAt sql.NullTime
	var rating sql.NullInt32

	err := row.Scan(
		&o.ID, &o.ClientID, &contractorID, &o.ServiceType, &o.Address,
		&o.Location.Lat, &o.Location.Lng, &o.Description,
		&price, &currency, &deadline, &o.Status, &o.StatusVersion, &o.CreatedAt,
		&acceptedAt, &startedAt, &completedAt, &cancelledAt, &cancelReason, &rating,
	)
	if err != nil {
		return nil, err
	}

	if contractorID.Valid {
		c := types.ID(contractorID.String)
		o.ContractorID = &c
	}
	if price.Valid {
		o.Price = &types.Money{Amount: price.Int64, Currency: currency}
	}
	if cancelReason.Valid {
		o.CancelReason = &cancelReason.String
	}
	if rating.Valid {
		r := int(rating.Int32)
		o.Rating = &r
	}
	o.Deadline = toTimePtr(deadline)
	o.AcceptedAt = toTimePtr(acceptedAt)
	o.StartedAt = toTimePtr(startedAt)
	o.CompletedAt = toTimePtr(completedAt)
	o.CancelledAt = toTimePtr(cancelledAt)
	return &o, nil
}

func moneyColumns(m *types.Money) (*int64, string) {
	if m == nil {
		return nil, types.DefaultCurrency
	}
	amount := m.Amount
	currency := m.Currency
	if currency == "" {
		currency = types.DefaultCurrency
	}
	return &amount, currency
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
