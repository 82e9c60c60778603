// README: User and contractor-profile store backed by PostgreSQL.
package user

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"drillflow/internal/types"
)

// Repository is the persistence contract for users and contractor profiles.
type Repository interface {
	UpsertUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id types.ID) (*User, error)
	SaveProfile(ctx context.Context, p *ContractorProfile) error
	GetProfile(ctx context.Context, id types.ID) (*ContractorProfile, error)
	ProfilesByIDs(ctx context.Context, ids []types.ID) ([]ContractorProfile, error)
	FreeContractors(ctx context.Context, near types.Point) ([]ContractorProfile, error)
	ListZones(ctx context.Context) (map[types.ID]types.Point, error)
	SetZone(ctx context.Context, id types.ID, zone types.Point) error
	SetAvailability(ctx context.Context, id types.ID, a Availability) error
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// UpsertUser inserts the user or refreshes name/phone. The role column is
// only written on insert; a mismatch reports ErrRoleChange.
func (s *Store) UpsertUser(ctx context.Context, u *User) error {
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (id, name, phone, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    phone = EXCLUDED.phone,
		    active = EXCLUDED.active
		WHERE users.role = EXCLUDED.role
		RETURNING created_at`,
		string(u.ID), u.Name, u.Phone, string(u.Role), u.Active, u.CreatedAt,
	)
	err := row.Scan(&u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRoleChange
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, id types.ID) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, name, phone, role, active, created_at
		FROM users WHERE id = $1`, string(id),
	).Scan(&u.ID, &u.Name, &u.Phone, &u.Role, &u.Active, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SaveProfile writes contractor settings. Rating and statistics are owned by
// the order store and are never overwritten here.
func (s *Store) SaveProfile(ctx context.Context, p *ContractorProfile) error {
	var lat, lng *float64
	if p.Zone != nil {
		lat, lng = &p.Zone.Lat, &p.Zone.Lng
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO contractor_profiles (
			user_id, specializations, radius_km, zone_lat, zone_lng, availability, currency, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE
		SET specializations = EXCLUDED.specializations,
		    radius_km = EXCLUDED.radius_km,
		    zone_lat = COALESCE(EXCLUDED.zone_lat, contractor_profiles.zone_lat),
		    zone_lng = COALESCE(EXCLUDED.zone_lng, contractor_profiles.zone_lng),
		    availability = EXCLUDED.availability,
		    updated_at = EXCLUDED.updated_at`,
		string(p.UserID), p.Specializations, p.RadiusKm, lat, lng,
		string(p.Availability), types.DefaultCurrency, time.Now(),
	)
	return err
}

const profileColumns = `
	p.user_id, u.name, u.phone, p.specializations, p.rating, p.rating_count,
	p.zone_lat, p.zone_lng, p.radius_km, p.availability,
	p.completed_orders, p.total_income, p.currency, p.updated_at`

func scanProfile(row pgx.Row) (*ContractorProfile, error) {
	var p ContractorProfile
	var lat, lng sql.NullFloat64
	err := row.Scan(
		&p.UserID, &p.Name, &p.Phone, &p.Specializations, &p.Rating, &p.RatingCount,
		&lat, &lng, &p.RadiusKm, &p.Availability,
		&p.CompletedOrders, &p.TotalIncome.Amount, &p.TotalIncome.Currency, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		p.Zone = &types.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &p, nil
}

func (s *Store) GetProfile(ctx context.Context, id types.ID) (*ContractorProfile, error) {
	p, err := scanProfile(s.db.QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM contractor_profiles p JOIN users u ON u.id = p.user_id
		WHERE p.user_id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *Store) ProfilesByIDs(ctx context.Context, ids []types.ID) ([]ContractorProfile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	return s.queryProfiles(ctx, `
		SELECT `+profileColumns+`
		FROM contractor_profiles p JOIN users u ON u.id = p.user_id
		WHERE p.user_id = ANY($1) AND u.active
		ORDER BY p.user_id`, raw)
}

// FreeContractors returns every active FREE contractor; near is not used to
// narrow the scan because each contractor has its own radius.
func (s *Store) FreeContractors(ctx context.Context, _ types.Point) ([]ContractorProfile, error) {
	return s.queryProfiles(ctx, `
		SELECT `+profileColumns+`
		FROM contractor_profiles p JOIN users u ON u.id = p.user_id
		WHERE p.availability = $1 AND u.active
		ORDER BY p.user_id`, string(AvailabilityFree))
}

func (s *Store) queryProfiles(ctx context.Context, query string, args ...any) ([]ContractorProfile, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContractorProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) ListZones(ctx context.Context) (map[types.ID]types.Point, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, zone_lat, zone_lng
		FROM contractor_profiles
		WHERE zone_lat IS NOT NULL AND zone_lng IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	zones := make(map[types.ID]types.Point)
	for rows.Next() {
		var id string
		var pt types.Point
		if err := rows.Scan(&id, &pt.Lat, &pt.Lng); err != nil {
			return nil, err
		}
		zones[types.ID(id)] = pt
	}
	return zones, rows.Err()
}

func (s *Store) SetZone(ctx context.Context, id types.ID, zone types.Point) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE contractor_profiles
		SET zone_lat = $1, zone_lng = $2, updated_at = NOW()
		WHERE user_id = $3`, zone.Lat, zone.Lng, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotContractor
	}
	return nil
}

func (s *Store) SetAvailability(ctx context.Context, id types.ID, a Availability) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE contractor_profiles
		SET availability = $1, updated_at = NOW()
		WHERE user_id = $2`, string(a), string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotContractor
	}
	return nil
}
