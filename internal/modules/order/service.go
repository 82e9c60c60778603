// README: Order service wraps the repository with id generation, create
// validation and scoring rules.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"drillflow/internal/modules/user"
	"drillflow/internal/types"
)

var (
	ErrNotFound     = errors.New("order not found")
	ErrForbidden    = errors.New("not allowed for this order")
	ErrInvalidState = errors.New("invalid state transition")
	ErrAlreadyTaken = errors.New("order already taken")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("order state conflict")
)

// Validation failures. Each wraps ErrValidation.
var (
	ErrNoClient        = fmt.Errorf("%w: client is required", ErrValidation)
	ErrNoServiceType   = fmt.Errorf("%w: service type is required", ErrValidation)
	ErrUnknownService  = fmt.Errorf("%w: unknown service", ErrValidation)
	ErrNoAddress       = fmt.Errorf("%w: address is required", ErrValidation)
	ErrNoLocation      = fmt.Errorf("%w: order location is required", ErrValidation)
	ErrAddressNotFound = fmt.Errorf("%w: address not found", ErrValidation)
	ErrBadLocation     = fmt.Errorf("%w: location out of range", ErrValidation)
	ErrNegativePrice   = fmt.Errorf("%w: negative price", ErrValidation)
	ErrPastDeadline    = fmt.Errorf("%w: deadline in the past", ErrValidation)
	ErrBadScore        = fmt.Errorf("%w: rating must be %d..%d", ErrValidation, MinScore, MaxScore)
	ErrBadRadius       = fmt.Errorf("%w: radius must be positive", ErrValidation)
	ErrNoZone          = fmt.Errorf("%w: contractor location is unknown", ErrValidation)
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

type CreateCommand struct {
	ClientID    types.ID
	ServiceType string
	Address     string
	Location    types.Point
	Description string
	Price       *types.Money
	Deadline    *time.Time
}

func (c CreateCommand) validate(now time.Time) error {
	switch {
	case c.ClientID == "":
		return ErrNoClient
	case strings.TrimSpace(c.ServiceType) == "":
		return ErrNoServiceType
	case strings.TrimSpace(c.Address) == "":
		return ErrNoAddress
	case !c.Location.Valid():
		return ErrBadLocation
	case c.Price != nil && c.Price.Amount < 0:
		return ErrNegativePrice
	case c.Deadline != nil && c.Deadline.Before(now):
		return ErrPastDeadline
	}
	return nil
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	now := s.now()
	if err := cmd.validate(now); err != nil {
		return nil, err
	}
	o := &Order{
		ID:          types.NewID(),
		ClientID:    cmd.ClientID,
		ServiceType: strings.TrimSpace(cmd.ServiceType),
		Address:     strings.TrimSpace(cmd.Address),
		Location:    cmd.Location,
		Description: strings.TrimSpace(cmd.Description),
		Price:       cmd.Price,
		Deadline:    cmd.Deadline,
		Status:      StatusNew,
		CreatedAt:   now,
	}
	if o.Price != nil && o.Price.Currency == "" {
		o.Price.Currency = types.DefaultCurrency
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return o, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Accept(ctx context.Context, id, contractorID types.ID) (*Order, error) {
	return s.repo.TryAccept(ctx, id, contractorID)
}

func (s *Service) Start(ctx context.Context, id, contractorID types.ID) (*Order, error) {
	return s.repo.Start(ctx, id, contractorID)
}

func (s *Service) Cancel(ctx context.Context, id types.ID, actor Actor, reason string) (*Order, error) {
	return s.repo.Cancel(ctx, id, actor, reason)
}

func (s *Service) Complete(ctx context.Context, id, contractorID types.ID, rating *int) (*Order, error) {
	if rating != nil && !validScore(*rating) {
		return nil, ErrBadScore
	}
	return s.repo.Complete(ctx, id, contractorID, rating)
}

func (s *Service) Rate(ctx context.Context, id, clientID types.ID, score int) (*Order, error) {
	if !validScore(score) {
		return nil, ErrBadScore
	}
	return s.repo.Rate(ctx, id, clientID, score)
}

func (s *Service) ListActiveNear(ctx context.Context, p types.Point, radiusKm float64) ([]*Order, error) {
	if !p.Valid() {
		return nil, ErrBadLocation
	}
	if radiusKm <= 0 {
		return nil, ErrBadRadius
	}
	return s.repo.ListActiveNear(ctx, p, radiusKm)
}

func (s *Service) ListForUser(ctx context.Context, userID types.ID, role user.Role) ([]*Order, error) {
	return s.repo.ListForUser(ctx, userID, role)
}

// ListStale returns NEW orders created more than ttl ago.
func (s *Service) ListStale(ctx context.Context, ttl time.Duration) ([]*Order, error) {
	return s.repo.ListStaleNew(ctx, s.now().Add(-ttl))
}

// CountAcceptedToday counts accepts since local midnight.
func (s *Service) CountAcceptedToday(ctx context.Context, contractorID types.ID) (int, error) {
	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return s.repo.CountAcceptedSince(ctx, contractorID, midnight)
}
