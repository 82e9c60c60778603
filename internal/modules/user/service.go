// README: User service; registration, profile edits and availability switches.
package user

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"drillflow/internal/types"
)

// Editable profile fields.
const (
	FieldName           = "name"
	FieldPhone          = "phone"
	FieldRadius         = "radius"
	FieldSpecialization = "specialization"
)

type Service struct {
	repo        Repository
	maxRadiusKm float64
}

func NewService(repo Repository, maxRadiusKm float64) *Service {
	return &Service{repo: repo, maxRadiusKm: maxRadiusKm}
}

type RegisterCommand struct {
	ID              types.ID
	Name            string
	Phone           string
	Role            Role
	Specializations []string
	RadiusKm        float64
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*User, error) {
	if cmd.ID == "" || strings.TrimSpace(cmd.Name) == "" {
		return nil, fmt.Errorf("%w: missing id or name", ErrInvalidProfile)
	}
	switch cmd.Role {
	case RoleClient, RoleContractor, RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidProfile, cmd.Role)
	}

	u := &User{
		ID:        cmd.ID,
		Name:      strings.TrimSpace(cmd.Name),
		Phone:     strings.TrimSpace(cmd.Phone),
		Role:      cmd.Role,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if cmd.Role == RoleContractor {
		p := &ContractorProfile{
			UserID:          cmd.ID,
			Specializations: cmd.Specializations,
			RadiusKm:        cmd.RadiusKm,
			Availability:    AvailabilityFree,
		}
		if err := p.validate(s.maxRadiusKm); err != nil {
			return nil, err
		}
		if err := s.repo.UpsertUser(ctx, u); err != nil {
			return nil, err
		}
		if err := s.repo.SaveProfile(ctx, p); err != nil {
			return nil, err
		}
		return u, nil
	}
	if err := s.repo.UpsertUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*User, error) {
	return s.repo.GetUser(ctx, id)
}

func (s *Service) Profile(ctx context.Context, id types.ID) (*ContractorProfile, error) {
	return s.repo.GetProfile(ctx, id)
}

// UpdateField applies a single profile edit collected by the field-edit flow.
func (s *Service) UpdateField(ctx context.Context, id types.ID, field, value string) error {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	switch field {
	case FieldName:
		u.Name = strings.TrimSpace(value)
		return s.repo.UpsertUser(ctx, u)
	case FieldPhone:
		u.Phone = strings.TrimSpace(value)
		return s.repo.UpsertUser(ctx, u)
	}

	if u.Role != RoleContractor {
		return ErrNotContractor
	}
	p, err := s.repo.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	switch field {
	case FieldRadius:
		r, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("%w: radius %q", ErrInvalidProfile, value)
		}
		p.RadiusKm = r
	case FieldSpecialization:
		specs, err := ParseSpecializations(value)
		if err != nil {
			return err
		}
		p.Specializations = specs
	default:
		return fmt.Errorf("%w: unknown field %q", ErrInvalidProfile, field)
	}
	if err := p.validate(s.maxRadiusKm); err != nil {
		return err
	}
	return s.repo.SaveProfile(ctx, p)
}

func (s *Service) SetAvailability(ctx context.Context, id types.ID, a Availability) error {
	return s.repo.SetAvailability(ctx, id, a)
}
