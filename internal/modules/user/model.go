// README: Users and contractor profiles (roles, availability, work zone, statistics).
package user

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"drillflow/internal/types"
)

type Role string

const (
	RoleClient     Role = "client"
	RoleContractor Role = "contractor"
	RoleAdmin      Role = "admin"
)

type Availability string

const (
	AvailabilityFree        Availability = "free"
	AvailabilityBusy        Availability = "busy"
	AvailabilityBreak       Availability = "break"
	AvailabilityUnavailable Availability = "unavailable"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrRoleChange     = errors.New("role cannot be changed after registration")
	ErrNotContractor  = errors.New("user is not a contractor")
	ErrInvalidProfile = errors.New("invalid contractor profile")
)

// ServiceCatalogue lists the services clients can order.
var ServiceCatalogue = []string{
	"Бурение скважины",
	"Бурение на песок",
	"Ремонт скважины",
	"Чистка скважины",
	"Обслуживание насоса",
}

// CatalogueEntry returns the canonical catalogue spelling of s, matching case-insensitively.
func CatalogueEntry(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, entry := range ServiceCatalogue {
		if strings.EqualFold(entry, s) {
			return entry, true
		}
	}
	return "", false
}

// ParseSpecializations reads a comma separated list of catalogue entries.
func ParseSpecializations(value string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		entry, ok := CatalogueEntry(part)
		if !ok {
			return nil, fmt.Errorf("%w: unknown service %q", ErrInvalidProfile, part)
		}
		out = append(out, entry)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no services given", ErrInvalidProfile)
	}
	return out, nil
}

func ParseAvailability(s string) (Availability, error) {
	switch a := Availability(strings.ToLower(strings.TrimSpace(s))); a {
	case AvailabilityFree, AvailabilityBusy, AvailabilityBreak, AvailabilityUnavailable:
		return a, nil
	}
	return "", fmt.Errorf("unknown availability %q", s)
}

type User struct {
	ID        types.ID
	Name      string
	Phone     string
	Role      Role
	Active    bool
	CreatedAt time.Time
}

type ContractorProfile struct {
	UserID          types.ID
	Name            string
	Phone           string
	Specializations []string
	Rating          float64
	RatingCount     int
	// Zone is nil until the contractor shares a location.
	Zone            *types.Point
	RadiusKm        float64
	Availability    Availability
	CompletedOrders int
	TotalIncome     types.Money
	UpdatedAt       time.Time
}

func (p ContractorProfile) AverageCheck() types.Money {
	return p.TotalIncome.Div(p.CompletedOrders)
}

// Offers reports whether the contractor performs serviceType. An empty
// specialization set means the contractor takes any service.
func (p ContractorProfile) Offers(serviceType string) bool {
	if len(p.Specializations) == 0 {
		return true
	}
	for _, s := range p.Specializations {
		if strings.EqualFold(s, serviceType) {
			return true
		}
	}
	return false
}

// RecordCompletion bumps the completion counters; price is nil for negotiable orders.
func (p *ContractorProfile) RecordCompletion(price *types.Money) {
	p.CompletedOrders++
	if price != nil {
		p.TotalIncome = p.TotalIncome.Add(*price)
	}
}

func clampRating(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 5:
		return 5
	}
	return v
}

// SetRating stores a new aggregate rating, bounded to [0,5], and counts the sample.
func (p *ContractorProfile) SetRating(next float64) {
	p.Rating = clampRating(next)
	p.RatingCount++
}

func (p ContractorProfile) validate(maxRadiusKm float64) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidProfile)
	}
	if p.RadiusKm <= 0 || (maxRadiusKm > 0 && p.RadiusKm > maxRadiusKm) {
		return fmt.Errorf("%w: radius %.1f out of range", ErrInvalidProfile, p.RadiusKm)
	}
	return nil
}
