// README: Matching engine selects FREE contractors whose work radius covers
// an order.
package matching

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"drillflow/internal/config"
	"drillflow/internal/modules/location"
	"drillflow/internal/modules/order"
	"drillflow/internal/modules/user"
	"drillflow/internal/types"
)

// ContractorSource yields FREE contractors that could cover near. It may
// return more than the eligible set; the engine applies the exact filter.
type ContractorSource interface {
	FreeContractors(ctx context.Context, near types.Point) ([]user.ContractorProfile, error)
}

// AcceptCounter backs the daily order cap.
type AcceptCounter interface {
	CountAcceptedToday(ctx context.Context, contractorID types.ID) (int, error)
}

type Engine struct {
	source        ContractorSource
	counter       AcceptCounter
	cmp           Comparator
	maxCandidates int
	maxPerDay     int
	logger        *zap.Logger
}

// NewEngine builds an engine from config; counter may be nil when the daily
// cap is disabled.
func NewEngine(source ContractorSource, counter AcceptCounter, cfg config.MatchingConfig, logger *zap.Logger) (*Engine, error) {
	cmp, err := ParseComparator(cfg.Comparator)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOrdersPerDay > 0 && counter == nil {
		return nil, fmt.Errorf("daily cap %d needs an accept counter", cfg.MaxOrdersPerDay)
	}
	return &Engine{
		source:        source,
		counter:       counter,
		cmp:           cmp,
		maxCandidates: cfg.MaxCandidates,
		maxPerDay:     cfg.MaxOrdersPerDay,
		logger:        logger,
	}, nil
}

// UseComparator replaces the configured candidate order.
func (e *Engine) UseComparator(cmp Comparator) {
	e.cmp = cmp
}

// FindEligible returns the contractors an order should be offered to, in
// offer order.
func (e *Engine) FindEligible(ctx context.Context, o *order.Order) ([]Candidate, error) {
	profiles, err := e.source.FreeContractors(ctx, o.Location)
	if err != nil {
		return nil, fmt.Errorf("load contractors: %w", err)
	}

	var out []Candidate
	for _, p := range profiles {
		if p.Availability != user.AvailabilityFree || p.Zone == nil {
			continue
		}
		d := location.DistanceKm(*p.Zone, o.Location)
		if d > p.RadiusKm {
			continue
		}
		if !p.Offers(o.ServiceType) {
			continue
		}
		if capped, err := e.atDailyCap(ctx, p.UserID); err != nil {
			return nil, err
		} else if capped {
			e.logger.Debug("contractor at daily cap", zap.String("contractor_id", string(p.UserID)))
			continue
		}
		out = append(out, Candidate{Profile: p, DistanceKm: d})
	}

	sortCandidates(out, e.cmp)
	if e.maxCandidates > 0 && len(out) > e.maxCandidates {
		out = out[:e.maxCandidates]
	}
	return out, nil
}

func (e *Engine) atDailyCap(ctx context.Context, id types.ID) (bool, error) {
	if e.maxPerDay <= 0 {
		return false, nil
	}
	n, err := e.counter.CountAcceptedToday(ctx, id)
	if err != nil {
		return false, fmt.Errorf("count accepted orders: %w", err)
	}
	return n >= e.maxPerDay, nil
}
