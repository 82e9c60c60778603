// README: Contractor source that narrows the FREE scan with the GEO index.
package location

import (
	"context"
	"fmt"

	"drillflow/internal/modules/user"
	"drillflow/internal/types"
)

// geoMarginKm absorbs GEO hash precision so contractors exactly on their
// radius boundary still reach the exact filter.
const geoMarginKm = 1.0

type ZoneIndex interface {
	Within(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error)
}

type ProfileLoader interface {
	ProfilesByIDs(ctx context.Context, ids []types.ID) ([]user.ContractorProfile, error)
}

// GeoSource returns FREE contractors whose zone is within the largest
// allowed work radius of a point. Exact radius checks stay with the caller.
type GeoSource struct {
	index       ZoneIndex
	profiles    ProfileLoader
	maxRadiusKm float64
}

func NewGeoSource(index ZoneIndex, profiles ProfileLoader, maxRadiusKm float64) *GeoSource {
	return &GeoSource{index: index, profiles: profiles, maxRadiusKm: maxRadiusKm}
}

func (s *GeoSource) FreeContractors(ctx context.Context, near types.Point) ([]user.ContractorProfile, error) {
	ids, err := s.index.Within(ctx, near, s.maxRadiusKm+geoMarginKm)
	if err != nil {
		return nil, fmt.Errorf("geo index search: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	profiles, err := s.profiles.ProfilesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := profiles[:0]
	for _, p := range profiles {
		if p.Availability == user.AvailabilityFree {
			out = append(out, p)
		}
	}
	return out, nil
}
