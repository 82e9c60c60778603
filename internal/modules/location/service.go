// README: Location service; contractor zone updates kept in sync with the GEO index.
package location

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"drillflow/internal/types"
)

var ErrInvalidPoint = errors.New("invalid coordinates")

type ZoneStore interface {
	SetZone(ctx context.Context, id types.ID, zone types.Point) error
	ListZones(ctx context.Context) (map[types.ID]types.Point, error)
}

type ZoneWriter interface {
	SetZone(ctx context.Context, id types.ID, zone types.Point) error
	Replace(ctx context.Context, zones map[types.ID]types.Point) error
}

type Service struct {
	store  ZoneStore
	index  ZoneWriter
	logger *zap.Logger
}

// NewService wires the zone store; index may be nil when Redis is not in use.
func NewService(store ZoneStore, index ZoneWriter, logger *zap.Logger) *Service {
	return &Service{store: store, index: index, logger: logger}
}

// UpdateContractorZone persists the new zone center first; the index is a
// derived copy and a failed index write is logged, not returned.
func (s *Service) UpdateContractorZone(ctx context.Context, id types.ID, zone types.Point) error {
	if !zone.Valid() {
		return ErrInvalidPoint
	}
	if err := s.store.SetZone(ctx, id, zone); err != nil {
		return err
	}
	if s.index == nil {
		return nil
	}
	if err := s.index.SetZone(ctx, id, zone); err != nil {
		s.logger.Warn("zone index update failed", zap.String("contractor_id", string(id)), zap.Error(err))
	}
	return nil
}

// RebuildIndex reloads every stored zone into the index.
func (s *Service) RebuildIndex(ctx context.Context) error {
	if s.index == nil {
		return nil
	}
	zones, err := s.store.ListZones(ctx)
	if err != nil {
		return err
	}
	if err := s.index.Replace(ctx, zones); err != nil {
		return err
	}
	s.logger.Info("zone index rebuilt", zap.Int("contractors", len(zones)))
	return nil
}
