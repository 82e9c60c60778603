// README: Contractor work-zone index backed by Redis GEO.
package location

import (
	"context"

	"github.com/redis/go-redis/v9"

	"drillflow/internal/types"
)

const zoneGeoKey = "location:contractor_zones"

type GeoIndex struct {
	redis *redis.Client
	key   string
}

func NewGeoIndex(redis *redis.Client) *GeoIndex {
	return &GeoIndex{redis: redis, key: zoneGeoKey}
}

func (g *GeoIndex) SetZone(ctx context.Context, id types.ID, zone types.Point) error {
	return g.redis.GeoAdd(ctx, g.key, &redis.GeoLocation{
		Name:      string(id),
		Longitude: zone.Lng,
		Latitude:  zone.Lat,
	}).Err()
}

func (g *GeoIndex) Remove(ctx context.Context, id types.ID) error {
	return g.redis.ZRem(ctx, g.key, string(id)).Err()
}

// Within returns the ids whose zone center lies within radiusKm of p, nearest first.
func (g *GeoIndex) Within(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := g.redis.GeoSearch(ctx, g.key, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}

// Replace swaps the whole index for zones in one MULTI block.
func (g *GeoIndex) Replace(ctx context.Context, zones map[types.ID]types.Point) error {
	_, err := g.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, g.key)
		if len(zones) == 0 {
			return nil
		}
		locs := make([]*redis.GeoLocation, 0, len(zones))
		for id, z := range zones {
			locs = append(locs, &redis.GeoLocation{Name: string(id), Longitude: z.Lng, Latitude: z.Lat})
		}
		pipe.GeoAdd(ctx, g.key, locs...)
		return nil
	})
	return err
}
