package order

import (
	"sort"

	"drillflow/internal/modules/location"
	"drillflow/internal/types"
)

// filterNear keeps the orders within radiusKm of p, nearest first.
func filterNear(orders []*Order, p types.Point, radiusKm float64) []*Order {
	type hit struct {
		o *Order
		d float64
	}
	hits := make([]hit, 0, len(orders))
	for _, o := range orders {
		if d := location.DistanceKm(p, o.Location); d <= radiusKm {
			hits = append(hits, hit{o: o, d: d})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].d != hits[j].d {
			return hits[i].d < hits[j].d
		}
		return hits[i].o.ID < hits[j].o.ID
	})
	out := make([]*Order, len(hits))
	for i, h := range hits {
		out[i] = h.o
	}
	return out
}
