// README: Shared identifier and coordinate types.
package types

import "github.com/google/uuid"

// ID identifies users and orders. User ids are external (Telegram or dashboard uid),
// order ids are generated.
type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string {
	return string(id)
}

type Point struct {
	Lat float64
	Lng float64
}

// Valid reports whether the point is a plausible WGS84 coordinate.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}
