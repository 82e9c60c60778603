// README: Google Maps geocoding of free-text order addresses.
package maps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"drillflow/internal/types"
)

// ErrNoResult is returned when the address resolves to nothing.
var ErrNoResult = errors.New("address not found")

// Geocoder resolves addresses with the Google Geocoding API.
type Geocoder struct {
	client   *maps.Client
	region   string
	language string
}

// NewGeocoder creates a Geocoder with the given API Key. region biases
// results to a country code, language sets the response language.
func NewGeocoder(apiKey, region, language string) (*Geocoder, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Geocoder{client: client, region: region, language: language}, nil
}

func (g *Geocoder) Geocode(ctx context.Context, address string) (types.Point, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return types.Point{}, ErrNoResult
	}
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{
		Address:  address,
		Region:   g.region,
		Language: g.language,
	})
	if err != nil {
		return types.Point{}, fmt.Errorf("maps api error: %w", err)
	}
	return firstPoint(results)
}

func firstPoint(results []maps.GeocodingResult) (types.Point, error) {
	if len(results) == 0 {
		return types.Point{}, ErrNoResult
	}
	loc := results[0].Geometry.Location
	return types.Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}
