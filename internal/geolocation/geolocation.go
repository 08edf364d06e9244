// Package geolocation provides terminal position sources for the geofence check.
package geolocation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/kozaktomas/attendance-terminal/internal/config"
	"github.com/kozaktomas/attendance-terminal/internal/geofence"
)

// ErrNotConfigured is returned by the source used when no position source is set.
var ErrNotConfigured = errors.New("no position source configured")

// Static always reports the same position. It suits terminals mounted at a
// fixed place.
type Static struct {
	pos geofence.Position
}

// NewStatic creates a static source.
func NewStatic(pos geofence.Position) *Static {
	return &Static{pos: pos}
}

// ParseStatic parses "lat,lng" or "lat,lng,accuracy".
func ParseStatic(s string) (*Static, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("invalid static position %q (expected lat,lng[,accuracy])", s)
	}
	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid static position %q: %w", s, err)
		}
		vals[i] = v
	}
	if vals[0] < -90 || vals[0] > 90 || vals[1] < -180 || vals[1] > 180 {
		return nil, fmt.Errorf("static position %q out of range", s)
	}
	pos := geofence.Position{Lat: vals[0], Lng: vals[1]}
	if len(vals) == 3 {
		pos.Accuracy = vals[2]
	}
	return NewStatic(pos), nil
}

func (s *Static) Position(ctx context.Context) (geofence.Position, error) {
	if err := ctx.Err(); err != nil {
		return geofence.Position{}, err
	}
	return s.pos, nil
}

// HTTP reads the position from a JSON endpoint ({"lat","lng","accuracy"}),
// typically a GPS daemon on the terminal host.
type HTTP struct {
	url    string
	client *resty.Client
}

// NewHTTP creates an HTTP position source. Timeouts come from the caller context.
func NewHTTP(url string) *HTTP {
	return &HTTP{url: url, client: resty.New()}
}

type positionResponse struct {
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Accuracy float64  `json:"accuracy"`
}

func (h *HTTP) Position(ctx context.Context) (geofence.Position, error) {
	var body positionResponse
	resp, err := h.client.R().SetContext(ctx).SetResult(&body).Get(h.url)
	if err != nil {
		return geofence.Position{}, fmt.Errorf("requesting position: %w", err)
	}
	if resp.IsError() {
		return geofence.Position{}, fmt.Errorf("position endpoint returned status %d", resp.StatusCode())
	}
	if body.Lat == nil || body.Lng == nil {
		return geofence.Position{}, errors.New("position endpoint returned no fix")
	}
	return geofence.Position{Lat: *body.Lat, Lng: *body.Lng, Accuracy: body.Accuracy}, nil
}

type unavailable struct{}

func (unavailable) Position(context.Context) (geofence.Position, error) {
	return geofence.Position{}, ErrNotConfigured
}

// FromConfig picks the configured source. Without configuration every request
// fails, so geofenced categories are rejected as location unavailable.
func FromConfig(cfg config.GeolocationConfig) (geofence.PositionSource, error) {
	switch {
	case cfg.Static != "":
		return ParseStatic(cfg.Static)
	case cfg.URL != "":
		return NewHTTP(cfg.URL), nil
	default:
		return unavailable{}, nil
	}
}
