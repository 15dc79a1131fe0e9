package geocode

import (
	"context"
	"errors"
	"strings"

	"github.com/lilerp/backend/internal/models"
)

var ErrNotFound = errors.New("geocode not found")

type Geocoder interface {
	Geocode(ctx context.Context, query string) (lat float64, lon float64, displayName string, confidence float64, err error)
}

// BuildQuery assembles a forward-geocoding query from an incident's
// free-text location, the reporter's community, and the platform country.
func BuildQuery(country, community, location string) string {
	var parts []string
	for _, p := range []string{location, community, country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// ShouldGeocode reports whether an incident needs coordinate resolution.
// Voice reports carry a recording instead of typed text, so they are
// skipped until a transcription lands.
func ShouldGeocode(inc models.Incident) bool {
	if inc.Lat != nil && inc.Lon != nil {
		return false
	}
	if inc.ReportedVia == models.ViaIVRCall && inc.VoiceTranscription == nil {
		return false
	}
	return strings.TrimSpace(inc.Location) != ""
}
