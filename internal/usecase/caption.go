package usecase

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

const (
	// UnknownLocation replaces the place name when geocoding fails.
	UnknownLocation = "Unknown location"
	// AltText describes every published picture.
	AltText = "Snapshot of a satellite image of a coastal area."

	captionDateLayout = "2006 Jan 02"
)

// FormatLonLat renders a point as "45.6°N 0.1°E".
func FormatLonLat(p orb.Point) string {
	lat, lon := p.Lat(), p.Lon()

	var b strings.Builder
	if lat < 0 {
		fmt.Fprintf(&b, "%.1f°S", math.Abs(lat))
	} else {
		fmt.Fprintf(&b, "%.1f°N", math.Abs(lat))
	}
	b.WriteByte(' ')
	if lon < 0 {
		fmt.Fprintf(&b, "%.1f°W", math.Abs(lon))
	} else {
		fmt.Fprintf(&b, "%.1f°E", math.Abs(lon))
	}
	return b.String()
}

// BuildCaption produces "{location} ({coords}) {date}".
func BuildCaption(location string, p orb.Point, acquired time.Time) string {
	location = strings.TrimSpace(location)
	if location == "" {
		location = UnknownLocation
	}
	return fmt.Sprintf("%s (%s) %s", location, FormatLonLat(p), acquired.UTC().Format(captionDateLayout))
}
