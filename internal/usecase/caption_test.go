package usecase

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
)

func TestFormatLonLat(t *testing.T) {
	t.Parallel()

	cases := map[string]orb.Point{
		"45.6°N 0.1°E":  {0.1, 45.6},
		"64.2°N 51.7°W": {-51.72, 64.2},
		"33.9°S 18.4°E": {18.42, -33.92},
		"0.0°N 0.0°E":   {0, 0},
	}
	for want, p := range cases {
		if got := FormatLonLat(p); got != want {
			t.Fatalf("FormatLonLat(%v) = %q, want %q", p, got, want)
		}
	}
}

func TestBuildCaption(t *testing.T) {
	t.Parallel()

	acquired := time.Date(2024, time.August, 27, 10, 56, 21, 0, time.UTC)
	got := BuildCaption("Charente, France", orb.Point{0.1, 45.6}, acquired)
	if got != "Charente, France (45.6°N 0.1°E) 2024 Aug 27" {
		t.Fatalf("unexpected caption %q", got)
	}

	got = BuildCaption("  ", orb.Point{0.1, 45.6}, acquired)
	if got != "Unknown location (45.6°N 0.1°E) 2024 Aug 27" {
		t.Fatalf("unexpected fallback caption %q", got)
	}
}
