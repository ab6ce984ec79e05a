package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

const productTimeLayout = "20060102T150405"

var (
	// ErrUnknownTile is returned when a tile id cannot be derived from a product name.
	ErrUnknownTile = errors.New("unknown tile")
	// ErrNoUsableData means a preview cannot produce a publishable picture.
	ErrNoUsableData = errors.New("no usable data in preview")
	// ErrAlreadyRecorded is returned when (acquisition, platform) is already stored.
	ErrAlreadyRecorded = errors.New("acquisition already recorded for platform")
)

// Tile is a cell of the Sentinel-2 MGRS grid flagged as coastal.
type Tile struct {
	ID       string
	Centroid orb.Point
}

// Candidate is one acquisition returned by the catalog for a coastal tile.
type Candidate struct {
	ID          string
	CatalogID   string
	TileID      string
	AcquiredAt  time.Time
	CloudCover  float64
	PreviewURL  string
	DownloadURL string
	Footprint   orb.Geometry
}

// Age reports how old the acquisition is relative to now.
func (c Candidate) Age(now time.Time) time.Duration {
	return now.Sub(c.AcquiredAt)
}

// Platform names a social network the bot publishes to.
type Platform string

const (
	PlatformMastodon Platform = "mastodon"
	PlatformTwitter  Platform = "twitter"
)

// PostedRecord is persisted after a platform confirmed a post.
type PostedRecord struct {
	AcquisitionID string
	TileID        string
	AcquiredAt    time.Time
	Platform      Platform
	PostID        string
	PostURL       string
	RunID         string
	PostedAt      time.Time
}

// Post is what gets sent to a platform.
type Post struct {
	ImagePath string
	Caption   string
	AltText   string
}

// PostResult is the confirmation returned by a platform.
type PostResult struct {
	ID  string
	URL string
}

// ProcessedImage is the publishable picture derived from a candidate preview.
type ProcessedImage struct {
	Path   string
	Center orb.Point
}

// ProductID strips the directory and ".SAFE" suffix from a product name.
func ProductID(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, ".SAFE")
}

// ParseProductName extracts the tile id and sensing time from a Sentinel-2
// product name such as S2B_MSIL1C_20240827T234739_N0511_R030_T57MWM_20240828T002315.
func ParseProductName(name string) (string, time.Time, error) {
	fields := strings.Split(ProductID(name), "_")
	if len(fields) < 6 {
		return "", time.Time{}, fmt.Errorf("product %q: %w", name, ErrUnknownTile)
	}

	tile := NormalizeTileID(fields[5])
	if len(tile) != 5 {
		return "", time.Time{}, fmt.Errorf("product %q: %w", name, ErrUnknownTile)
	}

	sensed, err := time.Parse(productTimeLayout, fields[2])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("product %q sensing time: %w", name, err)
	}

	return tile, sensed.UTC(), nil
}

// NormalizeTileID upper-cases an MGRS tile id and drops the leading "T" used in product names.
func NormalizeTileID(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	if len(id) == 6 && id[0] == 'T' {
		id = id[1:]
	}
	return id
}
