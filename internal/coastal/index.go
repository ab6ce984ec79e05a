// Package coastal holds the read-only index of Sentinel-2 tiles whose footprint
// touches a coastline, and the offline builder that produces it.
package coastal

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"S2CoastalBot/internal/domain"
)

// ErrEmptyIndex is returned when a dataset holds no usable tile.
var ErrEmptyIndex = errors.New("coastal index is empty")

// Index maps tile ids to their centroid. It is immutable once built.
type Index struct {
	tiles map[string]orb.Point
	ids   []string
}

// NewIndex builds an index from already known tiles.
func NewIndex(tiles []domain.Tile) *Index {
	idx := &Index{tiles: make(map[string]orb.Point, len(tiles))}
	for _, tile := range tiles {
		id := domain.NormalizeTileID(tile.ID)
		if id == "" {
			continue
		}
		if _, ok := idx.tiles[id]; !ok {
			idx.ids = append(idx.ids, id)
		}
		idx.tiles[id] = tile.Centroid
	}
	sort.Strings(idx.ids)
	return idx
}

// LoadIndex reads a GeoJSON FeatureCollection from disk.
func LoadIndex(path string) (*Index, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read coastal dataset: %w", err)
	}
	return ParseIndex(raw)
}

// ParseIndex decodes a FeatureCollection whose features carry the tile id in
// the "name" (or "Name") property. Point features give the centroid directly;
// polygons are reduced to their planar area centroid.
func ParseIndex(raw []byte) (*Index, error) {
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("parse coastal dataset: %w", err)
	}

	tiles := make([]domain.Tile, 0, len(fc.Features))
	for _, feature := range fc.Features {
		id := tileName(feature)
		if id == "" || feature.Geometry == nil {
			continue
		}
		tiles = append(tiles, domain.Tile{ID: id, Centroid: centroid(feature.Geometry)})
	}

	idx := NewIndex(tiles)
	if idx.Len() == 0 {
		return nil, ErrEmptyIndex
	}
	return idx, nil
}

// IsCoastal reports whether tileID is in the index. Unknown ids are not coastal.
func (i *Index) IsCoastal(tileID string) bool {
	if i == nil {
		return false
	}
	_, ok := i.tiles[domain.NormalizeTileID(tileID)]
	return ok
}

// Centroid returns the lon/lat centroid of a coastal tile.
func (i *Index) Centroid(tileID string) (orb.Point, bool) {
	if i == nil {
		return orb.Point{}, false
	}
	pt, ok := i.tiles[domain.NormalizeTileID(tileID)]
	return pt, ok
}

// Tiles returns the sorted tile ids. The slice is a copy.
func (i *Index) Tiles() []string {
	if i == nil {
		return nil
	}
	out := make([]string, len(i.ids))
	copy(out, i.ids)
	return out
}

// Len is the number of coastal tiles.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.ids)
}

func tileName(feature *geojson.Feature) string {
	for _, key := range []string{"name", "Name"} {
		if v := feature.Properties.MustString(key, ""); v != "" {
			return domain.NormalizeTileID(v)
		}
	}
	return ""
}

func centroid(geom orb.Geometry) orb.Point {
	if pt, ok := geom.(orb.Point); ok {
		return pt
	}
	pt, _ := planar.CentroidArea(geom)
	return pt
}
