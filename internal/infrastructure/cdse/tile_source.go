package cdse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"S2CoastalBot/internal/domain"
	"S2CoastalBot/internal/ports"
)

// Searcher is the subset of Catalog used by TileSource.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]domain.Candidate, error)
}

// TileLister exposes the coastal tiles to rotate through.
type TileLister interface {
	Tiles() []string
}

// SourceOptions bound the per-run query.
type SourceOptions struct {
	TilesPerRun   int
	MaxCloudCover float64
	Window        time.Duration
	ProductType   string
}

// TileSource implements CandidateSource by querying a rotating batch of coastal tiles.
type TileSource struct {
	catalog Searcher
	tiles   TileLister
	opts    SourceOptions
	logger  *slog.Logger
}

var _ ports.CandidateSource = (*TileSource)(nil)

// NewTileSource wires the catalog with the coastal tile list.
func NewTileSource(catalog Searcher, tiles TileLister, opts SourceOptions, log *slog.Logger) *TileSource {
	return &TileSource{
		catalog: catalog,
		tiles:   tiles,
		opts:    opts,
		logger:  log,
	}
}

// FetchCandidates queries the batch of tiles scheduled for now's day.
func (s *TileSource) FetchCandidates(ctx context.Context, now time.Time) ([]domain.Candidate, error) {
	if s.catalog == nil || s.tiles == nil {
		return nil, fmt.Errorf("tile source is not configured")
	}

	batch := Batch(s.tiles.Tiles(), s.opts.TilesPerRun, now)
	s.debug("fetch candidates", "tiles", len(batch), "window", s.opts.Window.String())

	var aggregated []domain.Candidate
	for _, tile := range batch {
		q := Query{
			TileID:        tile,
			Start:         now.Add(-s.opts.Window),
			End:           now,
			MaxCloudCover: s.opts.MaxCloudCover,
			ProductType:   s.opts.ProductType,
		}

		results, err := s.catalog.Search(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("search tile %s: %w", tile, err)
		}

		s.debug("tile produced candidates", "tile", tile, "count", len(results))
		aggregated = append(aggregated, results...)
	}

	s.debug("tile source done", "total_candidates", len(aggregated))
	return aggregated, nil
}

// Batch returns the n tiles scheduled for the UTC day of now. Consecutive
// days walk through the whole list before repeating.
func Batch(tiles []string, n int, now time.Time) []string {
	if len(tiles) == 0 || n <= 0 {
		return nil
	}
	if n >= len(tiles) {
		out := make([]string, len(tiles))
		copy(out, tiles)
		return out
	}

	day := now.UTC().Unix() / int64(24*time.Hour/time.Second)
	offset := int((day * int64(n)) % int64(len(tiles)))

	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, tiles[(offset+i)%len(tiles)])
	}
	return out
}

func (s *TileSource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
