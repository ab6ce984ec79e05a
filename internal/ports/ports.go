package ports

import (
	"context"
	"time"

	"github.com/paulmach/orb"

	"S2CoastalBot/internal/domain"
)

// CandidateSource pulls fresh acquisitions over coastal tiles from the catalog.
type CandidateSource interface {
	FetchCandidates(ctx context.Context, now time.Time) ([]domain.Candidate, error)
}

// PostedRepository persists confirmed posts for deduplication/history.
type PostedRepository interface {
	PostedIDs(ctx context.Context) (map[string]bool, error)
	Append(ctx context.Context, record domain.PostedRecord) error
	Latest(ctx context.Context) (domain.PostedRecord, bool, error)
	List(ctx context.Context, limit int) ([]domain.PostedRecord, error)
	Close() error
}

// ImageProcessor turns a candidate preview into a publishable picture.
type ImageProcessor interface {
	Process(ctx context.Context, candidate domain.Candidate, center orb.Point) (domain.ProcessedImage, error)
}

// Geocoder resolves a coordinate into a human readable place name.
type Geocoder interface {
	LocationName(ctx context.Context, point orb.Point) (string, error)
}

// Publisher posts a picture with its caption to a social platform.
type Publisher interface {
	Platform() domain.Platform
	Publish(ctx context.Context, post domain.Post) (domain.PostResult, error)
}

// TileIndex answers coastal membership questions.
type TileIndex interface {
	IsCoastal(tileID string) bool
	Centroid(tileID string) (orb.Point, bool)
}

// RunLocker serialises pipeline runs.
type RunLocker interface {
	Lock(ctx context.Context) (unlock func() error, err error)
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
