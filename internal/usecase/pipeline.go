package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"S2CoastalBot/internal/domain"
	"S2CoastalBot/internal/logging"
	"S2CoastalBot/internal/ports"
	"S2CoastalBot/internal/retry"
	"S2CoastalBot/internal/selector"
)

var (
	// ErrNothingToPost is a normal outcome: no candidate passed the filters
	// or none of the ranked previews was usable.
	ErrNothingToPost = errors.New("no suitable acquisition found")
	// ErrLockHeld is returned when another run owns the run lock.
	ErrLockHeld = errors.New("another run holds the lock")
)

// PipelineOptions carry the selection thresholds and run behaviour.
type PipelineOptions struct {
	MaxCloudCover float64
	MinRecency    time.Duration
	// MaxAttempts bounds how many ranked candidates are post-processed.
	MaxAttempts int
	Cleaning    bool
	Retry       retry.Policy
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source     ports.CandidateSource
	Repository ports.PostedRepository
	Index      ports.TileIndex
	Processor  ports.ImageProcessor
	Geocoder   ports.Geocoder
	Publishers []ports.Publisher
	Locker     ports.RunLocker
	Logger     *slog.Logger
	Options    PipelineOptions
	// Clock defaults to time.Now.
	Clock func() time.Time
	// IsLocked reports whether a Locker error means "held elsewhere".
	IsLocked func(error) bool
}

// RunResult summarises one run.
type RunResult struct {
	RunID     string
	Candidate domain.Candidate
	Caption   string
	ImagePath string
	Records   []domain.PostedRecord
	Report    selector.Report
}

// Pipeline implements the select, process, publish and record workflow.
type Pipeline struct {
	source     ports.CandidateSource
	repository ports.PostedRepository
	index      ports.TileIndex
	processor  ports.ImageProcessor
	geocoder   ports.Geocoder
	publishers []ports.Publisher
	locker     ports.RunLocker
	logger     *slog.Logger
	opts       PipelineOptions
	clock      func() time.Time
	isLocked   func(error) bool
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		source:     deps.Source,
		repository: deps.Repository,
		index:      deps.Index,
		processor:  deps.Processor,
		geocoder:   deps.Geocoder,
		publishers: deps.Publishers,
		locker:     deps.Locker,
		logger:     deps.Logger,
		opts:       deps.Options,
		clock:      deps.Clock,
		isLocked:   deps.IsLocked,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.opts.MaxAttempts <= 0 {
		p.opts.MaxAttempts = 1
	}
	return p
}

// Run executes one complete pass. It returns ErrNothingToPost or ErrLockHeld
// for the two non-failure early exits.
func (p *Pipeline) Run(ctx context.Context, runID string) (result RunResult, err error) {
	result.RunID = runID
	log := logging.ForRun(p.logger, runID)

	if p.source == nil || p.repository == nil || p.processor == nil || len(p.publishers) == 0 {
		return result, fmt.Errorf("pipeline is not fully configured")
	}

	if p.locker != nil {
		unlock, lockErr := p.locker.Lock(ctx)
		if lockErr != nil {
			if p.isLocked != nil && p.isLocked(lockErr) {
				return result, fmt.Errorf("%w: %v", ErrLockHeld, lockErr)
			}
			return result, fmt.Errorf("acquire lock: %w", lockErr)
		}
		defer func() {
			if unlockErr := unlock(); unlockErr != nil {
				log.Warn("release lock", "error", unlockErr)
			}
		}()
	}

	now := p.clock().UTC()
	log.Info("run started", "publishers", len(p.publishers))

	posted, err := p.repository.PostedIDs(ctx)
	if err != nil {
		return result, fmt.Errorf("load posted: %w", err)
	}

	candidates, err := p.source.FetchCandidates(ctx, now)
	if err != nil {
		return result, fmt.Errorf("fetch candidates: %w", err)
	}

	criteria := selector.Criteria{
		MaxCloudCover: p.opts.MaxCloudCover,
		MinRecency:    p.opts.MinRecency,
		Now:           now,
	}
	if p.index != nil {
		criteria.IsCoastal = p.index.IsCoastal
	}

	ranked, report := selector.Rank(candidates, posted, criteria)
	result.Report = report
	log.Info("candidates ranked", "fetched", len(candidates), "eligible", len(ranked),
		"posted", report[selector.ReasonPosted], "cloudy", report[selector.ReasonCloudy],
		"too_old", report[selector.ReasonTooOld], "not_coastal", report[selector.ReasonNotCoastal])

	chosen, image, err := p.process(ctx, log, ranked)
	if err != nil {
		return result, err
	}
	result.Candidate = chosen
	result.ImagePath = image.Path
	if p.opts.Cleaning {
		defer func() {
			if rmErr := os.Remove(image.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				log.Warn("cleaning", "path", image.Path, "error", rmErr)
			}
		}()
	}

	result.Caption = BuildCaption(p.locationName(ctx, log, image.Center), image.Center, chosen.AcquiredAt)
	log.Info("caption built", "acquisition", chosen.ID, "caption", result.Caption)

	post := domain.Post{ImagePath: image.Path, Caption: result.Caption, AltText: AltText}

	var failures []error
	for _, publisher := range p.publishers {
		record, pubErr := p.publish(ctx, log, publisher, post, chosen, runID)
		if pubErr != nil {
			failures = append(failures, pubErr)
			continue
		}
		result.Records = append(result.Records, record)
	}

	if len(failures) > 0 {
		return result, fmt.Errorf("publish %s: %w", chosen.ID, errors.Join(failures...))
	}

	log.Info("run finished", "acquisition", chosen.ID, "platforms", len(result.Records))
	return result, nil
}

// process walks the ranked list until a preview yields a usable picture.
func (p *Pipeline) process(ctx context.Context, log *slog.Logger, ranked []domain.Candidate) (domain.Candidate, domain.ProcessedImage, error) {
	var lastErr error
	for i, candidate := range ranked {
		if i >= p.opts.MaxAttempts {
			break
		}

		img, err := p.processor.Process(ctx, candidate, p.center(candidate))
		if err == nil {
			return candidate, img, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Candidate{}, domain.ProcessedImage{}, ctxErr
		}

		if errors.Is(err, domain.ErrNoUsableData) {
			log.Info("preview unusable, trying next candidate", "acquisition", candidate.ID, "reason", err)
			continue
		}
		log.Warn("post-processing failed, trying next candidate", "acquisition", candidate.ID, "error", err)
		lastErr = err
	}

	if lastErr != nil {
		return domain.Candidate{}, domain.ProcessedImage{}, fmt.Errorf("post-process: %w", lastErr)
	}
	return domain.Candidate{}, domain.ProcessedImage{}, ErrNothingToPost
}

// center is the coastal point of the candidate's tile, or its footprint centroid.
func (p *Pipeline) center(c domain.Candidate) orb.Point {
	if p.index != nil {
		if pt, ok := p.index.Centroid(c.TileID); ok {
			return pt
		}
	}
	if c.Footprint != nil {
		pt, _ := planar.CentroidArea(c.Footprint)
		return pt
	}
	return orb.Point{}
}

func (p *Pipeline) locationName(ctx context.Context, log *slog.Logger, pt orb.Point) string {
	if p.geocoder == nil {
		return UnknownLocation
	}
	name, err := p.geocoder.LocationName(ctx, pt)
	if err != nil || name == "" {
		log.Warn("reverse geocoding failed", "lon", pt.Lon(), "lat", pt.Lat(), "error", err)
		return UnknownLocation
	}
	return name
}

func (p *Pipeline) publish(ctx context.Context, log *slog.Logger, publisher ports.Publisher, post domain.Post, chosen domain.Candidate, runID string) (domain.PostedRecord, error) {
	platform := publisher.Platform()

	var res domain.PostResult
	err := retry.Do(ctx, p.opts.Retry, log, "publish "+string(platform), func(ctx context.Context) error {
		var pubErr error
		res, pubErr = publisher.Publish(ctx, post)
		return pubErr
	})
	if err != nil {
		log.Error("publish failed", "platform", platform, "acquisition", chosen.ID, "error", err)
		return domain.PostedRecord{}, fmt.Errorf("%s: %w", platform, err)
	}

	record := domain.PostedRecord{
		AcquisitionID: chosen.ID,
		TileID:        chosen.TileID,
		AcquiredAt:    chosen.AcquiredAt,
		Platform:      platform,
		PostID:        res.ID,
		PostURL:       res.URL,
		RunID:         runID,
		PostedAt:      p.clock().UTC(),
	}
	if err := p.repository.Append(ctx, record); err != nil {
		if errors.Is(err, domain.ErrAlreadyRecorded) {
			log.Warn("post already recorded", "platform", platform, "acquisition", chosen.ID)
			return record, nil
		}
		log.Error("post published but not recorded, backfill with posted import",
			"platform", platform, "acquisition", chosen.ID, "acquired_at", chosen.AcquiredAt,
			"post_id", res.ID, "url", res.URL, "error", err)
		return domain.PostedRecord{}, fmt.Errorf("record %s post: %w", platform, err)
	}

	log.Info("published", "platform", platform, "acquisition", chosen.ID, "post_id", res.ID, "url", res.URL)
	return record, nil
}
