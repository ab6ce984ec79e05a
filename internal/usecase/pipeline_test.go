package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"S2CoastalBot/internal/domain"
	"S2CoastalBot/internal/ports"
	"S2CoastalBot/internal/retry"
)

var now = time.Date(2024, time.September, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	candidates []domain.Candidate
	err        error
}

func (f *fakeSource) FetchCandidates(context.Context, time.Time) ([]domain.Candidate, error) {
	return f.candidates, f.err
}

type memRepo struct {
	mu        sync.Mutex
	records   []domain.PostedRecord
	loads     int
	appendErr error
}

func (m *memRepo) PostedIDs(context.Context) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	ids := map[string]bool{}
	for _, r := range m.records {
		ids[r.AcquisitionID] = true
	}
	return ids, nil
}

func (m *memRepo) Append(_ context.Context, rec domain.PostedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	for _, r := range m.records {
		if r.AcquisitionID == rec.AcquisitionID && r.Platform == rec.Platform {
			return domain.ErrAlreadyRecorded
		}
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memRepo) Latest(context.Context) (domain.PostedRecord, bool, error) {
	if len(m.records) == 0 {
		return domain.PostedRecord{}, false, nil
	}
	return m.records[len(m.records)-1], true, nil
}

func (m *memRepo) List(context.Context, int) ([]domain.PostedRecord, error) {
	return m.records, nil
}

func (m *memRepo) Close() error { return nil }

type fakeIndex map[string]orb.Point

func (f fakeIndex) IsCoastal(id string) bool {
	_, ok := f[id]
	return ok
}

func (f fakeIndex) Centroid(id string) (orb.Point, bool) {
	p, ok := f[id]
	return p, ok
}

type fakeProcessor struct {
	dir     string
	errs    map[string]error
	visited []string
}

func (f *fakeProcessor) Process(_ context.Context, c domain.Candidate, center orb.Point) (domain.ProcessedImage, error) {
	f.visited = append(f.visited, c.ID)
	if err := f.errs[c.ID]; err != nil {
		return domain.ProcessedImage{}, err
	}
	path := filepath.Join(f.dir, c.ID+"_postprocessed.png")
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		return domain.ProcessedImage{}, err
	}
	return domain.ProcessedImage{Path: path, Center: center}, nil
}

type fakeGeocoder struct {
	name string
	err  error
}

func (f fakeGeocoder) LocationName(context.Context, orb.Point) (string, error) {
	return f.name, f.err
}

type fakePublisher struct {
	platform domain.Platform
	failures int
	err      error
	calls    int
	posts    []domain.Post
}

func (f *fakePublisher) Platform() domain.Platform { return f.platform }

func (f *fakePublisher) Publish(_ context.Context, post domain.Post) (domain.PostResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return domain.PostResult{}, f.err
	}
	f.posts = append(f.posts, post)
	return domain.PostResult{ID: fmt.Sprintf("%s-%d", f.platform, f.calls), URL: "https://example/" + string(f.platform)}, nil
}

type fakeLocker struct {
	err      error
	released bool
}

func (f *fakeLocker) Lock(context.Context) (func() error, error) {
	if f.err != nil {
		return nil, f.err
	}
	return func() error {
		f.released = true
		return nil
	}, nil
}

var errHeld = errors.New("held")

func candidate(id, tile string, cloud float64, age time.Duration) domain.Candidate {
	return domain.Candidate{
		ID:         id,
		TileID:     tile,
		AcquiredAt: now.Add(-age),
		CloudCover: cloud,
		PreviewURL: "https://example/" + id + ".jpg",
	}
}

type harness struct {
	source    *fakeSource
	repo      *memRepo
	processor *fakeProcessor
	geocoder  fakeGeocoder
	pubs      []*fakePublisher
	locker    *fakeLocker
	cleaning  bool
	logs      io.Writer
}

func newHarness(t *testing.T, candidates ...domain.Candidate) *harness {
	return &harness{
		source:    &fakeSource{candidates: candidates},
		repo:      &memRepo{},
		processor: &fakeProcessor{dir: t.TempDir(), errs: map[string]error{}},
		geocoder:  fakeGeocoder{name: "Charente, France"},
		pubs:      []*fakePublisher{{platform: domain.PlatformMastodon}},
		locker:    &fakeLocker{},
	}
}

func (h *harness) pipeline() *Pipeline {
	pubs := make([]ports.Publisher, 0, len(h.pubs))
	for _, p := range h.pubs {
		pubs = append(pubs, p)
	}
	logs := h.logs
	if logs == nil {
		logs = io.Discard
	}
	return NewPipeline(PipelineDeps{
		Source:     h.source,
		Repository: h.repo,
		Index:      fakeIndex{"31TCJ": {0.1, 45.6}, "57MWM": {150.2, -5.1}},
		Processor:  h.processor,
		Geocoder:   h.geocoder,
		Publishers: pubs,
		Locker:     h.locker,
		Logger:     slog.New(slog.NewTextHandler(logs, nil)),
		Options: PipelineOptions{
			MaxCloudCover: 5,
			MinRecency:    6 * 24 * time.Hour,
			MaxAttempts:   3,
			Cleaning:      h.cleaning,
			Retry:         retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		},
		Clock:    func() time.Time { return now },
		IsLocked: func(err error) bool { return errors.Is(err, errHeld) },
	})
}

func TestRunPublishesBestCandidate(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		candidate("A", "31TCJ", 3, 24*time.Hour),
		candidate("B", "31TCJ", 1, 48*time.Hour),
	)

	res, err := h.pipeline().Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Candidate.ID != "B" {
		t.Fatalf("expected B, got %s", res.Candidate.ID)
	}
	if res.Caption != "Charente, France (45.6°N 0.1°E) 2024 Aug 30" {
		t.Fatalf("unexpected caption %q", res.Caption)
	}
	if len(h.repo.records) != 1 || h.repo.records[0].AcquisitionID != "B" || h.repo.records[0].RunID != "run-1" {
		t.Fatalf("unexpected records %+v", h.repo.records)
	}
	post := h.pubs[0].posts[0]
	if post.AltText != AltText || !strings.HasSuffix(post.ImagePath, "B_postprocessed.png") {
		t.Fatalf("unexpected post %+v", post)
	}
	if !h.locker.released {
		t.Fatalf("lock was not released")
	}
}

func TestRunNothingToPost(t *testing.T) {
	t.Parallel()

	h := newHarness(t, candidate("A", "31TCJ", 50, time.Hour))
	_, err := h.pipeline().Run(context.Background(), "run-1")
	if !errors.Is(err, ErrNothingToPost) {
		t.Fatalf("expected ErrNothingToPost, got %v", err)
	}
	if h.pubs[0].calls != 0 || len(h.repo.records) != 0 {
		t.Fatalf("nothing should be published or recorded")
	}
}

func TestRunSkipsPostedAcquisitions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, candidate("A", "31TCJ", 1, time.Hour), candidate("B", "31TCJ", 2, time.Hour))
	h.repo.records = []domain.PostedRecord{{AcquisitionID: "A", Platform: domain.PlatformTwitter}}

	res, err := h.pipeline().Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Candidate.ID != "B" {
		t.Fatalf("posted acquisition must not be selected again, got %s", res.Candidate.ID)
	}
}

func TestRunRetriesTransientPublishFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, candidate("A", "31TCJ", 1, time.Hour))
	h.pubs[0].failures = 1
	h.pubs[0].err = &retry.StatusError{Code: 503, Status: "503 Service Unavailable"}

	if _, err := h.pipeline().Run(context.Background(), "run-1"); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if h.pubs[0].calls != 2 {
		t.Fatalf("expected 2 publish calls, got %d", h.pubs[0].calls)
	}
	if len(h.repo.records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(h.repo.records))
	}
}

func TestRunPublishFailureLeavesNoRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, candidate("A", "31TCJ", 1, time.Hour))
	h.pubs[0].failures = 10
	h.pubs[0].err = errors.New("connection refused")

	_, err := h.pipeline().Run(context.Background(), "run-1")
	if err == nil || errors.Is(err, ErrNothingToPost) {
		t.Fatalf("expected a publish failure, got %v", err)
	}
	if h.pubs[0].calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", h.pubs[0].calls)
	}
	if len(h.repo.records) != 0 {
		t.Fatalf("no record may be written on failure")
	}
}

func TestRunPartialPlatformFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, candidate("A", "31TCJ", 1, time.Hour))
	h.pubs = append(h.pubs, &fakePublisher{
		platform: domain.PlatformTwitter,
		failures: 10,
		err:      &retry.StatusError{Code: 401, Status: "401 Unauthorized"},
	})

	res, err := h.pipeline().Run(context.Background(), "run-1")
	if err == nil {
		t.Fatalf("expected error when one platform fails")
	}
	if len(res.Records) != 1 || res.Records[0].Platform != domain.PlatformMastodon {
		t.Fatalf("mastodon record should be kept, got %+v", res.Records)
	}
	if len(h.repo.records) != 1 {
		t.Fatalf("expected one stored record, got %d", len(h.repo.records))
	}
}

func TestRunFallsBackOnUnusablePreview(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		candidate("A", "31TCJ", 1, time.Hour),
		candidate("B", "57MWM", 2, time.Hour),
	)
	h.processor.errs["A"] = fmt.Errorf("A: %w", domain.ErrNoUsableData)

	res, err := h.pipeline().Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Candidate.ID != "B" || strings.Join(h.processor.visited, ",") != "A,B" {
		t.Fatalf("expected fallback to B, got %s after %v", res.Candidate.ID, h.processor.visited)
	}
	if !strings.Contains(res.Caption, "5.1°S 150.2°E") {
		t.Fatalf("caption should use B's coastal point: %q", res.Caption)
	}
}

func TestRunAllPreviewsUnusable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, candidate("A", "31TCJ", 1, time.Hour))
	h.processor.errs["A"] = domain.ErrNoUsableData

	if _, err := h.pipeline().Run(context.Background(), "run-1"); !errors.Is(err, ErrNothingToPost) {
		t.Fatalf("expected ErrNothingToPost, got %v", err)
	}
}

func TestRunLockHeld(t *testing.T) {
	t.Parallel()

	h := newHarness(t, candidate("A", "31TCJ", 1, time.Hour))
	h.locker.err = errHeld

	if _, err := h.pipeline().Run(context.Background(), "run-1"); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if h.repo.loads != 0 || h.pubs[0].calls != 0 {
		t.Fatalf("store and publishers must not be touched")
	}
}

func TestRunCatalogFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.source.err = errors.New("catalog down")

	_, err := h.pipeline().Run(context.Background(), "run-1")
	if err == nil || errors.Is(err, ErrNothingToPost) {
		t.Fatalf("expected catalog failure, got %v", err)
	}
	if h.pubs[0].calls != 0 {
		t.Fatalf("nothing may be posted")
	}
}

func TestRunGeocoderFallback(t *testing.T) {
	t.Parallel()

	h := newHarness(t, candidate("A", "31TCJ", 1, time.Hour))
	h.geocoder = fakeGeocoder{err: errors.New("timeout")}

	res, err := h.pipeline().Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !strings.HasPrefix(res.Caption, UnknownLocation+" (") {
		t.Fatalf("expected fallback location, got %q", res.Caption)
	}
}

func TestRunCleansPicture(t *testing.T) {
	t.Parallel()

	h := newHarness(t, candidate("A", "31TCJ", 1, time.Hour))
	h.cleaning = true

	res, err := h.pipeline().Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if _, err := os.Stat(res.ImagePath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected picture to be removed, stat err=%v", err)
	}
}

func TestRunReportsUnrecordedPost(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	h := newHarness(t, candidate("A", "31TCJ", 1, time.Hour))
	h.repo.appendErr = errors.New("database is locked")
	h.logs = &logs

	_, err := h.pipeline().Run(context.Background(), "run-1")
	if err == nil {
		t.Fatalf("expected error when the record cannot be stored")
	}
	if h.pubs[0].calls != 1 {
		t.Fatalf("a confirmed post must not be republished, got %d calls", h.pubs[0].calls)
	}

	out := logs.String()
	for _, want := range []string{"level=ERROR", "not recorded", "post_id=mastodon-1", "url=https://example/mastodon", "acquisition=A"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log is missing %q:\n%s", want, out)
		}
	}
}
