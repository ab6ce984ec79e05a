package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"S2CoastalBot/internal/config"
	"S2CoastalBot/internal/domain"
	"S2CoastalBot/internal/infrastructure/lock"
	"S2CoastalBot/internal/ports"
	"S2CoastalBot/internal/usecase"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()

	dir := t.TempDir()
	dataset := filepath.Join(dir, "coastal.geojson")
	const tiles = `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"name":"30TXR"},"geometry":{"type":"Point","coordinates":[-1.2,45.6]}}]}`
	if err := os.WriteFile(dataset, []byte(tiles), 0o600); err != nil {
		t.Fatalf("write dataset: %v", err)
	}

	raw := []byte(`
coastal_dataset: ` + dataset + `
storage: {driver: sqlite, dsn: ` + filepath.Join(dir, "posted.db") + `}
lock: {path: ` + filepath.Join(dir, "bot.lock") + `}
publishers: [mastodon]
mastodon:
  server: https://mastodon.example
  secret_uri: "constant://?val=token-123&decoder=string"
postprocessing: {work_dir: ` + filepath.Join(dir, "work") + `}
`)
	cfg, err := config.Parse(raw)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

func TestNewWiresSQLiteStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	application, err := New(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer application.Close()

	ids, err := application.Repository().PostedIDs(context.Background())
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected empty store, got %v %v", ids, err)
	}
}

func TestNewFailsOnMissingDataset(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.CoastalDataset = filepath.Join(t.TempDir(), "absent.geojson")
	if _, err := New(context.Background(), cfg, quietLogger()); err == nil {
		t.Fatalf("expected error for missing dataset")
	}
}

func TestOpenStoreSharesLockWithConcurrentRuns(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	repo, locker, err := OpenStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer repo.Close()

	unlock, err := locker.Lock(context.Background())
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	defer func() { _ = unlock() }()

	otherRepo, other, err := OpenStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("second OpenStore: %v", err)
	}
	defer otherRepo.Close()
	if _, err := other.Lock(context.Background()); !errors.Is(err, lock.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Driver = "mysql"
	if _, _, err := OpenStore(context.Background(), cfg); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestBuildPublishers(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Publishers = []string{"mastodon", "twitter"}
	cfg.Twitter = config.TwitterConfig{ConsumerKey: "k", ConsumerSecret: "s", AccessToken: "t", AccessTokenSecret: "ts"}

	publishers, err := buildPublishers(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("buildPublishers: %v", err)
	}
	if len(publishers) != 2 {
		t.Fatalf("expected 2 publishers, got %d", len(publishers))
	}
	if publishers[0].Platform() != domain.PlatformMastodon || publishers[1].Platform() != domain.PlatformTwitter {
		t.Fatalf("unexpected order: %s, %s", publishers[0].Platform(), publishers[1].Platform())
	}
}

func TestBuildPublishersMissingSecret(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Mastodon.SecretURI = ""
	cfg.Mastodon.SecretFile = filepath.Join(t.TempDir(), "absent.secret")
	if _, err := buildPublishers(context.Background(), cfg, quietLogger()); err == nil {
		t.Fatalf("expected error for missing secret")
	}
}

type lockedOut struct{}

func (lockedOut) Lock(context.Context) (func() error, error) {
	return nil, lock.ErrLocked
}

type emptyRepo struct{ ports.PostedRepository }

type emptyPublisher struct{}

func (emptyPublisher) Platform() domain.Platform { return domain.PlatformMastodon }

func (emptyPublisher) Publish(context.Context, domain.Post) (domain.PostResult, error) {
	return domain.PostResult{}, errors.New("unexpected publish")
}

type noSource struct{}

func (noSource) FetchCandidates(context.Context, time.Time) ([]domain.Candidate, error) {
	return nil, nil
}

type noProcessor struct{}

func (noProcessor) Process(context.Context, domain.Candidate, orb.Point) (domain.ProcessedImage, error) {
	return domain.ProcessedImage{}, errors.New("unexpected process")
}

func TestHandleInvocationLockHeldIsNotAFailure(t *testing.T) {
	t.Parallel()

	application := &Application{
		logger: quietLogger(),
		pipeline: usecase.NewPipeline(usecase.PipelineDeps{
			Source:     noSource{},
			Repository: emptyRepo{},
			Processor:  noProcessor{},
			Publishers: []ports.Publisher{emptyPublisher{}},
			Locker:     lockedOut{},
			Logger:     quietLogger(),
			IsLocked:   func(err error) bool { return errors.Is(err, lock.ErrLocked) },
		}),
	}

	out, err := application.HandleInvocation(context.Background())
	if err != nil {
		t.Fatalf("HandleInvocation: %v", err)
	}
	if out.Outcome != "lock_held" {
		t.Fatalf("unexpected outcome %+v", out)
	}
}
