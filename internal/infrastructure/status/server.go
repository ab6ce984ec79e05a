// Package status exposes the bot's liveness over HTTP: the latest posted
// record and whether the bot has gone quiet for too long.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"S2CoastalBot/internal/domain"
)

// LatestReader is the slice of the posted repository the server needs.
type LatestReader interface {
	Latest(ctx context.Context) (domain.PostedRecord, bool, error)
}

// Report is the /status response body.
type Report struct {
	Healthy       bool       `json:"healthy"`
	Reason        string     `json:"reason,omitempty"`
	AcquisitionID string     `json:"acquisition_id,omitempty"`
	TileID        string     `json:"tile_id,omitempty"`
	Platform      string     `json:"platform,omitempty"`
	PostURL       string     `json:"post_url,omitempty"`
	RunID         string     `json:"run_id,omitempty"`
	PostedAt      *time.Time `json:"posted_at,omitempty"`
	Age           string     `json:"age,omitempty"`
}

// Server serves /healthz and /status.
type Server struct {
	store      LatestReader
	staleAfter time.Duration
	clock      func() time.Time
	logger     *slog.Logger
	router     *chi.Mux
}

// NewServer builds the router. A zero staleAfter disables the staleness check.
func NewServer(store LatestReader, staleAfter time.Duration, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{store: store, staleAfter: staleAfter, clock: time.Now, logger: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	s.router = r
	return s
}

// WithClock overrides the time source.
func (s *Server) WithClock(clock func() time.Time) *Server {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// ServeHTTP lets the server be mounted or tested directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe blocks until ctx ends or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, code := s.report(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.logger.Warn("write status response", "error", err)
	}
}

func (s *Server) report(ctx context.Context) (Report, int) {
	record, ok, err := s.store.Latest(ctx)
	if err != nil {
		s.logger.Error("read latest record", "error", err)
		return Report{Reason: "store unavailable"}, http.StatusServiceUnavailable
	}
	if !ok {
		return Report{Reason: "nothing posted yet"}, http.StatusServiceUnavailable
	}

	postedAt := record.PostedAt.UTC()
	age := s.clock().Sub(postedAt)
	report := Report{
		Healthy:       true,
		AcquisitionID: record.AcquisitionID,
		TileID:        record.TileID,
		Platform:      string(record.Platform),
		PostURL:       record.PostURL,
		RunID:         record.RunID,
		PostedAt:      &postedAt,
		Age:           age.Truncate(time.Second).String(),
	}

	if s.staleAfter > 0 && age > s.staleAfter {
		report.Healthy = false
		report.Reason = "last post is older than " + s.staleAfter.String()
		return report, http.StatusServiceUnavailable
	}
	return report, http.StatusOK
}
