package retry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var fast = Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), fast, nil, "flaky", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), fast, nil, "broken", func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentStatus(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), fast, nil, "bad request", func(context.Context) error {
		calls++
		return &StatusError{Code: http.StatusBadRequest, Status: "400 Bad Request"}
	})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadRequest {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestDoStopsOnPermanentWrapper(t *testing.T) {
	t.Parallel()

	calls := 0
	cause := errors.New("decode")
	err := Do(context.Background(), fast, nil, "decode", func(context.Context) error {
		calls++
		return Permanent(cause)
	})
	if !errors.Is(err, cause) || calls != 1 {
		t.Fatalf("expected single permanent failure, got %v after %d calls", err, calls)
	}
}

func TestDoHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 10, InitialInterval: time.Millisecond}, nil, "cancelled", func(context.Context) error {
		calls++
		cancel()
		return errors.New("timeout")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected a single call after cancellation, got %d", calls)
	}
}

func TestCheckResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(" maintenance \n"))
	}))
	defer server.Close()

	resp, err := http.Get(server.URL + "/ok")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if err := CheckResponse(resp); err != nil {
		t.Fatalf("expected nil for 200, got %v", err)
	}

	resp, err = http.Get(server.URL + "/down")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	err = CheckResponse(resp)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if !statusErr.Temporary() || statusErr.Body != "maintenance" {
		t.Fatalf("unexpected status error: %+v", statusErr)
	}
}
