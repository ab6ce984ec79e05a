package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"S2CoastalBot/internal/domain"
	"S2CoastalBot/internal/runlog"
	"S2CoastalBot/internal/usecase"
)

func TestReportRunExitCodes(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	failure := errors.New("catalog: 503")

	cases := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "posted", err: nil},
		{name: "nothing to post", err: usecase.ErrNothingToPost},
		{name: "lock held", err: fmt.Errorf("%w: busy", usecase.ErrLockHeld)},
		{name: "failure", err: failure, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := reportRun(logger, usecase.RunResult{RunID: "r"}, tc.err)
			if (err != nil) != tc.wantErr {
				t.Fatalf("reportRun(%v) = %v", tc.err, err)
			}
		})
	}
}

func TestPrintRuns(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	runs := []runlog.Run{{
		RunID:   "aaa",
		PID:     "10",
		Started: time.Date(2024, 8, 30, 12, 0, 0, 0, time.UTC),
		Level:   "ERROR",
		Message: "run failed",
	}}
	if err := printRuns(&buf, runs); err != nil {
		t.Fatalf("printRuns: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"STARTED", "2024-08-30T12:00:00Z", "aaa", "ERROR", "run failed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q is missing %q", out, want)
		}
	}
}

func TestPrintRecords(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	records := []domain.PostedRecord{{
		AcquisitionID: "S2B_MSIL1C_20240827T234739_N0511_R030_T57MWM_20240828T002315",
		TileID:        "57MWM",
		Platform:      domain.PlatformMastodon,
		PostURL:       "https://mastodon.example/@bot/1",
		PostedAt:      time.Date(2024, 8, 28, 12, 0, 0, 0, time.UTC),
	}}
	if err := printRecords(&buf, records); err != nil {
		t.Fatalf("printRecords: %v", err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 2 {
		t.Fatalf("expected header and one row, got %d lines", lines)
	}
}

func TestPostedImportHelpExplainsRerun(t *testing.T) {
	t.Parallel()

	for _, want := range []string{"malformed row", "run the import again", "skipped"} {
		if !strings.Contains(postedImportCmd.Long, want) {
			t.Fatalf("posted import help %q is missing %q", postedImportCmd.Long, want)
		}
	}
}
