// Package runlog reads the bot's own logfmt output back and summarises the
// outcome of each run.
package runlog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-logfmt/logfmt"
	"github.com/nxadm/tail"
)

// Entry is one decoded log line.
type Entry struct {
	Time    time.Time
	Level   string
	Message string
	RunID   string
	PID     string
}

// Run is the summary of every line sharing a run_id.
type Run struct {
	RunID    string
	PID      string
	Started  time.Time
	Finished time.Time
	Level    string
	Message  string
	Lines    int
}

// Summary accumulates entries into runs, in order of first appearance.
type Summary struct {
	order []string
	runs  map[string]*Run
}

// NewSummary returns an empty accumulator.
func NewSummary() *Summary {
	return &Summary{runs: make(map[string]*Run)}
}

// Add folds e into its run. Lines without run_id are ignored.
func (s *Summary) Add(e Entry) {
	if e.RunID == "" {
		return
	}
	run, ok := s.runs[e.RunID]
	if !ok {
		run = &Run{RunID: e.RunID, PID: e.PID, Started: e.Time}
		s.runs[e.RunID] = run
		s.order = append(s.order, e.RunID)
	}
	run.Lines++
	run.Finished = e.Time
	run.Level = e.Level
	run.Message = e.Message
}

// Runs returns the accumulated summaries.
func (s *Summary) Runs() []Run {
	out := make([]Run, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.runs[id])
	}
	return out
}

// ParseLine decodes a single logfmt line; ok is false for blank or foreign lines.
func ParseLine(line []byte) (Entry, bool) {
	dec := logfmt.NewDecoder(bytes.NewReader(line))
	if !dec.ScanRecord() {
		return Entry{}, false
	}
	entry := decodeRecord(dec)
	if dec.Err() != nil || (entry.Message == "" && entry.Level == "") {
		return Entry{}, false
	}
	return entry, true
}

// Summarize decodes a whole logfmt stream.
func Summarize(r io.Reader) ([]Run, error) {
	summary := NewSummary()
	dec := logfmt.NewDecoder(r)
	for dec.ScanRecord() {
		summary.Add(decodeRecord(dec))
	}
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("decode log: %w", err)
	}
	return summary.Runs(), nil
}

// ReadFile summarises the log file at path.
func ReadFile(ctx context.Context, path string) ([]Run, error) {
	t, err := tail.TailFile(path, tail.Config{MustExist: true, Logger: tail.DiscardingLogger})
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	defer t.Cleanup()

	summary := NewSummary()
	for {
		select {
		case <-ctx.Done():
			_ = t.Stop()
			return nil, ctx.Err()
		case line, ok := <-t.Lines:
			if !ok {
				return summary.Runs(), nil
			}
			if line.Err != nil {
				continue
			}
			if entry, ok := ParseLine([]byte(line.Text)); ok {
				summary.Add(entry)
			}
		}
	}
}

// FollowOptions tune Follow.
type FollowOptions struct {
	// FromStart replays the existing content before waiting for new lines.
	FromStart bool
	// Poll uses stat polling instead of filesystem notifications.
	Poll bool
}

// Follow streams entries appended to path until ctx ends. The file is
// reopened when it is rotated.
func Follow(ctx context.Context, path string, opts FollowOptions, fn func(Entry)) error {
	cfg := tail.Config{
		Follow: true,
		ReOpen: true,
		Poll:   opts.Poll,
		Logger: tail.DiscardingLogger,
	}
	if !opts.FromStart {
		cfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}

	t, err := tail.TailFile(path, cfg)
	if err != nil {
		return fmt.Errorf("follow log %s: %w", path, err)
	}
	defer t.Cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = t.Stop()
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				continue
			}
			if entry, ok := ParseLine([]byte(line.Text)); ok {
				fn(entry)
			}
		}
	}
}

func decodeRecord(dec *logfmt.Decoder) Entry {
	var e Entry
	for dec.ScanKeyval() {
		value := string(dec.Value())
		switch string(dec.Key()) {
		case "time":
			if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
				e.Time = ts
			}
		case "level":
			e.Level = value
		case "msg":
			e.Message = value
		case "run_id":
			e.RunID = value
		case "pid":
			e.PID = value
		}
	}
	return e
}
