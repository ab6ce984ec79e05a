package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"S2CoastalBot/internal/domain"
)

const postedTable = "posted_acquisitions"

// ErrAlreadyRecorded is returned by Append when (acquisition, platform) exists.
var ErrAlreadyRecorded = domain.ErrAlreadyRecorded

var recordColumns = []string{
	"acquisition_id", "tile_id", "acquired_at", "platform",
	"post_id", "post_url", "run_id", "posted_at",
}

// recordStore holds the dialect independent queries shared by both backends.
type recordStore struct {
	db          *sql.DB
	builder     sq.StatementBuilderType
	encodeTime  func(time.Time) any
	isDuplicate func(error) bool
}

func (s *recordStore) postedIDs(ctx context.Context) (map[string]bool, error) {
	query, args, err := s.builder.Select("DISTINCT acquisition_id").From(postedTable).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posted: %w", err)
	}

	result := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan id: %w", err)
		}
		result[id] = true
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}

func (s *recordStore) append(ctx context.Context, rec domain.PostedRecord) error {
	if rec.AcquisitionID == "" || rec.Platform == "" {
		return fmt.Errorf("posted record needs an acquisition id and a platform")
	}
	if rec.PostedAt.IsZero() {
		rec.PostedAt = time.Now().UTC()
	}

	query, args, err := s.builder.Insert(postedTable).
		Columns(recordColumns...).
		Values(
			rec.AcquisitionID,
			rec.TileID,
			s.encodeTime(rec.AcquiredAt.UTC()),
			string(rec.Platform),
			rec.PostID,
			rec.PostURL,
			rec.RunID,
			s.encodeTime(rec.PostedAt.UTC()),
		).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if s.isDuplicate != nil && s.isDuplicate(err) {
			return fmt.Errorf("%s on %s: %w", rec.AcquisitionID, rec.Platform, ErrAlreadyRecorded)
		}
		return fmt.Errorf("insert posted: %w", err)
	}
	return nil
}

func (s *recordStore) list(ctx context.Context, limit int) ([]domain.PostedRecord, error) {
	builder := s.builder.Select(recordColumns...).
		From(postedTable).
		OrderBy("posted_at DESC", "acquisition_id ASC", "platform ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posted: %w", err)
	}
	defer rows.Close()

	var out []domain.PostedRecord
	for rows.Next() {
		var (
			rec                domain.PostedRecord
			platform           string
			acquired, postedAt scanTime
		)
		if err := rows.Scan(&rec.AcquisitionID, &rec.TileID, &acquired, &platform,
			&rec.PostID, &rec.PostURL, &rec.RunID, &postedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Platform = domain.Platform(platform)
		rec.AcquiredAt = time.Time(acquired)
		rec.PostedAt = time.Time(postedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func (s *recordStore) latest(ctx context.Context) (domain.PostedRecord, bool, error) {
	records, err := s.list(ctx, 1)
	if err != nil || len(records) == 0 {
		return domain.PostedRecord{}, false, err
	}
	return records[0], true, nil
}

// scanTime accepts native timestamps and the RFC 3339 text used by SQLite.
type scanTime time.Time

func (t *scanTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*t = scanTime(v.UTC())
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		*t = scanTime(time.Time{})
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	return nil
}

func (t *scanTime) parse(v string) error {
	parsed, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return fmt.Errorf("parse time %q: %w", v, err)
	}
	*t = scanTime(parsed.UTC())
	return nil
}
