package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"S2CoastalBot/internal/domain"
	"S2CoastalBot/internal/ports"
)

const legacyDateLayout = "2006-01-02T15:04:05"

// ImportLegacyCSV loads a "date,product" posted_images.csv into repo under
// platform. Rows already present are skipped, so a file can be imported
// again after a failed run. A malformed row stops the import; rows before it
// stay stored. It returns the number of rows inserted.
func ImportLegacyCSV(ctx context.Context, repo ports.PostedRepository, r io.Reader, platform domain.Platform, runID string) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}

	dateCol, productCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "date":
			dateCol = i
		case "product":
			productCol = i
		}
	}
	if dateCol < 0 || productCol < 0 {
		return 0, fmt.Errorf("legacy csv needs date and product columns, got %v", header)
	}

	inserted := 0
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return inserted, fmt.Errorf("line %d: %w", line, err)
		}
		if len(row) <= dateCol || len(row) <= productCol {
			return inserted, fmt.Errorf("line %d: short row", line)
		}

		id := domain.ProductID(row[productCol])
		tile, acquired, err := domain.ParseProductName(id)
		if err != nil {
			return inserted, fmt.Errorf("line %d: %w", line, err)
		}
		postedAt, err := time.Parse(legacyDateLayout, strings.TrimSpace(row[dateCol]))
		if err != nil {
			return inserted, fmt.Errorf("line %d: posted date: %w", line, err)
		}

		err = repo.Append(ctx, domain.PostedRecord{
			AcquisitionID: id,
			TileID:        tile,
			AcquiredAt:    acquired,
			Platform:      platform,
			RunID:         runID,
			PostedAt:      postedAt.UTC(),
		})
		if errors.Is(err, ErrAlreadyRecorded) {
			continue
		}
		if err != nil {
			return inserted, fmt.Errorf("line %d: %w", line, err)
		}
		inserted++
	}
	return inserted, nil
}
