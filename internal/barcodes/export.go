package barcodes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const exportTimestampLayout = "2006-01-02_15-04-05"

// ExportResult reports where an export landed and how many records it holds.
type ExportResult struct {
	Path  string
	Count int
}

type exportRow struct {
	ID         int64   `json:"Id"`
	Code       string  `json:"Code"`
	CreatedAt  *string `json:"CreatedAt"`
	User       int64   `json:"User"`
	Order      int64   `json:"Order"`
	Stage      int64   `json:"Stage"`
	IsGood     bool    `json:"IsGood"`
	IsSent     bool    `json:"IsSent"`
	ErrorCount int     `json:"ErrorCount"`
}

// ExportUnsynced dumps all unsent records to a timestamped JSON file under dir,
// appending a numeric suffix on name collision. Export is recovery, not
// synchronization: records stay unsent. When nothing is unsent, no file is
// written and the result carries an empty path.
func (s *Service) ExportUnsynced(ctx context.Context, dir string) (ExportResult, error) {
	records, err := s.store.Unsynced(ctx)
	if err != nil {
		return ExportResult{}, newServiceError(opExport, "query_failed", err)
	}
	if len(records) == 0 {
		return ExportResult{}, nil
	}

	rows := make([]exportRow, 0, len(records))
	for _, record := range records {
		var createdAt *string
		if !record.CreatedAt.IsZero() {
			formatted := record.CreatedAt.Format(time.RFC3339)
			createdAt = &formatted
		}
		rows = append(rows, exportRow{
			ID:         record.ID,
			Code:       record.Code,
			CreatedAt:  createdAt,
			User:       record.UserID,
			Order:      record.OrderID,
			Stage:      record.StageID,
			IsGood:     record.IsGood,
			IsSent:     record.IsSent,
			ErrorCount: record.ErrorCount,
		})
	}

	payload, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return ExportResult{}, newServiceError(opExport, "encode_failed", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ExportResult{}, newServiceError(opExport, "mkdir_failed", err)
	}

	base := fmt.Sprintf("barcodes_export_%s", s.clock().Format(exportTimestampLayout))
	path := filepath.Join(dir, base+".json")
	for counter := 1; fileExists(path); counter++ {
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.json", base, counter))
	}

	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return ExportResult{}, newServiceError(opExport, "write_failed", err)
	}
	return ExportResult{Path: path, Count: len(rows)}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
