package barcodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("barcodes: database handle is required")

// Store owns the barcode table. Every mutating operation runs inside its own
// scoped transaction; errors roll back and propagate to the caller.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a Store over an opened database handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Store{db: db}, nil
}

// ListFilter narrows List results. Nil pointer fields are ignored.
type ListFilter struct {
	OrderID *int64
	IsSent  *bool
	OrderBy string
	Limit   int
	Offset  int
}

// RecordUpdate is a typed partial update of a record's sync status.
type RecordUpdate struct {
	IsSent     *bool
	ErrorCount *int
}

func (u RecordUpdate) changes() map[string]any {
	changes := map[string]any{}
	if u.IsSent != nil {
		changes["is_sent"] = *u.IsSent
	}
	if u.ErrorCount != nil {
		changes["error_count"] = *u.ErrorCount
	}
	return changes
}

// Insert stores a new record and returns its id.
func (s *Store) Insert(ctx context.Context, record *Record) (int64, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(record).Error
	})
	if err != nil {
		return 0, fmt.Errorf("barcodes: insert: %w", err)
	}
	return record.ID, nil
}

// Exists reports whether a record with the same (code, order, stage) triple is
// already stored, sent or unsent.
func (s *Store) Exists(ctx context.Context, code string, orderID, stageID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Record{}).
		Where(map[string]any{"code": code, "order_id": orderID, "stage": stageID}).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("barcodes: exists: %w", err)
	}
	return count > 0, nil
}

// Update applies a partial update to the record with the given id. It returns
// false without error when no such record exists.
func (s *Store) Update(ctx context.Context, id int64, update RecordUpdate) (bool, error) {
	changes := update.changes()
	if len(changes) == 0 {
		return false, nil
	}

	var found bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Record{}).Where("id = ?", id).Updates(changes)
		if result.Error != nil {
			return result.Error
		}
		found = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("barcodes: update: %w", err)
	}
	return found, nil
}

// MarkSent flips is_sent to true and resets the error counter.
func (s *Store) MarkSent(ctx context.Context, id int64) (bool, error) {
	sent := true
	zero := 0
	return s.Update(ctx, id, RecordUpdate{IsSent: &sent, ErrorCount: &zero})
}

// BumpErrorCount increments the error counter by one.
func (s *Store) BumpErrorCount(ctx context.Context, id int64) (bool, error) {
	var found bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Record{}).
			Where("id = ?", id).
			UpdateColumn("error_count", gorm.Expr("error_count + 1"))
		if result.Error != nil {
			return result.Error
		}
		found = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("barcodes: bump error count: %w", err)
	}
	return found, nil
}

// GetByID returns the record with the given id, or nil when absent.
func (s *Store) GetByID(ctx context.Context, id int64) (*Record, error) {
	var record Record
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("barcodes: get: %w", err)
	}
	return &record, nil
}

// List returns records matching the filter.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	query := s.db.WithContext(ctx).Model(&Record{})
	if filter.OrderID != nil {
		query = query.Where("order_id = ?", *filter.OrderID)
	}
	if filter.IsSent != nil {
		query = query.Where("is_sent = ?", *filter.IsSent)
	}
	if filter.OrderBy != "" {
		column := filter.OrderBy
		desc := strings.HasPrefix(column, "-")
		if desc {
			column = column[1:]
		}
		query = query.Order(clause.OrderByColumn{
			Column: clause.Column{Name: column},
			Desc:   desc,
		})
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var records []Record
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("barcodes: list: %w", err)
	}
	return records, nil
}

// Unsynced returns all records with is_sent=false, in no particular order.
func (s *Store) Unsynced(ctx context.Context) ([]Record, error) {
	var records []Record
	err := s.db.WithContext(ctx).
		Where("is_sent = ?", false).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("barcodes: unsynced: %w", err)
	}
	return records, nil
}

// Delete removes the record with the given id, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	var found bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).Delete(&Record{})
		if result.Error != nil {
			return result.Error
		}
		found = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("barcodes: delete: %w", err)
	}
	return found, nil
}

// DeleteSent removes every record with is_sent=true and returns the count removed.
func (s *Store) DeleteSent(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("is_sent = ?", true).Delete(&Record{})
		if result.Error != nil {
			return result.Error
		}
		count = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("barcodes: delete sent: %w", err)
	}
	return count, nil
}
