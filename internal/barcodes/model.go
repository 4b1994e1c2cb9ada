package barcodes

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/argosnet/barcodescanner/internal/api"
)

const maxCodeLength = 190

var (
	// ErrInvalidCode indicates that a scanned payload is empty or exceeds storage bounds.
	ErrInvalidCode = errors.New("barcodes: invalid code")
	// ErrInvalidReference indicates that an order, stage or user id is not positive.
	ErrInvalidReference = errors.New("barcodes: invalid reference id")
)

// Code represents a validated scanned payload.
type Code string

// NewCode validates raw scanner input and returns a Code.
func NewCode(rawInput string) (Code, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCode)
	}
	if len(trimmed) > maxCodeLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCode, maxCodeLength)
	}
	return Code(trimmed), nil
}

// String returns the underlying scanned payload.
func (c Code) String() string {
	return string(c)
}

// Record is one locally stored scanned barcode with its sync status.
type Record struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Code       string    `gorm:"column:code;size:190;not null;index:idx_barcode_dedupe,priority:1"`
	OrderID    int64     `gorm:"column:order_id;not null;index:idx_barcode_dedupe,priority:2"`
	StageID    int64     `gorm:"column:stage;not null;index:idx_barcode_dedupe,priority:3"`
	UserID     int64     `gorm:"column:user_id;not null"`
	IsGood     bool      `gorm:"column:is_good;not null;default:false"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	IsSent     bool      `gorm:"column:is_sent;not null;default:false;index:idx_barcode_unsent"`
	ErrorCount int       `gorm:"column:error_count;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "barcode"
}

func (r Record) importRecord() api.ImportRecord {
	return api.ImportRecord{
		Code:      r.Code,
		CreatedAt: r.CreatedAt,
		UserID:    r.UserID,
		Order:     r.OrderID,
		Stage:     r.StageID,
		IsGood:    r.IsGood,
	}
}

// ScanRequest describes one scan event collected by the interactive surface.
type ScanRequest struct {
	Code      Code
	OrderID   int64
	StageID   int64
	UserID    int64
	IsGood    bool
	CreatedAt time.Time
}

// Validate checks the reference ids the scan points at.
func (s ScanRequest) Validate() error {
	if s.Code == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCode)
	}
	if s.OrderID <= 0 {
		return fmt.Errorf("%w: order %d", ErrInvalidReference, s.OrderID)
	}
	if s.StageID <= 0 {
		return fmt.Errorf("%w: stage %d", ErrInvalidReference, s.StageID)
	}
	if s.UserID <= 0 {
		return fmt.Errorf("%w: user %d", ErrInvalidReference, s.UserID)
	}
	return nil
}
