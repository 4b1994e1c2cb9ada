package barcodes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/argosnet/barcodescanner/internal/api"
)

var (
	errMissingStore  = errors.New("store is required")
	errMissingRemote = errors.New("remote client is required")
	// ErrSyncInProgress is returned when a reconciliation pass is already running.
	ErrSyncInProgress = errors.New("barcodes: sync already in progress")
	// ErrRecordNotFound is returned by SendOne for an unknown record id.
	ErrRecordNotFound = errors.New("barcodes: record not found")

	noOpLogger = zap.NewNop()
)

// ServiceError carries a dotted operation code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "barcodes.service.new"
	opSaveAndSend = "barcodes.save_and_send"
	opSyncAll     = "barcodes.sync_all"
	opSyncBulk    = "barcodes.sync_bulk"
	opSendOne     = "barcodes.send_one"
	opExport      = "barcodes.export"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// RemoteSender is the slice of the API client the sync engine needs.
type RemoteSender interface {
	CreateBarcode(ctx context.Context, record api.ImportRecord) api.Outcome
	SendBarcodes(ctx context.Context, records []api.ImportRecord) api.Outcome
}

// ServiceConfig describes the dependencies of the sync engine.
type ServiceConfig struct {
	Store  *Store
	Remote RemoteSender
	Logger *zap.Logger
	Clock  func() time.Time

	// MaxAttempts bounds retries per record; 0 keeps records eligible forever.
	MaxAttempts int
	// Workers sizes the delivery pool for SyncAll. Defaults to 1, which keeps
	// the sequential per-record behavior.
	Workers int
}

// Service reconciles the local store against the remote system of record.
type Service struct {
	store       *Store
	remote      RemoteSender
	logger      *zap.Logger
	clock       func() time.Time
	maxAttempts int
	workers     int

	syncing atomic.Bool

	schedMu sync.Mutex
	sched   *cron.Cron
}

// NewService constructs the sync engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Remote == nil {
		return nil, newServiceError(opServiceNew, "missing_remote", errMissingRemote)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	return &Service{
		store:       cfg.Store,
		remote:      cfg.Remote,
		logger:      logger,
		clock:       clock,
		maxAttempts: cfg.MaxAttempts,
		workers:     workers,
	}, nil
}

// Save outcome reasons.
const (
	ReasonDuplicate  = "duplicate"
	ReasonSendFailed = "send_failed"
)

// SaveResult reports the outcome of SaveAndSend. RecordID is set whenever the
// record was stored, regardless of the send result.
type SaveResult struct {
	Success  bool
	Reason   string
	RecordID int64
}

// SaveAndSend rejects duplicates of the (code, order, stage) triple without a
// network round-trip, otherwise persists the scan and attempts immediate
// delivery. A failed inline attempt leaves the record unsent with
// error_count=0; only the dedicated sync paths increment the counter.
func (s *Service) SaveAndSend(ctx context.Context, scan ScanRequest) (SaveResult, error) {
	if err := scan.Validate(); err != nil {
		return SaveResult{}, newServiceError(opSaveAndSend, "invalid_scan", err)
	}

	duplicate, err := s.store.Exists(ctx, scan.Code.String(), scan.OrderID, scan.StageID)
	if err != nil {
		s.logError(opSaveAndSend, "exists_failed", err, zap.String("code", scan.Code.String()))
		return SaveResult{}, newServiceError(opSaveAndSend, "exists_failed", err)
	}
	if duplicate {
		return SaveResult{Success: false, Reason: ReasonDuplicate}, nil
	}

	createdAt := scan.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock()
	}
	record := Record{
		Code:      scan.Code.String(),
		OrderID:   scan.OrderID,
		StageID:   scan.StageID,
		UserID:    scan.UserID,
		IsGood:    scan.IsGood,
		CreatedAt: createdAt,
	}

	recordID, err := s.store.Insert(ctx, &record)
	if err != nil {
		s.logError(opSaveAndSend, "insert_failed", err, zap.String("code", scan.Code.String()))
		return SaveResult{}, newServiceError(opSaveAndSend, "insert_failed", err)
	}

	outcome := s.remote.CreateBarcode(ctx, record.importRecord())
	if outcome.Success {
		if _, err := s.store.MarkSent(ctx, recordID); err != nil {
			s.logError(opSaveAndSend, "mark_sent_failed", err, zap.Int64("record_id", recordID))
			return SaveResult{}, newServiceError(opSaveAndSend, "mark_sent_failed", err)
		}
		return SaveResult{Success: true, RecordID: recordID}, nil
	}

	s.logger.Warn("inline send failed, record kept for retry",
		zap.Int64("record_id", recordID),
		zap.String("error", outcome.Error))
	return SaveResult{Success: false, Reason: ReasonSendFailed, RecordID: recordID}, nil
}

// Progress reports one delivery attempt during a reconciliation pass.
type Progress struct {
	Done     int
	Total    int
	RecordID int64
	Sent     bool
	Message  string
}

// Summary tallies a reconciliation pass.
type Summary struct {
	Attempted int
	Synced    int
	Failed    int
}

// SyncAll delivers every eligible unsent record, one request per record,
// through a bounded worker pool. Each success flips is_sent and resets the
// error counter; each failure increments it. A failing record never aborts the
// pass. Only one pass runs at a time.
func (s *Service) SyncAll(ctx context.Context, progress func(Progress)) (Summary, error) {
	if !s.syncing.CompareAndSwap(false, true) {
		return Summary{}, ErrSyncInProgress
	}
	defer s.syncing.Store(false)

	unsynced, err := s.store.Unsynced(ctx)
	if err != nil {
		s.logError(opSyncAll, "query_failed", err)
		return Summary{}, newServiceError(opSyncAll, "query_failed", err)
	}

	eligible := unsynced[:0:0]
	for _, record := range unsynced {
		if s.maxAttempts > 0 && record.ErrorCount >= s.maxAttempts {
			continue
		}
		eligible = append(eligible, record)
	}

	total := len(eligible)
	if total == 0 {
		return Summary{}, nil
	}

	jobs := make(chan Record)
	results := make(chan Progress)

	var workerGroup sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		workerGroup.Add(1)
		go func() {
			defer workerGroup.Done()
			for record := range jobs {
				results <- s.deliver(ctx, record)
			}
		}()
	}

	go func() {
		for _, record := range eligible {
			jobs <- record
		}
		close(jobs)
		workerGroup.Wait()
		close(results)
	}()

	summary := Summary{Attempted: total}
	done := 0
	for item := range results {
		done++
		item.Done = done
		item.Total = total
		if item.Sent {
			summary.Synced++
		} else {
			summary.Failed++
		}
		if progress != nil {
			progress(item)
		}
	}

	s.logger.Info("sync pass finished",
		zap.Int("attempted", summary.Attempted),
		zap.Int("synced", summary.Synced),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

func (s *Service) deliver(ctx context.Context, record Record) Progress {
	outcome := s.remote.CreateBarcode(ctx, record.importRecord())
	if outcome.Success {
		if _, err := s.store.MarkSent(ctx, record.ID); err != nil {
			s.logError(opSyncAll, "mark_sent_failed", err, zap.Int64("record_id", record.ID))
			return Progress{RecordID: record.ID, Sent: false, Message: err.Error()}
		}
		return Progress{RecordID: record.ID, Sent: true}
	}

	if _, err := s.store.BumpErrorCount(ctx, record.ID); err != nil {
		s.logError(opSyncAll, "bump_error_failed", err, zap.Int64("record_id", record.ID))
	}
	return Progress{RecordID: record.ID, Sent: false, Message: outcome.Error}
}

// SyncDone terminates the channel pair returned by SyncAllAsync.
type SyncDone struct {
	Summary Summary
	Err     error
}

// SyncAllAsync runs SyncAll off the calling goroutine, delivering per-record
// progress and the terminal outcome through channels drained by a single
// consumer.
func (s *Service) SyncAllAsync(ctx context.Context) (<-chan Progress, <-chan SyncDone) {
	progressCh := make(chan Progress)
	doneCh := make(chan SyncDone, 1)

	go func() {
		defer close(progressCh)
		defer close(doneCh)
		summary, err := s.SyncAll(ctx, func(p Progress) {
			progressCh <- p
		})
		doneCh <- SyncDone{Summary: summary, Err: err}
	}()

	return progressCh, doneCh
}

// SendOne re-attempts delivery of a single stored record, applying the same
// flag and counter rules as SyncAll.
func (s *Service) SendOne(ctx context.Context, id int64) (bool, error) {
	record, err := s.store.GetByID(ctx, id)
	if err != nil {
		return false, newServiceError(opSendOne, "query_failed", err)
	}
	if record == nil {
		return false, ErrRecordNotFound
	}

	outcome := s.remote.CreateBarcode(ctx, record.importRecord())
	if outcome.Success {
		if _, err := s.store.MarkSent(ctx, record.ID); err != nil {
			return false, newServiceError(opSendOne, "mark_sent_failed", err)
		}
		return true, nil
	}

	if _, err := s.store.BumpErrorCount(ctx, record.ID); err != nil {
		return false, newServiceError(opSendOne, "bump_error_failed", err)
	}
	return false, nil
}

// SyncAllBulk delivers every eligible unsent record in one bulk request. On a
// failed bulk request every record in the batch gets its error counter bumped.
func (s *Service) SyncAllBulk(ctx context.Context) (Summary, error) {
	if !s.syncing.CompareAndSwap(false, true) {
		return Summary{}, ErrSyncInProgress
	}
	defer s.syncing.Store(false)

	unsynced, err := s.store.Unsynced(ctx)
	if err != nil {
		return Summary{}, newServiceError(opSyncBulk, "query_failed", err)
	}

	batch := unsynced[:0:0]
	for _, record := range unsynced {
		if s.maxAttempts > 0 && record.ErrorCount >= s.maxAttempts {
			continue
		}
		batch = append(batch, record)
	}
	if len(batch) == 0 {
		return Summary{}, nil
	}

	payload := make([]api.ImportRecord, 0, len(batch))
	for _, record := range batch {
		payload = append(payload, record.importRecord())
	}

	summary := Summary{Attempted: len(batch)}
	outcome := s.remote.SendBarcodes(ctx, payload)
	for _, record := range batch {
		if outcome.Success {
			if _, err := s.store.MarkSent(ctx, record.ID); err != nil {
				return summary, newServiceError(opSyncBulk, "mark_sent_failed", err)
			}
			summary.Synced++
		} else {
			if _, err := s.store.BumpErrorCount(ctx, record.ID); err != nil {
				return summary, newServiceError(opSyncBulk, "bump_error_failed", err)
			}
			summary.Failed++
		}
	}

	if !outcome.Success {
		s.logger.Warn("bulk sync failed", zap.Int("records", len(batch)), zap.String("error", outcome.Error))
	}
	return summary, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("barcode sync error", attrs...)
}
