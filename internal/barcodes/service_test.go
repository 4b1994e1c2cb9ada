package barcodes

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/argosnet/barcodescanner/internal/api"
)

type fakeRemote struct {
	mu      sync.Mutex
	outcome api.Outcome
	created []api.ImportRecord
	batches [][]api.ImportRecord

	// When set, CreateBarcode signals started once and then waits on gate.
	started chan struct{}
	gate    chan struct{}
}

func (f *fakeRemote) CreateBarcode(ctx context.Context, record api.ImportRecord) api.Outcome {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, record)
	return f.outcome
}

func (f *fakeRemote) SendBarcodes(ctx context.Context, records []api.ImportRecord) api.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, records)
	return f.outcome
}

func (f *fakeRemote) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func newTestService(t *testing.T, remote RemoteSender, opts ServiceConfig) (*Service, *Store) {
	t.Helper()
	store := newTestStore(t)
	opts.Store = store
	opts.Remote = remote
	service, err := NewService(opts)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, store
}

func TestSaveAndSendDeliversAndMarksSent(t *testing.T) {
	remote := &fakeRemote{outcome: api.Outcome{Success: true}}
	service, store := newTestService(t, remote, ServiceConfig{})
	ctx := context.Background()

	code, err := NewCode("ABC-001")
	if err != nil {
		t.Fatalf("failed to build code: %v", err)
	}
	result, err := service.SaveAndSend(ctx, ScanRequest{Code: code, OrderID: 7, StageID: 101, UserID: 1})
	if err != nil {
		t.Fatalf("save and send failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected successful delivery, got reason %q", result.Reason)
	}

	record := mustGet(t, store, result.RecordID)
	if !record.IsSent {
		t.Fatalf("expected record to be flagged sent")
	}
	if remote.createdCount() != 1 {
		t.Fatalf("expected one remote call, got %d", remote.createdCount())
	}
	if remote.created[0].Code != "ABC-001" || remote.created[0].Order != 7 || remote.created[0].Stage != 101 {
		t.Fatalf("unexpected wire payload: %+v", remote.created[0])
	}
}

func TestSaveAndSendRejectsDuplicateWithoutNetworkCall(t *testing.T) {
	remote := &fakeRemote{outcome: api.Outcome{Success: true}}
	service, store := newTestService(t, remote, ServiceConfig{})
	ctx := context.Background()

	mustInsert(t, store, Record{Code: "DUP-1", OrderID: 7, StageID: 101, UserID: 1, CreatedAt: time.Now()})

	code, _ := NewCode("DUP-1")
	result, err := service.SaveAndSend(ctx, ScanRequest{Code: code, OrderID: 7, StageID: 101, UserID: 1})
	if err != nil {
		t.Fatalf("save and send failed: %v", err)
	}
	if result.Success || result.Reason != ReasonDuplicate {
		t.Fatalf("expected duplicate rejection, got %+v", result)
	}
	if remote.createdCount() != 0 {
		t.Fatalf("expected no remote call for a duplicate, got %d", remote.createdCount())
	}
}

func TestSaveAndSendKeepsFailedRecordWithZeroErrorCount(t *testing.T) {
	remote := &fakeRemote{outcome: api.Outcome{Success: false, Error: "server unavailable"}}
	service, store := newTestService(t, remote, ServiceConfig{})

	code, _ := NewCode("KEEP-1")
	result, err := service.SaveAndSend(context.Background(), ScanRequest{Code: code, OrderID: 7, StageID: 101, UserID: 1})
	if err != nil {
		t.Fatalf("save and send failed: %v", err)
	}
	if result.Success || result.Reason != ReasonSendFailed {
		t.Fatalf("expected send_failed result, got %+v", result)
	}

	record := mustGet(t, store, result.RecordID)
	if record.IsSent {
		t.Fatalf("expected record to stay unsent")
	}
	if record.ErrorCount != 0 {
		t.Fatalf("inline failures must not bump the counter, got %d", record.ErrorCount)
	}
}

func TestSaveAndSendRejectsInvalidScan(t *testing.T) {
	remote := &fakeRemote{outcome: api.Outcome{Success: true}}
	service, _ := newTestService(t, remote, ServiceConfig{})

	code, _ := NewCode("X")
	_, err := service.SaveAndSend(context.Background(), ScanRequest{Code: code, OrderID: 0, StageID: 101, UserID: 1})
	if !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("expected invalid reference error, got %v", err)
	}
}

func TestSyncAllDeliversUnsentAndResetsCounters(t *testing.T) {
	remote := &fakeRemote{outcome: api.Outcome{Success: true}}
	service, store := newTestService(t, remote, ServiceConfig{Workers: 2})
	ctx := context.Background()

	ids := make([]int64, 0, 3)
	for _, code := range []string{"S-1", "S-2", "S-3"} {
		id := mustInsert(t, store, Record{Code: code, OrderID: 7, StageID: 101, UserID: 1, CreatedAt: time.Now()})
		if _, err := store.BumpErrorCount(ctx, id); err != nil {
			t.Fatalf("bump failed: %v", err)
		}
		ids = append(ids, id)
	}

	var progressCount int
	summary, err := service.SyncAll(ctx, func(p Progress) {
		progressCount++
		if p.Total != 3 {
			t.Errorf("expected total 3 in progress, got %d", p.Total)
		}
	})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if summary.Synced != 3 || summary.Failed != 0 {
		t.Fatalf("expected 3 synced, got %+v", summary)
	}
	if progressCount != 3 {
		t.Fatalf("expected 3 progress callbacks, got %d", progressCount)
	}

	for _, id := range ids {
		record := mustGet(t, store, id)
		if !record.IsSent {
			t.Fatalf("expected record %d to be sent", id)
		}
		if record.ErrorCount != 0 {
			t.Fatalf("expected record %d counter reset, got %d", id, record.ErrorCount)
		}
	}
}

func TestSyncAllFailureBumpsCounterAndContinues(t *testing.T) {
	remote := &fakeRemote{outcome: api.Outcome{Success: false, Error: "rejected"}}
	service, store := newTestService(t, remote, ServiceConfig{})
	ctx := context.Background()

	first := mustInsert(t, store, Record{Code: "F-1", OrderID: 7, StageID: 101, UserID: 1, CreatedAt: time.Now()})
	second := mustInsert(t, store, Record{Code: "F-2", OrderID: 7, StageID: 102, UserID: 1, CreatedAt: time.Now()})

	summary, err := service.SyncAll(ctx, nil)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if summary.Failed != 2 || summary.Synced != 0 {
		t.Fatalf("expected 2 failures, got %+v", summary)
	}
	for _, id := range []int64{first, second} {
		record := mustGet(t, store, id)
		if record.IsSent {
			t.Fatalf("expected record %d to stay unsent", id)
		}
		if record.ErrorCount != 1 {
			t.Fatalf("expected record %d counter at 1, got %d", id, record.ErrorCount)
		}
	}
}

func TestSyncAllSkipsRecordsAtRetryCap(t *testing.T) {
	remote := &fakeRemote{outcome: api.Outcome{Success: true}}
	service, store := newTestService(t, remote, ServiceConfig{MaxAttempts: 2})
	ctx := context.Background()

	capped := mustInsert(t, store, Record{Code: "CAP-1", OrderID: 7, StageID: 101, UserID: 1, CreatedAt: time.Now()})
	for i := 0; i < 2; i++ {
		if _, err := store.BumpErrorCount(ctx, capped); err != nil {
			t.Fatalf("bump failed: %v", err)
		}
	}
	eligible := mustInsert(t, store, Record{Code: "CAP-2", OrderID: 7, StageID: 102, UserID: 1, CreatedAt: time.Now()})

	summary, err := service.SyncAll(ctx, nil)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if summary.Attempted != 1 || summary.Synced != 1 {
		t.Fatalf("expected only the eligible record attempted, got %+v", summary)
	}
	if record := mustGet(t, store, capped); record.IsSent {
		t.Fatalf("expected capped record to be skipped")
	}
	if record := mustGet(t, store, eligible); !record.IsSent {
		t.Fatalf("expected eligible record to be delivered")
	}
}

func TestSyncAllRejectsOverlappingPass(t *testing.T) {
	remote := &fakeRemote{
		outcome: api.Outcome{Success: true},
		started: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	service, store := newTestService(t, remote, ServiceConfig{})
	ctx := context.Background()

	mustInsert(t, store, Record{Code: "LOCK-1", OrderID: 7, StageID: 101, UserID: 1, CreatedAt: time.Now()})

	firstDone := make(chan error, 1)
	go func() {
		_, err := service.SyncAll(ctx, nil)
		firstDone <- err
	}()

	select {
	case <-remote.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("first pass never reached the remote")
	}

	if _, err := service.SyncAll(ctx, nil); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress for overlapping pass, got %v", err)
	}

	close(remote.gate)
	if err := <-firstDone; err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
}

func TestSyncAllAsyncStreamsProgressThenDone(t *testing.T) {
	remote := &fakeRemote{outcome: api.Outcome{Success: true}}
	service, store := newTestService(t, remote, ServiceConfig{})
	ctx := context.Background()

	mustInsert(t, store, Record{Code: "ASYNC-1", OrderID: 7, StageID: 101, UserID: 1, CreatedAt: time.Now()})
	mustInsert(t, store, Record{Code: "ASYNC-2", OrderID: 7, StageID: 102, UserID: 1, CreatedAt: time.Now()})

	progressCh, doneCh := service.SyncAllAsync(ctx)
	var seen int
	for range progressCh {
		seen++
	}
	done := <-doneCh
	if done.Err != nil {
		t.Fatalf("async sync failed: %v", done.Err)
	}
	if seen != 2 || done.Summary.Synced != 2 {
		t.Fatalf("expected 2 progress events and 2 synced, got %d and %+v", seen, done.Summary)
	}
}

func TestSendOneReportsUnknownRecord(t *testing.T) {
	remote := &fakeRemote{outcome: api.Outcome{Success: true}}
	service, _ := newTestService(t, remote, ServiceConfig{})

	_, err := service.SendOne(context.Background(), 999)
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestSyncAllBulkSendsOneRequestForAllRecords(t *testing.T) {
	remote := &fakeRemote{outcome: api.Outcome{Success: true}}
	service, store := newTestService(t, remote, ServiceConfig{})
	ctx := context.Background()

	for _, code := range []string{"BULK-1", "BULK-2", "BULK-3"} {
		mustInsert(t, store, Record{Code: code, OrderID: 7, StageID: 101, UserID: 1, CreatedAt: time.Now()})
	}

	summary, err := service.SyncAllBulk(ctx)
	if err != nil {
		t.Fatalf("bulk sync failed: %v", err)
	}
	if summary.Synced != 3 {
		t.Fatalf("expected 3 synced, got %+v", summary)
	}
	if len(remote.batches) != 1 || len(remote.batches[0]) != 3 {
		t.Fatalf("expected one batch of 3, got %d batches", len(remote.batches))
	}

	remaining, err := store.Unsynced(ctx)
	if err != nil {
		t.Fatalf("unsynced failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no unsent records after bulk sync, got %d", len(remaining))
	}
}

func TestSyncAllBulkFailureBumpsEveryCounter(t *testing.T) {
	remote := &fakeRemote{outcome: api.Outcome{Success: false, Error: "batch rejected"}}
	service, store := newTestService(t, remote, ServiceConfig{})
	ctx := context.Background()

	first := mustInsert(t, store, Record{Code: "BF-1", OrderID: 7, StageID: 101, UserID: 1, CreatedAt: time.Now()})
	second := mustInsert(t, store, Record{Code: "BF-2", OrderID: 7, StageID: 102, UserID: 1, CreatedAt: time.Now()})

	summary, err := service.SyncAllBulk(ctx)
	if err != nil {
		t.Fatalf("bulk sync failed: %v", err)
	}
	if summary.Failed != 2 {
		t.Fatalf("expected 2 failures, got %+v", summary)
	}
	for _, id := range []int64{first, second} {
		if record := mustGet(t, store, id); record.ErrorCount != 1 {
			t.Fatalf("expected record %d counter at 1, got %d", id, record.ErrorCount)
		}
	}
}

func TestStartAutoSyncReplacesPreviousSchedule(t *testing.T) {
	remote := &fakeRemote{outcome: api.Outcome{Success: true}}
	service, _ := newTestService(t, remote, ServiceConfig{})

	if service.AutoSyncActive() {
		t.Fatalf("expected no schedule before start")
	}
	if err := service.StartAutoSync(time.Hour); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := service.StartAutoSync(2 * time.Hour); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if !service.AutoSyncActive() {
		t.Fatalf("expected schedule to be active after restart")
	}

	service.StopAutoSync()
	if service.AutoSyncActive() {
		t.Fatalf("expected schedule to be stopped")
	}
}
