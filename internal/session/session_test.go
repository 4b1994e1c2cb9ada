package session

import (
	"testing"

	"github.com/argosnet/barcodescanner/internal/api"
)

func TestSetOrderDropsStaleStageSelection(t *testing.T) {
	sess := New()
	sess.SetOrder(api.Order{ID: 7, Name: "ORD-0007"})
	sess.SetStage(api.ProcessStage{ID: 101, Name: "Cutting"})

	sess.SetOrder(api.Order{ID: 8, Name: "ORD-0008"})
	if sess.Stage() != nil {
		t.Fatalf("expected stage to be dropped when the order changes")
	}
	if order := sess.Order(); order == nil || order.ID != 8 {
		t.Fatalf("expected new order to be selected")
	}
}

func TestProcessTypeCacheRoundTrip(t *testing.T) {
	sess := New()
	if _, ok := sess.CachedProcessType(11); ok {
		t.Fatalf("expected empty cache before storing")
	}

	sess.CacheProcessType(api.ProcessType{ID: 11, Name: "Assembly"})
	cached, ok := sess.CachedProcessType(11)
	if !ok || cached.Name != "Assembly" {
		t.Fatalf("expected cached process type, got %+v ok=%v", cached, ok)
	}
}

func TestClearWipesEverything(t *testing.T) {
	sess := New()
	sess.SetUser(api.User{ID: 1, Username: "operator"})
	sess.SetOrder(api.Order{ID: 7})
	sess.SetStage(api.ProcessStage{ID: 101})
	sess.SetCSRFToken("csrf-abc")
	sess.CacheProcessType(api.ProcessType{ID: 11})

	sess.Clear()
	if sess.User() != nil || sess.Order() != nil || sess.Stage() != nil {
		t.Fatalf("expected user, order and stage to be cleared")
	}
	if sess.CSRFToken() != "" {
		t.Fatalf("expected CSRF token to be cleared")
	}
	if _, ok := sess.CachedProcessType(11); ok {
		t.Fatalf("expected stage cache to be cleared")
	}
}
