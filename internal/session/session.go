package session

import (
	"sync"

	"github.com/argosnet/barcodescanner/internal/api"
)

// Session holds the current user, order and stage selection, the CSRF token
// and a per-process-type stage cache. It is an explicit object constructed at
// login and cleared at logout, shared by the client and the sync flows.
type Session struct {
	mu         sync.RWMutex
	user       *api.User
	order      *api.Order
	stage      *api.ProcessStage
	csrfToken  string
	stageCache map[int64]api.ProcessType
}

// New returns an empty session.
func New() *Session {
	return &Session{stageCache: map[int64]api.ProcessType{}}
}

// SetUser records the authenticated user.
func (s *Session) SetUser(user api.User) {
	s.mu.Lock()
	s.user = &user
	s.mu.Unlock()
}

// User returns the authenticated user, or nil before login.
func (s *Session) User() *api.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// SetOrder records the selected order and drops any stage selection belonging
// to the previous order.
func (s *Session) SetOrder(order api.Order) {
	s.mu.Lock()
	s.order = &order
	s.stage = nil
	s.mu.Unlock()
}

// Order returns the selected order, or nil.
func (s *Session) Order() *api.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.order
}

// SetStage records the selected process stage.
func (s *Session) SetStage(stage api.ProcessStage) {
	s.mu.Lock()
	s.stage = &stage
	s.mu.Unlock()
}

// Stage returns the selected process stage, or nil.
func (s *Session) Stage() *api.ProcessStage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stage
}

// SetCSRFToken stores the token captured at login.
func (s *Session) SetCSRFToken(token string) {
	s.mu.Lock()
	s.csrfToken = token
	s.mu.Unlock()
}

// CSRFToken returns the stored token, empty before login.
func (s *Session) CSRFToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.csrfToken
}

// CacheProcessType stores a fetched process type keyed by its id. The cache is
// unbounded and lives until Clear.
func (s *Session) CacheProcessType(processType api.ProcessType) {
	s.mu.Lock()
	s.stageCache[processType.ID] = processType
	s.mu.Unlock()
}

// CachedProcessType returns a previously cached process type.
func (s *Session) CachedProcessType(id int64) (api.ProcessType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	processType, ok := s.stageCache[id]
	return processType, ok
}

// Clear wipes every field, including the stage cache. Invoked on logout.
func (s *Session) Clear() {
	s.mu.Lock()
	s.user = nil
	s.order = nil
	s.stage = nil
	s.csrfToken = ""
	s.stageCache = map[int64]api.ProcessType{}
	s.mu.Unlock()
}
