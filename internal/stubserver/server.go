// Package stubserver implements enough of the vendor order-tracking API to run
// the scanner against a local endpoint during development and in tests.
package stubserver

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/argosnet/barcodescanner/internal/api"
)

const (
	sessionCookieName = "sessionid"
	csrfCookieName    = "csrftoken"
	csrfHeaderName    = "X-CSRFToken"
)

// Dependencies configures the stub. Nil fixture maps fall back to built-in
// development accounts and orders.
type Dependencies struct {
	SigningSecret []byte
	Logger        *zap.Logger

	Users  map[string]string // username -> password
	Tokens map[string]string // login token -> username
	Orders []api.Order
}

// Server is the in-memory vendor API stub.
type Server struct {
	issuer *TokenIssuer
	logger *zap.Logger

	users  map[string]string
	tokens map[string]string
	orders []api.Order

	mu       sync.Mutex
	imported []api.ImportRecord
}

// NewServer constructs the stub with the provided fixtures.
func NewServer(deps Dependencies) (*Server, error) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: deps.SigningSecret})
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	users := deps.Users
	if users == nil {
		users = map[string]string{"operator": "operator"}
	}
	tokens := deps.Tokens
	if tokens == nil {
		tokens = map[string]string{"dev-login-token": "operator"}
	}
	orders := deps.Orders
	if orders == nil {
		orders = defaultOrders()
	}

	return &Server{
		issuer: issuer,
		logger: logger,
		users:  users,
		tokens: tokens,
		orders: orders,
	}, nil
}

// Imported returns a copy of every barcode the stub accepted.
func (s *Server) Imported() []api.ImportRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.ImportRecord(nil), s.imported...)
}

// Handler builds the gin router exposing the vendor routes.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", csrfHeaderName},
		MaxAge:       12 * time.Hour,
	}))

	v2 := router.Group("/api/v2")
	v2.POST("/accounts/login", s.handleLogin)
	v2.POST("/accounts/login/token", s.handleLoginByToken)

	authed := v2.Group("/")
	authed.Use(s.requireSession)
	authed.GET("/orders/orders-filters-for-scaner", s.handleOrders)
	authed.GET("/orders/process-types/:id", s.handleProcessType)
	authed.GET("/orders/:id", s.handleOrder)

	mutating := authed.Group("/")
	mutating.Use(s.requireCSRF)
	mutating.POST("/barcode/import-barcode", s.handleImportBarcode)
	mutating.POST("/barcode/import-barcodes", s.handleImportBarcodes)

	return router
}

type loginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var payload loginPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})
		return
	}
	password, ok := s.users[payload.Username]
	if !ok || password != payload.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "invalid username or password"})
		return
	}
	s.establishSession(c, payload.Username)
}

type tokenLoginPayload struct {
	Token string `json:"token"`
}

func (s *Server) handleLoginByToken(c *gin.Context) {
	var payload tokenLoginPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})
		return
	}
	username, ok := s.tokens[payload.Token]
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "unknown login token"})
		return
	}
	s.establishSession(c, username)
}

func (s *Server) establishSession(c *gin.Context, username string) {
	sessionToken, err := s.issuer.Issue(username)
	if err != nil {
		s.logger.Error("session token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "session issue failed"})
		return
	}

	c.SetCookie(sessionCookieName, sessionToken, int(defaultSessionTTL.Seconds()), "/", "", false, true)
	c.SetCookie(csrfCookieName, uuid.NewString(), int(defaultSessionTTL.Seconds()), "/", "", false, false)

	s.logger.Info("stub login", zap.String("username", username))
	c.JSON(http.StatusOK, userFixture(username))
}

func (s *Server) requireSession(c *gin.Context) {
	sessionToken, err := c.Cookie(sessionCookieName)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "authentication required"})
		return
	}
	username, err := s.issuer.Validate(sessionToken)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "session expired"})
		return
	}
	c.Set("username", username)
	c.Next()
}

func (s *Server) requireCSRF(c *gin.Context) {
	cookieValue, err := c.Cookie(csrfCookieName)
	header := c.GetHeader(csrfHeaderName)
	if err != nil || header == "" || header != cookieValue {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "CSRF token missing or incorrect"})
		return
	}
	c.Next()
}

func (s *Server) handleOrders(c *gin.Context) {
	c.JSON(http.StatusOK, s.orders)
}

func (s *Server) handleProcessType(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid process type id"})
		return
	}
	for _, order := range s.orders {
		if expanded := order.ProcessType.Expanded; expanded != nil && expanded.ID == id {
			c.JSON(http.StatusOK, expanded)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"detail": "process type not found"})
}

func (s *Server) handleOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid order id"})
		return
	}
	for _, order := range s.orders {
		if order.ID == id {
			c.JSON(http.StatusOK, order)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"detail": "order not found"})
}

func (s *Server) handleImportBarcode(c *gin.Context) {
	var record api.ImportRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid barcode payload"})
		return
	}
	s.mu.Lock()
	s.imported = append(s.imported, record)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleImportBarcodes(c *gin.Context) {
	var records []api.ImportRecord
	if err := c.ShouldBindJSON(&records); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid barcode payload"})
		return
	}
	s.mu.Lock()
	s.imported = append(s.imported, records...)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"success": true, "imported": len(records)})
}

func userFixture(username string) api.User {
	return api.User{
		ID:              1,
		Username:        username,
		FirstName:       "Dev",
		LastName:        "Operator",
		Permissions:     []string{"barcode.import"},
		IsAuthenticated: true,
	}
}

func defaultOrders() []api.Order {
	assembly := api.ProcessType{
		ID:   11,
		Name: "Assembly",
		Stages: []api.ProcessStage{
			{ID: 101, Name: "Cutting", SortNumber: 1},
			{ID: 102, Name: "Welding", SortNumber: 2},
			{ID: 103, Name: "Repair", SortNumber: 3},
		},
	}
	packing := api.ProcessType{
		ID:   12,
		Name: "Packing",
		Stages: []api.ProcessStage{
			{ID: 201, Name: "Boxing", SortNumber: 1},
			{ID: 202, Name: "Labelling", SortNumber: 2},
		},
	}
	return []api.Order{
		{ID: 7, Name: "ORD-0007", ProcessTypeID: assembly.ID, ProcessType: api.ProcessTypeRef{ID: assembly.ID, Expanded: &assembly}},
		{ID: 8, Name: "ORD-0008", ProcessTypeID: packing.ID, ProcessType: api.ProcessTypeRef{ID: packing.ID, Expanded: &packing}},
	}
}
