package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/geoboard/internal/board"
	"github.com/MarcoPoloResearchLab/geoboard/internal/catalog"
	"github.com/MarcoPoloResearchLab/geoboard/internal/codec"
	"github.com/MarcoPoloResearchLab/geoboard/internal/geo"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	userIDContextKey    = "geoboard_user_id"
	requestIDContextKey = "geoboard_request_id"
	requestedWithHeader = "X-Requested-With"
	requestedWithFetch  = "fetch"
	requestIDHeader     = "X-Request-ID"
)

var (
	errMissingStore    = errors.New("message store dependency required")
	errMissingCodec    = errors.New("message codec dependency required")
	errMissingSessions = errors.New("session manager dependency required")
)

// MessageStore is the persistence surface used by the HTTP handlers.
type MessageStore interface {
	CreateUser(ctx context.Context) (int64, error)
	GetUser(ctx context.Context, userID int64) (board.User, error)
	GetMessage(ctx context.Context, messageID, requesterID int64) (board.Message, error)
	FindMessages(ctx context.Context, params board.FindParams) ([]board.Message, error)
	AddMessage(ctx context.Context, userID int64, location geo.Location, content codec.Value) (board.Message, error)
	Vote(ctx context.Context, messageID, userID int64, grade board.Grade) (bool, error)
	DeleteMessage(ctx context.Context, messageID int64) (bool, error)
}

// MessageCodec validates and renders packed messages and exposes the catalog behind them.
type MessageCodec interface {
	codec.Messenger
	Catalog() *catalog.Catalog
}

// SessionManager issues and checks anonymous session cookies.
type SessionManager interface {
	Issue(userID int64) (string, time.Time, error)
	ValidateRequest(r *http.Request) (int64, error)
	CookieName() string
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Store          MessageStore
	Codec          MessageCodec
	Sessions       SessionManager
	Logger         *zap.Logger
	AllowedOrigins []string
	SecureCookie   bool
	MaxLevel       int
	DefaultLimit   int
	RateLimit      rate.Limit
	RateBurst      int
	Registry       *prometheus.Registry
}

// NewHTTPHandler builds the gin router serving the message board API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Codec == nil {
		return nil, errMissingCodec
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	metrics := newMetrics(registry)

	defaultLimit := deps.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = board.DefaultLimit
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestContext(logger))
	router.Use(metrics.middleware())
	router.Use(corsMiddleware(deps.AllowedOrigins))
	if deps.RateLimit > 0 && deps.RateBurst > 0 {
		router.Use(newRateLimiter(deps.RateLimit, deps.RateBurst, 2*time.Minute).middleware())
	}

	handler := &httpHandler{
		store:        deps.Store,
		codec:        deps.Codec,
		sessions:     deps.Sessions,
		logger:       logger,
		metrics:      metrics,
		secureCookie: deps.SecureCookie,
		maxLevel:     deps.MaxLevel,
		defaultLimit: defaultLimit,
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/catalog", handler.handleCatalog)
	router.POST("/login", requireFetch, handler.handleLogin)

	protected := router.Group("/messages")
	protected.Use(handler.authorizeRequest, requireFetch)
	protected.GET("", handler.handleGetMessages)
	protected.POST("", handler.handlePostMessage)
	protected.POST("/vote", handler.handleVote)
	protected.DELETE("/:id", handler.handleDeleteMessage)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", requestedWithHeader, requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

type httpHandler struct {
	store        MessageStore
	codec        MessageCodec
	sessions     SessionManager
	logger       *zap.Logger
	metrics      *metrics
	secureCookie bool
	maxLevel     int
	defaultLimit int
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	userID, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		requestLogger(c, h.logger).Debug("session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication_required"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func requireFetch(c *gin.Context) {
	if c.GetHeader(requestedWithHeader) != requestedWithFetch {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing_requested_with"})
		return
	}
	c.Next()
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	userID, err := h.store.CreateUser(c.Request.Context())
	if err != nil {
		requestLogger(c, h.logger).Error("failed to create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user_creation_failed"})
		return
	}

	token, expiresAt, err := h.sessions.Issue(userID)
	if err != nil {
		requestLogger(c, h.logger).Error("failed to issue session", zap.Error(err), zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_issue_failed"})
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.sessions.CookieName(),
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	c.JSON(http.StatusCreated, gin.H{"id": userID})
}

type catalogEntryPayload struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type catalogCategoryPayload struct {
	ID      int                   `json:"id"`
	Name    string                `json:"name"`
	Fillers []catalogEntryPayload `json:"fillers"`
}

type catalogPayload struct {
	Templates     []catalogEntryPayload    `json:"templates"`
	Categories    []catalogCategoryPayload `json:"categories"`
	Conjunctions  []catalogEntryPayload    `json:"conjunctions"`
	NoConjunction int                      `json:"no_conjunction"`
}

func (h *httpHandler) handleCatalog(c *gin.Context) {
	parts := h.codec.Catalog()
	response := catalogPayload{NoConjunction: codec.NoConjunction}
	for _, template := range parts.Templates() {
		response.Templates = append(response.Templates, catalogEntryPayload{Index: template.Index, Text: template.Text})
	}
	for _, category := range parts.Categories() {
		payload := catalogCategoryPayload{ID: category.ID, Name: category.Name}
		for _, filler := range category.Fillers {
			payload.Fillers = append(payload.Fillers, catalogEntryPayload{Index: filler.Index, Text: filler.Text})
		}
		response.Categories = append(response.Categories, payload)
	}
	for _, conjunction := range parts.Conjunctions() {
		response.Conjunctions = append(response.Conjunctions, catalogEntryPayload{Index: conjunction.Index, Text: conjunction.Text})
	}
	c.JSON(http.StatusOK, response)
}
