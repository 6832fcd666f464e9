package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/c2hq/backend/internal/auth"
	"github.com/c2hq/backend/internal/credentials"
	"github.com/c2hq/backend/internal/ingest"
	"github.com/c2hq/backend/internal/youtube"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	userIDContextKey    = "c2hq_user_id"
	claimsContextKey    = "c2hq_session_claims"
	platformTokenHeader = "X-Platform-Token"
	oauthProviderGoogle = "google"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingIdentityResolver = errors.New("identity resolver dependency required")
	errMissingSyncService      = errors.New("sync service dependency required")
	errMissingCredentialStore  = errors.New("credential store dependency required")
	errMissingOAuthConfig      = errors.New("oauth config dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// SessionValidator validates the bearer credential presented by the frontend.
type SessionValidator interface {
	ValidateToken(token string) (auth.SessionClaims, error)
}

// IdentityResolver maps session claims to the canonical user id.
type IdentityResolver interface {
	ResolveCanonicalUserID(claims auth.SessionClaims) (string, error)
}

// SyncService runs comment syncs and serves the recent-comments read path.
type SyncService interface {
	SyncComments(ctx context.Context, userID string, perVideoLimit int) (ingest.Summary, error)
	ListRecentComments(ctx context.Context, userID string, limit int) ([]ingest.Comment, error)
}

// CredentialStore persists the token obtained from a completed authorization.
type CredentialStore interface {
	UpsertAuthorizedCredential(ctx context.Context, userID string, token *oauth2.Token) error
}

// Dependencies bundles everything the HTTP layer needs.
type Dependencies struct {
	SessionValidator SessionValidator
	Identities       IdentityResolver
	SyncService      SyncService
	Credentials      CredentialStore
	OAuth            *oauth2.Config
	Events           *SyncEventDispatcher
	Logger           *zap.Logger
	Clock            func() time.Time
}

// NewHTTPHandler builds the gin router with validated dependencies.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Identities == nil {
		return nil, errMissingIdentityResolver
	}
	if deps.SyncService == nil {
		return nil, errMissingSyncService
	}
	if deps.Credentials == nil {
		return nil, errMissingCredentialStore
	}
	if deps.OAuth == nil {
		return nil, errMissingOAuthConfig
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := deps.Events
	if events == nil {
		events = NewSyncEventDispatcher()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", platformTokenHeader},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions:    deps.SessionValidator,
		identities:  deps.Identities,
		syncService: deps.SyncService,
		credentials: deps.Credentials,
		oauth:       deps.OAuth,
		events:      events,
		states:      newOAuthStateStore(clock),
		logger:      logger,
		clock:       clock,
	}

	router.GET("/healthz", handler.handleHealthz)
	router.GET("/auth/youtube/callback", handler.handleOAuthCallback)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/youtube/connect", handler.handleOAuthConnect)
	protected.POST("/sync/comments", handler.handleSyncComments)
	protected.GET("/sync/events", handler.handleSyncEvents)
	protected.GET("/comments/recent", handler.handleRecentComments)

	return router, nil
}

type httpHandler struct {
	sessions    SessionValidator
	identities  IdentityResolver
	syncService SyncService
	credentials CredentialStore
	oauth       *oauth2.Config
	events      *SyncEventDispatcher
	states      *oauthStateStore
	logger      *zap.Logger
	clock       func() time.Time
}

func (h *httpHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleOAuthConnect(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	state := uuid.NewString()
	h.states.put(state, userID)

	c.Redirect(http.StatusTemporaryRedirect, h.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline))
}

func (h *httpHandler) handleOAuthCallback(c *gin.Context) {
	if errorParam := c.Query("error"); errorParam != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorization_denied"})
		return
	}

	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	userID, ok := h.states.take(state)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_state"})
		return
	}

	token, err := h.oauth.Exchange(c.Request.Context(), code)
	if err != nil {
		h.logger.Warn("authorization code exchange failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "exchange_failed"})
		return
	}

	if err := h.credentials.UpsertAuthorizedCredential(c.Request.Context(), userID, token); err != nil {
		h.logger.Error("failed to persist authorized credential",
			zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credential_store_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"connected": true, "platform": "youtube"})
}

type syncRequestPayload struct {
	Limit int `json:"limit"`
}

func (h *httpHandler) handleSyncComments(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request syncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ctx := c.Request.Context()
	if token, ok := auth.ExtractAccessToken(h.requestUserRecord(c), oauthProviderGoogle); ok {
		ctx = ContextWithFallbackToken(ctx, token)
	}

	summary, err := h.syncService.SyncComments(ctx, userID, request.Limit)
	if err != nil {
		h.writeSyncError(c, userID, err)
		return
	}

	h.events.Publish(SyncEvent{
		UserID:    userID,
		EventType: SyncEventCompleted,
		Summary:   summary,
		Timestamp: h.clock().UTC(),
	})

	c.JSON(http.StatusOK, summary)
}

func (h *httpHandler) writeSyncError(c *gin.Context, userID string, err error) {
	switch {
	case errors.Is(err, credentials.ErrNotConnected):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "not_connected",
			"message": "no YouTube account connected; visit /auth/youtube/connect",
		})
	case errors.Is(err, credentials.ErrReauthRequired):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "reauth_required",
			"message": "YouTube authorization expired; reconnect your account",
		})
	case errors.Is(err, youtube.ErrNoChannel):
		c.JSON(http.StatusNotFound, gin.H{"error": "no_channel"})
	case errors.Is(err, youtube.ErrNoUploads):
		c.JSON(http.StatusNotFound, gin.H{"error": "no_uploads"})
	default:
		h.logger.Error("comment sync failed",
			zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
	}
}

func (h *httpHandler) handleRecentComments(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	comments, err := h.syncService.ListRecentComments(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.Error("failed to list recent comments",
			zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

func (h *httpHandler) handleSyncEvents(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	stream, cancel := h.events.Subscribe(c.Request.Context(), userID)
	defer cancel()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(event.EventType, event)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"timestamp": h.clock().UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.sessions.ValidateToken(token)
	if err != nil {
		h.logger.Warn("session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := h.identities.ResolveCanonicalUserID(claims)
	if err != nil {
		h.logger.Warn("identity resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Set(claimsContextKey, claims)
	c.Next()
}

// requestUserRecord collects the locations a provider token may ride in on
// the request, for the defensive fallback extraction path.
func (h *httpHandler) requestUserRecord(c *gin.Context) auth.UserRecord {
	record := auth.UserRecord{
		HeaderToken: c.GetHeader(platformTokenHeader),
	}
	if raw, ok := c.Get(claimsContextKey); ok {
		if claims, ok := raw.(auth.SessionClaims); ok {
			record.Metadata = claims.UserMetadata
			record.Identities = claims.UserIdentities
		}
	}
	return record
}
