package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pagemarklabs/pagemark/internal/annotations"
	"github.com/pagemarklabs/pagemark/internal/auth"
)

const userIDContextKey = "pagemark_user_id"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingIdentityResolver = errors.New("identity resolver dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingAnnotations      = errors.New("annotations service dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// SessionAuthenticator validates the host platform's session cookie.
type SessionAuthenticator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// IdentityResolver maps validated session claims to a canonical user id.
type IdentityResolver interface {
	ResolveCanonicalUserID(claims auth.SessionClaims) (string, error)
}

// APITokenManager issues and validates the bearer tokens the annotation
// endpoints accept.
type APITokenManager interface {
	IssueAPIToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	Sessions     SessionAuthenticator
	Identities   IdentityResolver
	TokenManager APITokenManager
	Annotations  *annotations.Service
	Logger       *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Identities == nil {
		return nil, errMissingIdentityResolver
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Annotations == nil {
		return nil, errMissingAnnotations
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions:    deps.Sessions,
		identities:  deps.Identities,
		tokens:      deps.TokenManager,
		annotations: deps.Annotations,
		logger:      logger,
	}

	router.POST("/auth/session", handler.handleSessionExchange)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/annotations/sync", handler.handleAnnotationsSync)
	protected.GET("/annotations", handler.handleAnnotationsList)

	return router, nil
}

type httpHandler struct {
	sessions    SessionAuthenticator
	identities  IdentityResolver
	tokens      APITokenManager
	annotations *annotations.Service
	logger      *zap.Logger
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// handleSessionExchange trades the host platform's session cookie for a bearer
// token scoped to the annotation endpoints.
func (h *httpHandler) handleSessionExchange(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Warn("session validation failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, err := h.identities.ResolveCanonicalUserID(claims)
	if err != nil {
		h.logger.Warn("identity resolution failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.tokens.IssueAPIToken(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to issue api token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type syncRequestPayload struct {
	Records []annotations.Record `json:"records"`
}

type syncResponsePayload struct {
	Results []syncResultPayload `json:"results"`
}

type syncResultPayload struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
	Version  int64  `json:"version"`
	Deleted  bool   `json:"deleted"`
}

func (h *httpHandler) handleAnnotationsSync(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request syncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Records) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.annotations.ApplyChanges(c.Request.Context(), userID, request.Records)
	if err != nil {
		var serviceErr *annotations.ServiceError
		if errors.As(err, &serviceErr) && strings.HasSuffix(serviceErr.Code(), ".record_invalid") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_record"})
			return
		}
		h.logger.Error("failed to apply annotation changes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}

	response := syncResponsePayload{Results: make([]syncResultPayload, 0, len(result.RecordOutcomes))}
	for _, outcome := range result.RecordOutcomes {
		row := outcome.Outcome.UpdatedRow
		response.Results = append(response.Results, syncResultPayload{
			ID:       row.AnnotationID,
			Accepted: outcome.Outcome.Accepted,
			Version:  row.Version,
			Deleted:  row.IsDeleted,
		})
	}

	c.JSON(http.StatusOK, response)
}

type listResponsePayload struct {
	Annotations annotations.ToolRecords `json:"annotations"`
}

func (h *httpHandler) handleAnnotationsList(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	records, err := h.annotations.ListAnnotations(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list annotations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	c.JSON(http.StatusOK, listResponsePayload{Annotations: records})
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
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
