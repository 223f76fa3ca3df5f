package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/frith/blog/internal/auth"
	"github.com/frith/blog/internal/posts"
	"github.com/frith/blog/internal/users"
)

const (
	usernameContextKey      = "blog_username"
	sessionTokenContextKey  = "blog_session_token"
	defaultUploadSocketTTL  = 60 * time.Second
	defaultUploadMessageTTL = time.Second
)

var (
	errMissingPostsService = errors.New("posts service dependency required")
	errMissingUsersService = errors.New("users service dependency required")
	errMissingSessions     = errors.New("session store dependency required")
	errMissingInvites      = errors.New("invite store dependency required")
	errMissingTickets      = errors.New("upload ticket issuer dependency required")
)

type Dependencies struct {
	Posts            *posts.Service
	Users            *users.Service
	Sessions         *auth.SessionStore
	Invites          *auth.InviteStore
	Tickets          *auth.TicketIssuer
	AllowedOrigin    string
	UploadSocketTTL  time.Duration
	UploadMessageTTL time.Duration
	Logger           *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Posts == nil {
		return nil, errMissingPostsService
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Invites == nil {
		return nil, errMissingInvites
	}
	if deps.Tickets == nil {
		return nil, errMissingTickets
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	socketTTL := deps.UploadSocketTTL
	if socketTTL <= 0 {
		socketTTL = defaultUploadSocketTTL
	}
	messageTTL := deps.UploadMessageTTL
	if messageTTL <= 0 {
		messageTTL = defaultUploadMessageTTL
	}

	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(gin.Recovery())
	corsConfig := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if deps.AllowedOrigin == "" || deps.AllowedOrigin == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{deps.AllowedOrigin}
	}
	router.Use(cors.New(corsConfig))

	handler := &httpHandler{
		posts:         deps.Posts,
		users:         deps.Users,
		sessions:      deps.Sessions,
		invites:       deps.Invites,
		tickets:       deps.Tickets,
		allowedOrigin: deps.AllowedOrigin,
		socketTTL:     socketTTL,
		messageTTL:    messageTTL,
		logger:        logger,
	}

	api := router.Group("/api")
	api.POST("/session", handler.handleLogin)
	api.POST("/signup", handler.handleSignup)
	api.GET("/user/:username", handler.handleUser)
	api.GET("/post/meta/:id", handler.handlePostMeta)
	api.GET("/post/text/:id", handler.handlePostText)
	api.GET("/post/latest", handler.handleLatest)
	api.GET("/post/latest/:amount/:after", handler.handleLatest)
	api.GET("/post/thread/:id", handler.handleThread)
	api.GET("/post/image/:id/:size/:name", handler.handleImage)
	api.GET("/post/create/image/:id/:name", handler.handleImageSocket)

	protected := api.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.DELETE("/session", handler.handleLogout)
	protected.POST("/invite", handler.handleInvite)
	protected.POST("/post/create/start", handler.handleStartPost)
	protected.POST("/post/create/image/:id/:name", handler.handlePrepareImage)
	protected.POST("/post/create/finish", handler.handleFinishPost)
	protected.POST("/post/delete/:id", handler.handleDeletePost)

	return router, nil
}

type httpHandler struct {
	posts         *posts.Service
	users         *users.Service
	sessions      *auth.SessionStore
	invites       *auth.InviteStore
	tickets       *auth.TicketIssuer
	allowedOrigin string
	socketTTL     time.Duration
	messageTTL    time.Duration
	logger        *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := auth.TokenFromRequest(c.Request)
	session, err := h.sessions.Lookup(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(usernameContextKey, session.Username)
	c.Set(sessionTokenContextKey, token)
	c.Next()
}

// writeServiceError maps a posts outcome category to its HTTP status.
func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	status, reason := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, posts.ErrNotFound):
		status, reason = http.StatusNotFound, "not_found"
	case errors.Is(err, posts.ErrForbidden):
		status, reason = http.StatusForbidden, "forbidden"
	case errors.Is(err, posts.ErrConflict):
		status, reason = http.StatusConflict, "conflict"
	case errors.Is(err, posts.ErrBadRequest):
		status, reason = http.StatusBadRequest, "invalid_request"
	}
	body := gin.H{"error": reason}
	var serviceErr *posts.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, body)
}
