package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/frith/blog/internal/storage"
	"github.com/frith/blog/internal/users"
)

type loginRequestPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponsePayload struct {
	Session   string    `json:"session"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

type signupRequestPayload struct {
	InviteID string `json:"invite_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type inviteRequestPayload struct {
	ForPermissions storage.Permissions `json:"for_permissions"`
}

type inviteResponsePayload struct {
	Invite    string    `json:"invite"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ok, err := h.users.Verify(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		h.logger.Error("credential check failed", zap.String("username", request.Username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	h.openSession(c, http.StatusOK, request.Username)
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	h.sessions.Revoke(c.GetString(sessionTokenContextKey))
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSignup(c *gin.Context) {
	var request signupRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := users.ValidateUsername(request.Username); err != nil || request.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	invite, err := h.invites.Consume(request.InviteID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "invite_not_found"})
		return
	}

	_, err = h.users.Register(c.Request.Context(), users.Registration{
		Username:    request.Username,
		Name:        request.Name,
		Password:    request.Password,
		Permissions: invite.Permissions,
	})
	if err != nil {
		h.invites.Reinstate(request.InviteID, invite)
		switch {
		case errors.Is(err, users.ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "username_taken"})
		case errors.Is(err, users.ErrInvalidUsername), errors.Is(err, users.ErrInvalidPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		default:
			h.logger.Error("signup failed", zap.String("username", request.Username), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "signup_failed"})
		}
		return
	}
	h.openSession(c, http.StatusCreated, request.Username)
}

func (h *httpHandler) handleInvite(c *gin.Context) {
	username := c.GetString(usernameContextKey)
	var request inviteRequestPayload
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	user, err := h.users.Profile(c.Request.Context(), username)
	if err != nil {
		if errors.Is(err, users.ErrUnknownUser) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
			return
		}
		h.logger.Error("profile lookup failed", zap.String("username", username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invite_failed"})
		return
	}
	if !user.Permissions.CanCreateInvites {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	token, invite, err := h.invites.Create(username, request.ForPermissions)
	if err != nil {
		h.logger.Error("invite creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invite_failed"})
		return
	}
	c.JSON(http.StatusCreated, inviteResponsePayload{Invite: token, ExpiresAt: invite.ExpiresAt})
}

func (h *httpHandler) handleUser(c *gin.Context) {
	user, err := h.users.Profile(c.Request.Context(), c.Param("username"))
	if err != nil {
		if errors.Is(err, users.ErrUnknownUser) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
			return
		}
		h.logger.Error("profile lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *httpHandler) openSession(c *gin.Context, status int, username string) {
	token, session, err := h.sessions.Create(username)
	if err != nil {
		h.logger.Error("session creation failed", zap.String("username", username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_failed"})
		return
	}
	c.JSON(status, sessionResponsePayload{Session: token, Username: username, ExpiresAt: session.ExpiresAt})
}
