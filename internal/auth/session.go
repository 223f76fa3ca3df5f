package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/frith/blog/internal/storage"
)

const (
	DefaultSessionTTL = 24 * time.Hour
	DefaultInviteTTL  = 72 * time.Hour
)

var (
	ErrMissingSessionToken = errors.New("auth: session token required")
	ErrUnknownSession      = errors.New("auth: session unknown or expired")
	ErrUnknownInvite       = errors.New("auth: invite unknown or expired")
)

// Session is a logged-in user.
type Session struct {
	Username  string
	ExpiresAt time.Time
}

type SessionStore struct {
	table *ExpiringTable[string]
}

func NewSessionStore(ttl time.Duration, clock func() time.Time) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{table: NewExpiringTable[string](ttl, clock)}
}

// Create opens a session for username.
func (s *SessionStore) Create(username string) (string, Session, error) {
	token, expiresAt, err := s.table.Insert(username)
	if err != nil {
		return "", Session{}, err
	}
	return token, Session{Username: username, ExpiresAt: expiresAt}, nil
}

func (s *SessionStore) Lookup(token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrMissingSessionToken
	}
	username, expiresAt, ok := s.table.Get(token)
	if !ok {
		return Session{}, ErrUnknownSession
	}
	return Session{Username: username, ExpiresAt: expiresAt}, nil
}

func (s *SessionStore) Revoke(token string) bool {
	return s.table.Remove(token)
}

func (s *SessionStore) Len() int {
	return s.table.Len()
}

// TokenFromRequest reads the session token from the session query parameter
// or a bearer Authorization header.
func TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := strings.TrimSpace(r.URL.Query().Get("session")); token != "" {
		return token
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// Invite grants the permissions a new account is created with.
type Invite struct {
	Permissions storage.Permissions
	CreatedBy   string
	ExpiresAt   time.Time
}

type InviteStore struct {
	table *ExpiringTable[Invite]
}

func NewInviteStore(ttl time.Duration, clock func() time.Time) *InviteStore {
	if ttl <= 0 {
		ttl = DefaultInviteTTL
	}
	return &InviteStore{table: NewExpiringTable[Invite](ttl, clock)}
}

func (s *InviteStore) Create(createdBy string, permissions storage.Permissions) (string, Invite, error) {
	invite := Invite{Permissions: permissions, CreatedBy: createdBy}
	token, expiresAt, err := s.table.Insert(invite)
	if err != nil {
		return "", Invite{}, err
	}
	invite.ExpiresAt = expiresAt
	return token, invite, nil
}

func (s *InviteStore) Lookup(token string) (Invite, error) {
	invite, expiresAt, ok := s.table.Get(strings.TrimSpace(token))
	if !ok {
		return Invite{}, ErrUnknownInvite
	}
	invite.ExpiresAt = expiresAt
	return invite, nil
}

// Consume removes the invite so that it can be used once.
func (s *InviteStore) Consume(token string) (Invite, error) {
	invite, expiresAt, ok := s.table.Take(strings.TrimSpace(token))
	if !ok {
		return Invite{}, ErrUnknownInvite
	}
	invite.ExpiresAt = expiresAt
	return invite, nil
}

// Reinstate returns a consumed invite whose signup did not go through.
func (s *InviteStore) Reinstate(token string, invite Invite) {
	s.table.Put(strings.TrimSpace(token), invite, invite.ExpiresAt)
}

func (s *InviteStore) Len() int {
	return s.table.Len()
}
