package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/frith/blog/internal/joinqueue"
	"github.com/frith/blog/internal/storage"
)

var (
	ErrInvalidUsername = errors.New("users: username may only contain letters, digits, '-' and '_'")
	ErrInvalidPassword = errors.New("users: password required")
	ErrUsernameTaken   = errors.New("users: username already taken")
	ErrUnknownUser     = errors.New("users: unknown user")

	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

const maxUsernameLength = 64

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database *gorm.DB
	Store    *storage.FileStore
	Pool     *joinqueue.BlockingPool
	Logger   *zap.Logger
}

// Service creates accounts and checks credentials. Hashing runs on the
// blocking pool.
type Service struct {
	db     *gorm.DB
	store  *storage.FileStore
	pool   *joinqueue.BlockingPool
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("users: store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, store: cfg.Store, pool: cfg.Pool, logger: logger}, nil
}

// Registration is a new account request.
type Registration struct {
	Username    string
	Name        string
	Password    string
	Permissions storage.Permissions
}

// ValidateUsername reports whether username is usable as an account name.
func ValidateUsername(username string) error {
	if len(username) > maxUsernameLength || !usernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// Register stores the credential and the public profile of a new account.
func (s *Service) Register(ctx context.Context, registration Registration) (storage.User, error) {
	username := registration.Username
	if err := ValidateUsername(username); err != nil {
		return storage.User{}, err
	}
	if registration.Password == "" {
		return storage.User{}, ErrInvalidPassword
	}

	var existing Login
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&existing).Error
	if err == nil {
		return storage.User{}, ErrUsernameTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.User{}, err
	}

	var hash string
	var hashErr error
	if err := s.blocking(ctx, func() { hash, hashErr = HashPassword(registration.Password) }); err != nil {
		return storage.User{}, err
	}
	if hashErr != nil {
		return storage.User{}, hashErr
	}

	user := storage.User{
		Username:    username,
		Name:        strings.TrimSpace(registration.Name),
		Permissions: registration.Permissions,
	}
	if user.Name == "" {
		user.Name = username
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&Login{Username: username, PasswordHash: hash}).Error; err != nil {
			return err
		}
		if err := s.store.CreateUser(user); err != nil {
			if errors.Is(err, storage.ErrUserExists) {
				return ErrUsernameTaken
			}
			return err
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrUsernameTaken) {
			s.logger.Error("account registration failed", zap.String("username", username), zap.Error(err))
		}
		return storage.User{}, err
	}
	s.logger.Info("account registered", zap.String("username", username))
	return s.store.ReadUser(username)
}

// Verify reports whether password matches the stored credential. Unknown
// usernames verify as false.
func (s *Service) Verify(ctx context.Context, username, password string) (bool, error) {
	var login Login
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&login).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var ok bool
	var verifyErr error
	if err := s.blocking(ctx, func() { ok, verifyErr = VerifyPassword(password, login.PasswordHash) }); err != nil {
		return false, err
	}
	if verifyErr != nil {
		s.logger.Warn("stored credential unreadable", zap.String("username", username), zap.Error(verifyErr))
		return false, verifyErr
	}
	return ok, nil
}

// Profile loads the public profile of username.
func (s *Service) Profile(ctx context.Context, username string) (storage.User, error) {
	user, err := s.store.ReadUser(username)
	if errors.Is(err, storage.ErrUserNotFound) || errors.Is(err, storage.ErrInvalidName) {
		return storage.User{}, ErrUnknownUser
	}
	return user, err
}

func (s *Service) blocking(ctx context.Context, fn func()) error {
	if s.pool == nil {
		fn()
		return nil
	}
	return s.pool.Do(ctx, fn)
}
