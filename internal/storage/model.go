package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxNameLength = 100

var (
	// ErrPostNotFound indicates that no post directory or metadata exists for the id.
	ErrPostNotFound = errors.New("storage: post not found")
	// ErrPostExists indicates that a post directory already exists for the id.
	ErrPostExists = errors.New("storage: post already exists")
	// ErrUserNotFound indicates that no user record exists for the username.
	ErrUserNotFound = errors.New("storage: user not found")
	// ErrUserExists indicates that a user record already exists for the username.
	ErrUserExists = errors.New("storage: user already exists")
	// ErrInvalidName indicates that an identifier or file name cannot be used as a path element.
	ErrInvalidName = errors.New("storage: invalid name")
)

// Post is the persisted metadata of a post, stored as post/<id>/meta.json.
type Post struct {
	ID         string    `json:"id"`
	Author     string    `json:"author_username"`
	Timestamp  time.Time `json:"timestamp"`
	ReplyTo    string    `json:"reply_to,omitempty"`
	Replies    []string  `json:"replies"`
	Quotes     []string  `json:"quotes"`
	Images     []string  `json:"images"`
	InProgress bool      `json:"in_progress"`
	IsPrivate  bool      `json:"is_private,omitempty"`
}

// Clone returns a deep copy of the post.
func (p Post) Clone() Post {
	clone := p
	clone.Replies = append([]string{}, p.Replies...)
	clone.Quotes = append([]string{}, p.Quotes...)
	clone.Images = append([]string{}, p.Images...)
	return clone
}

func (p *Post) fillEmpty() {
	if p.Replies == nil {
		p.Replies = []string{}
	}
	if p.Quotes == nil {
		p.Quotes = []string{}
	}
	if p.Images == nil {
		p.Images = []string{}
	}
}

// Permissions is the grant carried by an invite and stored on the user it created.
type Permissions struct {
	CanCreateInvites bool `json:"can_create_invites"`
}

// User is the public profile stored as user/<username>.json.
type User struct {
	Username    string      `json:"username"`
	Name        string      `json:"name"`
	Posts       []string    `json:"posts"` // oldest first
	Permissions Permissions `json:"permissions"`
	Members     []string    `json:"members"`
}

// ThumbnailSize selects one of the image variants kept for a post.
type ThumbnailSize string

const (
	// SizeRaw is the file exactly as uploaded.
	SizeRaw ThumbnailSize = "raw"
	// SizeSmall is the small thumbnail.
	SizeSmall ThumbnailSize = "small"
	// SizeLarge is the large thumbnail.
	SizeLarge ThumbnailSize = "large"
)

// ParseThumbnailSize validates a variant name taken from a request path.
func ParseThumbnailSize(value string) (ThumbnailSize, error) {
	switch ThumbnailSize(strings.ToLower(strings.TrimSpace(value))) {
	case SizeRaw:
		return SizeRaw, nil
	case SizeSmall:
		return SizeSmall, nil
	case SizeLarge:
		return SizeLarge, nil
	default:
		return "", fmt.Errorf("%w: unknown image size %q", ErrInvalidName, value)
	}
}

// ValidateName reports whether value is safe to use as a single path element.
func ValidateName(value string) error {
	if value == "" || value == "." || value == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, value)
	}
	if len(value) > maxNameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if strings.ContainsAny(value, "/\\\x00") {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, value)
	}
	return nil
}
