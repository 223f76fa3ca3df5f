package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const userFileSuffix = ".json"

func (s *FileStore) userPath(username string) string {
	return filepath.Join(s.root, userDirName, username+userFileSuffix)
}

// CreateUser writes a new profile, failing if one already exists.
func (s *FileStore) CreateUser(user User) error {
	if err := ValidateName(user.Username); err != nil {
		return err
	}
	unlock := s.locks.lock(userKey(user.Username))
	defer unlock()

	if _, err := os.Stat(s.userPath(user.Username)); err == nil {
		return fmt.Errorf("%w: %s", ErrUserExists, user.Username)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if user.Posts == nil {
		user.Posts = []string{}
	}
	if user.Members == nil {
		user.Members = []string{}
	}
	return writeJSON(s.userPath(user.Username), user)
}

// ReadUser loads a profile.
func (s *FileStore) ReadUser(username string) (User, error) {
	if err := ValidateName(username); err != nil {
		return User{}, err
	}
	var user User
	if err := readJSON(s.userPath(username), &user); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, username)
		}
		return User{}, err
	}
	return user, nil
}

// UpdateUser applies fn to the stored profile and writes the result back.
func (s *FileStore) UpdateUser(username string, fn func(*User) error) error {
	if err := ValidateName(username); err != nil {
		return err
	}
	unlock := s.locks.lock(userKey(username))
	defer unlock()

	user, err := s.ReadUser(username)
	if err != nil {
		return err
	}
	if err := fn(&user); err != nil {
		return err
	}
	return writeJSON(s.userPath(username), user)
}

// AppendUserPost adds a post id to the end of a user's post list once.
func (s *FileStore) AppendUserPost(username, postID string) error {
	return s.UpdateUser(username, func(user *User) error {
		if !slices.Contains(user.Posts, postID) {
			user.Posts = append(user.Posts, postID)
		}
		return nil
	})
}

// RemoveUserPost drops a post id from a user's post list.
func (s *FileStore) RemoveUserPost(username, postID string) error {
	return s.UpdateUser(username, func(user *User) error {
		user.Posts = slices.DeleteFunc(user.Posts, func(id string) bool { return id == postID })
		return nil
	})
}

// ListUsers loads every stored profile.
func (s *FileStore) ListUsers() ([]User, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, userDirName))
	if err != nil {
		return nil, err
	}
	users := make([]User, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.HasSuffix(name, userFileSuffix) || strings.HasPrefix(name, ".") {
			continue
		}
		user, err := s.ReadUser(strings.TrimSuffix(name, userFileSuffix))
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func userKey(username string) string {
	return userDirName + "/" + username
}
