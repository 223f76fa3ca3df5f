// Package storage persists posts and user profiles as JSON files under a single
// root directory.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	postDirName  = "post"
	userDirName  = "user"
	metaFileName = "meta.json"
	textFileName = "text.md"
	imageDirName = "image"
	dirMode      = 0o755
	fileMode     = 0o644
)

// FileStore reads and writes the blog's on-disk layout:
//
//	post/<id>/meta.json
//	post/<id>/text.md
//	post/<id>/image/{raw,small,large}/<name>
//	user/<username>.json
//
// Writes go through a temp file and a rename, and every read-modify-write of a
// single record is serialized per record.
type FileStore struct {
	root  string
	locks keyedMutex
}

// NewFileStore prepares the directory layout under root.
func NewFileStore(root string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage: root path is required")
	}
	for _, dir := range []string{filepath.Join(root, postDirName), filepath.Join(root, userDirName)} {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return nil, fmt.Errorf("storage: create %s: %w", dir, err)
		}
	}
	return &FileStore{root: root}, nil
}

// Root returns the store's root directory.
func (s *FileStore) Root() string {
	return s.root
}

// PostDir returns the working directory of a post.
func (s *FileStore) PostDir(postID string) string {
	return filepath.Join(s.root, postDirName, postID)
}

// ImagePath returns where the given variant of an image lives.
func (s *FileStore) ImagePath(postID string, size ThumbnailSize, name string) string {
	return filepath.Join(s.PostDir(postID), imageDirName, string(size), name)
}

// CreatePost creates the post directory tree and writes its first metadata.
func (s *FileStore) CreatePost(post Post) error {
	if err := ValidateName(post.ID); err != nil {
		return err
	}
	unlock := s.locks.lock(postKey(post.ID))
	defer unlock()

	dir := s.PostDir(post.ID)
	if err := os.Mkdir(dir, dirMode); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrPostExists, post.ID)
		}
		return err
	}
	for _, size := range []ThumbnailSize{SizeRaw, SizeSmall, SizeLarge} {
		if err := os.MkdirAll(filepath.Join(dir, imageDirName, string(size)), dirMode); err != nil {
			return err
		}
	}
	post.fillEmpty()
	return writeJSON(filepath.Join(dir, metaFileName), post)
}

// ReadPost loads the metadata of a post.
func (s *FileStore) ReadPost(postID string) (Post, error) {
	if err := ValidateName(postID); err != nil {
		return Post{}, err
	}
	var post Post
	if err := readJSON(filepath.Join(s.PostDir(postID), metaFileName), &post); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Post{}, fmt.Errorf("%w: %s", ErrPostNotFound, postID)
		}
		return Post{}, err
	}
	return post, nil
}

// WritePost replaces the metadata of an existing post.
func (s *FileStore) WritePost(post Post) error {
	return s.UpdatePost(post.ID, func(stored *Post) error {
		*stored = post
		return nil
	})
}

// UpdatePost applies fn to the stored metadata and writes the result back. The
// update is skipped when fn returns an error.
func (s *FileStore) UpdatePost(postID string, fn func(*Post) error) error {
	if err := ValidateName(postID); err != nil {
		return err
	}
	unlock := s.locks.lock(postKey(postID))
	defer unlock()

	post, err := s.ReadPost(postID)
	if err != nil {
		return err
	}
	if err := fn(&post); err != nil {
		return err
	}
	post.fillEmpty()
	return writeJSON(filepath.Join(s.PostDir(postID), metaFileName), post)
}

// RemovePost deletes a post's directory. Removing a missing post is not an error.
func (s *FileStore) RemovePost(postID string) error {
	if err := ValidateName(postID); err != nil {
		return err
	}
	unlock := s.locks.lock(postKey(postID))
	defer unlock()
	return os.RemoveAll(s.PostDir(postID))
}

// ListPostIDs returns the ids of every post directory.
func (s *FileStore) ListPostIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, postDirName))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// WriteText stores the body of a post.
func (s *FileStore) WriteText(postID, text string) error {
	if err := ValidateName(postID); err != nil {
		return err
	}
	if _, err := os.Stat(s.PostDir(postID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrPostNotFound, postID)
		}
		return err
	}
	return writeFileAtomic(filepath.Join(s.PostDir(postID), textFileName), []byte(text))
}

// ReadText loads the body of a post.
func (s *FileStore) ReadText(postID string) (string, error) {
	if err := ValidateName(postID); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(s.PostDir(postID), textFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrPostNotFound, postID)
		}
		return "", err
	}
	return string(data), nil
}

// HasText reports whether a body has been stored for the post.
func (s *FileStore) HasText(postID string) bool {
	if ValidateName(postID) != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(s.PostDir(postID), textFileName))
	return err == nil
}

// RawImages lists the uploaded images of a post in name order.
func (s *FileStore) RawImages(postID string) ([]string, error) {
	if err := ValidateName(postID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.PostDir(postID), imageDirName, string(SizeRaw)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// CreateRawImage truncates or creates the raw file for an upload.
func (s *FileStore) CreateRawImage(postID, name string) error {
	if err := validateNames(postID, name); err != nil {
		return err
	}
	return os.WriteFile(s.ImagePath(postID, SizeRaw, name), nil, fileMode)
}

// OpenRawImage opens an existing raw file for appending upload chunks.
func (s *FileStore) OpenRawImage(postID, name string) (io.WriteCloser, error) {
	if err := validateNames(postID, name); err != nil {
		return nil, err
	}
	return os.OpenFile(s.ImagePath(postID, SizeRaw, name), os.O_WRONLY|os.O_APPEND, fileMode)
}

// RemoveRawImage deletes the raw file of an abandoned upload.
func (s *FileStore) RemoveRawImage(postID, name string) error {
	if err := validateNames(postID, name); err != nil {
		return err
	}
	err := os.Remove(s.ImagePath(postID, SizeRaw, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func postKey(postID string) string {
	return postDirName + "/" + postID
}

func validateNames(values ...string) error {
	for _, value := range values {
		if err := ValidateName(value); err != nil {
			return err
		}
	}
	return nil
}

func readJSON(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("storage: decode %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", path, err)
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	temp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tempPath := temp.Name()
	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return err
	}
	if err := temp.Sync(); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return err
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}
	if err := os.Chmod(tempPath, fileMode); err != nil {
		os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, path)
}
