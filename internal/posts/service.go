// Package posts tracks posts under composition and runs the pipeline that
// turns them into published posts.
package posts

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/frith/blog/internal/jobs"
	"github.com/frith/blog/internal/joinqueue"
	"github.com/frith/blog/internal/storage"
)

const (
	DefaultIncompleteTTL     = time.Hour
	DefaultMaxConcurrentJobs = 4
	DefaultLatestAmount      = 10
	restoreParallelism       = 8
)

type ServiceConfig struct {
	Store             *storage.FileStore
	Registry          *Registry
	Executors         *jobs.Registry
	Pool              *joinqueue.BlockingPool
	MaxConcurrentJobs int
	IncompleteTTL     time.Duration
	Clock             func() time.Time
	IDProvider        IDProvider
	Logger            *zap.Logger
}

type Service struct {
	store         *storage.FileStore
	registry      *Registry
	executors     *jobs.Registry
	pool          *joinqueue.BlockingPool
	maxJobs       int
	incompleteTTL time.Duration
	clock         func() time.Time
	idProvider    IDProvider
	logger        *zap.Logger
	cache         LatestCache
}

// NewService wires the registry, executors and store. Without explicit
// executors it registers the thumbnail and reply-link executors over Store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", ErrInternal, errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", ErrInternal, errMissingIDProvider)
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	executors := cfg.Executors
	if executors == nil {
		executors = jobs.NewRegistry(
			jobs.NewThumbnails(cfg.Store, nil),
			jobs.NewReplyLink(cfg.Store),
		)
	}
	maxJobs := cfg.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = DefaultMaxConcurrentJobs
	}
	ttl := cfg.IncompleteTTL
	if ttl <= 0 {
		ttl = DefaultIncompleteTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:         cfg.Store,
		registry:      registry,
		executors:     executors,
		pool:          cfg.Pool,
		maxJobs:       maxJobs,
		incompleteTTL: ttl,
		clock:         clock,
		idProvider:    cfg.IDProvider,
		logger:        logger,
	}, nil
}

// Registry exposes the in-progress registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// StartPost creates the working directory and in-progress metadata for a new
// post and registers it. Stale drafts are swept first.
func (s *Service) StartPost(ctx context.Context, author, replyTo string) (storage.Post, error) {
	s.SweepStale(ctx)

	replyTo = strings.TrimSpace(replyTo)
	if replyTo != "" {
		parent, err := s.store.ReadPost(replyTo)
		if err != nil {
			if errors.Is(err, storage.ErrPostNotFound) || errors.Is(err, storage.ErrInvalidName) {
				return storage.Post{}, newServiceError(opStartPost, "parent_not_found", ErrBadRequest, err)
			}
			s.logError(opStartPost, "parent_read_failed", err, zap.String("reply_to", replyTo))
			return storage.Post{}, newServiceError(opStartPost, "parent_read_failed", ErrInternal, err)
		}
		if parent.InProgress {
			return storage.Post{}, newServiceError(opStartPost, "parent_in_progress", ErrConflict, nil)
		}
	}

	postID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opStartPost, "id_generation_failed", err)
		return storage.Post{}, newServiceError(opStartPost, "id_generation_failed", ErrInternal, err)
	}
	meta := storage.Post{
		ID:         postID,
		Author:     author,
		Timestamp:  s.clock().UTC(),
		ReplyTo:    replyTo,
		InProgress: true,
	}
	if err := s.store.CreatePost(meta); err != nil {
		s.logError(opStartPost, "create_failed", err, zap.String("post_id", postID))
		return storage.Post{}, newServiceError(opStartPost, "create_failed", ErrInternal, err)
	}

	draft := jobs.Draft{ReplyTo: replyTo}
	if err := s.registry.Start(IncompletePost{Meta: meta, JobsLeft: jobs.Initial(draft)}); err != nil {
		s.logError(opStartPost, "register_failed", err, zap.String("post_id", postID))
		return storage.Post{}, newServiceError(opStartPost, "register_failed", ErrInternal, err)
	}
	return meta.Clone(), nil
}

// PrepareAttachment creates the empty raw file an upload streams into.
func (s *Service) PrepareAttachment(ctx context.Context, postID, author, name string) error {
	if err := storage.ValidateName(name); err != nil {
		return newServiceError(opPrepareAttachment, "invalid_file_name", ErrBadRequest, err)
	}
	post, err := s.registry.Lookup(postID, author)
	if err != nil {
		return classify(opPrepareAttachment, err)
	}
	if slices.Contains(post.Media.Images, name) {
		return newServiceError(opPrepareAttachment, "already_registered", ErrConflict, nil)
	}
	if err := s.store.CreateRawImage(postID, name); err != nil {
		s.logError(opPrepareAttachment, "create_failed", err, zap.String("post_id", postID), zap.String("file", name))
		return newServiceError(opPrepareAttachment, "create_failed", ErrInternal, err)
	}
	return nil
}

// OpenAttachment opens a prepared raw file for appending upload chunks.
func (s *Service) OpenAttachment(ctx context.Context, postID, author, name string) (io.WriteCloser, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, newServiceError(opOpenAttachment, "invalid_file_name", ErrBadRequest, err)
	}
	post, err := s.registry.Lookup(postID, author)
	if err != nil {
		return nil, classify(opOpenAttachment, err)
	}
	if slices.Contains(post.Media.Images, name) {
		return nil, newServiceError(opOpenAttachment, "already_registered", ErrConflict, nil)
	}
	writer, err := s.store.OpenRawImage(postID, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newServiceError(opOpenAttachment, "not_prepared", ErrNotFound, err)
		}
		s.logError(opOpenAttachment, "open_failed", err, zap.String("post_id", postID), zap.String("file", name))
		return nil, newServiceError(opOpenAttachment, "open_failed", ErrInternal, err)
	}
	return writer, nil
}

// RegisterAttachment records a fully uploaded image on its post.
func (s *Service) RegisterAttachment(ctx context.Context, postID, author, name string) error {
	if err := storage.ValidateName(name); err != nil {
		return newServiceError(opRegisterAttachment, "invalid_file_name", ErrBadRequest, err)
	}
	if err := s.registry.RegisterAttachment(postID, author, name); err != nil {
		return classify(opRegisterAttachment, err)
	}
	return nil
}

// DiscardAttachment deletes the partial file of an abandoned upload.
func (s *Service) DiscardAttachment(ctx context.Context, postID, name string) error {
	if err := s.store.RemoveRawImage(postID, name); err != nil {
		s.logError(opDiscardAttachment, "remove_failed", err, zap.String("post_id", postID), zap.String("file", name))
		return newServiceError(opDiscardAttachment, "remove_failed", ErrInternal, err)
	}
	return nil
}

// Finish stores the body text, takes the post out of the registry and runs
// the pipeline to completion.
func (s *Service) Finish(ctx context.Context, postID, author, text string) (storage.Post, error) {
	if strings.TrimSpace(text) == "" {
		return storage.Post{}, newServiceError(opFinish, "empty_text", ErrBadRequest, errEmptyText)
	}
	if _, err := s.registry.Lookup(postID, author); err != nil {
		return storage.Post{}, classify(opFinish, err)
	}
	if err := s.store.WriteText(postID, text); err != nil {
		s.logError(opFinish, "text_write_failed", err, zap.String("post_id", postID))
		return storage.Post{}, newServiceError(opFinish, "text_write_failed", ErrInternal, err)
	}

	post, err := s.registry.TakeForCompletion(postID, author)
	if err != nil {
		return storage.Post{}, classify(opFinish, err)
	}
	post.JobsLeft.Remove(jobs.KindAddText)
	return s.Complete(ctx, post)
}

// Complete runs every outstanding job of a post taken from the registry and
// publishes it. Job failures are logged and do not stop publication.
func (s *Service) Complete(ctx context.Context, post IncompletePost) (storage.Post, error) {
	postID := post.Meta.ID
	detached := context.WithoutCancel(ctx)
	queue := joinqueue.New[jobs.Kind](detached, s.maxJobs, s.pool)
	target := post.Target()

	for _, kind := range post.JobsLeft.Sorted() {
		if !kind.Processing() {
			s.logger.Warn("job left without executor step",
				zap.String("post_id", postID),
				zap.String("job", string(kind)))
			continue
		}
		executor, err := s.executors.Executor(kind)
		if err != nil {
			s.logger.Warn("job skipped", zap.String("post_id", postID), zap.String("job", string(kind)), zap.Error(err))
			continue
		}
		if kind.Blocking() {
			queue.EnqueueBlocking(func() (jobs.Kind, error) {
				return kind, executor.Run(detached, target)
			})
			continue
		}
		queue.Enqueue(func(jobCtx context.Context) (jobs.Kind, error) {
			return kind, executor.Run(jobCtx, target)
		})
	}

	for {
		result, ok := queue.Next(detached)
		if !ok {
			break
		}
		if result.Err != nil {
			s.logger.Warn("job failed",
				zap.String("post_id", postID),
				zap.String("job", string(result.Value)),
				zap.Error(result.Err))
		}
	}

	finishedAt := s.clock().UTC()
	var published storage.Post
	err := s.store.UpdatePost(postID, func(meta *storage.Post) error {
		meta.InProgress = false
		meta.Timestamp = finishedAt
		meta.Images = append([]string{}, post.Media.Images...)
		published = meta.Clone()
		return nil
	})
	if err != nil {
		s.logError(opComplete, "meta_write_failed", err, zap.String("post_id", postID))
		return storage.Post{}, newServiceError(opComplete, "meta_write_failed", ErrInternal, err)
	}
	if err := s.store.AppendUserPost(published.Author, postID); err != nil {
		s.logError(opComplete, "user_update_failed", err,
			zap.String("post_id", postID),
			zap.String("author", published.Author))
		return storage.Post{}, newServiceError(opComplete, "user_update_failed", ErrInternal, err)
	}

	s.cache.Invalidate()
	s.logger.Info("post published", zap.String("post_id", postID), zap.String("author", published.Author))
	return published, nil
}

// Delete removes a post owned by username from disk, from its author's list
// and from the registry.
func (s *Service) Delete(ctx context.Context, postID, username string) error {
	meta, err := s.store.ReadPost(postID)
	if err != nil {
		return s.readError(opDelete, postID, err)
	}
	if meta.Author != username {
		return newServiceError(opDelete, "not_author", ErrForbidden, nil)
	}

	s.registry.Remove(postID)
	if err := s.store.RemovePost(postID); err != nil {
		s.logError(opDelete, "remove_failed", err, zap.String("post_id", postID))
		return newServiceError(opDelete, "remove_failed", ErrInternal, err)
	}
	if err := s.store.RemoveUserPost(meta.Author, postID); err != nil && !errors.Is(err, storage.ErrUserNotFound) {
		s.logError(opDelete, "user_update_failed", err, zap.String("post_id", postID))
		return newServiceError(opDelete, "user_update_failed", ErrInternal, err)
	}
	s.cache.Invalidate()
	return nil
}

func (s *Service) Meta(ctx context.Context, postID string) (storage.Post, error) {
	meta, err := s.store.ReadPost(postID)
	if err != nil {
		return storage.Post{}, s.readError(opMeta, postID, err)
	}
	return meta, nil
}

func (s *Service) Text(ctx context.Context, postID string) (string, error) {
	text, err := s.store.ReadText(postID)
	if err != nil {
		return "", s.readError(opText, postID, err)
	}
	return text, nil
}

// ImagePath resolves an image variant of a post to a file that exists.
func (s *Service) ImagePath(ctx context.Context, postID, size, name string) (string, error) {
	variant, err := storage.ParseThumbnailSize(size)
	if err != nil {
		return "", newServiceError(opImage, "invalid_size", ErrBadRequest, err)
	}
	if err := storage.ValidateName(postID); err != nil {
		return "", newServiceError(opImage, "invalid_post_id", ErrBadRequest, err)
	}
	if err := storage.ValidateName(name); err != nil {
		return "", newServiceError(opImage, "invalid_file_name", ErrBadRequest, err)
	}
	path := s.store.ImagePath(postID, variant, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", newServiceError(opImage, "image_not_found", ErrNotFound, err)
	}
	return path, nil
}

func (s *Service) readError(operation, postID string, err error) error {
	switch {
	case errors.Is(err, storage.ErrPostNotFound):
		return newServiceError(operation, "post_not_found", ErrNotFound, err)
	case errors.Is(err, storage.ErrInvalidName):
		return newServiceError(operation, "invalid_post_id", ErrBadRequest, err)
	default:
		s.logError(operation, "read_failed", err, zap.String("post_id", postID))
		return newServiceError(operation, "read_failed", ErrInternal, err)
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("posts service error", attrs...)
}
