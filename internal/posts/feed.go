package posts

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/frith/blog/internal/jobs"
	"github.com/frith/blog/internal/storage"
)

const feedReadParallelism = 8

// Latest returns up to amount finished posts, newest first, skipping the
// first after of them.
func (s *Service) Latest(ctx context.Context, amount, after int) ([]storage.Post, error) {
	if amount < 0 || after < 0 {
		return nil, newServiceError(opLatest, "invalid_range", ErrBadRequest, nil)
	}
	feed, err := s.feed(ctx)
	if err != nil {
		return nil, err
	}
	if after >= len(feed) {
		return []storage.Post{}, nil
	}
	end := after + min(amount, len(feed)-after)
	page := make([]storage.Post, 0, end-after)
	for _, post := range feed[after:end] {
		page = append(page, post.Clone())
	}
	return page, nil
}

func (s *Service) feed(ctx context.Context) ([]storage.Post, error) {
	cached, generation, ok := s.cache.Get()
	if ok {
		return cached, nil
	}

	users, err := s.store.ListUsers()
	if err != nil {
		s.logError(opLatest, "list_users_failed", err)
		return nil, newServiceError(opLatest, "list_users_failed", ErrInternal, err)
	}
	var ids []string
	for _, user := range users {
		ids = append(ids, user.Posts...)
	}

	metas := make([]*storage.Post, len(ids))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(feedReadParallelism)
	for index, id := range ids {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			meta, err := s.store.ReadPost(id)
			if errors.Is(err, storage.ErrPostNotFound) {
				s.logger.Warn("listed post missing", zap.String("post_id", id))
				return nil
			}
			if err != nil {
				return err
			}
			metas[index] = &meta
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		s.logError(opLatest, "read_failed", err)
		return nil, newServiceError(opLatest, "read_failed", ErrInternal, err)
	}

	feed := make([]storage.Post, 0, len(metas))
	for _, meta := range metas {
		if meta == nil || meta.InProgress {
			continue
		}
		feed = append(feed, *meta)
	}
	slices.SortStableFunc(feed, func(a, b storage.Post) int {
		if order := b.Timestamp.Compare(a.Timestamp); order != 0 {
			return order
		}
		return cmp.Compare(a.ID, b.ID)
	})
	s.cache.Store(generation, feed)
	return feed, nil
}

// Thread returns the longest chain of replies below postID, starting with the
// post itself. Ties go to the earlier reply.
func (s *Service) Thread(ctx context.Context, postID string) ([]storage.Post, error) {
	root, err := s.store.ReadPost(postID)
	if err != nil {
		return nil, s.readError(opThread, postID, err)
	}
	chain, err := s.longestChain(ctx, root)
	if err != nil {
		s.logError(opThread, "walk_failed", err, zap.String("post_id", postID))
		return nil, newServiceError(opThread, "walk_failed", ErrInternal, err)
	}
	return chain, nil
}

func (s *Service) longestChain(ctx context.Context, post storage.Post) ([]storage.Post, error) {
	branches := make([][]storage.Post, len(post.Replies))
	group, groupCtx := errgroup.WithContext(ctx)
	for index, replyID := range post.Replies {
		group.Go(func() error {
			reply, err := s.store.ReadPost(replyID)
			if errors.Is(err, storage.ErrPostNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if reply.ReplyTo != post.ID {
				return nil
			}
			branch, err := s.longestChain(groupCtx, reply)
			if err != nil {
				return err
			}
			branches[index] = branch
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var longest []storage.Post
	for _, branch := range branches {
		if len(branch) > len(longest) {
			longest = branch
		}
	}
	return append([]storage.Post{post}, longest...), nil
}

// RestoreIncomplete re-registers every post left in progress on disk, with
// the jobs its current state calls for. Posts whose text had already been
// submitted are published straight away. It returns how many posts were
// found in progress.
func (s *Service) RestoreIncomplete(ctx context.Context) (int, error) {
	ids, err := s.store.ListPostIDs()
	if err != nil {
		s.logError(opRestore, "list_failed", err)
		return 0, newServiceError(opRestore, "list_failed", ErrInternal, err)
	}

	var (
		mu       sync.Mutex
		restored []IncompletePost
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(restoreParallelism)
	for _, id := range ids {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			post, ok := s.rebuild(id)
			if !ok {
				return nil
			}
			s.registry.Restore(post)
			mu.Lock()
			restored = append(restored, post)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, newServiceError(opRestore, "interrupted", ErrInternal, err)
	}

	for _, post := range restored {
		s.logger.Info("restored incomplete post", zap.String("post_id", post.Meta.ID))
		if post.JobsLeft.Has(jobs.KindAddText) {
			continue
		}
		taken, err := s.registry.TakeForCompletion(post.Meta.ID, post.Meta.Author)
		if err != nil {
			continue
		}
		if _, err := s.Complete(ctx, taken); err != nil {
			s.logger.Warn("resumed post not published", zap.String("post_id", post.Meta.ID), zap.Error(err))
		}
	}
	return len(restored), nil
}

func (s *Service) rebuild(postID string) (IncompletePost, bool) {
	meta, err := s.store.ReadPost(postID)
	if err != nil {
		s.logger.Warn("unreadable post skipped during restore", zap.String("post_id", postID), zap.Error(err))
		return IncompletePost{}, false
	}
	if !meta.InProgress {
		return IncompletePost{}, false
	}
	images, err := s.store.RawImages(postID)
	if err != nil {
		s.logger.Warn("post images unreadable during restore", zap.String("post_id", postID), zap.Error(err))
	}
	draft := jobs.Draft{Images: images, ReplyTo: meta.ReplyTo, TextSubmitted: s.store.HasText(postID)}
	return IncompletePost{
		Meta:     meta,
		JobsLeft: jobs.Initial(draft),
		Media:    Media{Images: images},
	}, true
}

// SweepStale drops drafts older than the incomplete-post TTL together with
// their working directories and reports how many were dropped. A draft whose
// directory could not be removed stays registered for the next sweep.
func (s *Service) SweepStale(ctx context.Context) int {
	removed := 0
	for _, post := range s.registry.Sweep(s.clock(), s.incompleteTTL) {
		if err := s.store.RemovePost(post.Meta.ID); err != nil {
			s.logError(opSweep, "remove_failed", err, zap.String("post_id", post.Meta.ID))
			s.registry.Restore(post)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("stale in-progress posts removed", zap.Int("count", removed))
	}
	return removed
}
