package jobs

import (
	"context"
	"errors"
	"slices"

	"github.com/frith/blog/internal/storage"
)

var errMissingParent = errors.New("jobs: post has no parent")

// PostUpdater performs a serialized read-modify-write of post metadata.
type PostUpdater interface {
	UpdatePost(postID string, fn func(*storage.Post) error) error
}

// ReplyLink appends a reply's id to its parent's replies.
type ReplyLink struct {
	posts PostUpdater
}

func NewReplyLink(posts PostUpdater) *ReplyLink {
	return &ReplyLink{posts: posts}
}

func (r *ReplyLink) Kind() Kind {
	return KindReplyParent
}

func (r *ReplyLink) Run(ctx context.Context, target Target) error {
	if target.ReplyTo == "" {
		return errMissingParent
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.posts.UpdatePost(target.ReplyTo, func(parent *storage.Post) error {
		if !slices.Contains(parent.Replies, target.PostID) {
			parent.Replies = append(parent.Replies, target.PostID)
		}
		return nil
	})
}
