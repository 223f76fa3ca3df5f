package posts

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/frith/blog/internal/jobs"
	"github.com/frith/blog/internal/storage"
)

// Media lists the attachments uploaded for a post under composition.
type Media struct {
	Images []string
}

// IncompletePost is a post whose content is still being assembled.
type IncompletePost struct {
	Meta     storage.Post
	JobsLeft jobs.Set
	Media    Media
}

func (p IncompletePost) clone() IncompletePost {
	return IncompletePost{
		Meta:     p.Meta.Clone(),
		JobsLeft: p.JobsLeft.Clone(),
		Media:    Media{Images: slices.Clone(p.Media.Images)},
	}
}

// Target describes the post to the job executors.
func (p IncompletePost) Target() jobs.Target {
	return jobs.Target{
		PostID:  p.Meta.ID,
		ReplyTo: p.Meta.ReplyTo,
		Images:  slices.Clone(p.Media.Images),
	}
}

// Registry holds every post under composition. Values handed out are copies;
// TakeForCompletion is the only way to obtain an entry together with the
// guarantee that nothing else can still change it.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]IncompletePost
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]IncompletePost)}
}

// Start inserts a new entry. It fails with ErrConflict if the id is taken.
func (r *Registry) Start(post IncompletePost) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[post.Meta.ID]; exists {
		return fmt.Errorf("%w: post %s already in progress", ErrConflict, post.Meta.ID)
	}
	r.entries[post.Meta.ID] = post.clone()
	return nil
}

// Restore inserts or replaces an entry rebuilt from disk.
func (r *Registry) Restore(post IncompletePost) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[post.Meta.ID] = post.clone()
}

// Lookup returns a copy of the entry after checking that author owns it.
func (r *Registry) Lookup(postID, author string) (IncompletePost, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	post, err := r.ownedLocked(postID, author)
	if err != nil {
		return IncompletePost{}, err
	}
	return post.clone(), nil
}

// RegisterAttachment records an uploaded image and schedules thumbnails.
// Registering the same name twice keeps a single entry.
func (r *Registry) RegisterAttachment(postID, author, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	post, err := r.ownedLocked(postID, author)
	if err != nil {
		return err
	}
	if !slices.Contains(post.Media.Images, name) {
		post.Media.Images = append(post.Media.Images, name)
	}
	if post.JobsLeft == nil {
		post.JobsLeft = jobs.NewSet()
	}
	post.JobsLeft.Add(jobs.KindThumbnails)
	r.entries[postID] = post
	return nil
}

// TakeForCompletion removes the entry and returns it. Once it returns, later
// attachment registrations for the id report ErrNotFound.
func (r *Registry) TakeForCompletion(postID, author string) (IncompletePost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	post, err := r.ownedLocked(postID, author)
	if err != nil {
		return IncompletePost{}, err
	}
	delete(r.entries, postID)
	return post, nil
}

// Remove drops an entry and reports whether one existed.
func (r *Registry) Remove(postID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[postID]
	delete(r.entries, postID)
	return ok
}

// Sweep removes and returns every entry created at least maxAge before now.
func (r *Registry) Sweep(now time.Time, maxAge time.Duration) []IncompletePost {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []IncompletePost
	for id, post := range r.entries {
		if now.Sub(post.Meta.Timestamp) >= maxAge {
			stale = append(stale, post)
			delete(r.entries, id)
		}
	}
	return stale
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) ownedLocked(postID, author string) (IncompletePost, error) {
	post, ok := r.entries[postID]
	if !ok {
		return IncompletePost{}, fmt.Errorf("%w: post %s is not in progress", ErrNotFound, postID)
	}
	if post.Meta.Author != author {
		return IncompletePost{}, fmt.Errorf("%w: post %s belongs to another author", ErrForbidden, postID)
	}
	if !post.Meta.InProgress {
		return IncompletePost{}, fmt.Errorf("%w: post %s is already finished", ErrConflict, postID)
	}
	return post, nil
}
