// Package jobs decides which processing steps a post needs before it can be
// published and runs them against the post's stored state.
package jobs

import (
	"slices"
	"strings"
)

// Kind names one processing step.
type Kind string

const (
	// KindAddText is satisfied when the author submits the post body.
	KindAddText Kind = "add_text"
	// KindThumbnails renders the small and large variants of every image.
	KindThumbnails Kind = "thumbnails"
	// KindReplyParent links the post into its parent's replies.
	KindReplyParent Kind = "reply_parent"
)

// Blocking reports whether the step is CPU-bound and must run on the blocking pool.
func (k Kind) Blocking() bool {
	return k == KindThumbnails
}

// Processing reports whether an executor runs the step, as opposed to the
// author satisfying it.
func (k Kind) Processing() bool {
	return k == KindThumbnails || k == KindReplyParent
}

// ProcessingKinds lists every step handled by an executor.
func ProcessingKinds() []Kind {
	return []Kind{KindThumbnails, KindReplyParent}
}

// Set is an unordered collection of kinds.
type Set map[Kind]struct{}

// NewSet builds a set holding kinds.
func NewSet(kinds ...Kind) Set {
	set := make(Set, len(kinds))
	for _, kind := range kinds {
		set[kind] = struct{}{}
	}
	return set
}

func (s Set) Add(kind Kind) {
	s[kind] = struct{}{}
}

func (s Set) Remove(kind Kind) {
	delete(s, kind)
}

func (s Set) Has(kind Kind) bool {
	_, ok := s[kind]
	return ok
}

func (s Set) Len() int {
	return len(s)
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	clone := make(Set, len(s))
	for kind := range s {
		clone[kind] = struct{}{}
	}
	return clone
}

// Sorted returns the kinds in lexical order.
func (s Set) Sorted() []Kind {
	kinds := make([]Kind, 0, len(s))
	for kind := range s {
		kinds = append(kinds, kind)
	}
	slices.SortFunc(kinds, func(a, b Kind) int { return strings.Compare(string(a), string(b)) })
	return kinds
}

// Draft is the view of a post that decides which steps apply to it.
type Draft struct {
	Images        []string
	ReplyTo       string
	TextSubmitted bool
}

// Applicable returns the processing steps the draft needs: thumbnails when it
// has at least one image and the parent link when it is a reply.
func Applicable(draft Draft) Set {
	set := NewSet()
	if len(draft.Images) > 0 {
		set.Add(KindThumbnails)
	}
	if draft.ReplyTo != "" {
		set.Add(KindReplyParent)
	}
	return set
}

// Initial returns the steps outstanding for a draft under composition: the
// processing steps plus the body text until it has been submitted.
func Initial(draft Draft) Set {
	set := Applicable(draft)
	if !draft.TextSubmitted {
		set.Add(KindAddText)
	}
	return set
}
