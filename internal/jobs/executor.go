package jobs

import (
	"context"
	"fmt"
)

// Target is what an executor needs to know about the post it processes.
type Target struct {
	PostID  string
	ReplyTo string
	Images  []string
}

// Executor performs one processing step. Running it again for the same target
// must leave the same result.
type Executor interface {
	Kind() Kind
	Run(ctx context.Context, target Target) error
}

// Registry maps kinds to their executors.
type Registry struct {
	executors map[Kind]Executor
}

// NewRegistry indexes executors by kind. A later executor for the same kind
// replaces an earlier one.
func NewRegistry(executors ...Executor) *Registry {
	registry := &Registry{executors: make(map[Kind]Executor, len(executors))}
	for _, executor := range executors {
		if executor == nil {
			continue
		}
		registry.executors[executor.Kind()] = executor
	}
	return registry
}

// Executor returns the executor for kind.
func (r *Registry) Executor(kind Kind) (Executor, error) {
	if r != nil {
		if executor, ok := r.executors[kind]; ok {
			return executor, nil
		}
	}
	return nil, fmt.Errorf("jobs: no executor for %q", kind)
}
