package posts

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrBadRequest = errors.New("bad request")
	ErrInternal   = errors.New("internal error")

	errMissingStore      = errors.New("store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errEmptyText         = errors.New("post text is empty")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries an operation.reason code and unwraps to both the
// outcome category and the underlying cause.
type ServiceError struct {
	code string
	kind error
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() []error {
	if e.err == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.err}
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew         = "posts.service.new"
	opStartPost          = "posts.start"
	opPrepareAttachment  = "posts.prepare_attachment"
	opOpenAttachment     = "posts.open_attachment"
	opRegisterAttachment = "posts.register_attachment"
	opDiscardAttachment  = "posts.discard_attachment"
	opFinish             = "posts.finish"
	opComplete           = "posts.complete"
	opDelete             = "posts.delete"
	opMeta               = "posts.meta"
	opText               = "posts.text"
	opImage              = "posts.image"
	opLatest             = "posts.latest"
	opThread             = "posts.thread"
	opRestore            = "posts.restore"
	opSweep              = "posts.sweep"
)

func newServiceError(operation, reason string, kind, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, kind: kind, err: cause}
}

// classify wraps a registry error with the operation code, keeping its category.
func classify(operation string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return newServiceError(operation, "post_not_found", ErrNotFound, err)
	case errors.Is(err, ErrForbidden):
		return newServiceError(operation, "not_author", ErrForbidden, err)
	case errors.Is(err, ErrConflict):
		return newServiceError(operation, "not_in_progress", ErrConflict, err)
	case errors.Is(err, ErrBadRequest):
		return newServiceError(operation, "invalid_request", ErrBadRequest, err)
	default:
		return newServiceError(operation, "internal", ErrInternal, err)
	}
}
