package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput         = "PAYHOOKS_BAD_INPUT"
	ErrorUnauthorized     = "PAYHOOKS_UNAUTHORIZED"
	ErrorNotFound         = "PAYHOOKS_NOT_FOUND"
	ErrorConflict         = "PAYHOOKS_CONFLICT"
	ErrorTransient        = "PAYHOOKS_TRANSIENT"
	ErrorPermanent        = "PAYHOOKS_PERMANENT"
	ErrorLockContended    = "PAYHOOKS_LOCK_CONTENDED"
	ErrorQueueUnavailable = "PAYHOOKS_QUEUE_UNAVAILABLE"
	ErrorInternal         = "PAYHOOKS_INTERNAL_ERROR"
)

var (
	ErrLockContended    = errors.New("core: aggregate lock is held by another holder")
	ErrJobNotFound      = errors.New("core: queued job not found")
	ErrJobNotOwned      = errors.New("core: queued job claim is not owned by caller")
	ErrJobNotReplayable = errors.New("core: queued job is not dead-lettered")
)

// Transient marks err as retryable under the configured retry policy.
func Transient(err error, message string) error {
	return wrapFailure(err, goerrors.CategoryExternal, http.StatusServiceUnavailable, ErrorTransient, message)
}

// Permanent marks err as non-retryable; the job is dead-lettered on first failure.
func Permanent(err error, message string) error {
	return wrapFailure(err, goerrors.CategoryValidation, http.StatusUnprocessableEntity, ErrorPermanent, message)
}

// AggregateNotFound is a permanent failure for a referenced entity that does not exist.
func AggregateNotFound(message string, metadata map[string]any) error {
	err := goerrors.New(message, goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(ErrorPermanent)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func LockContended(lockKey string) error {
	err := goerrors.Wrap(ErrLockContended, goerrors.CategoryConflict, "core: lock contended for "+lockKey).
		WithCode(http.StatusConflict).
		WithTextCode(ErrorLockContended)
	err.WithMetadata(map[string]any{"lock_key": lockKey})
	return err
}

func QueueUnavailable(err error) error {
	return wrapFailure(err, goerrors.CategoryExternal, http.StatusServiceUnavailable, ErrorQueueUnavailable, "core: queue unavailable")
}

func wrapFailure(source error, category goerrors.Category, code int, textCode string, message string) error {
	message = strings.TrimSpace(message)
	if source == nil {
		if message == "" {
			message = strings.ToLower(textCode)
		}
		return goerrors.New(message, category).
			WithCode(code).
			WithTextCode(textCode)
	}
	if message == "" {
		message = source.Error()
	}
	return goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
}

// ClassifyFailure decides whether a handler or lock failure is worth retrying.
// Unknown errors are treated as transient; the attempt limit bounds them.
func ClassifyFailure(err error) FailureKind {
	if err == nil {
		return FailureKindNone
	}
	if errors.Is(err, ErrLockContended) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return FailureKindTransient
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch strings.TrimSpace(richErr.TextCode) {
		case ErrorPermanent, ErrorBadInput, ErrorNotFound:
			return FailureKindPermanent
		case ErrorTransient, ErrorLockContended, ErrorQueueUnavailable:
			return FailureKindTransient
		}
		switch richErr.Category {
		case goerrors.CategoryBadInput,
			goerrors.CategoryValidation,
			goerrors.CategoryNotFound,
			goerrors.CategoryAuth,
			goerrors.CategoryAuthz:
			return FailureKindPermanent
		default:
			return FailureKindTransient
		}
	}
	return FailureKindTransient
}

// MapError turns any error into the rich envelope used at the HTTP boundary.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}
	switch {
	case errors.Is(err, ErrJobNotFound):
		return ensureErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryNotFound).WithTextCode(ErrorNotFound))
	case errors.Is(err, ErrJobNotReplayable), errors.Is(err, ErrJobNotOwned):
		return ensureErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryConflict).WithTextCode(ErrorConflict))
	}
	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = HTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorUnauthorized
	case goerrors.CategoryConflict:
		return ErrorConflict
	case goerrors.CategoryExternal, goerrors.CategoryRateLimit:
		return ErrorTransient
	default:
		return ErrorInternal
	}
}

func HTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
