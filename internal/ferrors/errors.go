package ferrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds surfaced by the service. Callers wrap these with context and
// handlers map them to HTTP status codes with HTTPStatus.
var (
	ErrNotFound       = errors.New("not found")
	ErrUnavailable    = errors.New("container runtime unavailable")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternal       = errors.New("internal error")
)

// Wrap wraps an error with a message
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with a formatted message
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Mark attaches kind to err so that Is(err, kind) holds while err's own
// chain stays inspectable.
func Mark(err, kind error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// New creates a new error
func New(msg string) error {
	return errors.New(msg)
}

// Is checks if an error matches a target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As extracts an error of a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}

// HTTPStatus maps an error to the status code the API reports for it.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
