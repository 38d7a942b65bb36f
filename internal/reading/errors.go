package reading

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a request-level failure with the HTTP status it maps to.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func notLoaded(label string, err error) error {
	return &Error{Status: http.StatusInternalServerError, Message: fmt.Sprintf("%s prompts not loaded", label), Err: err}
}

func internal(msg string) error {
	return &Error{Status: http.StatusInternalServerError, Message: msg}
}

func notFound(msg string, err error) error {
	return &Error{Status: http.StatusNotFound, Message: msg, Err: err}
}

// StatusOf returns the HTTP status for err, 500 when it carries none.
func StatusOf(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.Status
	}
	return http.StatusInternalServerError
}
