package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a live session does not exist.
	ErrSessionNotFound = errors.New("live session not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrUserNotFound indicates the directory has no such user.
	ErrUserNotFound = errors.New("user not found")
	// ErrCourseNotFound indicates the directory has no such course.
	ErrCourseNotFound = errors.New("course not found")
	// ErrForbidden is returned when the caller may not perform the action.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition is returned when an action does not apply to the session state.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrInvalidQuizContent is returned when quiz content cannot be snapshotted.
	ErrInvalidQuizContent = errors.New("invalid quiz content")
	// ErrJoinCodeTaken is returned by stores when a join code collides with a live session.
	ErrJoinCodeTaken = errors.New("join code already in use")
)

// InvalidTransition describes why op is not allowed in state.
func InvalidTransition(op string, state SessionState) error {
	return fmt.Errorf("%w: %s not allowed while %s", ErrInvalidTransition, op, state)
}

// NotHost wraps ErrForbidden for host-only actions.
func NotHost(op string) error {
	return fmt.Errorf("%w: only the host can %s", ErrForbidden, op)
}
