package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"

	"live-quiz-service/internal/domain"
)

type Code codes.Code

const (
	CodeInvalidArgument    = Code(codes.InvalidArgument)
	CodeNotFound           = Code(codes.NotFound)
	CodeAlreadyExists      = Code(codes.AlreadyExists)
	CodePermissionDenied   = Code(codes.PermissionDenied)
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	CodeInternal           = Code(codes.Internal)
	CodeUnauthenticated    = Code(codes.Unauthenticated)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeAlreadyExists:      http.StatusConflict,
	CodePermissionDenied:   http.StatusForbidden,
	CodeFailedPrecondition: http.StatusConflict,
	CodeInternal:           http.StatusInternalServerError,
	CodeUnauthenticated:    http.StatusUnauthorized,
}

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

// Name is the lower snake form used on the wire, e.g. "not_found".
func (e *Error) Name() string {
	switch e.Code {
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeNotFound:
		return "not_found"
	case CodeAlreadyExists:
		return "already_exists"
	case CodePermissionDenied:
		return "forbidden"
	case CodeFailedPrecondition:
		return "invalid_transition"
	case CodeUnauthenticated:
		return "unauthenticated"
	default:
		return "internal"
	}
}

// Convert maps err onto a coded error. Domain sentinels get their codes;
// anything unrecognised becomes Internal.
func Convert(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrCourseNotFound):
		return New(CodeNotFound, WithCause(err), WithMessagef("%s", err))
	case errors.Is(err, domain.ErrForbidden):
		return New(CodePermissionDenied, WithCause(err), WithMessagef("%s", err))
	case errors.Is(err, domain.ErrInvalidTransition):
		return New(CodeFailedPrecondition, WithCause(err), WithMessagef("%s", err))
	case errors.Is(err, domain.ErrInvalidQuizContent):
		return New(CodeInvalidArgument, WithCause(err), WithMessagef("%s", err))
	case errors.Is(err, domain.ErrJoinCodeTaken):
		return New(CodeAlreadyExists, WithCause(err), WithMessagef("%s", err))
	}

	return Internal(err)
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, WithMessagef(format, args...))
}

func Unauthenticated(err error) *Error {
	return New(CodeUnauthenticated, WithCause(err))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
