package job

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/zacjmagee/genjobs/internal/generator"
)

// ErrorKind classifies why a job ended without a result.
type ErrorKind string

// Error kinds delivered in terminal events.
const (
	ErrorKindSubmission             ErrorKind = "submission"
	ErrorKindPoll                   ErrorKind = "poll"
	ErrorKindProviderBusiness       ErrorKind = "provider_business"
	ErrorKindResultFetch            ErrorKind = "result_fetch"
	ErrorKindTimeout                ErrorKind = "timeout"
	ErrorKindCancelled              ErrorKind = "cancelled"
	ErrorKindInvalidStateTransition ErrorKind = "invalid_state_transition"
)

// Messages shown when the provider supplied nothing better.
const (
	msgSubmission       = "The generation job could not be started."
	msgPoll             = "Lost contact with the provider while checking the job status."
	msgProviderBusiness = "The provider rejected the job."
	msgResultFetch      = "The job finished but its result could not be retrieved."
	msgTimeout          = "The job did not finish in time."
	msgCancelled        = "The job was cancelled."
	msgInternal         = "Internal error."
)

// maxMessageLength bounds provider messages copied into user-facing errors.
const maxMessageLength = 300

// Error is the normalized, user-safe error of a terminal job.
// Message never contains raw error chains, response bodies or credentials.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Code    int       `json:"code,omitempty"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// NewError creates an Error, falling back to the kind's generic message.
func NewError(kind ErrorKind, code int, message string) *Error {
	message = safeMessage(message)
	if message == "" {
		message = defaultMessage(kind)
	}
	return &Error{Kind: kind, Code: code, Message: message}
}

// Classify maps an adapter or engine error onto the job error taxonomy.
// Provider business messages are kept, everything else gets a generic message.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var jobErr *Error
	if errors.As(err, &jobErr) {
		c := *jobErr
		return &c
	}

	var be *generator.BusinessError
	isBusiness := errors.As(err, &be)

	switch {
	case errors.Is(err, ErrInvalidTransition):
		return NewError(ErrorKindInvalidStateTransition, 0, "")
	case errors.Is(err, generator.ErrResultFetch):
		if isBusiness {
			return NewError(ErrorKindResultFetch, be.Code, be.Message)
		}
		return NewError(ErrorKindResultFetch, 0, "")
	case isBusiness:
		return NewError(ErrorKindProviderBusiness, be.Code, be.Message)
	case errors.Is(err, context.Canceled):
		return NewError(ErrorKindCancelled, 0, "")
	case errors.Is(err, generator.ErrPoll):
		return NewError(ErrorKindPoll, 0, "")
	default:
		return NewError(ErrorKindSubmission, 0, "")
	}
}

func defaultMessage(kind ErrorKind) string {
	switch kind {
	case ErrorKindSubmission:
		return msgSubmission
	case ErrorKindPoll:
		return msgPoll
	case ErrorKindProviderBusiness:
		return msgProviderBusiness
	case ErrorKindResultFetch:
		return msgResultFetch
	case ErrorKindTimeout:
		return msgTimeout
	case ErrorKindCancelled:
		return msgCancelled
	default:
		return msgInternal
	}
}

// safeMessage collapses whitespace and control characters and truncates the message.
func safeMessage(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxMessageLength {
		s = string(r[:maxMessageLength]) + "..."
	}
	return s
}
