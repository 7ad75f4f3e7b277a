package failure

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	VerificationFailed = "verification_failed"
	ExtractionFailed   = "extraction_failed"
	DecodeFailed       = "decode_failed"
	EncodeFailed       = "encode_failed"
	RuleHandlerFailed  = "rule_handler_failed"
	InvalidRule        = "invalid_rule"
	Internal           = "internal_error"
)

// Error represents a stable, categorized webhook pipeline failure.
type Error struct {
	Category string
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Category
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", e.Category, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// Is matches another *Error by category so callers can write
// errors.Is(err, failure.New(failure.DecodeFailed, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}

	return e.Category == other.Category
}

// New creates a categorized error.
func New(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// Wrap creates a categorized error around a cause. A nil cause still yields an error.
func Wrap(category string, detail string, err error) error {
	return &Error{Category: category, Detail: detail, Err: err}
}

// CategoryOf returns the stable category for an error, Internal for uncategorized errors
// and "" for nil.
func CategoryOf(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	return Internal
}

// HasCategory reports whether err carries the given category anywhere in its chain.
func HasCategory(err error, category string) bool {
	return CategoryOf(err) == category
}

// HTTPStatus maps a failure onto the status code the transport reports for it.
//
// Message-path categories map to 200: the platform retries every non-200 answer.
func HTTPStatus(err error) int {
	switch CategoryOf(err) {
	case "":
		return http.StatusOK
	case VerificationFailed:
		return http.StatusForbidden
	case InvalidRule:
		return http.StatusBadRequest
	case DecodeFailed, EncodeFailed, RuleHandlerFailed:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
