package failure

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	err := Wrap(DecodeFailed, "parse envelope", errors.New("unexpected EOF"))
	if got, want := err.Error(), "decode_failed: parse envelope: unexpected EOF"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}

	if got, want := New(VerificationFailed, "").Error(), "verification_failed"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestCategoryOfWrappedError(t *testing.T) {
	t.Parallel()

	inner := New(EncodeFailed, "marshal reply")
	wrapped := fmt.Errorf("dispatch: %w", inner)

	if got := CategoryOf(wrapped); got != EncodeFailed {
		t.Fatalf("CategoryOf = %q, want %q", got, EncodeFailed)
	}
	if !errors.Is(wrapped, New(EncodeFailed, "other detail")) {
		t.Fatal("expected errors.Is to match on category")
	}
	if errors.Is(wrapped, New(DecodeFailed, "")) {
		t.Fatal("expected errors.Is to reject a different category")
	}
	if got := CategoryOf(errors.New("plain")); got != Internal {
		t.Fatalf("CategoryOf(plain) = %q, want %q", got, Internal)
	}
	if got := CategoryOf(nil); got != "" {
		t.Fatalf("CategoryOf(nil) = %q, want empty", got)
	}
}

func TestUnwrapKeepsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := Wrap(RuleHandlerFailed, "handler", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{New(VerificationFailed, ""), http.StatusForbidden},
		{New(ExtractionFailed, ""), http.StatusInternalServerError},
		{New(DecodeFailed, ""), http.StatusOK},
		{New(EncodeFailed, ""), http.StatusOK},
		{New(InvalidRule, ""), http.StatusBadRequest},
		{errors.New("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
