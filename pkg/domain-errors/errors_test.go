package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"hubbridge/pkg/platform/sentinel"
)

func TestHasCode(t *testing.T) {
	t.Run("matches outer code", func(t *testing.T) {
		err := New(CodeUnauthorized, "reauth required")
		if !HasCode(err, CodeUnauthorized) {
			t.Fatalf("expected code %s in %v", CodeUnauthorized, err)
		}
	})

	t.Run("matches wrapped code through fmt chain", func(t *testing.T) {
		inner := Wrap(sentinel.ErrNotFound, CodeNotFound, "session missing")
		err := fmt.Errorf("resolve portal: %w", inner)
		if !HasCode(err, CodeNotFound) {
			t.Fatalf("expected code %s in %v", CodeNotFound, err)
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			t.Fatalf("expected sentinel ErrNotFound in chain")
		}
	})

	t.Run("does not match absent code", func(t *testing.T) {
		err := New(CodeUpstream, "token endpoint returned 503")
		if HasCode(err, CodeUnauthorized) {
			t.Fatalf("unexpected code match on %v", err)
		}
	})
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != CodeInternal {
		t.Fatalf("expected unclassified errors to default to internal, got %s", got)
	}
	if got := CodeOf(New(CodeConflict, "state collision")); got != CodeConflict {
		t.Fatalf("expected conflict, got %s", got)
	}
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeBadRequest:   http.StatusBadRequest,
		CodeInvalidState: http.StatusBadRequest,
		CodeUnauthorized: http.StatusUnauthorized,
		CodeNotFound:     http.StatusNotFound,
		CodeConflict:     http.StatusConflict,
		CodeUpstream:     http.StatusBadGateway,
		CodeUnavailable:  http.StatusServiceUnavailable,
		CodeInternal:     http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := ToHTTPStatus(code); got != want {
			t.Fatalf("code %s: expected status %d, got %d", code, want, got)
		}
	}
}
