package services

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("connection refused")
	err := Wrap(ErrTransient, "calendar", "submit", "squad 42", base)

	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	want := "transient failure: calendar: submit: squad 42: connection refused"
	if err.Error() != want {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := Wrap(nil, "chat", "send", "", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected default transient marker, got %v", err)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", Wrap(ErrTransient, "c", "op", "", nil), true},
		{"timeout", Wrap(ErrTimeout, "c", "op", "", nil), true},
		{"validation", Wrap(ErrValidation, "c", "op", "", nil), false},
		{"configuration", Wrap(ErrConfiguration, "c", "op", "", nil), false},
		{"unauthorized", Wrap(ErrUnauthorized, "c", "op", "", nil), false},
		{"untagged", fmt.Errorf("plain"), true},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("%s: Retryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}
