package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsCategory(t *testing.T) {
	t.Parallel()

	err := New(ParameterValidationError, "invalid rule", nil)
	if !IsCategory(err, ParameterValidationError) {
		t.Fatalf("expected parameter validation category match")
	}
	if IsCategory(err, AuthError) {
		t.Fatalf("expected auth category mismatch")
	}

	wrapped := fmt.Errorf("publishing Notebook 'Hello': %w", err)
	if !IsCategory(wrapped, ParameterValidationError) {
		t.Fatalf("expected category match through fmt wrapping")
	}

	plain := errors.New("wrap: " + err.Error())
	if IsCategory(plain, ParameterValidationError) {
		t.Fatalf("plain string error must not match typed category")
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		category ErrorCategory
		fatal    bool
	}{
		{AuthError, true},
		{ParameterValidationError, true},
		{RepositoryError, true},
		{InputError, true},
		{APIRequestError, false},
		{DependencyUnmetError, false},
		{ProvisioningError, false},
	}
	for _, tc := range cases {
		err := New(tc.category, "boom", nil)
		if IsFatal(err) != tc.fatal {
			t.Fatalf("IsFatal(%s) = %v, want %v", tc.category, !tc.fatal, tc.fatal)
		}
	}

	if IsFatal(nil) {
		t.Fatalf("nil error must not be fatal")
	}
	if IsFatal(errors.New("untyped")) {
		t.Fatalf("untyped error must not be fatal")
	}
}

func TestAPIStatus(t *testing.T) {
	t.Parallel()

	status := &APIStatus{
		Method:     "POST",
		URL:        "https://api.fabric.microsoft.com/v1/workspaces/abc/items",
		StatusCode: 400,
		ErrorCode:  "ItemDisplayNameAlreadyInUse",
		Message:    "name is taken",
	}

	err := New(APIRequestError, "create failed", status)
	got, ok := StatusOf(err)
	if !ok {
		t.Fatalf("expected APIStatus through typed error chain")
	}
	if got.StatusCode != 400 || got.ErrorCode != "ItemDisplayNameAlreadyInUse" {
		t.Fatalf("unexpected status: %+v", got)
	}

	if _, ok := StatusOf(errors.New("no status")); ok {
		t.Fatalf("expected no APIStatus in plain error")
	}
}
