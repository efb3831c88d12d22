package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestFatalClassification(t *testing.T) {
	auth := &AuthError{Service: "portal"}
	if !Fatal(auth) {
		t.Error("expected auth error to be fatal")
	}

	conf := &ConfigError{Setting: "mail.host", Reason: "not set"}
	if !Fatal(conf) {
		t.Error("expected config error to be fatal")
	}

	tr := &TransientError{Op: "listing editions", Err: errors.New("timeout")}
	if Fatal(tr) {
		t.Error("transient error must not be fatal")
	}
	if !Transient(tr) {
		t.Error("expected transient classification")
	}
}

func TestFatalThroughWrapping(t *testing.T) {
	err := fmt.Errorf("processing publication: %w", &AuthError{Service: "portal", Err: errors.New("403")})
	if !Fatal(err) {
		t.Error("expected fatality to survive wrapping")
	}

	if Fatal(errors.New("plain")) {
		t.Error("plain errors are not fatal")
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := fmt.Errorf("step: %w", &TransientError{Op: "download", Err: inner})
	if !errors.Is(err, inner) {
		t.Error("expected unwrap chain to reach inner error")
	}
}
