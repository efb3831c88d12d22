package fault

import (
	"errors"
	"fmt"
)

// AuthError means a backend rejected our credentials. It aborts the whole
// run; the next scheduled run starts over with fresh state.
type AuthError struct {
	Service string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: authentication failed: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s: authentication failed", e.Service)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConfigError marks a configuration problem that makes the run pointless to
// continue (missing credentials, unusable settings). Run-fatal.
type ConfigError struct {
	Setting string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Setting, e.Reason)
}

// TransientError wraps a failure the next scheduled run is expected to heal
// on its own (network hiccups, upstream 5xx). Surfaced as a warning.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Fatal reports whether err should abort the whole run rather than just the
// current publication.
func Fatal(err error) bool {
	var auth *AuthError
	var conf *ConfigError
	return errors.As(err, &auth) || errors.As(err, &conf)
}

// Transient reports whether err is expected to self-heal on the next run.
func Transient(err error) bool {
	var tr *TransientError
	return errors.As(err, &tr)
}
