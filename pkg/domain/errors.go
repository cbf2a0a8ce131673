package domain

import (
	"context"
	"errors"
	"strings"
)

// Error kinds surfaced by the plugin manager. Match them with errors.Is.
var (
	ErrPluginNotFound      = errors.New("plugin not found")
	ErrManifestUnreadable  = errors.New("manifest unreadable")
	ErrRegistryUnavailable = errors.New("registry unavailable")
	ErrTimeout             = errors.New("timeout")
	ErrLockContention      = errors.New("lock contention")
	ErrInvalidKey          = errors.New("invalid plugin key")
)

// PluginError attaches the failing operation and plugin key to an error. Both
// the kind and the underlying cause stay reachable through errors.Is/As.
type PluginError struct {
	Op   string
	Key  Key
	Kind error
	Err  error
}

func (e *PluginError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Key != (Key{}) {
		b.WriteString(" ")
		b.WriteString(e.Key.String())
	}
	// the kind is omitted when the cause already carries it
	if e.Kind != nil && (e.Err == nil || !errors.Is(e.Err, e.Kind)) {
		b.WriteString(": ")
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil && e.Err != e.Kind {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *PluginError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil && e.Err != e.Kind {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsTimeout reports whether err was caused by an expired deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
