package domain

import "context"

// Registry is the durable source of truth for "is installed". Backends return
// raw I/O errors; callers add context.
type Registry interface {
	// Get returns the record for key, or nil when none exists.
	Get(ctx context.Context, key Key) (*Record, error)
	// Put inserts or replaces the record for rec.Key().
	Put(ctx context.Context, rec Record) error
	// Delete removes the record for key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key Key) error
	// ListAll returns a snapshot of every record.
	ListAll(ctx context.Context) (Installed, error)
	Close() error
}

// Scanner reads plugin manifests from disk. It never writes.
type Scanner interface {
	// FindDescriptor returns nil when the plugin directory or manifest is absent.
	FindDescriptor(ctx context.Context, key Key) (*Descriptor, error)
	ListTypes(ctx context.Context) ([]string, error)
	// ListAll skips unreadable manifests and reports them as warnings.
	ListAll(ctx context.Context) ([]Descriptor, []ScanWarning, error)
}
