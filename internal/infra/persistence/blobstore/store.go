// Package blobstore keeps plugin registry records as JSON objects in a
// blob store (local filesystem or S3).
package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pluginhost/internal/infra/blob/core"
	"pluginhost/pkg/domain"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "registry"

const contentType = "application/json"

var _ domain.Registry = (*Store)(nil)

// Store stores one object per plugin at <prefix>/<type>/<name>.json.
type Store struct {
	blobs  core.Store
	prefix string
}

// NewStore wraps blobs. An empty prefix selects DefaultPrefix.
func NewStore(blobs core.Store, prefix string) *Store {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{blobs: blobs, prefix: prefix}
}

// Blobs returns the underlying object store.
func (s *Store) Blobs() core.Store { return s.blobs }

func (s *Store) objectKey(key domain.Key) string {
	return s.prefix + "/" + key.Type + "/" + key.Name + ".json"
}

// Get returns the record for key or nil.
func (s *Store) Get(ctx context.Context, key domain.Key) (*domain.Record, error) {
	return s.read(ctx, s.objectKey(key))
}

func (s *Store) read(ctx context.Context, objectKey string) (*domain.Record, error) {
	_, rc, err := s.blobs.Get(ctx, objectKey)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	var rec domain.Record
	if err := json.NewDecoder(rc).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", objectKey, err)
	}
	return &rec, nil
}

// Put writes rec, replacing any existing object.
func (s *Store) Put(ctx context.Context, rec domain.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", rec.Key(), err)
	}
	if _, err := s.blobs.Put(ctx, s.objectKey(rec.Key()), bytes.NewReader(b), core.PutOptions{ContentType: contentType}); err != nil {
		return err
	}
	return nil
}

// Delete removes the record for key if present.
func (s *Store) Delete(ctx context.Context, key domain.Key) error {
	_, err := s.blobs.Delete(ctx, s.objectKey(key))
	return err
}

// ListAll reads every record object below the prefix. Objects that vanish
// between listing and reading are skipped.
func (s *Store) ListAll(ctx context.Context) (domain.Installed, error) {
	infos, err := s.blobs.List(ctx, s.prefix+"/")
	if err != nil {
		return nil, err
	}
	out := make(domain.Installed)
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, ".json") {
			continue
		}
		rec, err := s.read(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out.Add(*rec)
		}
	}
	return out, nil
}

// Close is a no-op; blob stores hold no long-lived handles.
func (s *Store) Close() error { return nil }
