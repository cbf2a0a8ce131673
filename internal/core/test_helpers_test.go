package core

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pluginhost/internal/infra/persistence/memory"
	"pluginhost/internal/manifest"
	"pluginhost/pkg/domain"
)

type fixture struct {
	root     string
	scanner  *manifest.Scanner
	registry *memory.Store
	manager  *Manager
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	root := filepath.Join(t.TempDir(), "plugins")
	f := &fixture{root: root, scanner: manifest.NewScanner(root), registry: memory.NewStore()}
	f.manager = NewManager(f.scanner, f.registry, opts...)
	return f
}

func (f *fixture) writePlugin(t *testing.T, pluginType, name, version string) {
	t.Helper()
	dir := filepath.Join(f.root, pluginType, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	b, err := json.Marshal(map[string]string{"name": name, "version": version})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.DefaultManifestFile), b, 0o644))
}

func (f *fixture) removePlugin(t *testing.T, pluginType, name string) {
	t.Helper()
	require.NoError(t, os.RemoveAll(filepath.Join(f.root, pluginType, name)))
}

// stepClock returns strictly increasing timestamps.
func stepClock(start time.Time) func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return start.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

// fakeScanner serves descriptors from memory.
type fakeScanner struct {
	mu    sync.Mutex
	descs map[domain.Key]domain.Descriptor
	find  func(ctx context.Context, key domain.Key) (*domain.Descriptor, error)
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{descs: make(map[domain.Key]domain.Descriptor)}
}

func (s *fakeScanner) set(key domain.Key, version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descs[key] = domain.Descriptor{Type: key.Type, Name: key.Name, Version: version, ManifestPath: "/mem/" + key.String()}
}

func (s *fakeScanner) remove(key domain.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.descs, key)
}

func (s *fakeScanner) FindDescriptor(ctx context.Context, key domain.Key) (*domain.Descriptor, error) {
	if s.find != nil {
		return s.find(ctx, key)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.descs[key]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *fakeScanner) ListTypes(ctx context.Context) ([]string, error) {
	descs, _, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, d := range descs {
		if !seen[d.Type] {
			seen[d.Type] = true
			out = append(out, d.Type)
		}
	}
	return out, nil
}

func (s *fakeScanner) ListAll(ctx context.Context) ([]domain.Descriptor, []domain.ScanWarning, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Descriptor, 0, len(s.descs))
	for _, d := range s.descs {
		out = append(out, d)
	}
	return out, nil, nil
}

// faultyRegistry wraps a registry and fails selected calls.
type faultyRegistry struct {
	domain.Registry
	err      error
	failGet  bool
	failPut  bool
	failList bool
	failDel  bool
}

func (r *faultyRegistry) Get(ctx context.Context, key domain.Key) (*domain.Record, error) {
	if r.failGet {
		return nil, r.err
	}
	return r.Registry.Get(ctx, key)
}

func (r *faultyRegistry) Put(ctx context.Context, rec domain.Record) error {
	if r.failPut {
		return r.err
	}
	return r.Registry.Put(ctx, rec)
}

func (r *faultyRegistry) Delete(ctx context.Context, key domain.Key) error {
	if r.failDel {
		return r.err
	}
	return r.Registry.Delete(ctx, key)
}

func (r *faultyRegistry) ListAll(ctx context.Context) (domain.Installed, error) {
	if r.failList {
		return nil, r.err
	}
	return r.Registry.ListAll(ctx)
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	mu    sync.Mutex
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}
