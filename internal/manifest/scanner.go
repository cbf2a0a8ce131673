// Package manifest locates plugin manifests laid out as
// <root>/<type>/<name>/<manifest file> and decodes them into descriptors.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"pluginhost/pkg/domain"
)

// DefaultManifestFile is the descriptor file looked up in every plugin directory.
const DefaultManifestFile = "package.json"

var _ domain.Scanner = (*Scanner)(nil)

// Scanner reads descriptors from a plugin root. It holds no cache; every call
// goes back to the filesystem.
type Scanner struct {
	root         string
	manifestFile string
	concurrency  int
	logger       *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithManifestFile overrides the manifest file name.
func WithManifestFile(name string) Option {
	return func(s *Scanner) {
		if name != "" {
			s.manifestFile = name
		}
	}
}

// WithConcurrency bounds how many type directories ListAll reads at once.
func WithConcurrency(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLogger sets the logger used to report skipped manifests.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScanner returns a scanner rooted at root.
func NewScanner(root string, opts ...Option) *Scanner {
	s := &Scanner{
		root:         root,
		manifestFile: DefaultManifestFile,
		concurrency:  4,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the plugin root directory.
func (s *Scanner) Root() string { return s.root }

// ManifestFile returns the manifest file name looked up per plugin.
func (s *Scanner) ManifestFile() string { return s.manifestFile }

// PathFor returns where the manifest for key is expected.
func (s *Scanner) PathFor(key domain.Key) string {
	return filepath.Join(s.root, key.Type, key.Name, s.manifestFile)
}

// FindDescriptor reads the manifest for key. A missing directory or file
// yields (nil, nil).
func (s *Scanner) FindDescriptor(ctx context.Context, key domain.Key) (*domain.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	path := s.PathFor(key)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) || isNotDir(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	desc, err := decode(path, data, key)
	if err != nil {
		return nil, err
	}
	return &desc, nil
}

// ListTypes returns the sorted names of the directories directly below the
// plugin root. An absent root yields an empty result.
func (s *Scanner) ListTypes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return listDirs(s.root)
}

// ListAll returns every readable descriptor below the root, sorted by key.
// Manifests that fail to decode are skipped and returned as warnings.
func (s *Scanner) ListAll(ctx context.Context) ([]domain.Descriptor, []domain.ScanWarning, error) {
	types, err := s.ListTypes(ctx)
	if err != nil {
		return nil, nil, err
	}

	var (
		mu       sync.Mutex
		descs    []domain.Descriptor
		warnings []domain.ScanWarning
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, t := range types {
		g.Go(func() error {
			d, w, err := s.scanType(gctx, t)
			if err != nil {
				return err
			}
			mu.Lock()
			descs = append(descs, d...)
			warnings = append(warnings, w...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Slice(descs, func(i, j int) bool { return lessKey(descs[i].Key(), descs[j].Key()) })
	sort.Slice(warnings, func(i, j int) bool { return lessKey(warnings[i].Key, warnings[j].Key) })
	for _, w := range warnings {
		s.logger.Warn("skipping unreadable plugin manifest", "plugin", w.Key.String(), "path", w.Path, "error", w.Err)
	}
	return descs, warnings, nil
}

func (s *Scanner) scanType(ctx context.Context, pluginType string) ([]domain.Descriptor, []domain.ScanWarning, error) {
	names, err := listDirs(filepath.Join(s.root, pluginType))
	if err != nil {
		return nil, nil, err
	}
	var (
		descs    []domain.Descriptor
		warnings []domain.ScanWarning
	)
	for _, name := range names {
		key := domain.NewKey(pluginType, name)
		desc, err := s.FindDescriptor(ctx, key)
		switch {
		case ctx.Err() != nil:
			return nil, nil, ctx.Err()
		case err != nil:
			warnings = append(warnings, domain.ScanWarning{Key: key, Path: s.PathFor(key), Err: err})
		case desc != nil:
			descs = append(descs, *desc)
		}
	}
	return descs, warnings, nil
}

// manifestDoc is the subset of a manifest this package understands. Unknown
// fields are ignored so package.json files decode as is.
type manifestDoc struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
}

func decode(path string, data []byte, key domain.Key) (domain.Descriptor, error) {
	var doc manifestDoc
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return domain.Descriptor{}, fmt.Errorf("%w: %s: %v", domain.ErrManifestUnreadable, path, err)
	}
	if doc.Type == "" {
		doc.Type = key.Type
	}
	switch {
	case strings.TrimSpace(doc.Name) == "":
		return domain.Descriptor{}, fmt.Errorf("%w: %s: missing name", domain.ErrManifestUnreadable, path)
	case strings.TrimSpace(doc.Version) == "":
		return domain.Descriptor{}, fmt.Errorf("%w: %s: missing version", domain.ErrManifestUnreadable, path)
	case doc.Name != key.Name:
		return domain.Descriptor{}, fmt.Errorf("%w: %s: name %q does not match directory %q", domain.ErrManifestUnreadable, path, doc.Name, key.Name)
	case doc.Type != key.Type:
		return domain.Descriptor{}, fmt.Errorf("%w: %s: type %q does not match directory %q", domain.ErrManifestUnreadable, path, doc.Type, key.Type)
	}
	return domain.Descriptor{
		Type:         doc.Type,
		Name:         doc.Name,
		Version:      doc.Version,
		Description:  doc.Description,
		ManifestPath: path,
	}, nil
}

func listDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) || isNotDir(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.Type()&fs.ModeSymlink != 0 {
			// linked plugin directories count when the target is a directory
			fi, err := os.Stat(filepath.Join(dir, e.Name()))
			if err != nil || !fi.IsDir() {
				continue
			}
		} else if !e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// isNotDir catches ENOTDIR when a path component is a regular file.
func isNotDir(err error) bool {
	return errors.Is(err, syscall.ENOTDIR)
}

func lessKey(a, b domain.Key) bool {
	if a.Type == b.Type {
		return a.Name < b.Name
	}
	return a.Type < b.Type
}
