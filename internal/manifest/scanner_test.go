package manifest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pluginhost/pkg/domain"
)

func writeManifest(t *testing.T, root, pluginType, name string, doc any) string {
	t.Helper()
	dir := filepath.Join(root, pluginType, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	var data []byte
	switch v := doc.(type) {
	case string:
		data = []byte(v)
	default:
		var err error
		data, err = json.Marshal(v)
		require.NoError(t, err)
	}
	path := filepath.Join(dir, DefaultManifestFile)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestFindDescriptor(t *testing.T) {
	root := t.TempDir()
	path := writeManifest(t, root, "widget", "hello", map[string]string{
		"name": "hello", "version": "1.0.0", "description": "says hello", "main": "index.js",
	})
	s := NewScanner(root)

	desc, err := s.FindDescriptor(context.Background(), domain.NewKey("widget", "hello"))
	require.NoError(t, err)
	require.NotNil(t, desc)
	assert.Equal(t, domain.Descriptor{
		Type: "widget", Name: "hello", Version: "1.0.0", Description: "says hello", ManifestPath: path,
	}, *desc)
}

func TestFindDescriptorAbsent(t *testing.T) {
	root := t.TempDir()
	s := NewScanner(root)
	ctx := context.Background()

	desc, err := s.FindDescriptor(ctx, domain.NewKey("widget", "hello"))
	require.NoError(t, err)
	assert.Nil(t, desc)

	// directory without a manifest
	require.NoError(t, os.MkdirAll(filepath.Join(root, "widget", "empty"), 0o755))
	desc, err = s.FindDescriptor(ctx, domain.NewKey("widget", "empty"))
	require.NoError(t, err)
	assert.Nil(t, desc)

	// plugin "directory" is a regular file
	require.NoError(t, os.WriteFile(filepath.Join(root, "widget", "file"), []byte("x"), 0o644))
	desc, err = s.FindDescriptor(ctx, domain.NewKey("widget", "file"))
	require.NoError(t, err)
	assert.Nil(t, desc)

	// root itself absent
	desc, err = NewScanner(filepath.Join(root, "missing")).FindDescriptor(ctx, domain.NewKey("widget", "hello"))
	require.NoError(t, err)
	assert.Nil(t, desc)
}

func TestFindDescriptorUnreadable(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "widget", "broken", "{not json")
	writeManifest(t, root, "widget", "noversion", map[string]string{"name": "noversion"})
	writeManifest(t, root, "widget", "renamed", map[string]string{"name": "other", "version": "1"})
	writeManifest(t, root, "widget", "wrongtype", map[string]string{"name": "wrongtype", "type": "theme", "version": "1"})
	s := NewScanner(root)

	for _, name := range []string{"broken", "noversion", "renamed", "wrongtype"} {
		desc, err := s.FindDescriptor(context.Background(), domain.NewKey("widget", name))
		assert.ErrorIs(t, err, domain.ErrManifestUnreadable, name)
		assert.Nil(t, desc, name)
	}
}

func TestFindDescriptorRejectsInvalidKey(t *testing.T) {
	_, err := NewScanner(t.TempDir()).FindDescriptor(context.Background(), domain.NewKey("widget", "../escape"))
	assert.ErrorIs(t, err, domain.ErrInvalidKey)
}

func TestFindDescriptorYAML(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "theme", "dark")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte("name: dark\ntype: theme\nversion: 2.1.0\n"), 0o644))

	desc, err := NewScanner(root, WithManifestFile("plugin.yaml")).FindDescriptor(context.Background(), domain.NewKey("theme", "dark"))
	require.NoError(t, err)
	require.NotNil(t, desc)
	assert.Equal(t, "2.1.0", desc.Version)
	assert.Equal(t, "theme", desc.Type)
}

func TestListTypes(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "widget", "a", map[string]string{"name": "a", "version": "1"})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "theme"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".cache"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("x"), 0o644))

	types, err := NewScanner(root).ListTypes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"theme", "widget"}, types)

	types, err = NewScanner(filepath.Join(root, "absent")).ListTypes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, types)
}

func TestListAllSkipsUnreadable(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "widget", "b", map[string]string{"name": "b", "version": "2"})
	writeManifest(t, root, "widget", "a", map[string]string{"name": "a", "version": "1"})
	writeManifest(t, root, "theme", "dark", map[string]string{"name": "dark", "version": "3"})
	brokenPath := writeManifest(t, root, "theme", "broken", "[]")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "theme", "empty"), 0o755))

	descs, warnings, err := NewScanner(root, WithConcurrency(1)).ListAll(context.Background())
	require.NoError(t, err)

	var keys []string
	for _, d := range descs {
		keys = append(keys, d.Key().String())
	}
	assert.Equal(t, []string{"theme/dark", "widget/a", "widget/b"}, keys)
	require.Len(t, warnings, 1)
	assert.Equal(t, domain.NewKey("theme", "broken"), warnings[0].Key)
	assert.Equal(t, brokenPath, warnings[0].Path)
	assert.ErrorIs(t, warnings[0].Err, domain.ErrManifestUnreadable)
}

func TestListAllAbsentRoot(t *testing.T) {
	descs, warnings, err := NewScanner(filepath.Join(t.TempDir(), "nope")).ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, descs)
	assert.Empty(t, warnings)
}

func TestListAllFollowsLinkedPluginDirectories(t *testing.T) {
	root := t.TempDir()
	src := t.TempDir()
	writeManifest(t, src, "widget", "linked", map[string]string{"name": "linked", "version": "0.1.0"})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "widget"), 0o755))
	if err := os.Symlink(filepath.Join(src, "widget", "linked"), filepath.Join(root, "widget", "linked")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	descs, _, err := NewScanner(root).ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "linked", descs[0].Name)
}

func TestScannerHonoursDeadline(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "widget", "a", map[string]string{"name": "a", "version": "1"})
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := NewScanner(root).FindDescriptor(ctx, domain.NewKey("widget", "a"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, _, err = NewScanner(root).ListAll(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
