package core

import (
	"context"
	"fmt"

	"pluginhost/internal/config"
	blobcore "pluginhost/internal/infra/blob/core"
	"pluginhost/internal/infra/blob/fs"
	"pluginhost/internal/infra/blob/s3"
	"pluginhost/internal/infra/persistence/blobstore"
	"pluginhost/internal/infra/persistence/memory"
	"pluginhost/internal/infra/persistence/postgres"
	"pluginhost/internal/infra/persistence/sqlite"
	"pluginhost/internal/manifest"
	"pluginhost/pkg/domain"
)

// OpenRegistry selects the registry backend named by cfg.RegistryDriver.
// Callers own the returned registry and must Close it.
func OpenRegistry(ctx context.Context, cfg config.Config) (domain.Registry, error) {
	switch cfg.RegistryDriver {
	case config.RegistryMemory:
		return memory.NewStore(), nil
	case config.RegistrySQLite:
		store, err := sqlite.NewStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.RegistryPostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.RegistryBlob:
		blobs, err := OpenBlobStore(ctx, cfg.Blob)
		if err != nil {
			return nil, err
		}
		return blobstore.NewStore(blobs, cfg.Blob.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown registry driver %s", cfg.RegistryDriver)
	}
}

// OpenBlobStore selects the object store backing the blob registry.
func OpenBlobStore(ctx context.Context, cfg config.Blob) (blobcore.Store, error) {
	switch cfg.Driver {
	case config.BlobFilesystem, "":
		store, err := fs.New(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BlobS3:
		store, err := s3.New(ctx, s3.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// NewScanner builds the manifest scanner described by cfg.
func NewScanner(cfg config.Config, opts ...manifest.Option) *manifest.Scanner {
	opts = append([]manifest.Option{manifest.WithManifestFile(cfg.ManifestFile)}, opts...)
	return manifest.NewScanner(cfg.PluginRoot, opts...)
}
