// Package config resolves plugin host settings from PLUGINHOST_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// RegistryDriver selects the registry backend.
type RegistryDriver string

const (
	RegistryMemory   RegistryDriver = "memory"   // in-memory only (tests / ephemeral)
	RegistrySQLite   RegistryDriver = "sqlite"   // embedded sqlite file
	RegistryPostgres RegistryDriver = "postgres" // PostgreSQL server
	RegistryBlob     RegistryDriver = "blob"     // JSON objects in a blob store
)

// BlobDriver selects the object store behind the blob registry.
type BlobDriver string

const (
	BlobFilesystem BlobDriver = "fs"
	BlobS3         BlobDriver = "s3"
)

// Environment variable names.
const (
	EnvServerRoot     = "PLUGINHOST_SERVER_ROOT"
	EnvPluginDir      = "PLUGINHOST_PLUGIN_DIR"
	EnvManifestFile   = "PLUGINHOST_MANIFEST_FILE"
	EnvRegistryDriver = "PLUGINHOST_REGISTRY_DRIVER"
	EnvSQLitePath     = "PLUGINHOST_SQLITE_PATH"
	EnvPostgresDSN    = "PLUGINHOST_POSTGRES_DSN"
	EnvBlobDriver     = "PLUGINHOST_BLOB_DRIVER"
	EnvBlobPrefix     = "PLUGINHOST_BLOB_PREFIX"
	EnvBlobFSRoot     = "PLUGINHOST_BLOB_FS_ROOT"
	EnvS3Bucket       = "PLUGINHOST_BLOB_S3_BUCKET"
	EnvS3Region       = "PLUGINHOST_BLOB_S3_REGION"
	EnvS3Endpoint     = "PLUGINHOST_BLOB_S3_ENDPOINT"
	EnvS3PathStyle    = "PLUGINHOST_BLOB_S3_PATH_STYLE"
	EnvTimeout        = "PLUGINHOST_TIMEOUT"
)

// Defaults.
const (
	DefaultPluginDir    = "plugins"
	DefaultManifestFile = "package.json"
	DefaultSQLiteFile   = "pluginhost.db"
	DefaultBlobDir      = "registry"
	DefaultBlobPrefix   = "registry"
)

// Blob holds settings for the blob registry.
type Blob struct {
	Driver      BlobDriver
	Prefix      string
	FSRoot      string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
}

// Config is the resolved plugin host configuration. Paths are absolute.
type Config struct {
	ServerRoot     string
	PluginRoot     string
	ManifestFile   string
	RegistryDriver RegistryDriver
	SQLitePath     string
	PostgresDSN    string
	Blob           Blob
	Timeout        time.Duration
}

// FromEnv loads configuration from the process environment.
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load resolves configuration through getenv. Relative paths are anchored
// at the server root, which defaults to the working directory.
func Load(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	serverRoot := get(EnvServerRoot, ".")
	serverRoot, err := filepath.Abs(serverRoot)
	if err != nil {
		return Config{}, fmt.Errorf("resolve %s: %w", EnvServerRoot, err)
	}
	cfg := Config{
		ServerRoot:     serverRoot,
		PluginRoot:     anchor(serverRoot, get(EnvPluginDir, DefaultPluginDir)),
		ManifestFile:   get(EnvManifestFile, DefaultManifestFile),
		RegistryDriver: RegistryDriver(strings.ToLower(get(EnvRegistryDriver, string(RegistrySQLite)))),
		SQLitePath:     anchor(serverRoot, get(EnvSQLitePath, DefaultSQLiteFile)),
		PostgresDSN:    get(EnvPostgresDSN, ""),
		Blob: Blob{
			Driver:     BlobDriver(strings.ToLower(get(EnvBlobDriver, string(BlobFilesystem)))),
			Prefix:     get(EnvBlobPrefix, DefaultBlobPrefix),
			FSRoot:     anchor(serverRoot, get(EnvBlobFSRoot, DefaultBlobDir)),
			S3Bucket:   get(EnvS3Bucket, ""),
			S3Region:   get(EnvS3Region, ""),
			S3Endpoint: get(EnvS3Endpoint, ""),
		},
	}
	if v := get(EnvS3PathStyle, ""); v != "" {
		cfg.Blob.S3PathStyle, err = strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvS3PathStyle, err)
		}
	}
	if v := get(EnvTimeout, ""); v != "" {
		cfg.Timeout, err = time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvTimeout, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks driver names and driver-specific requirements.
func (c Config) Validate() error {
	if strings.ContainsAny(c.ManifestFile, `/\`) {
		return fmt.Errorf("manifest file %q must be a bare file name", c.ManifestFile)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %s", c.Timeout)
	}
	switch c.RegistryDriver {
	case RegistryMemory, RegistrySQLite, RegistryPostgres:
	case RegistryBlob:
		switch c.Blob.Driver {
		case BlobFilesystem:
		case BlobS3:
			if c.Blob.S3Bucket == "" {
				return fmt.Errorf("%s required for s3 blob driver", EnvS3Bucket)
			}
		default:
			return fmt.Errorf("unknown blob driver %s", c.Blob.Driver)
		}
	default:
		return fmt.Errorf("unknown registry driver %s", c.RegistryDriver)
	}
	return nil
}

func anchor(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}
