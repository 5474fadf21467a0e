package blob

import (
	"context"
	"fmt"
	"os"
	"strings"

	fsstore "clonecore/internal/infra/blob/fs"
	memorystore "clonecore/internal/infra/blob/memory"
	s3store "clonecore/internal/infra/blob/s3"
)

// Config selects and parameterises a backend.
type Config struct {
	Driver    Driver
	Root      string // fs only
	Bucket    string // s3 only
	Prefix    string
	Region    string
	Endpoint  string // MinIO and other S3-compatible servers
	PathStyle bool
}

// Open constructs the store described by cfg. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFilesystem, "":
		return fsstore.New(cfg.Root)
	case DriverMemory:
		return memorystore.New(), nil
	case DriverS3:
		return s3store.New(ctx, s3store.Config{
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// ConfigFromEnv reads a Config from the process environment.
//
//	CLONECORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	CLONECORE_BLOB_ROOT: directory root when driver=fs
//	CLONECORE_BLOB_S3_BUCKET, CLONECORE_BLOB_S3_PREFIX, CLONECORE_BLOB_S3_REGION,
//	CLONECORE_BLOB_S3_ENDPOINT, CLONECORE_BLOB_S3_PATH_STYLE
func ConfigFromEnv() Config {
	return Config{
		Driver:    Driver(os.Getenv("CLONECORE_BLOB_DRIVER")),
		Root:      os.Getenv("CLONECORE_BLOB_ROOT"),
		Bucket:    os.Getenv("CLONECORE_BLOB_S3_BUCKET"),
		Prefix:    os.Getenv("CLONECORE_BLOB_S3_PREFIX"),
		Region:    os.Getenv("CLONECORE_BLOB_S3_REGION"),
		Endpoint:  os.Getenv("CLONECORE_BLOB_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("CLONECORE_BLOB_S3_PATH_STYLE"), "true"),
	}
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store { return memorystore.New() }

// NewMockS3ForTests returns an S3 store wired to an in-process fake server.
func NewMockS3ForTests() Store { return s3store.NewMockForTests() }
