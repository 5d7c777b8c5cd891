package profiles

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/healwise/apiserver/config"
	"github.com/healwise/apiserver/internal/storage"
)

// ObjectReader is the slice of object storage the loader needs.
type ObjectReader interface {
	ReadAll(ctx context.Context, key string) ([]byte, error)
}

// Load reads the dataset named by cfg.Source. An empty source yields an
// empty dataset; "file" reads cfg.Path; "minio" and "gcs" read cfg.ObjectKey
// through objects, which must then be non-nil.
func Load(ctx context.Context, cfg config.ProfilesConfig, objects ObjectReader) (*Dataset, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "":
		return Empty(), nil
	case "file":
		f, err := os.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open profiles file: %w", err)
		}
		defer f.Close()
		return Decode(f)
	case "minio", "gcs":
		if objects == nil {
			return nil, fmt.Errorf("profiles source %q requires object storage", cfg.Source)
		}
		data, err := objects.ReadAll(ctx, cfg.ObjectKey)
		if err != nil {
			return nil, fmt.Errorf("read profiles object %q: %w", cfg.ObjectKey, err)
		}
		return Decode(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unsupported profiles source %q", cfg.Source)
	}
}

// LoadFromConfig opens object storage when the source needs it and loads
// the dataset.
func LoadFromConfig(ctx context.Context, cfg config.Config) (*Dataset, error) {
	source := strings.ToLower(strings.TrimSpace(cfg.Profiles.Source))
	if source != "minio" && source != "gcs" {
		return Load(ctx, cfg.Profiles, nil)
	}
	objects, err := storage.Open(ctx, source, cfg)
	if err != nil {
		return nil, err
	}
	return Load(ctx, cfg.Profiles, objects)
}
