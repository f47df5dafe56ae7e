package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Uploader stores a rendered export and returns where it can be fetched.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// DirUploader writes exports to a local directory. Used in development
// when no object storage is configured.
type DirUploader struct {
	Dir string
}

func (u DirUploader) Upload(_ context.Context, name string, data []byte) (string, error) {
	if err := os.MkdirAll(u.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(u.Dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return "file://" + abs, nil
}
