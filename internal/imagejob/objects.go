package imagejob

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/zeebo/xxh3"
)

// ObjectStore persists image bytes and returns the URL they are served from.
type ObjectStore interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// FSStore is an ObjectStore backed by a local directory.
type FSStore struct {
	dir     string
	baseURL string
}

// NewFSStore creates the directory if needed. With an empty baseURL, Put
// returns file:// URLs.
func NewFSStore(dir, baseURL string) (*FSStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "imagejob: resolve %s", dir)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, eris.Wrapf(err, "imagejob: create %s", abs)
	}
	return &FSStore{dir: abs, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Put writes data under name. Writing the same name twice overwrites.
func (s *FSStore) Put(_ context.Context, name string, data []byte, _ string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", eris.Errorf("imagejob: invalid object name %q", name)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "imagejob: write %s", name)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", eris.Wrapf(err, "imagejob: rename %s", name)
	}
	if s.baseURL != "" {
		return s.baseURL + "/" + name, nil
	}
	return "file://" + filepath.ToSlash(path), nil
}

// ObjectName names stored images by content hash, so identical images are
// stored once.
func ObjectName(data []byte, contentType string) string {
	return fmt.Sprintf("%016x", xxh3.Hash(data)) + extension(contentType)
}

func extension(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".img"
	}
	switch mt {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	}
	if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".img"
}
