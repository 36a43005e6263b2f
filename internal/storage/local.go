package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by Read for keys that do not exist.
var ErrNotFound = eris.New("storage: key not found")

// IsNotFound reports whether err means the key was absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// Local stores keys as files under a root directory. Writes go to a temp
// file in the target directory and are renamed into place, so readers
// never observe a partially written document.
type Local struct {
	root string
}

// NewLocal creates a filesystem store rooted at dir.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, eris.Wrap(err, "storage: resolve root")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, eris.Wrap(err, "storage: create root")
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute root directory.
func (l *Local) Root() string { return l.root }

func (l *Local) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", eris.Errorf("storage: invalid key %q", key)
	}
	return filepath.Join(l.root, clean), nil
}

func (l *Local) Read(_ context.Context, key string) ([]byte, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "%s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: read %s", key)
	}
	return data, nil
}

func (l *Local) Write(_ context.Context, key string, data []byte) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "storage: mkdir for %s", key)
	}
	tmp, err := os.CreateTemp(dir, ".write-*")
	if err != nil {
		return eris.Wrapf(err, "storage: temp file for %s", key)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrapf(err, "storage: write %s", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "storage: close %s", key)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "storage: replace %s", key)
	}
	return nil
}

func (l *Local) Append(_ context.Context, key string, data []byte) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return eris.Wrapf(err, "storage: mkdir for %s", key)
	}
	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrapf(err, "storage: open append %s", key)
	}
	defer f.Close() //nolint:errcheck
	if _, err := f.Write(data); err != nil {
		return eris.Wrapf(err, "storage: append %s", key)
	}
	return nil
}

func (l *Local) List(_ context.Context, prefix string) ([]string, error) {
	base, err := l.path(prefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	walkErr := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".write-") {
			return nil
		}
		rel, relErr := filepath.Rel(l.root, p)
		if relErr != nil {
			return relErr
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if walkErr != nil {
		return nil, eris.Wrapf(walkErr, "storage: list %s", prefix)
	}
	return keys, nil
}

func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	p, err := l.path(key)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(p)
	if errors.Is(statErr, fs.ErrNotExist) {
		return false, nil
	}
	if statErr != nil {
		return false, eris.Wrapf(statErr, "storage: stat %s", key)
	}
	return true, nil
}
