package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var ErrInvalidPath = errors.New("invalid storage path")

// Stored describes a file written to storage.
type Stored struct {
	Path string
	Name string
	Mime string
	Size int64
}

// FileStore persists uploaded files and resolves their public URLs.
type FileStore interface {
	Store(ctx context.Context, dir, name, mime string, r io.Reader) (Stored, error)
	Delete(ctx context.Context, relPath string) error
	URL(relPath string) string
}

// LocalStore keeps files under a root directory served at baseURL/storage.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore constructs a LocalStore and creates its root directory.
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Root is the directory files are written to.
func (s *LocalStore) Root() string { return s.root }

// Store writes r under dir/<random>/name. An empty or generic mime is replaced by
// one sniffed from the content.
func (s *LocalStore) Store(ctx context.Context, dir, name, mime string, r io.Reader) (Stored, error) {
	if err := ctx.Err(); err != nil {
		return Stored{}, err
	}

	name = sanitizeName(name)
	rel := path.Join(dir, strings.ReplaceAll(uuid.NewString(), "-", ""), name)
	full, err := s.resolve(rel)
	if err != nil {
		return Stored{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Stored{}, fmt.Errorf("create dir: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return Stored{}, fmt.Errorf("create file: %w", err)
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(full)
		return Stored{}, fmt.Errorf("write file: %w", err)
	}

	if mime == "" || mime == "application/octet-stream" {
		if detected, err := mimetype.DetectFile(full); err == nil {
			mime = detected.String()
		}
	}
	// Voice notes recorded on iOS arrive as audio/m4a without an extension.
	if mime == "audio/m4a" && !strings.HasSuffix(strings.ToLower(name), ".m4a") {
		fixed := strings.TrimSuffix(name, path.Ext(name)) + ".m4a"
		fixedRel := path.Join(path.Dir(rel), fixed)
		if fixedFull, err := s.resolve(fixedRel); err == nil && os.Rename(full, fixedFull) == nil {
			name, rel = fixed, fixedRel
		}
	}

	return Stored{Path: rel, Name: name, Mime: mime, Size: size}, nil
}

// Delete removes a stored file and its now-empty parent directory.
func (s *LocalStore) Delete(_ context.Context, relPath string) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	_ = os.Remove(filepath.Dir(full))
	return nil
}

// URL returns the public address of a stored file.
func (s *LocalStore) URL(relPath string) string {
	return s.baseURL + "/storage/" + strings.TrimLeft(relPath, "/")
}

func (s *LocalStore) resolve(rel string) (string, error) {
	clean := path.Clean("/" + rel)
	if clean == "/" {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}
