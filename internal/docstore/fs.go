// fs.go implements the filesystem-backed document store.
//
// Layout: <root>/<index>/<documentID>/<name>. Writes go to a temp file in
// the target directory followed by an atomic rename, so a reader opening
// the named file always sees a complete snapshot. File and document names
// are validated against traversal before touching the disk.

package docstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FS is a Store rooted at a local directory.
type FS struct {
	root string
}

// NewFS returns a filesystem store rooted at dir, creating it if needed.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create document store root: %w", err)
	}
	return &FS{root: dir}, nil
}

func (f *FS) CreateIndex(_ context.Context, index string) error {
	p, err := f.indexPath(index)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	return nil
}

func (f *FS) DeleteIndex(_ context.Context, index string) error {
	p, err := f.indexPath(index)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("delete index %s: %w", index, err)
	}
	return nil
}

func (f *FS) CreateDocument(_ context.Context, index, documentID string) error {
	p, err := f.documentPath(index, documentID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return fmt.Errorf("create document %s/%s: %w", index, documentID, err)
	}
	return nil
}

func (f *FS) DeleteDocument(_ context.Context, index, documentID string) error {
	p, err := f.documentPath(index, documentID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("delete document %s/%s: %w", index, documentID, err)
	}
	return nil
}

func (f *FS) EmptyDocument(ctx context.Context, index, documentID string) error {
	names, err := f.ListFiles(ctx, index, documentID)
	if err != nil {
		return err
	}
	p, err := f.documentPath(index, documentID)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(p, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("empty document %s/%s: %w", index, documentID, err)
		}
	}
	return nil
}

func (f *FS) WriteFile(_ context.Context, index, documentID, name string, content io.Reader) error {
	dir, err := f.documentPath(index, documentID)
	if err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

func (f *FS) ReadFile(_ context.Context, index, documentID, name string) (io.ReadCloser, error) {
	dir, err := f.documentPath(index, documentID)
	if err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	rc, err := os.Open(filepath.Join(dir, name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s/%s/%s: %w", index, documentID, name, ErrFileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s/%s: %w", index, documentID, name, err)
	}
	return rc, nil
}

func (f *FS) ListFiles(_ context.Context, index, documentID string) ([]string, error) {
	dir, err := f.documentPath(index, documentID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("list %s/%s: %w", index, documentID, ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", index, documentID, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (f *FS) ListDocuments(_ context.Context, index string) ([]string, error) {
	p, err := f.indexPath(index)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list documents in %s: %w", index, err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *FS) Exists(_ context.Context, index, documentID string) (bool, error) {
	p, err := f.documentPath(index, documentID)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (f *FS) indexPath(index string) (string, error) {
	if err := validateName(index); err != nil {
		return "", err
	}
	return filepath.Join(f.root, index), nil
}

func (f *FS) documentPath(index, documentID string) (string, error) {
	if err := validateName(index); err != nil {
		return "", err
	}
	if err := validateName(documentID); err != nil {
		return "", err
	}
	return filepath.Join(f.root, index, documentID), nil
}

// validateName rejects path components that could escape the store root.
func validateName(name string) error {
	switch {
	case name == "" || name == "." || name == "..":
		return fmt.Errorf("invalid name %q", name)
	case strings.ContainsAny(name, "/\\"):
		return fmt.Errorf("invalid name %q: path separator", name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("invalid name %q: null byte", name)
	}
	return nil
}
