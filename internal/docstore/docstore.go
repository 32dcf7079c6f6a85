// Package docstore defines the durable object store holding source files,
// generated artifacts and each document's pipeline status file.
//
// The layout is two levels: an index contains documents, a document
// contains named files. Implementations guarantee single-writer per
// (index, document, name), consistent snapshots of a named file (readers
// never observe torn writes) and exact binary round-trips.
package docstore

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrIndexNotFound indicates the index container does not exist.
	ErrIndexNotFound = errors.New("index not found")
	// ErrDocumentNotFound indicates the document container does not exist.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrFileNotFound indicates the named file does not exist.
	ErrFileNotFound = errors.New("file not found")
)

// Store is the document store capability set: container lifecycle plus
// named file read/write inside a document.
type Store interface {
	// CreateIndex creates the index container. Creating an existing
	// index is a no-op.
	CreateIndex(ctx context.Context, index string) error

	// DeleteIndex removes the index container and everything under it.
	DeleteIndex(ctx context.Context, index string) error

	// CreateDocument creates a document container, creating the index
	// implicitly. Creating an existing document is a no-op.
	CreateDocument(ctx context.Context, index, documentID string) error

	// DeleteDocument removes a document container and all its files.
	DeleteDocument(ctx context.Context, index, documentID string) error

	// EmptyDocument removes every file from a document but keeps the
	// container itself.
	EmptyDocument(ctx context.Context, index, documentID string) error

	// WriteFile stores a named file, replacing any previous content.
	// The write is atomic: readers see either the old or the new bytes.
	WriteFile(ctx context.Context, index, documentID, name string, content io.Reader) error

	// ReadFile opens a named file for reading. The caller must close the
	// returned reader on every path.
	ReadFile(ctx context.Context, index, documentID, name string) (io.ReadCloser, error)

	// ListFiles returns the file names in a document, sorted.
	ListFiles(ctx context.Context, index, documentID string) ([]string, error)

	// ListDocuments returns the document ids in an index, sorted.
	// A missing index yields an empty list.
	ListDocuments(ctx context.Context, index string) ([]string, error)

	// Exists reports whether a document container exists.
	Exists(ctx context.Context, index, documentID string) (bool, error)
}

// ReadAll reads a named file fully into memory.
func ReadAll(ctx context.Context, s Store, index, documentID, name string) ([]byte, error) {
	rc, err := s.ReadFile(ctx, index, documentID, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
