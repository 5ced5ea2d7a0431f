package data

import (
	"context"
	"errors"

	"github.com/PaulBabatuyi/chatsync/internal/paths"
)

var (
	// ErrNotFound is returned by Get when no document exists at the path.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidPath is returned for paths with empty or malformed segments.
	ErrInvalidPath = errors.New("invalid document path")
)

// Store is the hierarchical document store the synchronizer reads and writes.
// Writes replace the whole document; there are no cross-document transactions.
type Store interface {
	Get(ctx context.Context, path paths.Doc) (Document, error)
	Set(ctx context.Context, path paths.Doc, doc Document) error
	Delete(ctx context.Context, path paths.Doc) error
	// Latest returns up to limit documents of coll ordered by orderBy descending.
	Latest(ctx context.Context, coll paths.Collection, orderBy string, limit int64) ([]Document, error)
	// DeleteCollection removes every document directly inside coll.
	DeleteCollection(ctx context.Context, coll paths.Collection) (int64, error)
}
