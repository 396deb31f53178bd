package repository

import (
	"context"
	"iter"

	"github.com/gogotex/collabdocs/internal/document"
)

// DocumentRepository owns the current, mutable state of documents.
type DocumentRepository interface {
	Create(ctx context.Context, d *document.Document) error
	Get(ctx context.Context, id string) (*document.Document, error)
	List(ctx context.Context) ([]*document.Document, error)
	// Save overwrites title, content and updatedAt of an existing document.
	Save(ctx context.Context, d *document.Document) error
	// Delete sets the tombstone; the record and its versions are kept.
	Delete(ctx context.Context, id string) error
}

// VersionStore persists immutable snapshots. It has no update
// or delete methods.
type VersionStore interface {
	Archive(ctx context.Context, documentID, content string) (*document.Version, error)
	// ListVersions yields versions newest first. Every range over the
	// returned sequence reads the store again.
	ListVersions(ctx context.Context, documentID string) iter.Seq2[*document.Version, error]
}

// Transactor runs fn so that every repository call made with the context
// passed to fn commits or rolls back together.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store is the full persistence surface used by the document service.
type Store interface {
	DocumentRepository
	VersionStore
	Transactor
}

// CollectVersions drains seq into a slice, stopping at the first error.
func CollectVersions(seq iter.Seq2[*document.Version, error]) ([]*document.Version, error) {
	out := []*document.Version{}
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
