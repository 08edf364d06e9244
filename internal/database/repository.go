package database

import (
	"context"
)

// DocumentReader provides read access to keyed documents.
type DocumentReader interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection, key string) (*Document, error)
	// List returns every document of a collection ordered by key.
	List(ctx context.Context, collection string) ([]Document, error)
	// Subscribe streams full-collection snapshots. The first snapshot is sent
	// immediately; the channel is closed when ctx is done.
	Subscribe(ctx context.Context, collection string) (<-chan Snapshot, error)
}

// Store is the keyed document store consumed by the attendance engine.
//
// Merge is the only way attendance documents are mutated: it applies the patch
// to the stored document atomically with respect to other merges on the same
// document, creating the document when missing unless the patch only deletes.
type Store interface {
	DocumentReader

	// Put creates or replaces a whole document. Used for identities and settings.
	Put(ctx context.Context, collection, key string, data map[string]any) error
	// Merge applies a field-scoped patch.
	Merge(ctx context.Context, collection, key string, patch Patch) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, key string) error
	// Close releases backend resources.
	Close() error
}

// DescriptorSearcher is implemented by backends that can run a nearest-neighbor
// query over the "descriptor" field of identity documents natively.
type DescriptorSearcher interface {
	NearestDescriptors(ctx context.Context, collection string, probe []float32, limit int) ([]Neighbor, error)
}

// Neighbor is a single nearest-descriptor result.
type Neighbor struct {
	Key      string
	Distance float64
}

// DeleteField removes a single field of a document through Merge.
func DeleteField(ctx context.Context, s Store, collection, key, path string) error {
	return s.Merge(ctx, collection, key, NewPatch().Delete(path))
}
