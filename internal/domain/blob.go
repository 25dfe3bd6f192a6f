package domain

import "context"

// BlobWriter stores an object in blob storage under key.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}

// BlobReader retrieves an object from blob storage.
type BlobReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Archiver exports aged history to blob storage and prunes the database.
type Archiver interface {
	// Archive bundles operations and run reports older than retentionDays,
	// writes them to blob storage, and deletes the archived rows. It returns
	// the number of archived records.
	Archive(ctx context.Context, retentionDays int) (int, error)
}
