package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver writes durable records to cold storage.
type Archiver interface {
	// ArchiveSnapshot stores the terminal state of a finalized or
	// cancelled market.
	ArchiveSnapshot(ctx context.Context, market Market) error
	// ArchiveFailureReport stores a finalization failure for audit.
	ArchiveFailureReport(ctx context.Context, failure FinalizationFailure) error
}
