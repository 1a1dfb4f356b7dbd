// Package store provides the object storage used for finding partitions and reports.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// Content types written by hubexport.
const (
	ContentTypeJSON = "application/json"
	ContentTypeCSV  = "text/csv"
)

// ObjectStore is the storage capability shared by the batch writer, aggregator and notifier.
type ObjectStore interface {
	// Put writes body under bucket/key, replacing any existing object.
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) error

	// Get reads the full object.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// List returns every key under prefix in lexicographic order, across all listing pages.
	List(ctx context.Context, bucket, prefix string) ([]string, error)

	// Size returns the object size in bytes.
	Size(ctx context.Context, bucket, key string) (int64, error)

	// PresignGet returns a time-limited download URL for the object.
	PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

// URI formats storage coordinates for logs and messages.
func URI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}
