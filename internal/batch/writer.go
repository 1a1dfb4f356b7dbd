// Package batch persists filtered finding pages as partitions under a date namespace.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/hubexport/internal/store"
	"github.com/yairfalse/hubexport/pkg/finding"
)

// ErrInvalidPartition is returned when partition coordinates are incomplete.
var ErrInvalidPartition = errors.New("invalid partition")

// DateLayout formats namespace dates.
const DateLayout = "2006-01-02"

// Namespace groups the partitions of runs started on the same day.
type Namespace string

// NamespaceFor returns the namespace for a run started at t (UTC date).
func NamespaceFor(t time.Time) Namespace {
	return Namespace(t.UTC().Format(DateLayout))
}

// String returns the namespace date.
func (n Namespace) String() string {
	return string(n)
}

// Prefix is the object prefix holding every partition of the namespace.
func (n Namespace) Prefix() string {
	return "findings/" + string(n) + "/"
}

// RunPrefix is the object prefix holding one run's partitions.
// Same-day runs share a namespace, so readers must list by run prefix.
func (n Namespace) RunPrefix(runID string) string {
	return n.Prefix() + "part-" + runID + "-"
}

// PartitionKey returns the object key of one page of a run.
// Zero-padded page numbers keep lexicographic listing in page order.
func (n Namespace) PartitionKey(runID string, page int) string {
	return fmt.Sprintf("%s%06d.json", n.RunPrefix(runID), page)
}

// Location identifies a written partition.
type Location struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// String returns the s3:// form of the location.
func (l Location) String() string {
	return store.URI(l.Bucket, l.Key)
}

// Writer writes partitions to an object store bucket.
type Writer struct {
	store  store.ObjectStore
	bucket string
}

// NewWriter creates a Writer for bucket.
func NewWriter(s store.ObjectStore, bucket string) *Writer {
	return &Writer{store: s, bucket: bucket}
}

// WritePartition stores records as a JSON array. A failed write is returned, never dropped.
func (w *Writer) WritePartition(ctx context.Context, ns Namespace, runID string, page int, records []finding.Record) (Location, error) {
	if ns == "" || runID == "" || page < 0 {
		return Location{}, fmt.Errorf("%w: namespace=%q run=%q page=%d", ErrInvalidPartition, ns, runID, page)
	}
	if records == nil {
		records = []finding.Record{}
	}

	body, err := json.Marshal(records)
	if err != nil {
		return Location{}, fmt.Errorf("marshal partition: %w", err)
	}

	loc := Location{Bucket: w.bucket, Key: ns.PartitionKey(runID, page)}
	if err := w.store.Put(ctx, loc.Bucket, loc.Key, body, store.ContentTypeJSON); err != nil {
		return Location{}, fmt.Errorf("write partition: %w", err)
	}

	log.Ctx(ctx).Info().
		Str("location", loc.String()).
		Int("records", len(records)).
		Msg("partition written")

	return loc, nil
}
