// Package aggregator merges a run's partitions into the CSV findings report.
package aggregator

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/hubexport/internal/batch"
	"github.com/yairfalse/hubexport/internal/store"
	"github.com/yairfalse/hubexport/pkg/finding"
)

// Artifact is the aggregated findings report. Key is the daily report shared by every
// run of the day; RunKey holds this run's own copy.
type Artifact struct {
	Bucket     string
	Key        string
	RunKey     string
	Body       []byte
	Size       int64
	Rows       int
	Partitions int
}

// ReportKey returns the object key of the report for a namespace.
func ReportKey(ns batch.Namespace) string {
	return "reports/findings_report-" + ns.String() + ".csv"
}

// RunReportKey returns the object key of one run's copy of the report.
func RunReportKey(ns batch.Namespace, runID string) string {
	return "reports/" + ns.String() + "/findings_report-" + ns.String() + "-" + runID + ".csv"
}

// Aggregator builds reports from partitions in an object store bucket.
type Aggregator struct {
	store  store.ObjectStore
	bucket string
}

// New creates an Aggregator for bucket.
func New(s store.ObjectStore, bucket string) *Aggregator {
	return &Aggregator{store: s, bucket: bucket}
}

// Aggregate reads every partition of the run in listing order, writes the CSV report and
// returns it. A run without partitions yields a header-only report.
func (a *Aggregator) Aggregate(ctx context.Context, ns batch.Namespace, runID string) (*Artifact, error) {
	prefix := ns.RunPrefix(runID)
	keys, err := a.store.List(ctx, a.bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	log.Ctx(ctx).Info().
		Str("prefix", store.URI(a.bucket, prefix)).
		Int("partitions", len(keys)).
		Msg("aggregating partitions")

	var records []finding.Record
	for _, key := range keys {
		part, err := a.readPartition(ctx, key)
		if err != nil {
			return nil, err
		}
		records = append(records, part...)
	}

	body, err := Encode(records)
	if err != nil {
		return nil, err
	}

	artifact := &Artifact{
		Bucket:     a.bucket,
		Key:        ReportKey(ns),
		RunKey:     RunReportKey(ns, runID),
		Body:       body,
		Size:       int64(len(body)),
		Rows:       len(records),
		Partitions: len(keys),
	}
	if err := a.store.Put(ctx, artifact.Bucket, artifact.RunKey, body, store.ContentTypeCSV); err != nil {
		return nil, fmt.Errorf("write run report: %w", err)
	}
	if err := a.store.Put(ctx, artifact.Bucket, artifact.Key, body, store.ContentTypeCSV); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}

	log.Ctx(ctx).Info().
		Str("report", store.URI(artifact.Bucket, artifact.Key)).
		Int("rows", artifact.Rows).
		Int64("bytes", artifact.Size).
		Msg("report written")

	return artifact, nil
}

func (a *Aggregator) readPartition(ctx context.Context, key string) ([]finding.Record, error) {
	data, err := a.store.Get(ctx, a.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("read partition: %w", err)
	}
	var records []finding.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode partition %s: %w", store.URI(a.bucket, key), err)
	}
	return records, nil
}

// Encode writes records as CSV with the fixed header.
func Encode(records []finding.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(finding.Columns); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		if err := w.Write(r.Row()); err != nil {
			return nil, fmt.Errorf("write row %s: %w", r.FindingID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadRecords parses a report produced by Encode.
func ReadRecords(r io.Reader) ([]finding.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(finding.Columns)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !slices.Equal(header, finding.Columns) {
		return nil, fmt.Errorf("unexpected header %v", header)
	}

	records := []finding.Record{}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rec, err := finding.FromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
