package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/tradejournal/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
)

// ReportArchiver writes rebuild reports as JSONL objects under
// <prefix>/YYYY-MM/<timestamp>-<run>.jsonl.
type ReportArchiver struct {
	writer domain.BlobWriter
	prefix string
}

// NewReportArchiver creates a ReportArchiver. An empty prefix defaults to
// "reports/rebuilds".
func NewReportArchiver(writer domain.BlobWriter, prefix string) *ReportArchiver {
	if prefix == "" {
		prefix = "reports/rebuilds"
	}
	return &ReportArchiver{writer: writer, prefix: prefix}
}

// Archive serialises lines as JSONL and uploads them. It returns the object
// key written.
func (a *ReportArchiver) Archive(ctx context.Context, at time.Time, runID string, lines []any) (string, error) {
	buf, err := marshalJSONL(lines)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive report marshal: %w", err)
	}

	path := reportPath(a.prefix, at, runID)
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive report upload: %w", err)
	}
	return path, nil
}

// reportPath partitions reports by month:
//
//	reports/rebuilds/2024-03/20240301T143000Z-<run>.jsonl
func reportPath(prefix string, at time.Time, runID string) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%s/%s-%s.jsonl", prefix, at.Format("2006-01"), at.Format("20060102T150405Z"), runID)
}

// marshalJSONL encodes each record as one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
