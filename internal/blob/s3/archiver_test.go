package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	objects     map[string][]byte
	contentType map[string]string
	multipart   []string
	err         error
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, contentType: map[string]string{}}
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.err != nil {
		return m.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.contentType[path] = contentType
	return nil
}

func (m *memWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	if m.err != nil {
		return m.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.multipart = append(m.multipart, path)
	return nil
}

func TestReportArchiver_WritesJSONL(t *testing.T) {
	w := newMemWriter()
	a := NewReportArchiver(w, "")
	at := time.Date(2024, 3, 1, 14, 30, 0, 0, time.FixedZone("EST", -5*3600))

	path, err := a.Archive(context.Background(), at, "run1", []any{
		map[string]any{"kind": "summary", "positions_created": 3},
		map[string]any{"kind": "group", "account": "SIM101"},
	})
	require.NoError(t, err)
	assert.Equal(t, "reports/rebuilds/2024-03/20240301T193000Z-run1.jsonl", path)
	assert.Equal(t, jsonlContentType, w.contentType[path])
	assert.Empty(t, w.multipart)

	sc := bufio.NewScanner(bytes.NewReader(w.objects[path]))
	var lines []map[string]any
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "summary", lines[0]["kind"])
	assert.Equal(t, "SIM101", lines[1]["account"])
}

func TestReportArchiver_LargeReportsUseMultipart(t *testing.T) {
	w := newMemWriter()
	a := NewReportArchiver(w, "custom")
	big := bytes.Repeat([]byte("x"), multipartThreshold)

	path, err := a.Archive(context.Background(), time.Unix(0, 0), "big", []any{string(big)})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, w.multipart)
	assert.Contains(t, path, "custom/1970-01/")
}

func TestReportArchiver_UploadError(t *testing.T) {
	w := newMemWriter()
	w.err = errors.New("bucket gone")

	_, err := NewReportArchiver(w, "").Archive(context.Background(), time.Now(), "r", []any{1})
	require.Error(t, err)
	assert.ErrorIs(t, err, w.err)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio.local:9000", normaliseEndpoint("minio.local:9000", true))
	assert.Equal(t, "http://minio.local:9000", normaliseEndpoint("minio.local:9000", false))
	assert.Equal(t, "http://already", normaliseEndpoint("http://already", true))
}
