package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	sorted := make([]time.Duration, 10)
	for i := range sorted {
		sorted[i] = time.Duration(i+1) * time.Millisecond
	}
	assert.Equal(t, 5*time.Millisecond, percentile(sorted, 50))
	assert.Equal(t, 10*time.Millisecond, percentile(sorted, 99))
	assert.Equal(t, time.Millisecond, percentile(sorted, 0))
	assert.Zero(t, percentile(nil, 50))
}

func TestStatsReport(t *testing.T) {
	s := NewStats()
	s.Record(2*time.Millisecond, 200, true, nil)
	s.Record(4*time.Millisecond, 400, false, nil)
	s.Record(0, 0, false, errors.New("refused"))

	var buf bytes.Buffer
	assert.Equal(t, int64(3), s.Report(&buf, time.Second))
	out := buf.String()
	assert.Contains(t, out, "Errors:          2")
	assert.Contains(t, out, "Cache Hits:      1")
	assert.Contains(t, out, "  400: 1")
}

func TestReadBodies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(defaultRequest+"\n\n"+defaultRequest+"\n"), 0644))
	bodies, err := readBodies(path)
	require.NoError(t, err)
	assert.Len(t, bodies, 2)

	require.NoError(t, os.WriteFile(path, []byte("{nope\n"), 0644))
	_, err = readBodies(path)
	assert.Error(t, err)
}
