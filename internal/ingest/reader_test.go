package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

const errorBatch = `{"timestamp":"2024-01-15T10:00:00Z","level":"ERROR","service":"payments","message":"timeout","reconstruction_error":0.9}
{"timestamp":"2024-01-15 10:00:05","level":"warning","message":"slow","metadata":{"host":"node-1"},"reconstruction_error":0.2}

{"timestamp":"2024-01-15T10:00:10Z","service":"auth","message":"ok","reconstruction_error":0.1}
`

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestDecodeErrorBatch(t *testing.T) {
	batch, err := Decode(strings.NewReader(errorBatch))
	require.NoError(t, err)
	require.Len(t, batch.Events, 3)
	assert.Equal(t, []float64{0.9, 0.2, 0.1}, batch.Errors)
	assert.Nil(t, batch.Vectors)

	assert.Equal(t, models.LevelError, batch.Events[0].Level)
	assert.Equal(t, models.LevelWarn, batch.Events[1].Level)
	assert.Equal(t, models.UnknownService, batch.Events[1].Service)
	assert.Equal(t, "node-1", batch.Events[1].Metadata["host"])
	assert.Equal(t, models.LevelInfo, batch.Events[2].Level)
}

func TestDecodeVectorBatch(t *testing.T) {
	input := `{"timestamp":"2024-01-15T10:00:00Z","service":"a","message":"x","vector":[1,2],"reconstruction":[1,1]}
{"timestamp":"2024-01-15T10:00:01Z","service":"b","message":"y","vector":[3,4],"reconstruction":[3,3]}`
	batch, err := Decode(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, batch.Vectors)
	assert.Equal(t, [][]float64{{1, 1}, {3, 3}}, batch.Reconstructions)
	assert.Nil(t, batch.Errors)
}

func TestDecodeRejectsContractViolations(t *testing.T) {
	cases := map[string]string{
		"mixed": `{"timestamp":"2024-01-15T10:00:00Z","reconstruction_error":0.1}
{"timestamp":"2024-01-15T10:00:01Z","vector":[1]}`,
		"both":          `{"timestamp":"2024-01-15T10:00:00Z","reconstruction_error":0.1,"vector":[1]}`,
		"neither":       `{"timestamp":"2024-01-15T10:00:00Z","message":"x"}`,
		"partial recon": "{\"timestamp\":\"2024-01-15T10:00:00Z\",\"vector\":[1],\"reconstruction\":[1]}\n{\"timestamp\":\"2024-01-15T10:00:01Z\",\"vector\":[2]}",
		"bad time":      `{"timestamp":"yesterday","reconstruction_error":0.1}`,
		"bad level":     `{"timestamp":"2024-01-15T10:00:00Z","level":"loud","reconstruction_error":0.1}`,
		"bad json":      `{"timestamp":`,
		"negative":      `{"timestamp":"2024-01-15T10:00:00Z","reconstruction_error":-0.2}`,
		"empty":         "\n\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidBatch), "got %v", err)
		})
	}
}

func TestReadBatchCompressed(t *testing.T) {
	plain := writeFile(t, "batch-001.jsonl", []byte(errorBatch))

	var gzBuf strings.Builder
	gw := gzip.NewWriter(&gzBuf)
	_, err := gw.Write([]byte(errorBatch))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	gzPath := writeFile(t, "batch-002.jsonl.gz", []byte(gzBuf.String()))

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zstPath := writeFile(t, "batch-003.jsonl.zst", enc.EncodeAll([]byte(errorBatch), nil))
	require.NoError(t, enc.Close())

	for path, id := range map[string]string{plain: "batch-001", gzPath: "batch-002", zstPath: "batch-003"} {
		batch, err := ReadBatch(path)
		require.NoError(t, err, path)
		assert.Equal(t, id, batch.ID)
		assert.Len(t, batch.Events, 3)
	}

	_, err = ReadBatch(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}
