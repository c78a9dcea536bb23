package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// ErrInvalidBatch marks input that violates the batch contract.
var ErrInvalidBatch = models.ErrInvalidBatch

// maxLineBytes bounds a single JSONL record.
const maxLineBytes = 4 << 20

type line struct {
	Timestamp           string         `json:"timestamp"`
	Level               string         `json:"level"`
	Service             string         `json:"service"`
	Message             string         `json:"message"`
	Metadata            map[string]any `json:"metadata"`
	ReconstructionError *float64       `json:"reconstruction_error"`
	Vector              []float64      `json:"vector"`
	Reconstruction      []float64      `json:"reconstruction"`
}

// ReadBatch loads a JSONL batch file. Files ending in .gz or .zst are
// decompressed transparently. The batch ID is the file name without its
// extensions.
func ReadBatch(path string) (models.Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Batch{}, err
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return models.Batch{}, fmt.Errorf("open gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(path, ".zst"):
		dec, err := zstd.NewReader(f)
		if err != nil {
			return models.Batch{}, fmt.Errorf("open zstd %s: %w", path, err)
		}
		defer dec.Close()
		r = dec
	}

	batch, err := Decode(r)
	if err != nil {
		return models.Batch{}, fmt.Errorf("%s: %w", path, err)
	}
	batch.ID = batchID(path)
	return batch, nil
}

// Decode parses JSONL records from r. Every record must carry either a
// reconstruction_error or a vector, consistently across the batch.
// Reconstructions are optional but must then be present for every vector.
func Decode(r io.Reader) (models.Batch, error) {
	var batch models.Batch
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var rec line
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return models.Batch{}, fmt.Errorf("%w: line %d: %v", ErrInvalidBatch, lineNo, err)
		}
		ev, err := rec.event()
		if err != nil {
			return models.Batch{}, fmt.Errorf("%w: line %d: %v", ErrInvalidBatch, lineNo, err)
		}

		hasError := rec.ReconstructionError != nil
		hasVector := len(rec.Vector) > 0
		switch {
		case hasError && hasVector:
			return models.Batch{}, fmt.Errorf("%w: line %d carries both reconstruction_error and vector", ErrInvalidBatch, lineNo)
		case !hasError && !hasVector:
			return models.Batch{}, fmt.Errorf("%w: line %d carries neither reconstruction_error nor vector", ErrInvalidBatch, lineNo)
		}

		first := len(batch.Events) == 0
		switch {
		case hasError:
			if !first && batch.Errors == nil {
				return models.Batch{}, fmt.Errorf("%w: line %d mixes errors with vectors", ErrInvalidBatch, lineNo)
			}
			if e := *rec.ReconstructionError; e < 0 || math.IsNaN(e) || math.IsInf(e, 0) {
				return models.Batch{}, fmt.Errorf("%w: line %d reconstruction_error %v must be a finite non-negative number", ErrInvalidBatch, lineNo, e)
			}
			batch.Errors = append(batch.Errors, *rec.ReconstructionError)
		default:
			if !first && batch.Vectors == nil {
				return models.Batch{}, fmt.Errorf("%w: line %d mixes vectors with errors", ErrInvalidBatch, lineNo)
			}
			hasRecon := len(rec.Reconstruction) > 0
			if !first && hasRecon != (batch.Reconstructions != nil) {
				return models.Batch{}, fmt.Errorf("%w: line %d reconstruction presence differs from earlier lines", ErrInvalidBatch, lineNo)
			}
			batch.Vectors = append(batch.Vectors, rec.Vector)
			if hasRecon {
				batch.Reconstructions = append(batch.Reconstructions, rec.Reconstruction)
			}
		}
		batch.Events = append(batch.Events, ev)
	}
	if err := scanner.Err(); err != nil {
		return models.Batch{}, fmt.Errorf("read batch: %w", err)
	}
	if len(batch.Events) == 0 {
		return models.Batch{}, fmt.Errorf("%w: no records", ErrInvalidBatch)
	}
	return batch, nil
}

func (l line) event() (models.Event, error) {
	ts, err := utils.ParseTimestamp(l.Timestamp)
	if err != nil {
		return models.Event{}, err
	}
	level, err := models.ParseLevel(l.Level)
	if err != nil {
		return models.Event{}, err
	}
	return models.NewEvent(ts, level, l.Service, l.Message, l.Metadata), nil
}

func batchID(path string) string {
	name := filepath.Base(path)
	for _, ext := range []string{".gz", ".zst", ".jsonl", ".json"} {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}
