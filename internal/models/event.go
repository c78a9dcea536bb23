package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Level enumerates the log levels an event can carry.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// UnknownService is assigned to events that arrive without a service name.
const UnknownService = "unknown"

// ParseLevel normalises a level string. An empty value resolves to info.
func ParseLevel(value string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown level %q", value)
	}
}

// Event is a single log line handed over by ingestion. It is never mutated
// after construction.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Service   string         `json:"service"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewEvent resolves defaults for optional fields and copies metadata.
func NewEvent(ts time.Time, level Level, service, message string, metadata map[string]any) Event {
	if level == "" {
		level = LevelInfo
	}
	if strings.TrimSpace(service) == "" {
		service = UnknownService
	}
	var meta map[string]any
	if len(metadata) > 0 {
		meta = make(map[string]any, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
	}
	return Event{
		Timestamp: ts.UTC(),
		Level:     level,
		Service:   service,
		Message:   message,
		Metadata:  meta,
	}
}

// ScoredEvent pairs an event with its classification for one analysis run.
type ScoredEvent struct {
	Event
	ReconstructionError float64 `json:"reconstruction_error"`
	AnomalyScore        float64 `json:"anomaly_score"`
	IsAnomaly           bool    `json:"is_anomaly"`
}

// Batch is the unit of work for one analysis run. Exactly one of Errors or
// Vectors is expected to be populated; Reconstructions is optional and only
// meaningful alongside Vectors.
type Batch struct {
	ID              string
	Events          []Event
	Errors          []float64
	Vectors         [][]float64
	Reconstructions [][]float64
}

// ErrInvalidBatch marks a batch that cannot yield one reconstruction error
// per event. Ingest and the pipeline both wrap it.
var ErrInvalidBatch = errors.New("invalid batch")
