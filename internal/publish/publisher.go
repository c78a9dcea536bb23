package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

const (
	HeaderRunID           = "Sentinel-Run-Id"
	HeaderService         = "Sentinel-Service"
	HeaderConfidenceLevel = "Sentinel-Confidence-Level"

	defaultFlushTimeout = 5 * time.Second
)

// ErrNotConnected is returned when the NATS connection is down at publish time.
var ErrNotConnected = errors.New("nats connection not established")

// Finding is the message body published for every root cause.
type Finding struct {
	RunID     string                 `json:"run_id"`
	RootCause models.RootCauseRecord `json:"root_cause"`
}

// conn is the subset of *nats.Conn the publisher needs.
type conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	IsConnected() bool
	Close()
}

// NATSPublisher publishes root-cause findings on a NATS subject.
type NATSPublisher struct {
	logger  *slog.Logger
	nc      conn
	subject string
}

// Connect dials url and returns a publisher for subject.
func Connect(logger *slog.Logger, url, subject string, timeout time.Duration) (*NATSPublisher, error) {
	if subject == "" {
		return nil, fmt.Errorf("nats subject not configured")
	}
	nc, err := nats.Connect(url,
		nats.Name("mirador-sentinel"),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return newNATSPublisher(logger, nc, subject), nil
}

func newNATSPublisher(logger *slog.Logger, nc conn, subject string) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{logger: logger, nc: nc, subject: subject}
}

// PublishRootCauses sends one message per record and flushes. Headers carry
// the run ID, the service and the confidence level so consumers can filter
// without decoding bodies.
func (p *NATSPublisher) PublishRootCauses(ctx context.Context, runID string, records []models.RootCauseRecord) error {
	if len(records) == 0 {
		return nil
	}
	if !p.nc.IsConnected() {
		return ErrNotConnected
	}

	for _, rec := range records {
		data, err := json.Marshal(Finding{RunID: runID, RootCause: rec})
		if err != nil {
			return fmt.Errorf("marshal finding: %w", err)
		}
		msg := nats.NewMsg(p.subject)
		msg.Header.Set(HeaderRunID, runID)
		msg.Header.Set(HeaderService, rec.Service)
		msg.Header.Set(HeaderConfidenceLevel, string(rec.ConfidenceLevel))
		msg.Data = data
		if err := p.nc.PublishMsg(msg); err != nil {
			return fmt.Errorf("publish finding for %s: %w", rec.Service, err)
		}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultFlushTimeout)
		defer cancel()
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush findings: %w", err)
	}

	p.logger.Debug("published root causes",
		slog.String("subject", p.subject),
		slog.String("run_id", runID),
		slog.Int("count", len(records)),
	)
	return nil
}

// Close closes the connection.
func (p *NATSPublisher) Close() error {
	p.nc.Close()
	return nil
}

// NoopPublisher discards findings.
type NoopPublisher struct{}

// PublishRootCauses does nothing.
func (NoopPublisher) PublishRootCauses(context.Context, string, []models.RootCauseRecord) error {
	return nil
}

// Close does nothing.
func (NoopPublisher) Close() error { return nil }
