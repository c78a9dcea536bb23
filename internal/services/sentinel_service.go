package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/detection"
	"github.com/miradorstack/mirador-sentinel/internal/engine"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/remediation"
	"github.com/miradorstack/mirador-sentinel/internal/repo"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

var (
	// ErrInvalidArgument marks requests rejected before touching any dependency.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnavailable marks operations whose dependency is not configured.
	ErrUnavailable = errors.New("unavailable")
)

const (
	defaultAnomalyLimit   = 20
	maxAnomalyLimit       = 100
	defaultAnomalyHours   = 24
	maxAnomalyHours       = 168
	defaultRootCauseLimit = 5
	maxRootCauseLimit     = 50

	// sinceGranularity rounds the anomaly window start down so repeated
	// listings within the same minute share a store query and cache entry.
	sinceGranularity = time.Minute
)

// RecordStore is the read side of the record store.
type RecordStore interface {
	ListAnomalies(ctx context.Context, query models.AnomalyQuery) (models.AnomalyPage, error)
	ListRootCauses(ctx context.Context, query models.RootCauseQuery) (models.RootCausePage, error)
	Stats(ctx context.Context) (models.Stats, error)
}

// Analyzer runs a batch through the engines.
type Analyzer interface {
	Run(ctx context.Context, batch models.Batch) (models.AnalysisResult, error)
}

// AnomalyRequest filters anomaly listings. Zero Limit and Hours select the
// defaults.
type AnomalyRequest struct {
	Service   string
	MinScore  float64
	Hours     int
	Limit     int
	PageToken string
}

// RootCauseRequest filters root-cause listings. Zero Limit selects the default.
type RootCauseRequest struct {
	Service       string
	MinConfidence float64
	Limit         int
	PageToken     string
}

// SentinelService validates queries, serves stored records with freshly
// computed remediation and runs analyses.
type SentinelService struct {
	logger    *slog.Logger
	store     RecordStore
	matcher   *remediation.Matcher
	analyzer  Analyzer
	latencies *utils.LatencyTracker
	now       func() time.Time
}

// NewSentinelService constructs the service facade. Any dependency may be
// nil; the operations that need it then fail with ErrUnavailable.
func NewSentinelService(logger *slog.Logger, store RecordStore, matcher *remediation.Matcher, analyzer Analyzer) *SentinelService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SentinelService{
		logger:    logger,
		store:     store,
		matcher:   matcher,
		analyzer:  analyzer,
		latencies: utils.NewLatencyTracker(1024),
		now:       time.Now,
	}
}

// ListAnomalies returns recent anomalies, newest detection first.
func (s *SentinelService) ListAnomalies(ctx context.Context, req AnomalyRequest) (models.AnomalyPage, error) {
	const op = "ListAnomalies"
	if s.store == nil {
		return models.AnomalyPage{}, utils.NewAppError(op, ErrUnavailable, "record store not configured", nil)
	}

	limit, err := bounded(req.Limit, defaultAnomalyLimit, maxAnomalyLimit)
	if err != nil {
		return models.AnomalyPage{}, utils.NewAppError(op, ErrInvalidArgument, fmt.Sprintf("limit %s", err), nil)
	}
	hours, err := bounded(req.Hours, defaultAnomalyHours, maxAnomalyHours)
	if err != nil {
		return models.AnomalyPage{}, utils.NewAppError(op, ErrInvalidArgument, fmt.Sprintf("hours %s", err), nil)
	}
	if req.MinScore < 0 || math.IsNaN(req.MinScore) || math.IsInf(req.MinScore, 0) {
		return models.AnomalyPage{}, utils.NewAppError(op, ErrInvalidArgument, "min_score must be a finite non-negative number", nil)
	}

	page, err := s.store.ListAnomalies(ctx, models.AnomalyQuery{
		Service:   req.Service,
		MinScore:  req.MinScore,
		Since:     s.now().Add(-time.Duration(hours) * time.Hour).Truncate(sinceGranularity),
		Limit:     limit,
		PageToken: req.PageToken,
	})
	if err != nil {
		return models.AnomalyPage{}, s.storeError(op, err)
	}
	return page, nil
}

// ListRootCauses returns stored root causes, each enriched with remediation
// computed against the current catalog.
func (s *SentinelService) ListRootCauses(ctx context.Context, req RootCauseRequest) (models.RootCausePage, error) {
	const op = "ListRootCauses"
	if s.store == nil {
		return models.RootCausePage{}, utils.NewAppError(op, ErrUnavailable, "record store not configured", nil)
	}

	limit, err := bounded(req.Limit, defaultRootCauseLimit, maxRootCauseLimit)
	if err != nil {
		return models.RootCausePage{}, utils.NewAppError(op, ErrInvalidArgument, fmt.Sprintf("limit %s", err), nil)
	}
	if math.IsNaN(req.MinConfidence) || req.MinConfidence < 0 || req.MinConfidence > 1 {
		return models.RootCausePage{}, utils.NewAppError(op, ErrInvalidArgument, "min_confidence must be within [0,1]", nil)
	}

	page, err := s.store.ListRootCauses(ctx, models.RootCauseQuery{
		Service:       req.Service,
		MinConfidence: req.MinConfidence,
		Limit:         limit,
		PageToken:     req.PageToken,
	})
	if err != nil {
		return models.RootCausePage{}, s.storeError(op, err)
	}

	for i := range page.RootCauses {
		page.RootCauses[i].Remediation = s.remediate(page.RootCauses[i])
	}
	return page, nil
}

// Stats summarises the record store.
func (s *SentinelService) Stats(ctx context.Context) (models.Stats, error) {
	const op = "Stats"
	if s.store == nil {
		return models.Stats{}, utils.NewAppError(op, ErrUnavailable, "record store not configured", nil)
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return models.Stats{}, s.storeError(op, err)
	}
	return stats, nil
}

// Categories lists the remediation catalog in catalog order.
func (s *SentinelService) Categories() ([]string, error) {
	if s.matcher == nil || s.matcher.Catalog() == nil {
		return nil, utils.NewAppError("Categories", ErrUnavailable, "remediation catalog not configured", nil)
	}
	return s.matcher.Catalog().Categories(), nil
}

// Analyze runs one batch and tracks latency.
func (s *SentinelService) Analyze(ctx context.Context, batch models.Batch) (models.AnalysisResult, error) {
	const op = "Analyze"
	if s.analyzer == nil {
		return models.AnalysisResult{}, utils.NewAppError(op, ErrUnavailable, "pipeline not configured", nil)
	}

	start := s.now()
	result, err := s.analyzer.Run(ctx, batch)
	duration := s.now().Sub(start)
	if err != nil {
		if isInputError(err) {
			return models.AnalysisResult{}, utils.NewAppError(op, ErrInvalidArgument, err.Error(), err)
		}
		s.logger.Error("analysis failed", slog.String("batch_id", batch.ID), slog.Any("error", err))
		return models.AnalysisResult{}, utils.NewAppError(op, nil, "analysis failed", err)
	}

	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("analysis latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}
	return result, nil
}

func (s *SentinelService) remediate(rec models.RootCauseRecord) *models.RemediationResult {
	if s.matcher == nil {
		return nil
	}
	confidence := rec.ConfidenceScore
	res, err := s.matcher.Match(remediation.MatchRequest{
		Service:          rec.Service,
		Message:          rec.Message,
		RCAConfidence:    &confidence,
		ObservedPatterns: rec.ObservedPatterns,
	})
	if err != nil {
		metrics.IncEnrichmentFailure(metrics.StageQuery)
		s.logger.Warn("remediation enrichment failed",
			slog.String("root_cause_id", rec.ID),
			slog.String("service", rec.Service),
			slog.Any("error", err),
		)
		return nil
	}
	return &res
}

func (s *SentinelService) storeError(op string, err error) error {
	if errors.Is(err, repo.ErrInvalidPageToken) {
		return utils.NewAppError(op, ErrInvalidArgument, "page_token is not valid", err)
	}
	s.logger.Error("record store failed", slog.String("op", op), slog.Any("error", err))
	return utils.NewAppError(op, nil, "record store failed", err)
}

// bounded resolves zero to def and rejects values outside [1,max].
func bounded(value, def, max int) (int, error) {
	if value == 0 {
		return def, nil
	}
	if value < 1 || value > max {
		return 0, fmt.Errorf("%d outside [1,%d]", value, max)
	}
	return value, nil
}

func isInputError(err error) bool {
	return errors.Is(err, engine.ErrInvalidBatch) ||
		errors.Is(err, detection.ErrInvalidInput) ||
		errors.Is(err, detection.ErrShapeMismatch)
}
