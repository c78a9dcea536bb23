package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/mirador-sentinel/internal/detection"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/patterns"
	"github.com/miradorstack/mirador-sentinel/internal/remediation"
)

const tracerName = "github.com/miradorstack/mirador-sentinel/internal/engine"

// ErrInvalidBatch is returned when a batch cannot be turned into one error
// per event.
var ErrInvalidBatch = models.ErrInvalidBatch

// ReconstructionSource scores feature vectors with an external model.
type ReconstructionSource interface {
	ReconstructionErrors(ctx context.Context, vectors [][]float64) ([]float64, error)
}

// Store persists the records of an analysis run.
type Store interface {
	SaveAnomalies(ctx context.Context, records []models.AnomalyRecord) (inserted, skipped int, err error)
	SaveRootCauses(ctx context.Context, records []models.RootCauseRecord) (inserted, skipped int, err error)
}

// Publisher announces root-cause findings to downstream consumers.
type Publisher interface {
	PublishRootCauses(ctx context.Context, runID string, records []models.RootCauseRecord) error
}

// PipelineDeps wires the collaborators of a Pipeline. Classifier and
// Correlator are required; the rest are optional.
type PipelineDeps struct {
	Classifier *detection.Classifier
	Correlator *Correlator
	Miner      *patterns.Miner
	Matcher    *remediation.Matcher
	Source     ReconstructionSource
	Store      Store
	Publisher  Publisher
	// Metric reduces batches that ship their own reconstructions.
	Metric detection.Metric
}

// Pipeline runs classification, correlation and remediation over a batch.
type Pipeline struct {
	logger     *slog.Logger
	classifier *detection.Classifier
	correlator *Correlator
	miner      *patterns.Miner
	matcher    *remediation.Matcher
	source     ReconstructionSource
	store      Store
	publisher  Publisher
	metric     detection.Metric
	tracer     trace.Tracer
	now        func() time.Time
}

// NewPipeline constructs a pipeline from deps.
func NewPipeline(logger *slog.Logger, deps PipelineDeps) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Classifier == nil {
		return nil, fmt.Errorf("pipeline classifier not configured")
	}
	if deps.Correlator == nil {
		return nil, fmt.Errorf("pipeline correlator not configured")
	}
	metric := deps.Metric
	if metric == "" {
		metric = detection.MetricMSE
	}
	if _, err := detection.ParseMetric(string(metric)); err != nil {
		return nil, err
	}

	return &Pipeline{
		logger:     logger,
		classifier: deps.Classifier,
		correlator: deps.Correlator,
		miner:      deps.Miner,
		matcher:    deps.Matcher,
		source:     deps.Source,
		store:      deps.Store,
		publisher:  deps.Publisher,
		metric:     metric,
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}, nil
}

// Run analyses one batch. Input and classification errors abort the run;
// enrichment, persistence and publishing failures are logged and the result
// is still returned.
func (p *Pipeline) Run(ctx context.Context, batch models.Batch) (models.AnalysisResult, error) {
	start := p.now()
	runID := uuid.NewString()

	ctx, span := p.tracer.Start(ctx, "sentinel.analyze", trace.WithAttributes(
		attribute.String("sentinel.run_id", runID),
		attribute.String("sentinel.batch_id", batch.ID),
		attribute.Int("sentinel.events", len(batch.Events)),
	))
	defer span.End()

	result, err := p.run(ctx, runID, batch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveAnalysis(p.now().Sub(start), metrics.OutcomeError)
		return models.AnalysisResult{}, err
	}
	span.SetAttributes(
		attribute.Int("sentinel.anomalies", result.Summary.AnomalyCount),
		attribute.Int("sentinel.root_causes", len(result.RootCauses)),
	)
	metrics.ObserveAnalysis(p.now().Sub(start), metrics.OutcomeSuccess)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, runID string, batch models.Batch) (models.AnalysisResult, error) {
	errs, err := p.resolveErrors(ctx, batch)
	if err != nil {
		return models.AnalysisResult{}, err
	}

	_, classifySpan := p.tracer.Start(ctx, "sentinel.classify", trace.WithAttributes(
		attribute.String("sentinel.threshold_policy", string(p.classifier.Policy())),
	))
	cls, err := p.classifier.Classify(errs)
	if err == nil {
		classifySpan.SetAttributes(attribute.Float64("sentinel.threshold", cls.Threshold))
	}
	classifySpan.End()
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("classify: %w", err)
	}
	scored, err := detection.Score(batch.Events, errs, cls)
	if err != nil {
		return models.AnalysisResult{}, fmt.Errorf("score: %w", err)
	}
	summary := detection.Summarize(scored, cls.Threshold)
	metrics.ObserveClassification(summary.TotalEvents, summary.AnomalyCount)

	_, correlateSpan := p.tracer.Start(ctx, "sentinel.correlate")
	rootCauses := p.correlator.Correlate(scored)
	correlateSpan.SetAttributes(attribute.Int("sentinel.groups", len(rootCauses)))
	correlateSpan.End()

	p.enrich(ctx, rootCauses)

	detectedAt := p.now().UTC()
	records := make([]models.RootCauseRecord, 0, len(rootCauses))
	for _, rc := range rootCauses {
		rec := models.NewRootCauseRecord(rc, detectedAt)
		rec.Remediation = rc.Remediation
		records = append(records, rec)
		metrics.ObserveRootCause(string(rec.ConfidenceLevel))
	}

	persisted := p.persist(ctx, scored, records, detectedAt)
	p.publish(ctx, runID, records)

	p.logger.Info("batch analysed",
		slog.String("run_id", runID),
		slog.String("batch_id", batch.ID),
		slog.Int("events", summary.TotalEvents),
		slog.Int("anomalies", summary.AnomalyCount),
		slog.Int("root_causes", len(rootCauses)),
		slog.Float64("threshold", cls.Threshold),
	)

	return models.AnalysisResult{
		RunID:      runID,
		BatchID:    batch.ID,
		Threshold:  cls.Threshold,
		Summary:    summary,
		Events:     scored,
		RootCauses: rootCauses,
		Persisted:  persisted,
		DetectedAt: detectedAt,
	}, nil
}

// resolveErrors yields exactly one reconstruction error per event.
func (p *Pipeline) resolveErrors(ctx context.Context, batch models.Batch) ([]float64, error) {
	hasErrors := batch.Errors != nil
	hasVectors := batch.Vectors != nil
	switch {
	case hasErrors && hasVectors:
		return nil, fmt.Errorf("%w: batch carries both errors and vectors", ErrInvalidBatch)
	case len(batch.Events) == 0 && !hasErrors && !hasVectors:
		return []float64{}, nil
	case !hasErrors && !hasVectors:
		return nil, fmt.Errorf("%w: batch carries neither errors nor vectors", ErrInvalidBatch)
	}

	var (
		errs []float64
		err  error
	)
	switch {
	case hasErrors:
		errs = batch.Errors
	case batch.Reconstructions != nil:
		errs, err = detection.ReconstructionErrors(p.metric, batch.Vectors, batch.Reconstructions)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
		}
	case p.source != nil:
		ctx, span := p.tracer.Start(ctx, "sentinel.reconstruct", trace.WithAttributes(
			attribute.Int("sentinel.vectors", len(batch.Vectors)),
		))
		errs, err = p.source.ReconstructionErrors(ctx, batch.Vectors)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if err != nil {
			return nil, fmt.Errorf("reconstruction source: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: vectors without reconstructions and no model configured", ErrInvalidBatch)
	}

	if len(errs) != len(batch.Events) {
		return nil, fmt.Errorf("%w: %d errors for %d events", ErrInvalidBatch, len(errs), len(batch.Events))
	}
	return errs, nil
}

// enrich attaches observed patterns and remediation to each root cause.
func (p *Pipeline) enrich(ctx context.Context, rootCauses []models.RootCause) {
	if len(rootCauses) == 0 {
		return
	}
	_, span := p.tracer.Start(ctx, "sentinel.remediate")
	defer span.End()

	failures := 0
	for i := range rootCauses {
		rc := &rootCauses[i]
		if p.miner != nil {
			rc.ObservedPatterns = p.miner.Mine(rc.Members)
		}
		if p.matcher == nil {
			continue
		}
		confidence := rc.ConfidenceScore
		res, err := p.matcher.Match(remediation.MatchRequest{
			Service:          rc.Service,
			Message:          rc.Message,
			RCAConfidence:    &confidence,
			ObservedPatterns: rc.ObservedPatterns,
		})
		if err != nil {
			failures++
			metrics.IncEnrichmentFailure(metrics.StagePipeline)
			p.logger.Warn("remediation match failed",
				slog.String("service", rc.Service),
				slog.Any("error", err),
			)
			continue
		}
		rc.Remediation = &res
		metrics.ObserveRemediation(res.Category)
	}
	span.SetAttributes(attribute.Int("sentinel.enrichment_failures", failures))
}

func (p *Pipeline) persist(ctx context.Context, scored []models.ScoredEvent, records []models.RootCauseRecord, detectedAt time.Time) models.PersistStats {
	var stats models.PersistStats
	if p.store == nil {
		return stats
	}
	ctx, span := p.tracer.Start(ctx, "sentinel.persist")
	defer span.End()

	anomalies := make([]models.AnomalyRecord, 0)
	for _, ev := range scored {
		if ev.IsAnomaly {
			anomalies = append(anomalies, models.NewAnomalyRecord(ev, detectedAt))
		}
	}

	var err error
	stats.AnomaliesInserted, stats.AnomaliesSkipped, err = p.store.SaveAnomalies(ctx, anomalies)
	if err != nil {
		span.RecordError(err)
		metrics.IncSinkFailure(metrics.SinkStore)
		p.logger.Warn("failed to persist anomalies", slog.Int("count", len(anomalies)), slog.Any("error", err))
	} else {
		metrics.ObservePersist("anomaly", stats.AnomaliesInserted, stats.AnomaliesSkipped)
	}

	stats.RootCausesInserted, stats.RootCausesSkipped, err = p.store.SaveRootCauses(ctx, records)
	if err != nil {
		span.RecordError(err)
		metrics.IncSinkFailure(metrics.SinkStore)
		p.logger.Warn("failed to persist root causes", slog.Int("count", len(records)), slog.Any("error", err))
	} else {
		metrics.ObservePersist("root_cause", stats.RootCausesInserted, stats.RootCausesSkipped)
	}
	return stats
}

func (p *Pipeline) publish(ctx context.Context, runID string, records []models.RootCauseRecord) {
	if p.publisher == nil || len(records) == 0 {
		return
	}
	ctx, span := p.tracer.Start(ctx, "sentinel.publish")
	defer span.End()

	if err := p.publisher.PublishRootCauses(ctx, runID, records); err != nil {
		span.RecordError(err)
		metrics.IncSinkFailure(metrics.SinkPublisher)
		p.logger.Warn("failed to publish root causes", slog.String("run_id", runID), slog.Any("error", err))
	}
}
