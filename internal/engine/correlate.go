package engine

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Strategy selects how anomalous events are partitioned into groups.
type Strategy string

const (
	// StrategyServiceTime groups consecutive same-service events within the window.
	StrategyServiceTime Strategy = "service_time"
	// StrategySimilarity groups events whose messages are textually similar.
	StrategySimilarity Strategy = "similarity"
)

const (
	// DefaultTimeWindow bounds the gap between consecutive members of a group.
	DefaultTimeWindow = 2 * time.Minute
	// DefaultSimilarityThreshold is the minimum message ratio for similarity grouping.
	DefaultSimilarityThreshold = 0.6
)

// ParseStrategy validates a configured grouping strategy.
func ParseStrategy(value string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(value))); s {
	case StrategyServiceTime, StrategySimilarity:
		return s, nil
	default:
		return "", fmt.Errorf("unknown grouping strategy %q", value)
	}
}

// CorrelatorConfig tunes grouping and scoring.
type CorrelatorConfig struct {
	TimeWindow          time.Duration
	Strategy            Strategy
	SimilarityThreshold float64
	Workers             int
}

// DefaultCorrelatorConfig returns the grouping settings used when nothing
// else is configured.
func DefaultCorrelatorConfig() CorrelatorConfig {
	return CorrelatorConfig{
		TimeWindow:          DefaultTimeWindow,
		Strategy:            StrategyServiceTime,
		SimilarityThreshold: DefaultSimilarityThreshold,
	}
}

// Correlator partitions anomalous events into groups and derives one root
// cause per group. It keeps no state between calls.
type Correlator struct {
	cfg    CorrelatorConfig
	logger *slog.Logger
}

// NewCorrelator validates cfg. An empty Strategy selects service_time and a
// non-positive Workers selects GOMAXPROCS. TimeWindow and SimilarityThreshold
// are used as given: a zero window splits on any gap and a zero threshold
// groups every event. Start from DefaultCorrelatorConfig for the usual values.
func NewCorrelator(cfg CorrelatorConfig, logger *slog.Logger) (*Correlator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyServiceTime
	}
	if _, err := ParseStrategy(string(cfg.Strategy)); err != nil {
		return nil, err
	}
	if cfg.TimeWindow < 0 {
		return nil, fmt.Errorf("time window must not be negative, got %s", cfg.TimeWindow)
	}
	if math.IsNaN(cfg.SimilarityThreshold) || cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("similarity threshold %v outside [0,1]", cfg.SimilarityThreshold)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Correlator{cfg: cfg, logger: logger}, nil
}

// Correlate groups the anomalous subset of scored and returns root causes
// ordered by confidence, highest first. Ties keep grouping order.
func (c *Correlator) Correlate(scored []models.ScoredEvent) []models.RootCause {
	anomalous := make([]models.ScoredEvent, 0, len(scored))
	for _, ev := range scored {
		if ev.IsAnomaly {
			anomalous = append(anomalous, ev)
		}
	}
	if len(anomalous) == 0 {
		return []models.RootCause{}
	}

	groups := c.Group(anomalous)
	rootCauses := make([]models.RootCause, len(groups))

	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for i, group := range groups {
		g.Go(func() error {
			rootCauses[i] = buildRootCause(group, c.cfg.TimeWindow)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(rootCauses, func(i, j int) bool {
		return rootCauses[i].ConfidenceScore > rootCauses[j].ConfidenceScore
	})

	c.logger.Debug("correlation complete",
		slog.Int("anomalies", len(anomalous)),
		slog.Int("groups", len(groups)),
		slog.String("strategy", string(c.cfg.Strategy)))
	return rootCauses
}

// Group partitions events with the configured strategy.
func (c *Correlator) Group(events []models.ScoredEvent) [][]models.ScoredEvent {
	if c.cfg.Strategy == StrategySimilarity {
		return GroupBySimilarity(events, c.cfg.SimilarityThreshold)
	}
	return GroupByServiceAndTime(events, c.cfg.TimeWindow)
}

// GroupByServiceAndTime sorts events by (service, timestamp) and cuts a new
// group on every service change or on a gap strictly greater than window.
func GroupByServiceAndTime(events []models.ScoredEvent, window time.Duration) [][]models.ScoredEvent {
	if len(events) == 0 {
		return nil
	}
	sorted := append([]models.ScoredEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Service != sorted[j].Service {
			return sorted[i].Service < sorted[j].Service
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var groups [][]models.ScoredEvent
	var current []models.ScoredEvent
	for i, ev := range sorted {
		if i > 0 {
			prev := sorted[i-1]
			if ev.Service != prev.Service || ev.Timestamp.Sub(prev.Timestamp) > window {
				groups = append(groups, current)
				current = nil
			}
		}
		current = append(current, ev)
	}
	return append(groups, current)
}

func buildRootCause(group []models.ScoredEvent, window time.Duration) models.RootCause {
	members := append([]models.ScoredEvent(nil), group...)
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].Timestamp.Before(members[j].Timestamp)
	})

	root := members[0]
	affected := affectedServices(members)
	confidence := Confidence(members, window)
	start, end := members[0].Timestamp, members[len(members)-1].Timestamp

	return models.RootCause{
		Message:          root.Message,
		Service:          root.Service,
		Timestamp:        root.Timestamp,
		AffectedServices: affected,
		AnomalyCount:     len(members),
		ConfidenceScore:  confidence,
		Explanations: models.Explanations{
			RootCause: RootCauseExplanation(root, affected, len(members), confidence),
			Timeline:  TimelineExplanation(members),
			Impact:    ImpactExplanation(members, confidence),
		},
		LevelDistribution: levelDistribution(members),
		TimelineSummary: models.TimelineSummary{
			Start:           start,
			End:             end,
			DurationSeconds: end.Sub(start).Seconds(),
		},
		Members: members,
	}
}

func affectedServices(members []models.ScoredEvent) []string {
	seen := make(map[string]struct{}, len(members))
	services := make([]string, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m.Service]; ok {
			continue
		}
		seen[m.Service] = struct{}{}
		services = append(services, m.Service)
	}
	sort.Strings(services)
	return services
}

func levelDistribution(members []models.ScoredEvent) map[models.Level]int {
	dist := make(map[models.Level]int)
	for _, m := range members {
		dist[m.Level]++
	}
	return dist
}
