package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"   // PostgreSQL driver
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// timeLayout is fixed-width so that text ordering matches time ordering.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://miradorstack.io/sentinel/records"))

// ErrInvalidPageToken is returned for tokens not issued by this store.
var ErrInvalidPageToken = errors.New("invalid page token")

// Options configures SQLStore.
type Options struct {
	Driver   string
	DSN      string
	Cache    cache.Provider
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// SQLStore persists anomaly and root-cause records in SQLite or PostgreSQL.
// Records are append-only and keyed deterministically, so replaying a batch
// skips rows that already exist.
type SQLStore struct {
	db       *sqlx.DB
	driver   string
	cache    cache.Provider
	cacheTTL time.Duration
	logger   *slog.Logger
}

// Open connects to the configured database and applies migrations.
func Open(ctx context.Context, opts Options) (*SQLStore, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
	if opts.DSN == "" {
		return nil, fmt.Errorf("store dsn not configured")
	}

	db, err := sqlx.Open(driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// A single connection keeps :memory: databases coherent and
		// serialises writers.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cacheProvider := opts.Cache
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}

	s := &SQLStore{db: db, driver: driver, cache: cacheProvider, cacheTTL: opts.CacheTTL, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		q := s.db.Rebind(`INSERT INTO schema_versions (version, applied_at) VALUES (?, ?) ON CONFLICT (version) DO NOTHING`)
		if _, err := s.db.ExecContext(ctx, q, m.version, formatTime(time.Now())); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// AnomalyID derives the storage key of an anomaly record.
func AnomalyID(rec models.AnomalyRecord) string {
	key := strings.Join([]string{rec.Service, formatTime(rec.Timestamp), string(rec.Level), rec.Message}, "\x1f")
	return uuid.NewSHA1(recordNamespace, []byte("anomaly\x1f"+key)).String()
}

// RootCauseID derives the storage key of a root-cause record.
func RootCauseID(rec models.RootCauseRecord) string {
	key := strings.Join([]string{rec.Service, formatTime(rec.Timestamp), rec.Message, strconv.Itoa(rec.AnomalyCount)}, "\x1f")
	return uuid.NewSHA1(recordNamespace, []byte("root_cause\x1f"+key)).String()
}

// SaveAnomalies inserts records, skipping those already stored.
func (s *SQLStore) SaveAnomalies(ctx context.Context, records []models.AnomalyRecord) (inserted, skipped int, err error) {
	if len(records) == 0 {
		return 0, 0, nil
	}
	q := s.db.Rebind(`INSERT INTO anomalies
    (id, timestamp, service, message, level, metadata, reconstruction_error, anomaly_score, is_anomaly, detected_at, pipeline_version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`)

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, q)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, rec := range records {
			if rec.ID == "" {
				rec.ID = AnomalyID(rec)
			}
			meta, err := marshalJSON(rec.Metadata, "{}")
			if err != nil {
				return fmt.Errorf("encode metadata: %w", err)
			}
			res, err := stmt.ExecContext(ctx, rec.ID, formatTime(rec.Timestamp), rec.Service, rec.Message, string(rec.Level),
				meta, rec.ReconstructionError, rec.AnomalyScore, rec.IsAnomaly, formatTime(rec.DetectedAt), versionOrDefault(rec.PipelineVersion))
			if err != nil {
				return fmt.Errorf("insert anomaly %s: %w", rec.ID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			} else {
				skipped++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	s.invalidate(ctx)
	return inserted, skipped, nil
}

// SaveRootCauses inserts records, skipping those already stored.
func (s *SQLStore) SaveRootCauses(ctx context.Context, records []models.RootCauseRecord) (inserted, skipped int, err error) {
	if len(records) == 0 {
		return 0, 0, nil
	}
	q := s.db.Rebind(`INSERT INTO root_causes
    (id, message, service, timestamp, affected_services, anomaly_count, confidence_score, confidence_level,
     explanations, level_distribution, timeline_summary, observed_patterns, detected_at, pipeline_version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`)

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, q)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, rec := range records {
			if rec.ID == "" {
				rec.ID = RootCauseID(rec)
			}
			row, err := encodeRootCause(rec)
			if err != nil {
				return err
			}
			res, err := stmt.ExecContext(ctx, row.ID, row.Message, row.Service, row.Timestamp, row.AffectedServices,
				row.AnomalyCount, row.ConfidenceScore, row.ConfidenceLevel, row.Explanations, row.LevelDistribution,
				row.TimelineSummary, row.ObservedPatterns, row.DetectedAt, row.PipelineVersion)
			if err != nil {
				return fmt.Errorf("insert root cause %s: %w", rec.ID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			} else {
				skipped++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	s.invalidate(ctx)
	return inserted, skipped, nil
}

// ListAnomalies returns the most recently detected anomalies matching query.
func (s *SQLStore) ListAnomalies(ctx context.Context, query models.AnomalyQuery) (models.AnomalyPage, error) {
	offset, err := decodePageToken(query.PageToken)
	if err != nil {
		return models.AnomalyPage{}, err
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}

	cacheKey := fmt.Sprintf("anomalies|%s|%g|%s|%d|%d", query.Service, query.MinScore, formatTime(query.Since), limit, offset)
	var page models.AnomalyPage
	if s.cacheGet(ctx, cacheKey, &page) {
		return page, nil
	}

	var (
		clauses []string
		args    []interface{}
	)
	if query.Service != "" {
		clauses = append(clauses, "service = ?")
		args = append(args, query.Service)
	}
	if query.MinScore > 0 {
		clauses = append(clauses, "anomaly_score >= ?")
		args = append(args, query.MinScore)
	}
	if !query.Since.IsZero() {
		clauses = append(clauses, "detected_at >= ?")
		args = append(args, formatTime(query.Since))
	}
	q := "SELECT * FROM anomalies" + where(clauses) + " ORDER BY detected_at DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, limit+1, offset)

	var rows []anomalyRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return models.AnomalyPage{}, fmt.Errorf("list anomalies: %w", err)
	}

	page = models.AnomalyPage{Anomalies: make([]models.AnomalyRecord, 0, len(rows))}
	if len(rows) > limit {
		rows = rows[:limit]
		page.NextPageToken = strconv.Itoa(offset + limit)
	}
	for _, row := range rows {
		rec, err := row.decode()
		if err != nil {
			return models.AnomalyPage{}, err
		}
		page.Anomalies = append(page.Anomalies, rec)
	}
	s.cacheSet(ctx, cacheKey, page)
	return page, nil
}

// ListRootCauses returns the most recent root causes, highest confidence
// first within the same detection time.
func (s *SQLStore) ListRootCauses(ctx context.Context, query models.RootCauseQuery) (models.RootCausePage, error) {
	offset, err := decodePageToken(query.PageToken)
	if err != nil {
		return models.RootCausePage{}, err
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 5
	}

	cacheKey := fmt.Sprintf("root_causes|%s|%g|%d|%d", query.Service, query.MinConfidence, limit, offset)
	var page models.RootCausePage
	if s.cacheGet(ctx, cacheKey, &page) {
		return page, nil
	}

	var (
		clauses []string
		args    []interface{}
	)
	if query.Service != "" {
		clauses = append(clauses, "service = ?")
		args = append(args, query.Service)
	}
	if query.MinConfidence > 0 {
		clauses = append(clauses, "confidence_score >= ?")
		args = append(args, query.MinConfidence)
	}
	q := "SELECT * FROM root_causes" + where(clauses) + " ORDER BY detected_at DESC, confidence_score DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, limit+1, offset)

	var rows []rootCauseRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return models.RootCausePage{}, fmt.Errorf("list root causes: %w", err)
	}

	page = models.RootCausePage{RootCauses: make([]models.RootCauseRecord, 0, len(rows))}
	if len(rows) > limit {
		rows = rows[:limit]
		page.NextPageToken = strconv.Itoa(offset + limit)
	}
	for _, row := range rows {
		rec, err := row.decode()
		if err != nil {
			return models.RootCausePage{}, err
		}
		page.RootCauses = append(page.RootCauses, rec)
	}
	s.cacheSet(ctx, cacheKey, page)
	return page, nil
}

// Stats aggregates both record kinds.
func (s *SQLStore) Stats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats

	var anomalyAgg struct {
		Total int             `db:"total"`
		Avg   sql.NullFloat64 `db:"avg"`
	}
	if err := s.db.GetContext(ctx, &anomalyAgg, `SELECT COUNT(*) AS total, AVG(anomaly_score) AS avg FROM anomalies`); err != nil {
		return stats, fmt.Errorf("anomaly stats: %w", err)
	}
	byService, err := s.groupCounts(ctx, `SELECT service AS label, COUNT(*) AS total FROM anomalies GROUP BY service`)
	if err != nil {
		return stats, fmt.Errorf("anomaly stats by service: %w", err)
	}
	stats.Anomalies = models.AnomalyStats{
		Total:        anomalyAgg.Total,
		ByService:    byService,
		AverageScore: round3(anomalyAgg.Avg.Float64),
	}

	var rootAgg struct {
		Total int             `db:"total"`
		Avg   sql.NullFloat64 `db:"avg"`
	}
	if err := s.db.GetContext(ctx, &rootAgg, `SELECT COUNT(*) AS total, AVG(confidence_score) AS avg FROM root_causes`); err != nil {
		return stats, fmt.Errorf("root cause stats: %w", err)
	}
	byLevel, err := s.groupCounts(ctx, `SELECT confidence_level AS label, COUNT(*) AS total FROM root_causes GROUP BY confidence_level`)
	if err != nil {
		return stats, fmt.Errorf("root cause stats by level: %w", err)
	}
	stats.RootCauses = models.RootCauseStats{
		Total:             rootAgg.Total,
		ByConfidenceLevel: byLevel,
		AverageConfidence: round3(rootAgg.Avg.Float64),
	}
	return stats, nil
}

func (s *SQLStore) groupCounts(ctx context.Context, q string) (map[string]int, error) {
	var rows []struct {
		Label string `db:"label"`
		Total int    `db:"total"`
	}
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Label] = r.Total
	}
	return out, nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Debug("store cache get failed", slog.String("key", key), slog.Any("error", err))
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		_ = s.cache.Del(ctx, key)
		return false
	}
	return true
}

func (s *SQLStore) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		s.logger.Debug("store cache set failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *SQLStore) invalidate(ctx context.Context) {
	if err := s.cache.Purge(ctx); err != nil {
		s.logger.Warn("store cache purge failed", slog.Any("error", err))
	}
}

func where(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

func decodePageToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(token)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPageToken, token)
	}
	return offset, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, value)
}

func versionOrDefault(v string) string {
	if v == "" {
		return models.PipelineVersion
	}
	return v
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
