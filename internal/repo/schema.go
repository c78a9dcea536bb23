package repo

// migrations are applied in order at open. Statements must stay portable
// between SQLite and PostgreSQL.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS anomalies (
    id                   TEXT PRIMARY KEY,
    timestamp            TEXT NOT NULL,
    service              TEXT NOT NULL,
    message              TEXT NOT NULL DEFAULT '',
    level                TEXT NOT NULL DEFAULT 'info',
    metadata             TEXT NOT NULL DEFAULT '{}',
    reconstruction_error DOUBLE PRECISION NOT NULL DEFAULT 0,
    anomaly_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
    is_anomaly           BOOLEAN NOT NULL DEFAULT TRUE,
    detected_at          TEXT NOT NULL,
    pipeline_version     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_anomalies_detected_at ON anomalies(detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_anomalies_service ON anomalies(service);

CREATE TABLE IF NOT EXISTS root_causes (
    id                 TEXT PRIMARY KEY,
    message            TEXT NOT NULL DEFAULT '',
    service            TEXT NOT NULL,
    timestamp          TEXT NOT NULL,
    affected_services  TEXT NOT NULL DEFAULT '[]',
    anomaly_count      INTEGER NOT NULL DEFAULT 0,
    confidence_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
    confidence_level   TEXT NOT NULL DEFAULT 'LOW',
    explanations       TEXT NOT NULL DEFAULT '{}',
    level_distribution TEXT NOT NULL DEFAULT '{}',
    timeline_summary   TEXT NOT NULL DEFAULT '{}',
    observed_patterns  TEXT NOT NULL DEFAULT '[]',
    detected_at        TEXT NOT NULL,
    pipeline_version   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_root_causes_detected_at ON root_causes(detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_root_causes_service ON root_causes(service);
CREATE INDEX IF NOT EXISTS idx_root_causes_confidence ON root_causes(confidence_score DESC);
`,
	},
}
