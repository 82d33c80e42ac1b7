// Package audit persists per-run processing metadata to Postgres. Only
// counts, durations and a filename hash are stored. Document text and
// entity values never reach the audit trail.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fbellamy/anonymiseur/internal/config"
	"github.com/fbellamy/anonymiseur/internal/entity"
	"github.com/fbellamy/anonymiseur/internal/stats"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS processing_runs (
	id            BIGSERIAL PRIMARY KEY,
	filename_hash TEXT        NOT NULL,
	mode          TEXT        NOT NULL,
	mode_used     TEXT        NOT NULL,
	degraded      BOOLEAN     NOT NULL,
	entities      INT         NOT NULL,
	occurrences   INT         NOT NULL,
	by_type       JSONB       NOT NULL,
	by_source     JSONB       NOT NULL,
	duration_ms   DOUBLE PRECISION NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Run is one audit row.
type Run struct {
	ID           int64     `db:"id"`
	FilenameHash string    `db:"filename_hash"`
	Mode         string    `db:"mode"`
	ModeUsed     string    `db:"mode_used"`
	Degraded     bool      `db:"degraded"`
	Entities     int       `db:"entities"`
	Occurrences  int       `db:"occurrences"`
	ByType       []byte    `db:"by_type"`
	BySource     []byte    `db:"by_source"`
	DurationMS   float64   `db:"duration_ms"`
	CreatedAt    time.Time `db:"created_at"`
}

// Store writes audit rows to Postgres.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to the database and ensures the audit table exists.
func NewStore(cfg config.AuditConfig, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &Store{db: db, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to ensure audit schema: %w", err)
	}

	logger.Info("Audit store initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)

	return store, nil
}

// RecordRun inserts one processing-run row. Failures are logged, not
// propagated: auditing never blocks document processing.
func (s *Store) RecordRun(ctx context.Context, filename, mode, modeUsed string, degraded bool, report stats.Report, duration time.Duration) {
	query := `
		INSERT INTO processing_runs
			(filename_hash, mode, mode_used, degraded, entities, occurrences, by_type, by_source, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		hashFilename(filename),
		mode,
		modeUsed,
		degraded,
		report.TotalEntities,
		report.TotalOccurrences,
		encodeCounts(typeCounts(report.ByType)),
		encodeCounts(sourceCounts(report.BySource)),
		float64(duration.Microseconds())/1000.0,
	)
	if err != nil {
		s.logger.Warn("Failed to record audit run", zap.Error(err))
	}
}

// RecentRuns returns the latest audit rows, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	var runs []Run
	query := `SELECT * FROM processing_runs ORDER BY created_at DESC LIMIT $1`
	if err := s.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query audit runs: %w", err)
	}
	return runs, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// hashFilename keeps filenames out of the audit trail; the hash is enough
// to correlate repeated runs of the same document.
func hashFilename(filename string) string {
	sum := sha256.Sum256([]byte(filename))
	return hex.EncodeToString(sum[:])
}

func typeCounts(m map[entity.Type]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func sourceCounts(m map[entity.Source]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func encodeCounts(m map[string]int) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// maskDatabaseURL hides credentials in a database URL for logging.
func maskDatabaseURL(url string) string {
	if at := strings.LastIndex(url, "@"); at != -1 {
		if scheme := strings.Index(url, "://"); scheme != -1 {
			return url[:scheme+3] + "***" + url[at:]
		}
	}
	return url
}
