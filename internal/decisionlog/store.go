package decisionlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"gifdupes/internal/logging"
)

// Log persists scan runs and trigger decisions.
type Log struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Run summarizes one finished scan.
type Run struct {
	RunID           string
	StartedAt       time.Time
	FinishedAt      time.Time
	Roots           []string
	Generation      string
	Files           int
	Excluded        int
	Candidates      int
	Comparisons     int
	CacheHits       int
	DeepAnalyses    int
	Degraded        int
	DuplicateGroups int
	CacheRebuilt    bool
	Status          string
}

// Decision is one escalation-trigger evaluation together with the verdict
// the pair finally received.
type Decision struct {
	PathA              string
	PathB              string
	CandidateRatio     float64
	ProvisionalLevel   int
	ProvisionalVerdict string
	Level3Agreed       bool
	CollectionSize     int
	Score              float64
	Threshold          float64
	Admitted           bool
	Reason             string
	FinalVerdict       string
	FinalConfidence    int
	DecidedAt          time.Time
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Open creates or connects to the decision log at path.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("decision log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure decision log dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if logger == nil {
		logger = logging.NewNop()
	}
	l := &Log{db: db, path: path, logger: logger.With(logging.String(logging.FieldComponent, "decisionlog"))}
	if err := l.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	l.logger.Debug("decision log opened", logging.String("decision_log_path", path))
	return l, nil
}

// Path returns the database location.
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// RecordRun appends a finished run.
func (l *Log) RecordRun(ctx context.Context, run Run) error {
	if l == nil {
		return nil
	}
	return retryOnBusy(ctx, func() error {
		_, err := l.db.ExecContext(ctx, `INSERT INTO scan_runs (
			run_id, started_at, finished_at, roots, generation, files, excluded, candidates,
			comparisons, cache_hits, deep_analyses, degraded, duplicate_groups, cache_rebuilt, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID,
			formatTime(run.StartedAt),
			formatTime(run.FinishedAt),
			strings.Join(run.Roots, "\n"),
			run.Generation,
			run.Files,
			run.Excluded,
			run.Candidates,
			run.Comparisons,
			run.CacheHits,
			run.DeepAnalyses,
			run.Degraded,
			run.DuplicateGroups,
			boolToInt(run.CacheRebuilt),
			run.Status,
		)
		return err
	})
}

// RecordDecisions appends decisions for runID in a single transaction.
func (l *Log) RecordDecisions(ctx context.Context, runID string, decisions []Decision) error {
	if l == nil || len(decisions) == 0 {
		return nil
	}
	return retryOnBusy(ctx, func() error {
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO trigger_decisions (
			run_id, path_a, path_b, candidate_ratio, provisional_level, provisional_verdict,
			level3_agreed, collection_size, score, threshold, admitted, reason,
			final_verdict, final_confidence, decided_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, d := range decisions {
			if _, err := stmt.ExecContext(ctx,
				runID,
				d.PathA,
				d.PathB,
				d.CandidateRatio,
				d.ProvisionalLevel,
				d.ProvisionalVerdict,
				boolToInt(d.Level3Agreed),
				d.CollectionSize,
				d.Score,
				d.Threshold,
				boolToInt(d.Admitted),
				d.Reason,
				d.FinalVerdict,
				d.FinalConfidence,
				formatTime(d.DecidedAt),
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// RecentRuns returns up to limit runs, newest first.
func (l *Log) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if l == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.QueryContext(ctx, `SELECT
		run_id, started_at, finished_at, roots, generation, files, excluded, candidates,
		comparisons, cache_hits, deep_analyses, degraded, duplicate_groups, cache_rebuilt, status
		FROM scan_runs ORDER BY finished_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run               Run
			started, finished string
			roots             string
			rebuilt           int
		)
		if err := rows.Scan(&run.RunID, &started, &finished, &roots, &run.Generation,
			&run.Files, &run.Excluded, &run.Candidates, &run.Comparisons, &run.CacheHits,
			&run.DeepAnalyses, &run.Degraded, &run.DuplicateGroups, &rebuilt, &run.Status); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		run.StartedAt = parseTime(started)
		run.FinishedAt = parseTime(finished)
		if roots != "" {
			run.Roots = strings.Split(roots, "\n")
		}
		run.CacheRebuilt = rebuilt != 0
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Decisions returns every decision recorded for runID in insertion order.
func (l *Log) Decisions(ctx context.Context, runID string) ([]Decision, error) {
	if l == nil {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx, `SELECT
		path_a, path_b, candidate_ratio, provisional_level, provisional_verdict, level3_agreed,
		collection_size, score, threshold, admitted, reason, final_verdict, final_confidence, decided_at
		FROM trigger_decisions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var (
			d                Decision
			agreed, admitted int
			decided          string
		)
		if err := rows.Scan(&d.PathA, &d.PathB, &d.CandidateRatio, &d.ProvisionalLevel,
			&d.ProvisionalVerdict, &agreed, &d.CollectionSize, &d.Score, &d.Threshold, &admitted,
			&d.Reason, &d.FinalVerdict, &d.FinalConfidence, &decided); err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}
		d.Level3Agreed = agreed != 0
		d.Admitted = admitted != 0
		d.DecidedAt = parseTime(decided)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
