package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"rassegna.press/rassegna/internal/db"
	"rassegna.press/rassegna/internal/globaltime"
)

// Recorder persists pipeline state in Postgres: named JSONB snapshots
// (overwritten in place), run reports and rewrite side-records.
type Recorder struct {
	pool *db.Pool
}

func NewRecorder(pool *db.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// SaveSnapshot overwrites the snapshot stored under name.
func (r *Recorder) SaveSnapshot(ctx context.Context, name string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s snapshot: %w", name, err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO rassegna.state_snapshots (name, snapshot, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at`,
		name, payload, globaltime.Now())
	if err != nil {
		return fmt.Errorf("save %s snapshot: %w", name, err)
	}
	return nil
}

// LoadSnapshot reads the snapshot stored under name into out. The second
// return value reports whether a snapshot existed.
func (r *Recorder) LoadSnapshot(ctx context.Context, name string, out any) (bool, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `
		SELECT snapshot FROM rassegna.state_snapshots WHERE name = $1`, name).Scan(&payload)
	if errors.Is(err, db.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s snapshot: %w", name, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("decode %s snapshot: %w", name, err)
	}
	return true, nil
}

// SaveRunReport stores the final counters of a run.
func (r *Recorder) SaveRunReport(ctx context.Context, report Report) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rassegna.pipeline_runs
			(run_id, total_candidates, processed, created, skipped, failed, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO UPDATE SET
			total_candidates = EXCLUDED.total_candidates,
			processed = EXCLUDED.processed,
			created = EXCLUDED.created,
			skipped = EXCLUDED.skipped,
			failed = EXCLUDED.failed,
			completed_at = EXCLUDED.completed_at`,
		report.RunID, report.TotalCandidates, report.Processed, report.Created,
		report.Skipped, report.Failed, report.StartedAt, report.CompletedAt)
	if err != nil {
		return fmt.Errorf("save run report: %w", err)
	}
	return nil
}

// RecentRunReports returns the newest run reports, most recent first.
func (r *Recorder) RecentRunReports(ctx context.Context, limit int) ([]Report, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT run_id, total_candidates, processed, created, skipped, failed, started_at, completed_at
		FROM rassegna.pipeline_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query run reports: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var report Report
		if err := rows.Scan(&report.RunID, &report.TotalCandidates, &report.Processed,
			&report.Created, &report.Skipped, &report.Failed,
			&report.StartedAt, &report.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan run report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run reports: %w", err)
	}
	return reports, nil
}

// SaveRewriteSnapshot stores the rewrite side-record for one article.
func (r *Recorder) SaveRewriteSnapshot(ctx context.Context, snap RewriteSnapshot) error {
	original, err := json.Marshal(snap.Original)
	if err != nil {
		return fmt.Errorf("marshal original: %w", err)
	}
	rewritten, err := json.Marshal(snap.Rewritten)
	if err != nil {
		return fmt.Errorf("marshal rewritten: %w", err)
	}
	verdict, err := json.Marshal(snap.Verdict)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO rassegna.rewrite_snapshots
			(url, source_name, original, rewritten, verdict, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.URL, snap.SourceName, original, rewritten, verdict, globaltime.Now())
	if err != nil {
		return fmt.Errorf("save rewrite snapshot: %w", err)
	}
	return nil
}
