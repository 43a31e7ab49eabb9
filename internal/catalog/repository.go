package catalog

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	ListPendingRuns(ctx context.Context) ([]*Run, error)
	UpdateRunStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateRunStage(ctx context.Context, id, stage string, progress int) error
	UpdateRunManifest(ctx context.Context, id, manifestPath string) error
	CountRuns(ctx context.Context, status string) (int, error)

	CreateClip(ctx context.Context, clip *Clip) error
	GetClipsByRun(ctx context.Context, runID string) ([]*Clip, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, video_id, project, spec, status, stage, progress, error, manifest_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.VideoID, run.Project, run.Spec, run.Status, run.Stage,
		run.Progress, run.Error, run.ManifestPath,
		run.CreatedAt.Format(time.RFC3339), run.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, video_id, project, spec, status, stage, progress, error, manifest_path, created_at, updated_at
		FROM runs WHERE id = ?
	`, id)
	return r.scanRun(row)
}

func (r *SQLiteRepository) scanRun(row *sql.Row) (*Run, error) {
	var run Run
	var createdAt, updatedAt string

	err := row.Scan(&run.ID, &run.VideoID, &run.Project, &run.Spec, &run.Status,
		&run.Stage, &run.Progress, &run.Error, &run.ManifestPath, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	run.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &run, nil
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, video_id, project, spec, status, stage, progress, error, manifest_path, created_at, updated_at
		FROM runs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanRuns(rows)
}

func (r *SQLiteRepository) ListPendingRuns(ctx context.Context) ([]*Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, video_id, project, spec, status, stage, progress, error, manifest_path, created_at, updated_at
		FROM runs WHERE status = 'pending' ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanRuns(rows)
}

func (r *SQLiteRepository) scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		var run Run
		var createdAt, updatedAt string

		if err := rows.Scan(&run.ID, &run.VideoID, &run.Project, &run.Spec, &run.Status,
			&run.Stage, &run.Progress, &run.Error, &run.ManifestPath, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		run.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

func (r *SQLiteRepository) UpdateRunStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, updated_at = datetime('now') WHERE id = ?
	`, status, errorMsg, id)
	return err
}

func (r *SQLiteRepository) UpdateRunStage(ctx context.Context, id, stage string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET stage = ?, progress = ?, updated_at = datetime('now') WHERE id = ?
	`, stage, progress, id)
	return err
}

func (r *SQLiteRepository) UpdateRunManifest(ctx context.Context, id, manifestPath string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET manifest_path = ?, updated_at = datetime('now') WHERE id = ?
	`, manifestPath, id)
	return err
}

func (r *SQLiteRepository) CountRuns(ctx context.Context, status string) (int, error) {
	var count int
	var err error
	if status == "" {
		err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&count)
	} else {
		err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs WHERE status = ?", status).Scan(&count)
	}
	return count, err
}

func (r *SQLiteRepository) CreateClip(ctx context.Context, c *Clip) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clips (id, run_id, position, name, path, start_s, end_s, duration_s, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.RunID, c.Position, c.Name, c.Path, c.Start, c.End, c.Duration,
		c.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetClipsByRun(ctx context.Context, runID string) ([]*Clip, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, position, name, path, start_s, end_s, duration_s, created_at
		FROM clips WHERE run_id = ? ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []*Clip
	for rows.Next() {
		var c Clip
		var createdAt string
		if err := rows.Scan(&c.ID, &c.RunID, &c.Position, &c.Name, &c.Path,
			&c.Start, &c.End, &c.Duration, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		clips = append(clips, &c)
	}
	return clips, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')
	`, key, value)
	return err
}
