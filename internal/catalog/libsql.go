package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/operon-dev/operon/pkg/schema"
)

// LibSQLStore persists templates and scheduled jobs in a libSQL database
// (embedded SQLite fork). Operation and workflow history is deliberately
// not persisted; only the catalog survives restarts.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/operon.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Templates ---

func (s *LibSQLStore) StoreTemplate(ctx context.Context, tpl *schema.WorkflowTemplate) error {
	steps, err := json.Marshal(tpl.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	tags, err := nullableJSON(tpl.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates (id, name, description, type, steps, tags, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, description=excluded.description, type=excluded.type,
		   steps=excluded.steps, tags=excluded.tags, updated_at=excluded.updated_at`,
		tpl.ID, tpl.Name, nullStr(tpl.Description), string(tpl.Type),
		string(steps), tags, timeOrNow(tpl.CreatedAt), timeOrNow(tpl.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetTemplate(ctx context.Context, id string) (*schema.WorkflowTemplate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, type, steps, tags, created_at, updated_at
		 FROM templates WHERE id = ?`, id)
	tpl, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, schema.NewError(schema.ErrCodeNotFound, "template not found: "+id)
	}
	return tpl, err
}

func (s *LibSQLStore) ListTemplates(ctx context.Context) ([]*schema.WorkflowTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, type, steps, tags, created_at, updated_at
		 FROM templates ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.WorkflowTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "template", id)
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan code.
type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(sc scanner) (*schema.WorkflowTemplate, error) {
	tpl := &schema.WorkflowTemplate{}
	var desc, tags sql.NullString
	var steps, typ string
	if err := sc.Scan(&tpl.ID, &tpl.Name, &desc, &typ, &steps, &tags, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
		return nil, err
	}
	tpl.Description = desc.String
	tpl.Type = schema.WorkflowType(typ)
	if err := json.Unmarshal([]byte(steps), &tpl.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps for template %s: %w", tpl.ID, err)
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &tpl.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags for template %s: %w", tpl.ID, err)
		}
	}
	return tpl, nil
}

// --- Scheduled jobs ---

func (s *LibSQLStore) CreateJob(ctx context.Context, job *schema.ScheduledJob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, template_id, name, cron_expression, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TemplateID, nullStr(job.Name), job.CronExpression, boolToInt(job.Enabled),
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus), timeOrNow(job.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetJob(ctx context.Context, id string) (*schema.ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, template_id, name, cron_expression, enabled, last_run_at, next_run_at, last_run_status, created_at
		 FROM scheduled_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, schema.NewError(schema.ErrCodeNotFound, "scheduled job not found: "+id)
	}
	return job, err
}

// ListJobs returns scheduled jobs. With enabledOnly, disabled jobs are skipped.
func (s *LibSQLStore) ListJobs(ctx context.Context, enabledOnly bool) ([]*schema.ScheduledJob, error) {
	query := `SELECT id, template_id, name, cron_expression, enabled, last_run_at, next_run_at, last_run_status, created_at
	          FROM scheduled_jobs`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// JobUpdate carries partial updates for a scheduled job. Nil fields are left
// untouched.
type JobUpdate struct {
	Enabled       *bool
	LastRunAt     *time.Time
	NextRunAt     *time.Time
	LastRunStatus *string
}

func (s *LibSQLStore) UpdateJob(ctx context.Context, id string, upd JobUpdate) error {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if upd.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*upd.Enabled))
	}
	if upd.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *upd.LastRunAt)
	}
	if upd.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *upd.NextRunAt)
	}
	if upd.LastRunStatus != nil {
		sets = append(sets, "last_run_status = ?")
		args = append(args, *upd.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE scheduled_jobs SET "+joinSets(sets)+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func (s *LibSQLStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func scanJob(sc scanner) (*schema.ScheduledJob, error) {
	job := &schema.ScheduledJob{}
	var name, lastStatus sql.NullString
	var lastRun, nextRun sql.NullTime
	var enabled int
	if err := sc.Scan(&job.ID, &job.TemplateID, &name, &job.CronExpression, &enabled,
		&lastRun, &nextRun, &lastStatus, &job.CreatedAt); err != nil {
		return nil, err
	}
	job.Name = name.String
	job.Enabled = enabled != 0
	job.LastRunStatus = lastStatus.String
	if lastRun.Valid {
		t := lastRun.Time
		job.LastRunAt = &t
	}
	if nextRun.Valid {
		t := nextRun.Time
		job.NextRunAt = &t
	}
	return job, nil
}

// --- Helpers ---

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullableJSON(v []string) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.NewError(schema.ErrCodeNotFound, kind+" not found: "+id)
	}
	return nil
}
