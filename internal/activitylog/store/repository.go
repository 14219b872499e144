// Package store reads project activity logs from PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/worklenz/activitylog/internal/activitylog"
)

// MaxPageSize is the largest page the repository serves.
const MaxPageSize = 100

const (
	defaultPageSize = 20
	unknownActor    = "Unknown User"
)

var logTexts = map[string]string{
	"name":        "updated task name",
	"status":      "changed status",
	"priority":    "changed priority",
	"assignee":    "updated assignee",
	"end_date":    "changed due date",
	"start_date":  "changed start date",
	"estimation":  "updated time estimation",
	"description": "updated description",
	"phase":       "changed phase",
	"labels":      "updated labels",
}

// Query selects one page of a project's activity log.
type Query struct {
	ProjectID string
	Filter    activitylog.Filter
	Page      int
	Size      int
}

// PageReader is the read contract shared by the repository and its fakes.
type PageReader interface {
	Page(ctx context.Context, q Query) (activitylog.PageResult, error)
}

type dbtx interface {
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository reads task_activity_logs.
type Repository struct {
	db dbtx
}

// NewRepository builds a repository on top of the pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

func newRepository(db dbtx) *Repository {
	return &Repository{db: db}
}

// Page returns the requested page, newest first, with pagination totals.
// The data and count queries run concurrently.
func (r *Repository) Page(ctx context.Context, q Query) (activitylog.PageResult, error) {
	if r == nil || r.db == nil {
		return activitylog.PageResult{}, fmt.Errorf("store: repository not configured")
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}
	size := q.Size
	if size <= 0 {
		size = defaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	offset := (page - 1) * size

	where := "WHERE tal.project_id = $1"
	args := []interface{}{q.ProjectID}
	if !q.Filter.IsAll() {
		where += " AND tal.attribute_type = $2"
		args = append(args, string(q.Filter))
	}

	var (
		records []activitylog.LogRecord
		total   int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dataArgs := append(append([]interface{}{}, args...), size, offset)
		sql := fmt.Sprintf(selectLogsSQL, where, len(args)+1, len(args)+2)
		rows, err := r.db.Query(gctx, sql, dataArgs...)
		if err != nil {
			return fmt.Errorf("store: query activity logs: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var row logRow
			if err := rows.Scan(
				&row.ID, &row.TaskID, &row.AttributeType, &row.CreatedAt,
				&row.TaskName, &row.TaskNo, &row.ProjectKey, &row.UserName,
			); err != nil {
				return fmt.Errorf("store: scan activity log: %w", err)
			}
			records = append(records, row.record())
		}
		return rows.Err()
	})
	g.Go(func() error {
		if err := r.db.QueryRow(gctx, countLogsSQL+where, args...).Scan(&total); err != nil {
			return fmt.Errorf("store: count activity logs: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return activitylog.PageResult{}, err
	}

	return activitylog.PageResult{
		Records:    records,
		PageNumber: page,
		PageSize:   size,
		TotalPages: activitylog.TotalPagesFor(int(total), size),
		TotalCount: int(total),
	}, nil
}

const selectLogsSQL = `
SELECT
	tal.id::text,
	tal.task_id::text,
	tal.attribute_type,
	tal.created_at,
	t.name,
	t.task_no,
	p.key,
	u.name
FROM task_activity_logs tal
LEFT JOIN tasks t ON tal.task_id = t.id
LEFT JOIN projects p ON tal.project_id = p.id
LEFT JOIN users u ON tal.user_id = u.id
%s
ORDER BY tal.created_at DESC, tal.id DESC
LIMIT $%d OFFSET $%d`

const countLogsSQL = `SELECT COUNT(*) FROM task_activity_logs tal `

type logRow struct {
	ID            string
	TaskID        pgtype.Text
	AttributeType string
	CreatedAt     pgtype.Timestamptz
	TaskName      pgtype.Text
	TaskNo        pgtype.Int8
	ProjectKey    pgtype.Text
	UserName      pgtype.Text
}

func (row logRow) record() activitylog.LogRecord {
	actor := activitylog.Actor{Name: unknownActor, ColorCode: activitylog.DefaultColor}
	if row.UserName.Valid && strings.TrimSpace(row.UserName.String) != "" {
		actor.Name = row.UserName.String
		actor.ColorCode = activitylog.ColorFromName(row.UserName.String)
	}
	rec := activitylog.LogRecord{
		ID:                row.ID,
		Actor:             actor,
		Subject:           activitylog.Subject{Key: taskKey(row.ProjectKey, row.TaskNo, row.TaskID), Name: row.TaskName.String},
		ChangeDescription: logText(row.AttributeType),
	}
	if row.CreatedAt.Valid {
		rec.Timestamp = row.CreatedAt.Time
	}
	return rec
}

func taskKey(projectKey pgtype.Text, taskNo pgtype.Int8, taskID pgtype.Text) string {
	if projectKey.Valid && projectKey.String != "" && taskNo.Valid && taskNo.Int64 != 0 {
		return fmt.Sprintf("%s-%d", projectKey.String, taskNo.Int64)
	}
	if taskID.Valid && taskID.String != "" {
		id := taskID.String
		if len(id) > 8 {
			id = id[:8]
		}
		return "TASK-" + id
	}
	return "TASK-unknown"
}

func logText(attributeType string) string {
	if text, ok := logTexts[attributeType]; ok {
		return text
	}
	return "made changes to"
}

// ErrProjectNotFound is returned by ProjectName for unknown projects.
var ErrProjectNotFound = errors.New("store: project not found")

const projectNameSQL = `SELECT name FROM projects WHERE id = $1`

// ProjectName returns the display name of a project.
func (r *Repository) ProjectName(ctx context.Context, projectID string) (string, error) {
	var name string
	if err := r.db.QueryRow(ctx, projectNameSQL, projectID).Scan(&name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrProjectNotFound
		}
		return "", fmt.Errorf("load project: %w", err)
	}
	return name, nil
}
