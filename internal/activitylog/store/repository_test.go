package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worklenz/activitylog/internal/activitylog"
)

type stubDB struct {
	mu        sync.Mutex
	rows      [][]interface{}
	total     int64
	queryErr  error
	dataSQL   string
	dataArgs  []interface{}
	countSQL  string
	countArgs []interface{}
	project   string
}

func (s *stubDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataSQL, s.dataArgs = sql, args
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return &stubRows{values: s.rows, index: -1}, nil
}

func (s *stubDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sql == projectNameSQL {
		if s.project == "" {
			return stubRow{err: pgx.ErrNoRows}
		}
		return stubRow{name: s.project}
	}
	s.countSQL, s.countArgs = sql, args
	return stubRow{value: s.total}
}

type stubRow struct {
	value int64
	name  string
	err   error
}

func (r stubRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	switch ptr := dest[0].(type) {
	case *int64:
		*ptr = r.value
	case *string:
		*ptr = r.name
	default:
		return fmt.Errorf("unsupported destination %T", dest[0])
	}
	return nil
}

type stubRows struct {
	values [][]interface{}
	index  int
}

func (r *stubRows) Close()                                       { r.index = len(r.values) }
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	if r.index+1 >= len(r.values) {
		r.index = len(r.values)
		return false
	}
	r.index++
	return true
}

func (r *stubRows) Scan(dest ...interface{}) error {
	if r.index < 0 || r.index >= len(r.values) {
		return fmt.Errorf("no row available")
	}
	row := r.values[r.index]
	if len(dest) != len(row) {
		return fmt.Errorf("expected %d destinations, got %d", len(row), len(dest))
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(row[i]))
	}
	return nil
}

func (r *stubRows) Values() ([]interface{}, error) {
	return r.values[r.index], nil
}

func text(s string) pgtype.Text { return pgtype.Text{String: s, Valid: true} }

func logRowValues(id, attr string, at time.Time, taskName string, taskNo int64, key, user string) []interface{} {
	var no pgtype.Int8
	if taskNo != 0 {
		no = pgtype.Int8{Int64: taskNo, Valid: true}
	}
	var userName pgtype.Text
	if user != "" {
		userName = text(user)
	}
	var projectKey pgtype.Text
	if key != "" {
		projectKey = text(key)
	}
	return []interface{}{
		id, text("9b2f4c1e-0000-4000-8000-000000000001"), attr,
		pgtype.Timestamptz{Time: at, Valid: true},
		text(taskName), no, projectKey, userName,
	}
}

func TestRepositoryPageMapsRows(t *testing.T) {
	at := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	db := &stubDB{
		rows: [][]interface{}{
			logRowValues("l1", "status", at, "Ship release", 42, "WL", "Ava"),
			logRowValues("l2", "labels", at.Add(-time.Hour), "Fix login", 0, "", ""),
		},
		total: 45,
	}
	repo := newRepository(db)

	result, err := repo.Page(context.Background(), Query{ProjectID: "p1", Filter: activitylog.FilterAll, Page: 3, Size: 20})
	require.NoError(t, err)

	assert.Equal(t, 3, result.PageNumber)
	assert.Equal(t, 20, result.PageSize)
	assert.Equal(t, 45, result.TotalCount)
	assert.Equal(t, 3, result.TotalPages)
	require.Len(t, result.Records, 2)

	first := result.Records[0]
	assert.Equal(t, "l1", first.ID)
	assert.Equal(t, "WL-42", first.Subject.Key)
	assert.Equal(t, "Ship release", first.Subject.Name)
	assert.Equal(t, "changed status", first.ChangeDescription)
	assert.Equal(t, "Ava", first.Actor.Name)
	assert.Equal(t, "#1890ff", first.Actor.ColorCode)
	assert.Equal(t, at, first.Timestamp)

	second := result.Records[1]
	assert.Equal(t, "TASK-9b2f4c1e", second.Subject.Key)
	assert.Equal(t, "updated labels", second.ChangeDescription)
	assert.Equal(t, unknownActor, second.Actor.Name)
	assert.Equal(t, activitylog.DefaultColor, second.Actor.ColorCode)

	assert.NotContains(t, db.dataSQL, "attribute_type = $2")
	assert.Contains(t, db.dataSQL, "LIMIT $2 OFFSET $3")
	assert.Equal(t, []interface{}{"p1", 20, 40}, db.dataArgs)
	assert.Equal(t, []interface{}{"p1"}, db.countArgs)
}

func TestRepositoryPageAppliesFilterAndClamps(t *testing.T) {
	db := &stubDB{total: 0}
	repo := newRepository(db)

	result, err := repo.Page(context.Background(), Query{ProjectID: "p1", Filter: activitylog.FilterPriority, Page: 0, Size: 500})
	require.NoError(t, err)

	assert.Equal(t, 1, result.PageNumber)
	assert.Equal(t, MaxPageSize, result.PageSize)
	assert.Equal(t, 0, result.TotalPages)
	assert.Empty(t, result.Records)
	assert.True(t, strings.Contains(db.dataSQL, "tal.attribute_type = $2"))
	assert.Contains(t, db.dataSQL, "LIMIT $3 OFFSET $4")
	assert.Equal(t, []interface{}{"p1", "priority", MaxPageSize, 0}, db.dataArgs)
	assert.Contains(t, db.countSQL, "tal.attribute_type = $2")
	assert.Equal(t, []interface{}{"p1", "priority"}, db.countArgs)
	require.NoError(t, result.Validate())
}

func TestRepositoryPageQueryError(t *testing.T) {
	db := &stubDB{queryErr: errors.New("connection reset")}
	_, err := newRepository(db).Page(context.Background(), Query{ProjectID: "p1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query activity logs")
}

type stubReader struct {
	result activitylog.PageResult
	err    error
	last   Query
}

func (s *stubReader) Page(ctx context.Context, q Query) (activitylog.PageResult, error) {
	s.last = q
	return s.result, s.err
}

func TestSourceFetchPage(t *testing.T) {
	reader := &stubReader{result: activitylog.PageResult{PageNumber: 2, PageSize: 20, TotalPages: 3, TotalCount: 45}}
	src := Source{Reader: reader, ProjectID: "p9"}

	result, err := src.FetchPage(context.Background(), activitylog.FilterStatus, 2, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, result.PageNumber)
	assert.Equal(t, Query{ProjectID: "p9", Filter: activitylog.FilterStatus, Page: 2, Size: 20}, reader.last)

	reader.err = errors.New("pool closed")
	_, err = src.FetchPage(context.Background(), activitylog.FilterStatus, 2, 20)
	assert.ErrorIs(t, err, activitylog.ErrTransport)
}

func TestTaskKeyAndLogText(t *testing.T) {
	assert.Equal(t, "TASK-unknown", taskKey(pgtype.Text{}, pgtype.Int8{}, pgtype.Text{}))
	assert.Equal(t, "TASK-abc", taskKey(text("WL"), pgtype.Int8{}, text("abc")))
	assert.Equal(t, "changed due date", logText("end_date"))
	assert.Equal(t, "made changes to", logText("color"))
}

func TestRepositoryProjectName(t *testing.T) {
	db := &stubDB{project: "Apollo"}
	name, err := newRepository(db).ProjectName(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Apollo", name)

	_, err = newRepository(&stubDB{}).ProjectName(context.Background(), "p2")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}
