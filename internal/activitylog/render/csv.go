package render

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strconv"
	"time"

	"github.com/worklenz/activitylog/internal/activitylog"
)

var csvHeader = []string{"id", "timestamp", "actor", "task_key", "task_name", "change"}

// CSV writes one row per record. Output page boundaries do not show up in
// the file.
type CSV struct {
	project string
	created time.Time
	buf     *bytes.Buffer
	w       *csv.Writer
}

// NewCSV returns a CSV renderer for one export of project.
func NewCSV(project string) *CSV {
	buf := &bytes.Buffer{}
	return &CSV{project: project, buf: buf, w: csv.NewWriter(buf)}
}

// RenderPage implements activitylog.DocumentRenderer.
func (c *CSV) RenderPage(ctx context.Context, page activitylog.OutputPage) error {
	if page.Index == 0 {
		c.created = page.GeneratedAt
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
	}
	var skips []error
	for _, rec := range page.Records {
		if err := skip(rec); err != nil {
			skips = append(skips, err)
			continue
		}
		row := []string{
			rec.ID,
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.Actor.DisplayName(),
			rec.Subject.Key,
			rec.Subject.Name,
			rec.ChangeDescription,
		}
		if err := c.w.Write(row); err != nil {
			return err
		}
	}
	return errors.Join(skips...)
}

// RenderSummary implements activitylog.DocumentRenderer. The total goes in
// the last two columns so the file keeps a fixed width.
func (c *CSV) RenderSummary(ctx context.Context, summary activitylog.Summary) error {
	row := make([]string, len(csvHeader))
	row[len(row)-2] = "Total Activities"
	row[len(row)-1] = strconv.Itoa(summary.TotalRecords)
	return c.w.Write(row)
}

// Assemble implements activitylog.DocumentRenderer.
func (c *CSV) Assemble(ctx context.Context) (activitylog.Artifact, error) {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return activitylog.Artifact{}, err
	}
	return activitylog.Artifact{
		Name:        FileName(c.project, FormatCSV, c.created),
		ContentType: FormatCSV.ContentType(),
		Data:        c.buf.Bytes(),
	}, nil
}
