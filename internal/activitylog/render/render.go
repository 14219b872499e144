// Package render turns exported activity logs into downloadable documents.
package render

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/worklenz/activitylog/internal/activitylog"
	"github.com/worklenz/activitylog/web"
)

// Format selects the document type of an export.
type Format string

const (
	FormatPDF Format = "pdf"
	FormatCSV Format = "csv"
)

// ParseFormat normalises raw input. Empty input means FormatPDF.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatPDF:
		return FormatPDF, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("render: unsupported format %q", raw)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/pdf"
}

// PDFClient converts HTML into a PDF document.
type PDFClient interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// Factory builds a fresh renderer for every export.
type Factory struct {
	tpl    *template.Template
	client PDFClient
}

// NewFactory parses the activity log template. client may be nil when only
// CSV exports are needed.
func NewFactory(client PDFClient) (*Factory, error) {
	tpl, err := template.New("activity_log.html").ParseFS(web.Templates, "templates/reports/activity_log.html")
	if err != nil {
		return nil, err
	}
	return &Factory{tpl: tpl, client: client}, nil
}

// New returns a renderer for one export of project.
func (f *Factory) New(format Format, project string) (activitylog.DocumentRenderer, error) {
	switch format {
	case FormatCSV:
		return NewCSV(project), nil
	case FormatPDF, "":
		if f == nil || f.client == nil {
			return nil, errors.New("render: pdf client not configured")
		}
		return &PDF{tpl: f.tpl, client: f.client, project: project}, nil
	default:
		return nil, fmt.Errorf("render: unsupported format %q", format)
	}
}

var fileNameReplacer = strings.NewReplacer("/", "-", "\\", "-", "\"", "", "\r", "", "\n", "")

// FileName returns Activity-Log-<project>-<yyyy-MM-dd>.<ext>.
func FileName(project string, format Format, at time.Time) string {
	project = strings.TrimSpace(fileNameReplacer.Replace(project))
	if project == "" {
		project = "Project"
	}
	return fmt.Sprintf("Activity-Log-%s-%s.%s", project, at.Format("2006-01-02"), format)
}

// skip validates rec and returns the error to join when it cannot be drawn.
func skip(rec activitylog.LogRecord) error {
	if err := rec.Validate(); err != nil {
		return &activitylog.RenderSkippedError{RecordID: rec.ID, Cause: err}
	}
	return nil
}
