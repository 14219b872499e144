package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/worklenz/activitylog/internal/activitylog"
)

const (
	generatedLayout = "2006-01-02 15:04"
	timestampLayout = "02 Jan 2006, 15:04"
)

// PDF lays out pages as HTML and converts the document through Gotenberg
// when assembled.
type PDF struct {
	tpl     *template.Template
	client  PDFClient
	project string
	created time.Time
	doc     documentView
}

type documentView struct {
	Title       string
	GeneratedOn string
	FilterLabel string
	Pages       []pageView
}

type pageView struct {
	Number  int
	Count   int
	Rows    []rowView
	Summary *activitylog.Summary
}

type rowView struct {
	Initial  string
	Color    string
	Headline string
	Task     string
	Time     string
}

// RenderPage implements activitylog.DocumentRenderer.
func (p *PDF) RenderPage(ctx context.Context, page activitylog.OutputPage) error {
	if len(p.doc.Pages) == 0 {
		p.created = page.GeneratedAt
		p.doc.Title = "Activity Log - " + p.project
		p.doc.GeneratedOn = page.GeneratedAt.Format(generatedLayout)
		if !page.Filter.IsAll() {
			p.doc.FilterLabel = page.Filter.Label()
		}
	}
	view := pageView{Number: page.Number(), Count: page.Count, Rows: make([]rowView, 0, len(page.Records))}
	var skips []error
	for _, rec := range page.Records {
		if err := skip(rec); err != nil {
			skips = append(skips, err)
			continue
		}
		view.Rows = append(view.Rows, newRowView(rec))
	}
	p.doc.Pages = append(p.doc.Pages, view)
	return errors.Join(skips...)
}

// RenderSummary implements activitylog.DocumentRenderer.
func (p *PDF) RenderSummary(ctx context.Context, summary activitylog.Summary) error {
	if len(p.doc.Pages) == 0 {
		return errors.New("render: summary before any page")
	}
	p.doc.Pages[len(p.doc.Pages)-1].Summary = &summary
	return nil
}

// HTML returns the document markup rendered so far.
func (p *PDF) HTML() (string, error) {
	buf := &bytes.Buffer{}
	if err := p.tpl.Execute(buf, p.doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Assemble implements activitylog.DocumentRenderer.
func (p *PDF) Assemble(ctx context.Context) (activitylog.Artifact, error) {
	html, err := p.HTML()
	if err != nil {
		return activitylog.Artifact{}, err
	}
	pdf, err := p.client.RenderHTML(ctx, html)
	if err != nil {
		return activitylog.Artifact{}, fmt.Errorf("convert html: %w", err)
	}
	return activitylog.Artifact{
		Name:        FileName(p.project, FormatPDF, p.created),
		ContentType: FormatPDF.ContentType(),
		Data:        pdf,
	}, nil
}

func newRowView(rec activitylog.LogRecord) rowView {
	rgb := activitylog.HexToRGB(rec.Actor.AvatarColor())
	return rowView{
		Initial:  rec.Actor.Initial(),
		Color:    fmt.Sprintf("#%02x%02x%02x", rgb.R, rgb.G, rgb.B),
		Headline: strings.TrimSpace(rec.Actor.DisplayName() + " " + rec.ChangeDescription),
		Task:     rec.Subject.Key + " - " + rec.Subject.Name,
		Time:     rec.Timestamp.Format(timestampLayout),
	}
}
