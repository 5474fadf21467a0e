// Package export materialises metadata tables as downloadable artifacts and
// optionally publishes them to a blob store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clonecore/internal/blob"
	"clonecore/internal/metadata"
	"clonecore/pkg/domain"
)

// Format names an artifact encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
)

// Formats lists the supported formats.
func Formats() []Format { return []Format{FormatCSV, FormatTSV, FormatJSON, FormatHTML} }

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}
	return "", domain.ConfigurationError{Option: "format", Value: s, Reason: "expected csv, tsv, json or html"}
}

func (f Format) contentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatTSV:
		return "text/tab-separated-values"
	case FormatJSON:
		return "application/json"
	default:
		return "text/html"
	}
}

// Artifact describes a rendered export.
type Artifact struct {
	ID          string         `json:"id"`
	Key         string         `json:"key,omitempty"`
	Format      Format         `json:"format"`
	ContentType string         `json:"content_type"`
	SizeBytes   int64          `json:"size_bytes"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Rendered pairs an artifact with its payload.
type Rendered struct {
	Artifact Artifact
	Payload  []byte
}

// Exporter renders metadata tables.
type Exporter struct {
	store  blob.Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithStore enables Publish.
func WithStore(s blob.Store) Option { return func(e *Exporter) { e.store = s } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides artifact timestamps.
func WithClock(now func() time.Time) Option { return func(e *Exporter) { e.now = now } }

// WithIDSource overrides artifact ids.
func WithIDSource(newID func() string) Option { return func(e *Exporter) { e.newID = newID } }

// New returns an Exporter.
func New(opts ...Option) *Exporter {
	e := &Exporter{
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Materialize renders the selected columns of md in format. With no columns
// every column is rendered; cell_id always comes first.
func (e *Exporter) Materialize(format Format, md *metadata.Table, columns []string) (Rendered, error) {
	cols, err := selectColumns(md, columns)
	if err != nil {
		return Rendered{}, err
	}
	var buf bytes.Buffer
	switch format {
	case FormatCSV:
		err = writeDelimited(&buf, ',', md, cols)
	case FormatTSV:
		err = writeDelimited(&buf, '\t', md, cols)
	case FormatJSON:
		err = writeJSON(&buf, md, cols)
	case FormatHTML:
		writeHTML(&buf, md, cols)
	default:
		return Rendered{}, fmt.Errorf("unsupported export format %s", format)
	}
	if err != nil {
		return Rendered{}, fmt.Errorf("render %s: %w", format, err)
	}
	payload := buf.Bytes()
	return Rendered{
		Artifact: Artifact{
			ID:          e.newID(),
			Format:      format,
			ContentType: format.contentType(),
			SizeBytes:   int64(len(payload)),
			Metadata:    map[string]any{"rows": md.Len(), "columns": len(cols) + 1},
			CreatedAt:   e.now(),
		},
		Payload: payload,
	}, nil
}

// Publish renders md and stores it under exports/<name>/<id>.<format>.
func (e *Exporter) Publish(ctx context.Context, name string, format Format, md *metadata.Table, columns []string) (Artifact, error) {
	if e.store == nil {
		return Artifact{}, fmt.Errorf("export: no blob store configured")
	}
	r, err := e.Materialize(format, md, columns)
	if err != nil {
		return Artifact{}, err
	}
	key := fmt.Sprintf("exports/%s/%s.%s", name, r.Artifact.ID, format)
	_, err = e.store.Put(ctx, key, bytes.NewReader(r.Payload), blob.PutOptions{
		ContentType: r.Artifact.ContentType,
		Metadata:    map[string]string{"artifact": r.Artifact.ID, "rows": fmt.Sprint(md.Len())},
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("publish %s: %w", key, err)
	}
	r.Artifact.Key = key
	e.logger.Info("export published", zap.String("key", key), zap.Int64("bytes", r.Artifact.SizeBytes))
	return r.Artifact, nil
}

func selectColumns(md *metadata.Table, columns []string) ([]string, error) {
	if len(columns) == 0 {
		return md.Columns(), nil
	}
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if c == domain.ColumnCellID {
			continue
		}
		if !md.Has(c) {
			return nil, domain.LookupError{Field: c}
		}
		out = append(out, c)
	}
	return out, nil
}

func writeDelimited(w io.Writer, comma rune, md *metadata.Table, cols []string) error {
	cw := csv.NewWriter(w)
	cw.Comma = comma
	if err := cw.Write(append([]string{domain.ColumnCellID}, cols...)); err != nil {
		return err
	}
	for _, cell := range md.Cells() {
		record := make([]string, 0, len(cols)+1)
		record = append(record, cell)
		for _, c := range cols {
			record = append(record, md.Value(cell, c).Text())
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonDoc struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

func writeJSON(w io.Writer, md *metadata.Table, cols []string) error {
	doc := jsonDoc{Columns: append([]string{domain.ColumnCellID}, cols...)}
	for _, cell := range md.Cells() {
		row := make(map[string]any, len(cols)+1)
		row[domain.ColumnCellID] = cell
		for _, c := range cols {
			row[c] = md.Value(cell, c)
		}
		doc.Rows = append(doc.Rows, row)
	}
	return json.NewEncoder(w).Encode(doc)
}

func writeHTML(buf *bytes.Buffer, md *metadata.Table, cols []string) {
	buf.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>metadata</title></head><body><table>")
	buf.WriteString("<thead><tr><th>")
	buf.WriteString(domain.ColumnCellID)
	buf.WriteString("</th>")
	for _, c := range cols {
		buf.WriteString("<th>")
		buf.WriteString(html.EscapeString(c))
		buf.WriteString("</th>")
	}
	buf.WriteString("</tr></thead><tbody>")
	for _, cell := range md.Cells() {
		buf.WriteString("<tr><td>")
		buf.WriteString(html.EscapeString(cell))
		buf.WriteString("</td>")
		for _, c := range cols {
			buf.WriteString("<td>")
			buf.WriteString(html.EscapeString(md.Value(cell, c).Text()))
			buf.WriteString("</td>")
		}
		buf.WriteString("</tr>")
	}
	buf.WriteString("</tbody></table></body></html>")
}
