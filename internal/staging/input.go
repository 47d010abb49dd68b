package staging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"nbexec/internal/document"
	"nbexec/internal/kernelerr"
	"nbexec/internal/metrics"
	"nbexec/internal/namespace"
	"nbexec/internal/table"
	"nbexec/internal/xport"
)

// Type hints accepted for input files.
const (
	HintNone = ""
	HintCSV  = "csv"
	HintXPT  = "xpt"
	HintPDF  = "pdf"
)

// ValidHint reports whether hint is a known input type hint.
func ValidHint(hint string) bool {
	switch hint {
	case HintNone, HintCSV, HintXPT, HintPDF:
		return true
	}
	return false
}

// Input downloads an input file and decodes it into namespace bindings.
type Input struct {
	transport
}

// NewInput creates an input materializer. A nil client gets one built from
// cfg.
func NewInput(cfg Config, client *http.Client, logger zerolog.Logger) *Input {
	return &Input{transport: newTransport(cfg, client, logger.With().Str("component", "staging.input").Logger())}
}

// Materialize fetches url and returns the namespace fragment to merge into
// the cell's namespace, together with human-readable description lines.
//
// file_content is always bound to the raw bytes. The hint selects an
// additional decoder: csv binds df, xpt binds df and meta, pdf binds
// pdf_reader. Transfer failures are *kernelerr.TransferError and decoder
// failures *kernelerr.DecodingError.
func (in *Input) Materialize(ctx context.Context, rawURL, hint string) (*namespace.Namespace, string, error) {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if !ValidHint(hint) {
		return nil, "", &kernelerr.ValidationError{
			Field:   "input_type_hint",
			Message: fmt.Sprintf("unsupported type hint %q (want csv, xpt or pdf)", hint),
		}
	}

	data, err := in.download(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}

	var desc strings.Builder
	fmt.Fprintf(&desc, "Downloaded %s bytes\n", humanize.Comma(int64(len(data))))

	frag := namespace.New()
	frag.Set(namespace.SlotFileContent, namespace.Bytes(data))

	switch hint {
	case HintCSV:
		t, err := table.ReadCSV(bytes.NewReader(data))
		if err != nil {
			return nil, desc.String(), &kernelerr.DecodingError{Hint: hint, Cause: err}
		}
		frag.Set(namespace.SlotDataFrame, namespace.TableOf(t))
		describeTable(&desc, "CSV", t)

	case HintXPT:
		ds, err := xport.Read(data)
		if err != nil {
			return nil, desc.String(), &kernelerr.DecodingError{Hint: hint, Cause: err}
		}
		t, err := table.New(ds.ColumnNames(), ds.Rows)
		if err != nil {
			return nil, desc.String(), &kernelerr.DecodingError{Hint: hint, Cause: err}
		}
		frag.Set(namespace.SlotDataFrame, namespace.TableOf(t))
		frag.Set(namespace.SlotMeta, namespace.MapOf(xptMeta(ds)))
		describeTable(&desc, "XPT", t)

	case HintPDF:
		doc, err := document.Open(data)
		if err != nil {
			return nil, desc.String(), &kernelerr.DecodingError{Hint: hint, Cause: err}
		}
		frag.Set(namespace.SlotPDFReader, namespace.OpaqueOf(document.TypeName, doc))
		fmt.Fprintf(&desc, "Loaded PDF: %d pages\n", doc.NumPages())
	}

	in.logger.Debug().
		Str("url", Redact(rawURL)).
		Str("hint", hint).
		Int("bytes", len(data)).
		Msg("input materialized")

	return frag, desc.String(), nil
}

func (in *Input) download(ctx context.Context, rawURL string) ([]byte, error) {
	redacted := Redact(rawURL)
	if !validURL(rawURL) {
		return nil, &kernelerr.TransferError{Op: "download", URL: redacted, Cause: errInvalidURL}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &kernelerr.TransferError{Op: "download", URL: redacted, Cause: err}
	}

	start := time.Now()
	resp, err := in.client.Do(req)
	if err != nil {
		return nil, &kernelerr.TransferError{Op: "download", URL: redacted, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &kernelerr.TransferError{Op: "download", URL: redacted, Status: resp.StatusCode}
	}

	body := io.Reader(resp.Body)
	if limit := in.cfg.MaxInputBytes; limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &kernelerr.TransferError{Op: "download", URL: redacted, Cause: err}
	}
	if limit := in.cfg.MaxInputBytes; limit > 0 && int64(len(data)) > limit {
		return nil, &kernelerr.TransferError{
			Op:    "download",
			URL:   redacted,
			Cause: fmt.Errorf("body exceeds %s limit", humanize.IBytes(uint64(limit))),
		}
	}

	metrics.StagedBytes.WithLabelValues("download").Add(float64(len(data)))
	in.logger.Debug().
		Str("url", redacted).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Dur("elapsed", time.Since(start)).
		Msg("download complete")
	return data, nil
}

func describeTable(b *strings.Builder, format string, t *table.Table) {
	fmt.Fprintf(b, "Loaded %s: %s rows, %d columns\n", format, humanize.Comma(int64(t.NumRows())), t.NumCols())
	cols := make([]string, t.NumCols())
	for i, c := range t.Columns() {
		cols[i] = fmt.Sprintf("%q", c)
	}
	fmt.Fprintf(b, "Columns: [%s]\n", strings.Join(cols, ", "))
}

// xptMeta builds the meta binding for an XPORT dataset.
func xptMeta(ds *xport.Dataset) *namespace.Map {
	names := make([]namespace.Value, len(ds.Variables))
	labels := namespace.NewMap()
	formats := namespace.NewMap()
	types := namespace.NewMap()
	lengths := namespace.NewMap()
	for i, v := range ds.Variables {
		names[i] = namespace.Text(v.Name)
		labels.Set(v.Name, namespace.Text(v.Label))
		formats.Set(v.Name, namespace.Text(v.Format))
		types.Set(v.Name, namespace.Text(v.Type.String()))
		lengths.Set(v.Name, namespace.Number(float64(v.Length)))
	}

	m := namespace.NewMap()
	m.Set("table_name", namespace.Text(ds.Name))
	m.Set("file_label", namespace.Text(ds.Label))
	m.Set("column_names", namespace.List(names...))
	m.Set("column_labels", namespace.MapOf(labels))
	m.Set("column_formats", namespace.MapOf(formats))
	m.Set("variable_types", namespace.MapOf(types))
	m.Set("variable_lengths", namespace.MapOf(lengths))
	m.Set("number_rows", namespace.Number(float64(len(ds.Rows))))
	m.Set("number_columns", namespace.Number(float64(len(ds.Variables))))
	m.Set("sas_version", namespace.Text(ds.SASVersion))
	m.Set("os", namespace.Text(ds.OS))
	m.Set("creation_time", timeValue(ds.Created))
	m.Set("modification_time", timeValue(ds.Modified))
	return m
}

func timeValue(t time.Time) namespace.Value {
	if t.IsZero() {
		return namespace.Null()
	}
	return namespace.Text(t.Format(time.RFC3339))
}
