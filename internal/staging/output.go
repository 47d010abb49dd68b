package staging

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"nbexec/internal/kernelerr"
	"nbexec/internal/metrics"
	"nbexec/internal/namespace"
)

// Output serializes output_content and uploads it.
type Output struct {
	transport
}

// NewOutput creates an output materializer. A nil client gets one built
// from cfg.
func NewOutput(cfg Config, client *http.Client, logger zerolog.Logger) *Output {
	return &Output{transport: newTransport(cfg, client, logger.With().Str("component", "staging.output").Logger())}
}

// Materialize uploads the output_content binding of ns to url and returns
// the number of bytes sent. It reports false without touching the network
// when ns has no output_content.
// Text is sent as UTF-8, tables as CSV without an index column and bytes
// verbatim; any other value is a *kernelerr.SerializationError.
func (out *Output) Materialize(ctx context.Context, rawURL string, ns *namespace.Namespace) (int, bool, error) {
	if ns == nil {
		return 0, false, nil
	}
	v, ok := ns.Get(namespace.SlotOutputContent)
	if !ok {
		return 0, false, nil
	}

	data, err := Serialize(v)
	if err != nil {
		return 0, false, err
	}
	if err := out.upload(ctx, rawURL, data); err != nil {
		return 0, false, err
	}
	return len(data), true, nil
}

// Serialize converts an output_content value to the bytes that get uploaded.
func Serialize(v namespace.Value) ([]byte, error) {
	switch v.Kind() {
	case namespace.KindText:
		s, _ := v.AsText()
		return []byte(s), nil
	case namespace.KindTable:
		t, _ := v.AsTable()
		return t.CSV(), nil
	case namespace.KindBytes:
		b, _ := v.AsBytes()
		return b, nil
	}
	return nil, &kernelerr.SerializationError{TypeName: v.TypeName()}
}

func (out *Output) upload(ctx context.Context, rawURL string, data []byte) error {
	redacted := Redact(rawURL)
	if !validURL(rawURL) {
		return &kernelerr.TransferError{Op: "upload", URL: redacted, Cause: errInvalidURL}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, rawURL, bytes.NewReader(data))
	if err != nil {
		return &kernelerr.TransferError{Op: "upload", URL: redacted, Cause: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(data))

	start := time.Now()
	resp, err := out.client.Do(req)
	if err != nil {
		return &kernelerr.TransferError{Op: "upload", URL: redacted, Cause: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &kernelerr.TransferError{Op: "upload", URL: redacted, Status: resp.StatusCode}
	}

	metrics.StagedBytes.WithLabelValues("upload").Add(float64(len(data)))
	out.logger.Debug().
		Str("url", redacted).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Dur("elapsed", time.Since(start)).
		Msg("upload complete")
	return nil
}
