// Package staging moves files between signed object-store URLs and a cell's
// namespace. Input materialization downloads and decodes a file into the
// contract slots; output materialization uploads output_content.
package staging

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Config controls staging transfers.
type Config struct {
	// MaxInputBytes bounds a downloaded body. Zero means unbounded.
	MaxInputBytes int64
	// HTTPTimeout bounds a single transfer. Zero leaves only the call context.
	HTTPTimeout time.Duration
}

// DefaultConfig returns the default staging configuration.
func DefaultConfig() Config {
	return Config{
		MaxInputBytes: 512 << 20,
		HTTPTimeout:   5 * time.Minute,
	}
}

// transport is the HTTP side shared by Input and Output.
type transport struct {
	client *http.Client
	cfg    Config
	logger zerolog.Logger
}

func newTransport(cfg Config, client *http.Client, logger zerolog.Logger) transport {
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return transport{client: client, cfg: cfg, logger: logger}
}

// Redact strips the query string and user info from a signed URL so it can
// be logged or reported without leaking the signature.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

var errInvalidURL = errors.New("invalid URL")

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
