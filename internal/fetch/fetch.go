// Package fetch retrieves media variants over the page's standard HTTP
// transport. The proxy cache tier plugs in as the client's RoundTripper.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidegrove/galleria/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "Galleria/1.0"
)

// Client fetches one media variant per call.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a fetcher. transport may be the proxy-tier interceptor;
// nil uses the default transport.
func NewClient(transport http.RoundTripper, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger: logger,
	}
}

// Fetch downloads the variant of rawURL described by spec and verifies the
// bytes look like media. Failures map onto the load-error taxonomy.
func (c *Client) Fetch(ctx context.Context, rawURL string, spec domain.QualitySpec) ([]byte, error) {
	reqURL, err := VariantURL(rawURL, spec)
	if err != nil {
		return nil, &domain.LoadError{Kind: domain.FailureNetwork, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &domain.LoadError{Kind: domain.FailureNetwork, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/webp,image/jpeg,image/png,image/*;q=0.8")

	c.logger.Debug("fetching media", "url", reqURL, "max_width", spec.MaxWidth, "quality", spec.Quality)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &domain.LoadError{Kind: domain.FailureCancelled, Err: ctx.Err()}
		}
		return nil, &domain.LoadError{Kind: domain.FailureNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.LoadError{
			Kind: domain.FailureNetwork,
			Err:  fmt.Errorf("unexpected status %d for %s", resp.StatusCode, reqURL),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &domain.LoadError{Kind: domain.FailureCancelled, Err: ctx.Err()}
		}
		return nil, &domain.LoadError{Kind: domain.FailureNetwork, Err: err}
	}

	if _, ok := SniffFormat(body); !ok {
		return nil, &domain.LoadError{
			Kind: domain.FailureDecode,
			Err:  fmt.Errorf("response from %s is not a recognized media format", reqURL),
		}
	}
	return body, nil
}

// VariantURL appends the variant parameters (w, q, fm) the media CDN
// understands to the source URL.
func VariantURL(rawURL string, spec domain.QualitySpec) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("bad media url %q: %w", rawURL, err)
	}
	q := u.Query()
	if spec.MaxWidth > 0 {
		q.Set("w", strconv.Itoa(spec.MaxWidth))
	}
	if spec.Quality > 0 {
		q.Set("q", strconv.Itoa(spec.Quality))
	}
	if spec.Format != "" {
		q.Set("fm", spec.Format)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Magic prefixes for the formats the gallery serves.
var magics = []struct {
	format string
	prefix []byte
	offset int
}{
	{"jpeg", []byte{0xFF, 0xD8, 0xFF}, 0},
	{"png", []byte{0x89, 0x50, 0x4E, 0x47}, 0},
	{"gif", []byte("GIF8"), 0},
	{"webp", []byte("WEBP"), 8}, // RIFF....WEBP
}

// SniffFormat identifies the container format from the payload's magic
// bytes. Unrecognized bytes are a decode failure upstream.
func SniffFormat(payload []byte) (string, bool) {
	for _, m := range magics {
		end := m.offset + len(m.prefix)
		if len(payload) >= end && bytes.Equal(payload[m.offset:end], m.prefix) {
			return m.format, true
		}
	}
	return "", false
}
