package cache

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/tidegrove/galleria/internal/domain"
)

// RequestClass buckets outgoing requests for strategy resolution.
type RequestClass int

const (
	ClassMedia     RequestClass = iota // full-size photos and video posters
	ClassThumbnail                     // small grid variants
	ClassOther                         // everything else
)

// ResolveStrategy maps a request class to its proxy strategy. This is the
// single resolution point; callers never pick strategies ad hoc.
func ResolveStrategy(class RequestClass) domain.Strategy {
	switch class {
	case ClassMedia:
		return domain.StrategyCacheFirst
	case ClassThumbnail:
		return domain.StrategyStaleWhileRevalidate
	default:
		return domain.StrategyNetworkFirst
	}
}

// Classify buckets one request by its URL shape.
func Classify(req *http.Request) RequestClass {
	p := strings.ToLower(req.URL.Path)
	if strings.Contains(p, "thumb") || strings.Contains(req.URL.RawQuery, "thumb") {
		return ClassThumbnail
	}
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".webp", ".gif", ".avif"} {
		if strings.HasSuffix(p, ext) {
			return ClassMedia
		}
	}
	return ClassOther
}

type cachedResponse struct {
	status int
	header http.Header
	body   []byte
}

// Interceptor is the background proxy tier: an http.RoundTripper that can
// answer repeat requests from previously seen responses. It implements
// domain.NetworkInterceptor.
type Interceptor struct {
	base   http.RoundTripper
	logger *slog.Logger

	mu        sync.Mutex
	responses map[string]*cachedResponse

	// revalidations tracks in-flight background refreshes so Close can
	// wait them out.
	revalidations sync.WaitGroup
	closed        bool
}

// NewInterceptor wraps a base transport with response caching.
func NewInterceptor(base http.RoundTripper, logger *slog.Logger) *Interceptor {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{
		base:      base,
		logger:    logger,
		responses: make(map[string]*cachedResponse),
	}
}

// Strategy resolves the strategy for one request.
func (i *Interceptor) Strategy(req *http.Request) domain.Strategy {
	return ResolveStrategy(Classify(req))
}

// RoundTrip serves the request according to its resolved strategy.
// Only GET responses with status 200 are recorded.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return i.base.RoundTrip(req)
	}

	key := req.URL.String()
	switch i.Strategy(req) {
	case domain.StrategyCacheOnly:
		if resp, ok := i.serve(req, key); ok {
			return resp, nil
		}
		return i.synthesize(req, http.StatusGatewayTimeout), nil

	case domain.StrategyNetworkOnly:
		return i.fetchAndRecord(req, key)

	case domain.StrategyNetworkFirst:
		resp, err := i.fetchAndRecord(req, key)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		}
		if cached, ok := i.serve(req, key); ok {
			i.logger.Debug("network-first fell back to cache", "url", key)
			return cached, nil
		}
		return resp, err

	case domain.StrategyStaleWhileRevalidate:
		if resp, ok := i.serve(req, key); ok {
			i.revalidate(req, key)
			return resp, nil
		}
		return i.fetchAndRecord(req, key)

	default: // cache-first
		if resp, ok := i.serve(req, key); ok {
			return resp, nil
		}
		return i.fetchAndRecord(req, key)
	}
}

// serve returns a response built from the recorded copy, if any.
func (i *Interceptor) serve(req *http.Request, key string) (*http.Response, bool) {
	i.mu.Lock()
	cached, ok := i.responses[key]
	i.mu.Unlock()
	if !ok {
		return nil, false
	}
	return &http.Response{
		StatusCode: cached.status,
		Status:     http.StatusText(cached.status),
		Header:     cached.header.Clone(),
		Body:       io.NopCloser(bytes.NewReader(cached.body)),
		Request:    req,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
	}, true
}

func (i *Interceptor) fetchAndRecord(req *http.Request, key string) (*http.Response, error) {
	resp, err := i.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	i.mu.Lock()
	i.responses[key] = &cachedResponse{
		status: resp.StatusCode,
		header: resp.Header.Clone(),
		body:   body,
	}
	i.mu.Unlock()

	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

// revalidate refreshes the recorded copy in the background. The refresh
// must outlive the originating request, so it sheds the caller's
// cancellation.
func (i *Interceptor) revalidate(req *http.Request, key string) {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.revalidations.Add(1)
	i.mu.Unlock()

	clone := req.Clone(context.WithoutCancel(req.Context()))
	go func() {
		defer i.revalidations.Done()
		if _, err := i.fetchAndRecord(clone, key); err != nil {
			i.logger.Debug("background revalidation failed", "url", key, "error", err)
		}
	}()
}

func (i *Interceptor) synthesize(req *http.Request, status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    req,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
	}
}

// Close waits for outstanding background revalidations.
func (i *Interceptor) Close() {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()
	i.revalidations.Wait()
}
