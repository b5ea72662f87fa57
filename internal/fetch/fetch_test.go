package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegrove/galleria/internal/domain"
	"github.com/tidegrove/galleria/internal/log"
)

var jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte("fakejpegdata")...)

func TestVariantURL(t *testing.T) {
	spec := domain.QualitySpec{MaxWidth: 800, Quality: 75, Format: "webp"}
	got, err := VariantURL("https://cdn.example.com/p1.jpg", spec)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/p1.jpg?fm=webp&q=75&w=800", got)
}

func TestVariantURLPreservesExistingQuery(t *testing.T) {
	got, err := VariantURL("https://cdn.example.com/p1.jpg?v=2", domain.QualitySpec{MaxWidth: 400})
	require.NoError(t, err)
	assert.Contains(t, got, "v=2")
	assert.Contains(t, got, "w=400")
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "800", r.URL.Query().Get("w"))
		assert.Equal(t, "60", r.URL.Query().Get("q"))
		w.Write(jpegBytes)
	}))
	defer srv.Close()

	c := NewClient(nil, 0, log.Null())
	body, err := c.Fetch(context.Background(), srv.URL+"/p1.jpg", domain.QualitySpec{MaxWidth: 800, Quality: 60})
	require.NoError(t, err)
	assert.Equal(t, jpegBytes, body)
}

func TestFetchNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(nil, 0, log.Null())
	_, err := c.Fetch(context.Background(), srv.URL+"/missing.jpg", domain.QualitySpec{})

	var loadErr *domain.LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, domain.FailureNetwork, loadErr.Kind)
	assert.True(t, loadErr.Retryable())
}

func TestFetchDecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not an image</html>"))
	}))
	defer srv.Close()

	c := NewClient(nil, 0, log.Null())
	_, err := c.Fetch(context.Background(), srv.URL+"/p1.jpg", domain.QualitySpec{})

	var loadErr *domain.LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, domain.FailureDecode, loadErr.Kind)
	assert.False(t, loadErr.Retryable())
}

func TestFetchCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	c := NewClient(nil, 0, log.Null())
	go func() {
		_, err := c.Fetch(ctx, srv.URL+"/p1.jpg", domain.QualitySpec{})
		done <- err
	}()
	cancel()

	err := <-done
	var loadErr *domain.LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, domain.FailureCancelled, loadErr.Kind)
}

func TestSniffFormat(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    string
		ok      bool
	}{
		{"jpeg", jpegBytes, "jpeg", true},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A}, "png", true},
		{"gif", []byte("GIF89a..."), "gif", true},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "webp", true},
		{"html", []byte("<html></html>"), "", false},
		{"empty", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SniffFormat(tt.payload)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
