package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltStoreRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), "https://example.com/gallery/")
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get("scroll:all")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("scroll:all", []byte("1234.5")))

	v, ok, err := s.Get("scroll:all")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1234.5"), v)

	require.NoError(t, s.Delete("scroll:all"))
	_, ok, err = s.Get("scroll:all")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBoltStoreScopesByPage(t *testing.T) {
	dir := t.TempDir()

	a, err := Open(dir, "https://example.com/gallery")
	require.NoError(t, err)
	require.NoError(t, a.Set("scroll:all", []byte("10")))
	require.NoError(t, a.Close())

	b, err := Open(dir, "https://example.com/other")
	require.NoError(t, err)
	defer b.Close()

	_, ok, err := b.Get("scroll:all")
	require.NoError(t, err)
	assert.False(t, ok, "scopes must not leak between pages")
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, "page")
	require.NoError(t, err)
	require.NoError(t, s.Set("k", []byte("v")))
	require.NoError(t, s.Close())

	s2, err := Open(dir, "page")
	require.NoError(t, err)
	defer s2.Close()

	v, ok, err := s2.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func TestMemStoreDouble(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Set("k", []byte("v")))

	v, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	s.FailWrites = true
	assert.Error(t, s.Set("k2", []byte("x")))
}
