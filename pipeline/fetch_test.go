package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFetchSource(t *testing.T) {
	t.Parallel()

	payload := []byte("fake fbx bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "source.fbx")
	f := NewFetcher(zap.NewNop())
	n, err := f.FetchSource(context.Background(), srv.URL, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestFetchSourceNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "source.fbx")
	f := NewFetcher(zap.NewNop())
	_, err := f.FetchSource(context.Background(), srv.URL, dest)
	require.Error(t, err)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrInput, kind, "a 404 is a fatal input error, never retried")

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "no file is written for a failed fetch")
}

func TestFetchSourceEmptyBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	f := NewFetcher(zap.NewNop())
	_, err := f.FetchSource(context.Background(), srv.URL, filepath.Join(t.TempDir(), "source.obj"))
	require.Error(t, err)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrInput, kind)
}

func TestFetchSourceBadURL(t *testing.T) {
	t.Parallel()

	f := NewFetcher(zap.NewNop())
	_, err := f.FetchSource(context.Background(), "http://127.0.0.1:1/missing.fbx", filepath.Join(t.TempDir(), "x"))
	require.Error(t, err)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrInput, kind)
}
