package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NatalieWolfe/awoo-diffusion/internal/util"
)

func TestHTTPFetcher(t *testing.T) {
	var gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.UserAgent()
		switch r.URL.Path {
		case "/data/ab/cd/ok.png":
			w.Write([]byte("payload"))
		case "/data/ab/cd/busy.png":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(&HTTPConfig{BaseURL: srv.URL + "/data/", UserAgent: "test-agent"})
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		body, err := f.Fetch(ctx, "ab/cd/ok.png")
		require.NoError(t, err)
		defer body.Close()
		data, err := io.ReadAll(body)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
		assert.Equal(t, "test-agent", gotAgent)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := f.Fetch(ctx, "ab/cd/missing.png")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, err, util.ErrNotFound)
	})

	t.Run("other status", func(t *testing.T) {
		_, err := f.Fetch(ctx, "ab/cd/busy.png")
		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
		assert.Equal(t, srv.URL+"/data/ab/cd/busy.png", statusErr.URL)
		assert.NotErrorIs(t, err, ErrNotFound)
	})

	assert.Equal(t, srv.URL+"/data/x/y", f.Location("x/y"))
}

func TestS3Fetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/assets/mirror/ab/cd/ok.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("from bucket"))
		case "/assets/mirror/ab/cd/broken.png":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	f, err := NewS3Fetcher(ctx, &S3Config{
		Bucket:          "assets",
		Prefix:          "/mirror/",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, "s3://assets/mirror/ab/cd/ok.png", f.Location("ab/cd/ok.png"))

	body, err := f.Fetch(ctx, "ab/cd/ok.png")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	body.Close()
	require.NoError(t, err)
	assert.Equal(t, "from bucket", string(data))

	_, err = f.Fetch(ctx, "ab/cd/missing.png")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.Fetch(ctx, "ab/cd/broken.png")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}

func TestNewS3Fetcher_RequiresBucket(t *testing.T) {
	_, err := NewS3Fetcher(context.Background(), &S3Config{})
	assert.ErrorIs(t, err, util.ErrInvalidConfig)
}
