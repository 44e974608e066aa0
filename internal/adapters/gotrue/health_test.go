package gotrue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeHealth_ReturnsFirstHealthy(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	var gotKey string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("apikey")
		if r.URL.Path != "/auth/v1/health" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"name":"GoTrue"}`))
	}))
	defer up.Close()

	got, err := ProbeHealth(context.Background(), nil, "anon", []string{"", down.URL, up.URL + "/"})
	require.NoError(t, err)
	assert.Equal(t, up.URL, got)
	assert.Equal(t, "anon", gotKey)
}

func TestProbeHealth_AllDown(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	_, err := ProbeHealth(context.Background(), nil, "", []string{down.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health status 502")

	_, err = ProbeHealth(context.Background(), nil, "", nil)
	assert.Error(t, err)
}
