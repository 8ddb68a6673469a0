package finder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigbrotr/bigbrotr/internal/config"
)

func newTestFinder() *Finder {
	return &Finder{client: &http.Client{Timeout: 5 * time.Second}}
}

func TestFetchAPISource_ExtractsArrayOfStrings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"relays":["wss://relay.one","wss://relay.two"]}`))
	}))
	defer srv.Close()

	f := newTestFinder()
	urls, err := f.fetchAPISource(context.Background(), config.APISource{Name: "test", URL: srv.URL, JSONPath: "relays"})
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://relay.one", "wss://relay.two"}, urls)
}

func TestFetchAPISource_ExtractsSingleString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"relay":"wss://relay.one"}`))
	}))
	defer srv.Close()

	f := newTestFinder()
	urls, err := f.fetchAPISource(context.Background(), config.APISource{Name: "test", URL: srv.URL, JSONPath: "relay"})
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://relay.one"}, urls)
}

func TestFetchAPISource_MissingJSONPathErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"other":[]}`))
	}))
	defer srv.Close()

	f := newTestFinder()
	_, err := f.fetchAPISource(context.Background(), config.APISource{Name: "test", URL: srv.URL, JSONPath: "relays"})
	assert.Error(t, err)
}

func TestFetchAPISource_NonOKStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newTestFinder()
	_, err := f.fetchAPISource(context.Background(), config.APISource{Name: "test", URL: srv.URL, JSONPath: "relays"})
	assert.Error(t, err)
}

func TestFetchAPISource_RejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"relays":["` + strings.Repeat("a", maxAPIBodyBytes+1) + `"]}`))
	}))
	defer srv.Close()

	f := newTestFinder()
	_, err := f.fetchAPISource(context.Background(), config.APISource{Name: "test", URL: srv.URL, JSONPath: "relays"})
	assert.Error(t, err)
}
