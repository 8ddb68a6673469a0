package nip11

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bigbrotr/bigbrotr/internal/models"
)

func relayFor(t *testing.T, srv *httptest.Server) models.Relay {
	t.Helper()
	// The test server speaks plain HTTP; rewrite to a ws:// URL so Fetch's
	// internal ws->http rewrite maps it back to the real address.
	relay, err := models.NewRelay("ws"+srv.URL[len("http"):], 0)
	require.NoError(t, err)
	return relay
}

func TestFetch_ParsesConformantDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/nostr+json")
		w.Write([]byte(`{"name":"test relay","supported_nips":[1,11,66],"limitation":{"auth_required":true,"max_message_length":16384}}`))
	}))
	defer srv.Close()

	result := Fetch(context.Background(), relayFor(t, srv), Options{})
	require.True(t, result.Success)
	require.Equal(t, "test relay", result.Info["name"])
	limitation := result.Info["limitation"].(map[string]any)
	require.Equal(t, true, limitation["auth_required"])
}

func TestFetch_DropsFieldsWithWrongType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":12345,"description":"a real description"}`))
	}))
	defer srv.Close()

	result := Fetch(context.Background(), relayFor(t, srv), Options{})
	require.True(t, result.Success)
	require.NotContains(t, result.Info, "name")
	require.Equal(t, "a real description", result.Info["description"])
}

func TestFetch_RejectsWrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	result := Fetch(context.Background(), relayFor(t, srv), Options{})
	require.False(t, result.Success)
	require.NotEmpty(t, result.Reason)
}

func TestFetch_RejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/nostr+json")
		big := make([]byte, maxBodyBytes+2)
		for i := range big {
			big[i] = ' '
		}
		big[0] = '"'
		big[len(big)-1] = '"'
		w.Write(big)
	}))
	defer srv.Close()

	result := Fetch(context.Background(), relayFor(t, srv), Options{})
	require.False(t, result.Success)
}
