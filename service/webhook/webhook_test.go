package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pandodao/btcvault/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload core.WebhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		if payload.Amount > 1000 {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(time.Second)
	ctx := context.Background()

	code, err := s.Call(ctx, srv.URL, &core.WebhookPayload{WalletID: "w", Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)

	code, err = s.Call(ctx, srv.URL, &core.WebhookPayload{WalletID: "w", Amount: 5000})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestCallUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(time.Second).Call(context.Background(), url, &core.WebhookPayload{})
	require.Error(t, err)
}

func TestCallRedirect(t *testing.T) {
	var approved bool
	mux := http.NewServeMux()
	mux.HandleFunc("/hook", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/approve", http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/approve", func(w http.ResponseWriter, r *http.Request) {
		approved = true
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	code, err := New(time.Second).Call(context.Background(), srv.URL+"/hook", &core.WebhookPayload{WalletID: "w"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTemporaryRedirect, code)
	assert.False(t, approved)
}
