package condition

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pandodao/btcvault/core"
	"github.com/stretchr/testify/require"
)

func TestSatisfied(t *testing.T) {
	docs := map[string]string{
		"/object":  `{"release-1.2":{"sha":"abc"},"release-1.1":{}}`,
		"/strings": `["release-1.0","release-1.2"]`,
		"/named":   `[{"name":"release-1.2","zipball_url":"x"},{"name":"release-1.1"}]`,
		"/scalar":  `"release-1.2"`,
	}

	mux := http.NewServeMux()
	for path, body := range docs {
		body := body
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, body)
		})
	}
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "{")
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := New(time.Second)

	tests := []struct {
		path string
		key  string
		want bool
	}{
		{"/object", "release-1.2", true},
		{"/object", "sha", false},
		{"/strings", "release-1.2", true},
		{"/strings", "release-2.0", false},
		{"/named", "release-1.1", true},
		{"/named", "x", false},
		{"/scalar", "release-1.2", false},
	}

	for _, tt := range tests {
		t.Run(tt.path+"/"+tt.key, func(t *testing.T) {
			ok, err := s.Satisfied(context.Background(), core.Condition{URL: srv.URL + tt.path, Key: tt.key})
			require.NoError(t, err)
			require.Equal(t, tt.want, ok)
		})
	}

	_, err := s.Satisfied(context.Background(), core.Condition{URL: srv.URL + "/broken", Key: "k"})
	require.Error(t, err)

	_, err = s.Satisfied(context.Background(), core.Condition{URL: srv.URL + "/missing", Key: "k"})
	require.ErrorContains(t, err, "status 404")

	_, err = s.Satisfied(context.Background(), core.Condition{Key: "k"})
	require.True(t, errors.Is(err, core.ErrValidation))
}
