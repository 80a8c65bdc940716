// Package condition evaluates the external conditions of deferred sends.
package condition

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pandodao/btcvault/core"
)

func New(timeout time.Duration) core.ConditionSource {
	return &source{client: resty.New().SetTimeout(timeout)}
}

type source struct {
	client *resty.Client
}

// Satisfied fetches the JSON document at cond.URL and reports whether it
// lists cond.Key: as an object key, as an element of a string array, or as
// the name field of an object in an array.
func (s *source) Satisfied(ctx context.Context, cond core.Condition) (bool, error) {
	if cond.URL == "" || cond.Key == "" {
		return false, core.ValidationError("condition requires url and key")
	}

	resp, err := s.client.R().SetContext(ctx).Get(cond.URL)
	if err != nil {
		return false, err
	}

	if resp.StatusCode() != http.StatusOK {
		return false, fmt.Errorf("condition: GET %s: status %d", cond.URL, resp.StatusCode())
	}

	var doc any
	if err := json.Unmarshal(resp.Body(), &doc); err != nil {
		return false, fmt.Errorf("condition: decode %s: %w", cond.URL, err)
	}

	return contains(doc, cond.Key), nil
}

func contains(doc any, key string) bool {
	switch v := doc.(type) {
	case map[string]any:
		_, ok := v[key]
		return ok
	case []any:
		for _, item := range v {
			switch e := item.(type) {
			case string:
				if e == key {
					return true
				}
			case map[string]any:
				if name, ok := e["name"].(string); ok && name == key {
					return true
				}
			}
		}
	}

	return false
}
