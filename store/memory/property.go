package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pandodao/btcvault/core"
)

func NewPropertyStore() core.PropertyStore {
	return &propertyStore{values: map[string][]byte{}}
}

type propertyStore struct {
	mux    sync.Mutex
	values map[string][]byte
}

func (s *propertyStore) Get(_ context.Context, key string, value any) error {
	s.mux.Lock()
	raw, ok := s.values[key]
	s.mux.Unlock()

	if !ok {
		return nil
	}

	return json.Unmarshal(raw, value)
}

func (s *propertyStore) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s.mux.Lock()
	s.values[key] = raw
	s.mux.Unlock()
	return nil
}
