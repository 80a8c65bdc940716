package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pandodao/btcvault/core"
)

func NewUnspentStore() core.UnspentStore {
	return &unspentStore{unspents: map[string]core.Unspent{}}
}

type unspentStore struct {
	mux      sync.Mutex
	unspents map[string]core.Unspent
}

// Save inserts new unspents and refreshes confirmations of known ones.
func (s *unspentStore) Save(_ context.Context, unspents []*core.Unspent) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	for _, u := range unspents {
		key := u.Outpoint()
		if old, ok := s.unspents[key]; ok {
			old.Confirmations = u.Confirmations
			s.unspents[key] = old
			continue
		}

		s.unspents[key] = *u
	}

	return nil
}

func (s *unspentStore) sorted(match func(u *core.Unspent) bool) []*core.Unspent {
	var unspents []*core.Unspent
	for _, u := range s.unspents {
		u := u
		if match(&u) {
			unspents = append(unspents, &u)
		}
	}

	sort.Slice(unspents, func(i, j int) bool {
		a, b := unspents[i], unspents[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}

		return a.Outpoint() < b.Outpoint()
	})

	return unspents
}

func (s *unspentStore) List(_ context.Context, walletID string, filter core.UnspentFilter) ([]*core.Unspent, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	unspents := s.sorted(func(u *core.Unspent) bool {
		return u.WalletID == walletID && filter.Match(u)
	})

	if filter.Limit > 0 && len(unspents) > filter.Limit {
		unspents = unspents[:filter.Limit]
	}

	return unspents, nil
}

func (s *unspentStore) ListAll(_ context.Context, offset, limit int) ([]*core.Unspent, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	unspents := s.sorted(func(*core.Unspent) bool { return true })
	if offset >= len(unspents) {
		return nil, nil
	}

	unspents = unspents[offset:]
	if limit > 0 && len(unspents) > limit {
		unspents = unspents[:limit]
	}

	return unspents, nil
}

func (s *unspentStore) Delete(_ context.Context, unspents []*core.Unspent) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	for _, u := range unspents {
		delete(s.unspents, u.Outpoint())
	}

	return nil
}

func (s *unspentStore) SumBalance(_ context.Context, walletID string) (*core.Balance, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	balance := core.Balance{WalletID: walletID}
	for _, u := range s.unspents {
		if u.WalletID == walletID {
			balance.Amount += u.Value
			balance.Count++
		}
	}

	return &balance, nil
}
