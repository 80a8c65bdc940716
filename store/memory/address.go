package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/pandodao/btcvault/core"
)

func NewAddressStore() core.AddressStore {
	return &addressStore{index: map[string]int{}}
}

type addressStore struct {
	mux       sync.Mutex
	addresses []core.Address
	index     map[string]int
}

func (s *addressStore) Create(_ context.Context, address *core.Address) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if _, ok := s.index[address.Address]; ok {
		return fmt.Errorf("address %s already exists", address.Address)
	}

	s.index[address.Address] = len(s.addresses)
	s.addresses = append(s.addresses, *address)
	return nil
}

func (s *addressStore) Find(_ context.Context, address string) (*core.Address, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	i, ok := s.index[address]
	if !ok {
		return nil, sql.ErrNoRows
	}

	a := s.addresses[i]
	return &a, nil
}

func (s *addressStore) NextIndex(_ context.Context, walletID string, chain uint32) (uint32, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	var next uint32
	for _, a := range s.addresses {
		if a.WalletID == walletID && a.Chain == chain && a.Index >= next {
			next = a.Index + 1
		}
	}

	return next, nil
}

func (s *addressStore) List(_ context.Context, walletID string) ([]*core.Address, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	var addresses []*core.Address
	for _, a := range s.addresses {
		if a.WalletID == walletID {
			a := a
			addresses = append(addresses, &a)
		}
	}

	return addresses, nil
}
