package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/pandodao/btcvault/core"
)

func NewWalletStore() core.WalletStore {
	return &walletStore{wallets: map[string]core.Wallet{}}
}

type walletStore struct {
	mux     sync.Mutex
	wallets map[string]core.Wallet
}

func (s *walletStore) Create(_ context.Context, wallet *core.Wallet) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	s.wallets[wallet.ID] = *wallet
	return nil
}

func (s *walletStore) Find(_ context.Context, id string) (*core.Wallet, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	w, ok := s.wallets[id]
	if !ok {
		return nil, sql.ErrNoRows
	}

	return &w, nil
}

func (s *walletStore) List(_ context.Context) ([]*core.Wallet, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	wallets := make([]*core.Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		w := w
		wallets = append(wallets, &w)
	}

	sort.Slice(wallets, func(i, j int) bool {
		return wallets[i].CreatedAt.Before(wallets[j].CreatedAt)
	})

	return wallets, nil
}

func (s *walletStore) UpdateFreeze(_ context.Context, wallet *core.Wallet) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	w, ok := s.wallets[wallet.ID]
	if !ok {
		return sql.ErrNoRows
	}

	w.Freeze = wallet.Freeze
	s.wallets[wallet.ID] = w
	return nil
}

func NewKeychainStore() core.KeychainStore {
	return &keychainStore{keychains: map[string]core.Keychain{}}
}

type keychainStore struct {
	mux       sync.Mutex
	keychains map[string]core.Keychain
}

func (s *keychainStore) Create(_ context.Context, keychain *core.Keychain) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	s.keychains[keychain.ID] = *keychain
	return nil
}

func (s *keychainStore) Find(_ context.Context, id string) (*core.Keychain, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	kc, ok := s.keychains[id]
	if !ok {
		return nil, sql.ErrNoRows
	}

	return &kc, nil
}
