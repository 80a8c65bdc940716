package core

import (
	"context"
	"time"
)

type Wallet struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Label     string    `json:"label,omitempty"`
	// M signatures out of len(Keychains) are required to spend.
	M         int      `json:"m"`
	Keychains []string `json:"keychains"`
	Freeze    Freeze   `json:"freeze"`
	Balance   int64    `json:"balance"`
}

// Freeze is inactive once Expires has passed; no unfreeze action exists.
type Freeze struct {
	Time    time.Time `json:"time,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

func (f Freeze) Active(now time.Time) bool {
	return !f.Expires.IsZero() && now.Before(f.Expires)
}

type WalletStore interface {
	Create(ctx context.Context, wallet *Wallet) error
	Find(ctx context.Context, id string) (*Wallet, error)
	List(ctx context.Context) ([]*Wallet, error)
	UpdateFreeze(ctx context.Context, wallet *Wallet) error
}

type KeychainKind string

const (
	KeychainUser   KeychainKind = "user"
	KeychainBackup KeychainKind = "backup"
	KeychainServer KeychainKind = "server"
)

type Keychain struct {
	// ID is the extended public key.
	ID            string       `json:"id"`
	XPub          string       `json:"xpub"`
	EncryptedXPrv string       `json:"encrypted_xprv,omitempty"`
	Path          string       `json:"path"`
	Kind          KeychainKind `json:"kind"`
}

type KeychainStore interface {
	Create(ctx context.Context, keychain *Keychain) error
	Find(ctx context.Context, id string) (*Keychain, error)
}

const (
	ChainReceive uint32 = 0
	ChainChange  uint32 = 1
)

type Address struct {
	WalletID     string    `json:"wallet_id"`
	CreatedAt    time.Time `json:"created_at"`
	Chain        uint32    `json:"chain"`
	Index        uint32    `json:"index"`
	Address      string    `json:"address"`
	RedeemScript []byte    `json:"redeem_script"`
}

func (a *Address) ChainPath() string {
	return ChainPath(a.Chain, a.Index)
}

type AddressStore interface {
	Create(ctx context.Context, address *Address) error
	Find(ctx context.Context, address string) (*Address, error)
	// NextIndex returns the first unused index on chain.
	NextIndex(ctx context.Context, walletID string, chain uint32) (uint32, error)
	List(ctx context.Context, walletID string) ([]*Address, error)
}
