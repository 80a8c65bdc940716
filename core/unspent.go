package core

import (
	"context"
	"fmt"
	"time"
)

type Unspent struct {
	WalletID      string    `json:"wallet_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	TxHash        string    `json:"tx_hash"`
	Vout          uint32    `json:"vout"`
	Address       string    `json:"address"`
	Value         int64     `json:"value"`
	Confirmations int64     `json:"confirmations"`
	ChainPath     string    `json:"chain_path"`
	RedeemScript  []byte    `json:"redeem_script"`
	Instant       bool      `json:"instant,omitempty"`
}

func (u *Unspent) Outpoint() string {
	return fmt.Sprintf("%s:%d", u.TxHash, u.Vout)
}

func ChainPath(chain, index uint32) string {
	return fmt.Sprintf("/%d/%d", chain, index)
}

type UnspentFilter struct {
	MinConfirms int64
	MinSize     int64
	InstantOnly bool
	Limit       int
}

func (f UnspentFilter) Match(u *Unspent) bool {
	if u.Confirmations < f.MinConfirms {
		return false
	}

	if u.Value < f.MinSize {
		return false
	}

	return !f.InstantOnly || u.Instant
}

type Balance struct {
	WalletID string `json:"wallet_id"`
	Amount   int64  `json:"amount"`
	Count    int    `json:"count"`
}

// UnspentStore is the spendable set of every wallet. Removing an unspent
// marks it consumed.
type UnspentStore interface {
	Save(ctx context.Context, unspents []*Unspent) error
	List(ctx context.Context, walletID string, filter UnspentFilter) ([]*Unspent, error)
	ListAll(ctx context.Context, offset, limit int) ([]*Unspent, error)
	Delete(ctx context.Context, unspents []*Unspent) error
	SumBalance(ctx context.Context, walletID string) (*Balance, error)
}

// ChainService reads the public chain.
type ChainService interface {
	ListUnspents(ctx context.Context, address string) ([]*Unspent, error)
	IsSpent(ctx context.Context, unspent *Unspent) (bool, error)
}

type Broadcaster interface {
	Submit(ctx context.Context, hex string) (string, error)
}
