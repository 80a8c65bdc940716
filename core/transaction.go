package core

import (
	"context"

	"github.com/lightningnetwork/lnd/fn/v2"
)

type Recipient struct {
	Address string `json:"address,omitempty"`
	// Script is the hex encoded output script.
	Script string `json:"script,omitempty"`
	Amount int64  `json:"amount"`
}

// FeeOptions carries at most one of Fee, FeeRate or ConfirmTarget. With
// none set the fee is estimated for a one block target.
type FeeOptions struct {
	Fee           fn.Option[int64]
	FeeRate       fn.Option[int64]
	ConfirmTarget fn.Option[uint32]
	MaxFeeRate    fn.Option[int64]
}

type TxOptions struct {
	FeeOptions

	MinConfirms      int64
	MinUnspentSize   int64
	InstantOnly      bool
	SplitChangeSize  int64
	ChangeAddress    string
	ForceChangeAtEnd bool
	// Unspents, when set, are spent as the only inputs.
	Unspents []*Unspent
	// SelfSend marks transactions paying back into the wallet, which do not
	// count against spending limits.
	SelfSend bool
}

// SendRequest authorizes a send with either the user passphrase or the
// user xprv.
type SendRequest struct {
	Recipients []*Recipient
	Options    TxOptions
	Passphrase string
	XPrv       string
	// Approved lets rules with the requireApproval action pass.
	Approved bool
}

type Change struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

type UnsignedTransaction struct {
	WalletID   string       `json:"wallet_id"`
	Hex        string       `json:"hex"`
	Unspents   []*Unspent   `json:"unspents"`
	Outputs    []*Recipient `json:"outputs"`
	Changes    []*Change    `json:"changes"`
	Fee        int64        `json:"fee"`
	FeeRate    int64        `json:"fee_rate"`
	SendAmount int64        `json:"send_amount"`
	Size       int          `json:"size"`
}

func (tx *UnsignedTransaction) InputValue() int64 {
	var sum int64
	for _, u := range tx.Unspents {
		sum += u.Value
	}

	return sum
}

func (tx *UnsignedTransaction) OutputValue() int64 {
	var sum int64
	for _, r := range tx.Outputs {
		sum += r.Amount
	}

	for _, c := range tx.Changes {
		sum += c.Amount
	}

	return sum
}

type SignatureState string

const (
	SignatureUnsigned        SignatureState = "unsigned"
	SignaturePartiallySigned SignatureState = "partially-signed"
	SignatureFullySigned     SignatureState = "fully-signed"
)

type SignedTransaction struct {
	Hex string `json:"hex"`
	// Signatures is the lowest signature count over all inputs.
	Signatures int            `json:"signatures"`
	State      SignatureState `json:"state"`
}

type SendStatus string

const (
	SendAccepted        SendStatus = "accepted"
	SendPendingApproval SendStatus = "pendingApproval"
)

type SendResult struct {
	TxHash   string     `json:"tx_hash,omitempty"`
	Status   SendStatus `json:"status"`
	Hex      string     `json:"hex"`
	Fee      int64      `json:"fee"`
	FeeRate  int64      `json:"fee_rate"`
	Instant  bool       `json:"instant"`
	Unspents []*Unspent `json:"-"`
}

type FeeEstimate struct {
	FeePerKb  int64  `json:"fee_per_kb"`
	NumBlocks uint32 `json:"num_blocks"`
}

type FeeEstimator interface {
	// Estimate returns the fee rate in satoshis per 1000 bytes for a
	// confirmation target in blocks, 0 meaning the next block.
	Estimate(ctx context.Context, numBlocks uint32, ceiling fn.Option[int64]) (*FeeEstimate, error)
}

// FeeSource reports fee rates in sat/kB keyed by confirmation target.
type FeeSource interface {
	FeeRates(ctx context.Context) (map[uint32]int64, error)
}
