package core

import (
	"context"
	"time"
)

type TransferStatus uint8

const (
	_ TransferStatus = iota
	TransferStatusPending
	TransferStatusHandled
	TransferStatusFailed
)

func (s TransferStatus) String() string {
	switch s {
	case TransferStatusPending:
		return "pending"
	case TransferStatusHandled:
		return "handled"
	case TransferStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transfer is a user signed transaction held until its condition is
// satisfied, then co-signed and broadcast.
type Transfer struct {
	ID         uint64         `json:"id,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	Status     TransferStatus `json:"state,omitempty"`
	WalletID   string         `json:"wallet_id,omitempty"`
	TxHex      string         `json:"tx_hex,omitempty"`
	Unspents   []*Unspent     `json:"unspents,omitempty"`
	Outputs    []*Recipient   `json:"outputs,omitempty"`
	SendAmount int64          `json:"send_amount,omitempty"`
	Fee        int64          `json:"fee,omitempty"`
	Condition  Condition      `json:"condition"`
	TxHash     string         `json:"tx_hash,omitempty"`
	Error      string         `json:"error,omitempty"`
}

func (t *Transfer) Transaction() *UnsignedTransaction {
	return &UnsignedTransaction{
		WalletID:   t.WalletID,
		Hex:        t.TxHex,
		Unspents:   t.Unspents,
		Outputs:    t.Outputs,
		Fee:        t.Fee,
		SendAmount: t.SendAmount,
	}
}

type TransferStore interface {
	Create(ctx context.Context, transfer *Transfer) error
	UpdateStatus(ctx context.Context, transfer *Transfer, to TransferStatus) error
	FindTrace(ctx context.Context, traceID string) (*Transfer, error)
	ListStatus(ctx context.Context, status TransferStatus, limit int) ([]*Transfer, error)
}
