// Package transfer holds user signed transactions until a condition is met.
package transfer

import (
	"context"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/service/session"
	"github.com/pandodao/btcvault/store"
)

type Builder interface {
	Build(ctx context.Context, sess *session.Session, wallet *core.Wallet, req *core.SendRequest) (*core.UnsignedTransaction, *core.SignedTransaction, error)
}

func New(transfers core.TransferStore, builder Builder, clk clock.Clock) *Service {
	return &Service{
		transfers: transfers,
		builder:   builder,
		clock:     clk,
	}
}

type Service struct {
	transfers core.TransferStore
	builder   Builder
	clock     clock.Clock
}

// Create builds and user-signs the transaction now and stores it pending
// until the cashier finds cond satisfied. A known trace id returns the
// stored transfer without building again.
func (s *Service) Create(ctx context.Context, sess *session.Session, wallet *core.Wallet, traceID string, req *core.SendRequest, cond core.Condition) (*core.Transfer, error) {
	if _, err := uuid.Parse(traceID); err != nil {
		return nil, core.ValidationError("trace id must be a uuid")
	}

	if cond.URL == "" || cond.Key == "" {
		return nil, core.ValidationError("condition url and key are required")
	}

	if len(req.Recipients) == 0 {
		return nil, core.ValidationError("at least one recipient is required")
	}

	if t, err := s.transfers.FindTrace(ctx, traceID); err == nil {
		if t.WalletID != wallet.ID {
			return nil, core.ValidationError("trace id %s belongs to another wallet", traceID)
		}

		return t, nil
	} else if !store.IsErrNotFound(err) {
		return nil, err
	}

	tx, _, err := s.builder.Build(ctx, sess, wallet, req)
	if err != nil {
		return nil, err
	}

	t := &core.Transfer{
		CreatedAt:  s.clock.Now(),
		TraceID:    traceID,
		Status:     core.TransferStatusPending,
		WalletID:   wallet.ID,
		TxHex:      tx.Hex,
		Unspents:   tx.Unspents,
		Outputs:    tx.Outputs,
		SendAmount: tx.SendAmount,
		Fee:        tx.Fee,
		Condition:  cond,
	}

	if err := s.transfers.Create(ctx, t); err != nil {
		return nil, err
	}

	return t, nil
}

func (s *Service) Find(ctx context.Context, traceID string) (*core.Transfer, error) {
	return s.transfers.FindTrace(ctx, traceID)
}
