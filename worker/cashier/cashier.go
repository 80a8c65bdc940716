package cashier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pandodao/btcvault/core"
	"golang.org/x/sync/errgroup"
)

type Wallets interface {
	Find(ctx context.Context, id string) (*core.Wallet, error)
	SendTransaction(ctx context.Context, wallet *core.Wallet, tx *core.UnsignedTransaction, approved bool) (*core.SendResult, error)
}

func New(
	transfers core.TransferStore,
	conditions core.ConditionSource,
	wallets Wallets,
	logger *slog.Logger,
) *Cashier {
	return &Cashier{
		transfers:  transfers,
		conditions: conditions,
		wallets:    wallets,
		logger:     logger.With("worker", "cashier"),
	}
}

// Cashier co-signs and broadcasts pending conditional transfers once their
// condition is satisfied.
type Cashier struct {
	transfers  core.TransferStore
	conditions core.ConditionSource
	wallets    Wallets
	logger     *slog.Logger
}

func (w *Cashier) Run(ctx context.Context) error {
	w.logger.Info("cashier start")

	for {
		dur := 5 * time.Second
		if w.run(ctx) == nil {
			dur = time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dur):
		}
	}
}

func (w *Cashier) run(ctx context.Context) error {
	const limit = 64
	transfers, err := w.transfers.ListStatus(ctx, core.TransferStatusPending, limit)
	if err != nil {
		w.logger.Error("transfers.ListStatus", "err", err)
		return err
	}

	if len(transfers) == 0 {
		return fmt.Errorf("pending transfers dry")
	}

	// transfers of one wallet go one by one, in creation order
	var (
		order  []string
		groups = map[string][]*core.Transfer{}
	)

	for _, t := range transfers {
		if _, ok := groups[t.WalletID]; !ok {
			order = append(order, t.WalletID)
		}

		groups[t.WalletID] = append(groups[t.WalletID], t)
	}

	var g errgroup.Group
	g.SetLimit(10)

	for _, walletID := range order {
		group := groups[walletID]
		g.Go(func() error {
			for _, transfer := range group {
				if err := w.handleTransfer(ctx, transfer); err != nil {
					return err
				}
			}

			return nil
		})
	}

	return g.Wait()
}

func (w *Cashier) handleTransfer(ctx context.Context, transfer *core.Transfer) error {
	logger := w.logger.With("transfer", transfer.TraceID, "wallet", transfer.WalletID)

	ok, err := w.conditions.Satisfied(ctx, transfer.Condition)
	if err != nil {
		logger.Error("conditions.Satisfied", "err", err)
		return err
	}

	if !ok {
		return nil
	}

	logger.Info("condition satisfied", "key", transfer.Condition.Key, "amount", transfer.SendAmount)

	wallet, err := w.wallets.Find(ctx, transfer.WalletID)
	if err != nil {
		logger.Error("wallets.Find", "err", err)
		return err
	}

	result, err := w.wallets.SendTransaction(ctx, wallet, transfer.Transaction(), false)
	switch {
	case err != nil && !permanent(err):
		logger.Error("wallets.SendTransaction", "err", err)
		return err
	case err != nil:
		transfer.Error = err.Error()
	case result.Status != core.SendAccepted:
		transfer.Error = fmt.Sprintf("transaction is %s", result.Status)
	default:
		transfer.TxHash = result.TxHash
	}

	to := core.TransferStatusHandled
	if transfer.Error != "" {
		to = core.TransferStatusFailed
		logger.Info("transfer failed", "err", transfer.Error)
	}

	if err := w.transfers.UpdateStatus(ctx, transfer, to); err != nil {
		logger.Error("transfers.UpdateStatus", "err", err)
		return err
	}

	logger.Debug("transfer status updated", "status", to)
	return nil
}

// permanent reports errors that retrying the same transaction cannot fix.
func permanent(err error) bool {
	for _, target := range []error{
		core.ErrValidation,
		core.ErrSignatureInvalid,
		core.ErrInsufficientSignatures,
		core.ErrPolicyDenied,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
