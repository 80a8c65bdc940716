// Package consolidate reshapes the unspent set of a wallet: fan-out splits
// a few unspents into many, consolidation merges many into a few.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/service/selector"
	"github.com/pandodao/btcvault/service/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	maxFanOutTarget = 300
	maxFanOutInputs = 80

	minBatchInputs = 2
	maxBatchInputs = 85
)

var batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "btcvault",
	Name:      "consolidation_batches_total",
	Help:      "Consolidation transactions sent.",
})

type Wallets interface {
	CreateAddress(ctx context.Context, wallet *core.Wallet, chain uint32) (*core.Address, error)
	Build(ctx context.Context, sess *session.Session, wallet *core.Wallet, req *core.SendRequest) (*core.UnsignedTransaction, *core.SignedTransaction, error)
	SendTransaction(ctx context.Context, wallet *core.Wallet, tx *core.UnsignedTransaction, approved bool) (*core.SendResult, error)
}

func New(wallets Wallets, unspents core.UnspentStore, logger *slog.Logger) *Planner {
	return &Planner{
		wallets:  wallets,
		unspents: unspents,
		logger:   logger.With("service", "consolidate"),
	}
}

type Planner struct {
	wallets  Wallets
	unspents core.UnspentStore
	logger   *slog.Logger
}

type Credentials struct {
	Passphrase string
	XPrv       string
}

type FanOutRequest struct {
	Credentials
	// Target is the number of unspents wanted after the fan-out.
	Target      int
	MinConfirms int64
	Fee         core.FeeOptions
}

// FanOut spends every eligible unspent into Target new receive addresses
// of near-equal value in a single transaction.
func (p *Planner) FanOut(ctx context.Context, sess *session.Session, wallet *core.Wallet, req *FanOutRequest) (*core.SendResult, error) {
	if req.Target < 1 || req.Target > maxFanOutTarget {
		return nil, core.ValidationError("target must be a positive integer up to %d", maxFanOutTarget)
	}

	unspents, err := p.unspents.List(ctx, wallet.ID, core.UnspentFilter{MinConfirms: req.MinConfirms})
	if err != nil {
		return nil, err
	}

	switch n := len(unspents); {
	case n == 0:
		return nil, core.ValidationError("no unspents to fan out")
	case n >= req.Target:
		return nil, core.ValidationError("wallet already has %d unspents, not fewer than target %d", n, req.Target)
	case n > maxFanOutInputs:
		return nil, core.ValidationError("too many unspents to fan out: %d, limit %d", n, maxFanOutInputs)
	}

	destinations := make([]string, req.Target)
	for i := range destinations {
		addr, err := p.wallets.CreateAddress(ctx, wallet, core.ChainReceive)
		if err != nil {
			return nil, err
		}

		destinations[i] = addr.Address
	}

	result, _, err := p.sweep(ctx, sess, wallet, req.Credentials, req.Fee, unspents, destinations)
	return result, err
}

type Progress struct {
	BatchIndex  int    `json:"index"`
	InputCount  int    `json:"input_count"`
	TxHash      string `json:"tx_hash"`
	Fee         int64  `json:"fee"`
	Amount      int64  `json:"amount"`
	Destination string `json:"destination"`
}

type ConsolidateRequest struct {
	Credentials
	// Target is the number of unspents to stop at, 1 when zero.
	Target int
	// MaxInputs caps every batch; when zero it spreads the unspents
	// evenly over Target batches.
	MaxInputs int
	// MinConfirms filters the wallet's unspents, 1 when zero. Outputs
	// created by earlier batches of the run are always eligible.
	MinConfirms int64
	MinSize     int64
	Fee         core.FeeOptions
	Progress    func(*Progress)
}

func validateConsolidate(req *ConsolidateRequest) error {
	if req.Target < 0 {
		return core.ValidationError("target must be a positive integer")
	}

	if req.MaxInputs != 0 && (req.MaxInputs < minBatchInputs || req.MaxInputs > maxBatchInputs) {
		return core.ValidationError("max inputs must be between %d and %d", minBatchInputs, maxBatchInputs)
	}

	if req.MinConfirms < 0 || req.MinSize < 0 {
		return core.ValidationError("min confirms and min size must not be negative")
	}

	return nil
}

// Consolidate merges the largest unspents batch by batch, one transaction
// each, until the unspent count reaches Target. The output of every batch
// joins the candidates of the next one. It stops at the first failing
// batch and returns the batches sent so far together with the error.
func (p *Planner) Consolidate(ctx context.Context, sess *session.Session, wallet *core.Wallet, req *ConsolidateRequest) ([]*Progress, error) {
	if err := validateConsolidate(req); err != nil {
		return nil, err
	}

	target := max(req.Target, 1)
	filter := core.UnspentFilter{MinConfirms: max(req.MinConfirms, 1), MinSize: req.MinSize}

	listed, err := p.unspents.List(ctx, wallet.ID, filter)
	if err != nil {
		return nil, err
	}

	selector.Sort(listed)

	maxInputs := req.MaxInputs
	if maxInputs == 0 {
		maxInputs = min(max((len(listed)+target-1)/target, minBatchInputs), maxBatchInputs)
	}

	logger := p.logger.With("wallet", wallet.ID)

	var done []*Progress

	// len(listed) > target >= 1 keeps every batch at two inputs or more
	for index := 0; len(listed) > target; index++ {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		k := min(maxInputs, len(listed)-target+1)
		merged, err := p.batch(ctx, sess, wallet, req, index, listed[:k]).Unpack()
		if err != nil {
			logger.Error("consolidate batch", "index", index, "inputs", k, "err", err)
			return done, err
		}

		listed = append(listed[k:], merged.output)
		selector.Sort(listed)

		batchesTotal.Inc()
		done = append(done, merged.progress)

		if req.Progress != nil {
			req.Progress(merged.progress)
		}
	}

	return done, nil
}

type batchResult struct {
	progress *Progress
	output   *core.Unspent
}

func (p *Planner) batch(ctx context.Context, sess *session.Session, wallet *core.Wallet, req *ConsolidateRequest, index int, inputs []*core.Unspent) fn.Result[*batchResult] {
	addr, err := p.wallets.CreateAddress(ctx, wallet, core.ChainReceive)
	if err != nil {
		return fn.Err[*batchResult](err)
	}

	result, tx, err := p.sweep(ctx, sess, wallet, req.Credentials, req.Fee, inputs, []string{addr.Address})
	if err != nil {
		return fn.Err[*batchResult](err)
	}

	return fn.Ok(&batchResult{
		progress: &Progress{
			BatchIndex:  index,
			InputCount:  len(inputs),
			TxHash:      result.TxHash,
			Fee:         tx.Fee,
			Amount:      tx.OutputValue(),
			Destination: addr.Address,
		},
		// a sweep to one destination has a single output
		output: &core.Unspent{
			WalletID:     wallet.ID,
			CreatedAt:    addr.CreatedAt,
			TxHash:       result.TxHash,
			Vout:         0,
			Address:      addr.Address,
			Value:        tx.OutputValue(),
			ChainPath:    addr.ChainPath(),
			RedeemScript: addr.RedeemScript,
		},
	})
}

// sweep spends all inputs to destinations with the fee taken out of the
// amounts. The fee is found by a first build that pays the full input
// value and fails for lack of funds.
func (p *Planner) sweep(
	ctx context.Context,
	sess *session.Session,
	wallet *core.Wallet,
	cred Credentials,
	fee core.FeeOptions,
	inputs []*core.Unspent,
	destinations []string,
) (*core.SendResult, *core.UnsignedTransaction, error) {
	total := selector.Sum(inputs)
	req := &core.SendRequest{
		Recipients: split(total, destinations),
		Options: core.TxOptions{
			FeeOptions:       fee,
			Unspents:         inputs,
			SelfSend:         true,
			ForceChangeAtEnd: true,
		},
		Passphrase: cred.Passphrase,
		XPrv:       cred.XPrv,
	}

	tx, _, err := p.wallets.Build(ctx, sess, wallet, req)

	var ife *core.InsufficientFundsError
	switch {
	case errors.As(err, &ife):
		if total <= ife.Fee {
			return nil, nil, core.ValidationError("inputs worth %d cannot pay fee %d", total, ife.Fee)
		}

		req.Recipients = split(total-ife.Fee, destinations)
		req.Options.FeeOptions = core.FeeOptions{Fee: fn.Some(ife.Fee)}
		if tx, _, err = p.wallets.Build(ctx, sess, wallet, req); err != nil {
			return nil, nil, err
		}
	case err != nil:
		return nil, nil, err
	}

	result, err := p.wallets.SendTransaction(ctx, wallet, tx, false)
	if err != nil {
		return nil, nil, err
	}

	if result.Status != core.SendAccepted {
		return nil, nil, fmt.Errorf("%w: transaction is %s", core.ErrPolicyDenied, result.Status)
	}

	return result, tx, nil
}

// split divides amount over destinations; the remainder goes one unit each
// to the first ones.
func split(amount int64, destinations []string) []*core.Recipient {
	n := int64(len(destinations))
	base, rem := amount/n, amount%n

	recipients := make([]*core.Recipient, len(destinations))
	for i, dest := range destinations {
		v := base
		if int64(i) < rem {
			v++
		}

		recipients[i] = &core.Recipient{Address: dest, Amount: v}
	}

	return recipients
}
