package txbuilder

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/service/selector"
)

const (
	// maxExplicitFee guards against a fee passed in the wrong unit.
	maxExplicitFee int64 = 1e7

	changeGranularity int64 = 10000
	minSplitChange          = 6 * changeGranularity
)

type AddressService interface {
	Create(ctx context.Context, wallet *core.Wallet, chain uint32) (*core.Address, error)
}

func New(
	estimator core.FeeEstimator,
	selector *selector.Selector,
	addresses AddressService,
	params *chaincfg.Params,
) *Builder {
	return &Builder{
		estimator: estimator,
		selector:  selector,
		addresses: addresses,
		params:    params,
	}
}

type Builder struct {
	estimator core.FeeEstimator
	selector  *selector.Selector
	addresses AddressService
	params    *chaincfg.Params
}

// Create builds an unsigned transaction paying recipients from the wallet
// unspents. Without an explicit fee it repeats selection until the fee for
// the estimated signed size stops growing.
func (b *Builder) Create(ctx context.Context, wallet *core.Wallet, recipients []*core.Recipient, opts core.TxOptions) (*core.UnsignedTransaction, error) {
	outputs, total, err := b.parseRecipients(recipients)
	if err != nil {
		return nil, err
	}

	if err := validateFeeOptions(opts.FeeOptions); err != nil {
		return nil, err
	}

	changeScript, err := b.changeScript(opts.ChangeAddress)
	if err != nil {
		return nil, err
	}

	eligible, explicit, err := b.eligible(ctx, wallet, opts)
	if err != nil {
		return nil, err
	}

	var (
		fee      = opts.Fee.UnwrapOr(0)
		feeRate  int64
		selected []*core.Unspent
		changes  []int64
		size     int
	)

	if opts.Fee.IsNone() {
		if feeRate, err = b.feeRate(ctx, opts.FeeOptions); err != nil {
			return nil, err
		}
	}

	fee, err = converge(fee, len(eligible)+2, func(fee int64) (int64, error) {
		if explicit {
			selected = eligible
			if sum := selector.Sum(selected); sum < total+fee {
				return 0, &core.InsufficientFundsError{Fee: fee, Available: sum, Required: total + fee}
			}
		} else {
			var err error
			selected, err = selector.Select(eligible, total+fee)
			var ife *core.InsufficientFundsError
			if errors.As(err, &ife) {
				ife.Fee = fee
				return 0, ife
			} else if err != nil {
				return 0, err
			}
		}

		changes = splitChange(selector.Sum(selected)-total-fee, opts.SplitChangeSize)
		size = estimateSize(wallet.M, selected, withChange(outputs, changes, changeScript))

		if opts.Fee.IsSome() {
			return fee, nil
		}

		return int64(txrules.FeeForSerializeSize(btcutil.Amount(feeRate), size)), nil
	})
	if err != nil {
		return nil, err
	}

	if size > maxStandardTxSize {
		return nil, fmt.Errorf("%w: estimated %d bytes, limit %d", core.ErrTransactionTooLarge, size, maxStandardTxSize)
	}

	// dust change goes to the miner
	var changeSum int64
	for _, c := range changes {
		changeSum += c
	}

	if len(changes) > 0 && txrules.IsDustAmount(btcutil.Amount(changes[len(changes)-1]), len(changeScript), txrules.DefaultRelayFeePerKb) {
		fee += changeSum
		changes = nil
	}

	tx := &core.UnsignedTransaction{
		WalletID: wallet.ID,
		Unspents: selected,
		Outputs:  recipients,
		Fee:      fee,
		FeeRate:  feeRate,
		Size:     size,
	}

	if !opts.SelfSend {
		tx.SendAmount = total
	}

	msg, err := b.assemble(ctx, wallet, tx, outputs, changes, opts)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := msg.Serialize(&buf); err != nil {
		return nil, err
	}

	tx.Hex = hex.EncodeToString(buf.Bytes())
	return tx, nil
}

// converge raises fee until one round, run with it, asks for no more.
// Every round selects at least the inputs of the one before, so rounds
// bounded by the eligible count are enough unless something is broken.
func converge(fee int64, rounds int, round func(fee int64) (int64, error)) (int64, error) {
	for i := 0; i < rounds; i++ {
		next, err := round(fee)
		if err != nil {
			return 0, err
		}

		if next <= fee {
			return fee, nil
		}

		fee = next
	}

	return 0, fmt.Errorf("fee did not settle after %d rounds", rounds)
}

func (b *Builder) eligible(ctx context.Context, wallet *core.Wallet, opts core.TxOptions) ([]*core.Unspent, bool, error) {
	if len(opts.Unspents) > 0 {
		unspents := make([]*core.Unspent, len(opts.Unspents))
		copy(unspents, opts.Unspents)
		selector.Sort(unspents)
		return unspents, true, nil
	}

	unspents, err := b.selector.Eligible(ctx, wallet.ID, core.UnspentFilter{
		MinConfirms: opts.MinConfirms,
		MinSize:     opts.MinUnspentSize,
		InstantOnly: opts.InstantOnly,
	})

	return unspents, false, err
}

func (b *Builder) feeRate(ctx context.Context, opts core.FeeOptions) (int64, error) {
	if rate, ok := someValue(opts.FeeRate); ok {
		return rate, nil
	}

	estimate, err := b.estimator.Estimate(ctx, opts.ConfirmTarget.UnwrapOr(0), opts.MaxFeeRate)
	if err != nil {
		return 0, err
	}

	return estimate.FeePerKb, nil
}

func (b *Builder) assemble(
	ctx context.Context,
	wallet *core.Wallet,
	tx *core.UnsignedTransaction,
	outputs []*wire.TxOut,
	changes []int64,
	opts core.TxOptions,
) (*wire.MsgTx, error) {
	msg := wire.NewMsgTx(wire.TxVersion)
	for _, u := range tx.Unspents {
		hash, err := chainhash.NewHashFromStr(u.TxHash)
		if err != nil {
			return nil, fmt.Errorf("unspent %s: %w", u.Outpoint(), err)
		}

		msg.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, u.Vout), nil, nil))
	}

	for _, out := range outputs {
		msg.AddTxOut(out)
	}

	for _, amount := range changes {
		address := opts.ChangeAddress
		if address == "" {
			addr, err := b.addresses.Create(ctx, wallet, core.ChainChange)
			if err != nil {
				return nil, err
			}

			address = addr.Address
		}

		script, err := b.payToAddress(address)
		if err != nil {
			return nil, err
		}

		msg.AddTxOut(wire.NewTxOut(amount, script))
		tx.Changes = append(tx.Changes, &core.Change{Address: address, Amount: amount})
	}

	if !opts.ForceChangeAtEnd {
		for i := len(outputs); i < len(msg.TxOut); i++ {
			txauthor.RandomizeOutputPosition(msg.TxOut, i)
		}
	}

	return msg, nil
}

func (b *Builder) payToAddress(address string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, b.params)
	if err != nil || !addr.IsForNet(b.params) {
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidDestination, address)
	}

	return txscript.PayToAddrScript(addr)
}

// changeScript returns the script change is sized with. Without a fixed
// change address a new P2SH wallet address is created later; any P2SH
// script has the same size.
func (b *Builder) changeScript(changeAddress string) ([]byte, error) {
	if changeAddress != "" {
		return b.payToAddress(changeAddress)
	}

	return make([]byte, 23), nil
}

func (b *Builder) parseRecipients(recipients []*core.Recipient) ([]*wire.TxOut, int64, error) {
	if len(recipients) == 0 {
		return nil, 0, core.ValidationError("at least one recipient is required")
	}

	var (
		outputs []*wire.TxOut
		total   int64
	)

	for _, r := range recipients {
		if r == nil {
			return nil, 0, core.ValidationError("empty recipient")
		}

		if r.Amount <= 0 || r.Amount > btcutil.MaxSatoshi {
			return nil, 0, core.ValidationError("invalid amount %d for %s", r.Amount, r.Address)
		}

		var script []byte
		if r.Address != "" {
			s, err := b.payToAddress(r.Address)
			if err != nil {
				return nil, 0, err
			}

			script = s
		}

		if r.Script != "" {
			s, err := hex.DecodeString(r.Script)
			if err != nil || len(s) == 0 {
				return nil, 0, core.ValidationError("invalid script %q", r.Script)
			}

			if script != nil && !bytes.Equal(script, s) {
				return nil, 0, core.ValidationError("both script and address provided but they did not match")
			}

			script = s
		}

		if script == nil {
			return nil, 0, core.ValidationError("recipient requires an address or a script")
		}

		if total += r.Amount; total > btcutil.MaxSatoshi {
			return nil, 0, core.ValidationError("total amount %d exceeds the money supply", total)
		}

		outputs = append(outputs, wire.NewTxOut(r.Amount, script))
	}

	return outputs, total, nil
}

func validateFeeOptions(opts core.FeeOptions) error {
	var set int
	for _, some := range []bool{opts.Fee.IsSome(), opts.FeeRate.IsSome(), opts.ConfirmTarget.IsSome()} {
		if some {
			set++
		}
	}

	if set > 1 {
		return core.ValidationError("only one of fee, fee rate and confirm target may be set")
	}

	if fee, ok := someValue(opts.Fee); ok && (fee < 0 || fee > maxExplicitFee) {
		return core.ValidationError("invalid fee %d", fee)
	}

	if rate, ok := someValue(opts.FeeRate); ok && rate <= 0 {
		return core.ValidationError("invalid fee rate %d", rate)
	}

	if rate, ok := someValue(opts.MaxFeeRate); ok && rate <= 0 {
		return core.ValidationError("invalid max fee rate %d", rate)
	}

	return nil
}

func someValue[T any](o fn.Option[T]) (T, bool) {
	var zero T
	return o.UnwrapOr(zero), o.IsSome()
}

func withChange(outputs []*wire.TxOut, changes []int64, script []byte) []*wire.TxOut {
	all := make([]*wire.TxOut, 0, len(outputs)+len(changes))
	all = append(all, outputs...)
	for _, amount := range changes {
		all = append(all, wire.NewTxOut(amount, script))
	}

	return all
}

// splitChange returns no output for zero change, one output when splitting
// is disabled or the change is too small, otherwise two parts rounded to
// changeGranularity whose ratio stays within [0.5, 2].
func splitChange(change, splitSize int64) []int64 {
	if change <= 0 {
		return nil
	}

	if splitSize <= 0 || change < max(splitSize, minSplitChange) {
		return []int64{change}
	}

	first := change / 2 / changeGranularity * changeGranularity
	return []int64{first, change - first}
}
