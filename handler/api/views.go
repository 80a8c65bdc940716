package api

import (
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/service/consolidate"
	"github.com/pandodao/generic"
	"github.com/shopspring/decimal"
)

// btc renders satoshis as a BTC amount.
func btc(sats int64) string {
	return decimal.New(sats, -8).StringFixed(8)
}

type walletView struct {
	*core.Wallet
	BalanceBTC   string `json:"balance_btc"`
	UnspentCount int    `json:"unspent_count"`
	BackupXPrv   string `json:"backup_xprv,omitempty"`
}

func viewWallet(wallet *core.Wallet, balance *core.Balance) *walletView {
	v := &walletView{Wallet: wallet}
	if balance != nil {
		wallet.Balance = balance.Amount
		v.UnspentCount = balance.Count
	}

	v.BalanceBTC = btc(wallet.Balance)
	return v
}

type feeOptions struct {
	Fee        *int64  `json:"fee,omitempty"`
	FeeRate    *int64  `json:"fee_rate,omitempty"`
	NumBlocks  *uint32 `json:"num_blocks,omitempty"`
	MaxFeeRate *int64  `json:"max_fee_rate,omitempty"`
}

func (o feeOptions) options() core.FeeOptions {
	return core.FeeOptions{
		Fee:           fn.OptionFromPtr(o.Fee),
		FeeRate:       fn.OptionFromPtr(o.FeeRate),
		ConfirmTarget: fn.OptionFromPtr(o.NumBlocks),
		MaxFeeRate:    fn.OptionFromPtr(o.MaxFeeRate),
	}
}

type credentials struct {
	Passphrase string `json:"passphrase,omitempty"`
	XPrv       string `json:"xprv,omitempty"`
}

type sendRequest struct {
	credentials
	feeOptions

	Recipients       []*core.Recipient `json:"recipients"`
	MinConfirms      int64             `json:"min_confirms,omitempty"`
	MinUnspentSize   int64             `json:"min_unspent_size,omitempty"`
	InstantOnly      bool              `json:"instant_only,omitempty"`
	SplitChangeSize  int64             `json:"split_change_size,omitempty"`
	ChangeAddress    string            `json:"change_address,omitempty"`
	ForceChangeAtEnd bool              `json:"force_change_at_end,omitempty"`
	Approved         bool              `json:"approved,omitempty"`
}

func (r *sendRequest) request() *core.SendRequest {
	return &core.SendRequest{
		Recipients: r.Recipients,
		Options: core.TxOptions{
			FeeOptions:       r.options(),
			MinConfirms:      r.MinConfirms,
			MinUnspentSize:   r.MinUnspentSize,
			InstantOnly:      r.InstantOnly,
			SplitChangeSize:  r.SplitChangeSize,
			ChangeAddress:    r.ChangeAddress,
			ForceChangeAtEnd: r.ForceChangeAtEnd,
		},
		Passphrase: r.Passphrase,
		XPrv:       r.XPrv,
		Approved:   r.Approved,
	}
}

type sendView struct {
	*core.SendResult
	FeeBTC string `json:"fee_btc"`
}

func viewSend(result *core.SendResult) *sendView {
	return &sendView{SendResult: result, FeeBTC: btc(result.Fee)}
}

type buildView struct {
	Transaction *core.UnsignedTransaction `json:"transaction"`
	Signatures  int                       `json:"signatures"`
	State       core.SignatureState       `json:"state"`
}

type unlockView struct {
	Expires time.Time `json:"expires"`
}

type progressView struct {
	*consolidate.Progress
	AmountBTC string `json:"amount_btc"`
}

func viewProgress(p *consolidate.Progress) *progressView {
	return &progressView{Progress: p, AmountBTC: btc(p.Amount)}
}

func viewProgresses(done []*consolidate.Progress) []*progressView {
	return generic.MapSlice(done, viewProgress)
}

type transferView struct {
	TraceID    string         `json:"trace_id"`
	CreatedAt  time.Time      `json:"created_at"`
	Status     string         `json:"status"`
	WalletID   string         `json:"wallet_id"`
	SendAmount int64          `json:"send_amount"`
	Fee        int64          `json:"fee"`
	Condition  core.Condition `json:"condition"`
	TxHash     string         `json:"tx_hash,omitempty"`
	Error      string         `json:"error,omitempty"`
}

func viewTransfer(t *core.Transfer) *transferView {
	return &transferView{
		TraceID:    t.TraceID,
		CreatedAt:  t.CreatedAt,
		Status:     t.Status.String(),
		WalletID:   t.WalletID,
		SendAmount: t.SendAmount,
		Fee:        t.Fee,
		Condition:  t.Condition,
		TxHash:     t.TxHash,
		Error:      t.Error,
	}
}
