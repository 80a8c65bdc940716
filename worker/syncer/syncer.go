package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/pandodao/btcvault/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zyedidia/generic/mapset"
)

const (
	propertySyncedAt = "synced_at"
)

var syncedUnspents = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "btcvault",
	Name:      "synced_unspents",
	Help:      "Unspents seen on chain in the last sync round.",
})

func New(
	wallets core.WalletStore,
	addresses core.AddressStore,
	unspents core.UnspentStore,
	chain core.ChainService,
	properties core.PropertyStore,
	clk clock.Clock,
	logger *slog.Logger,
) *Syncer {
	return &Syncer{
		wallets:    wallets,
		addresses:  addresses,
		unspents:   unspents,
		chain:      chain,
		properties: properties,
		clock:      clk,
		logger:     logger.With("worker", "syncer"),
	}
}

// Syncer pulls the unspents of every wallet address from the chain into
// the unspent store, refreshing confirmations of the known ones.
type Syncer struct {
	wallets    core.WalletStore
	addresses  core.AddressStore
	unspents   core.UnspentStore
	chain      core.ChainService
	properties core.PropertyStore
	clock      clock.Clock
	logger     *slog.Logger
}

func (w *Syncer) Run(ctx context.Context) error {
	w.logger.Info("syncer start")

	for {
		dur := 10 * time.Second
		if w.run(ctx) == nil {
			dur = 30 * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dur):
		}
	}
}

func (w *Syncer) run(ctx context.Context) error {
	wallets, err := w.wallets.List(ctx)
	if err != nil {
		w.logger.Error("wallets.List", "err", err)
		return err
	}

	var total int
	for _, wallet := range wallets {
		n, err := w.syncWallet(ctx, wallet)
		if err != nil {
			return err
		}

		total += n
	}

	syncedUnspents.Set(float64(total))

	if err := w.properties.Set(ctx, propertySyncedAt, w.clock.Now()); err != nil {
		w.logger.Error("properties.Set", "err", err)
		return err
	}

	return nil
}

func (w *Syncer) syncWallet(ctx context.Context, wallet *core.Wallet) (int, error) {
	logger := w.logger.With("wallet", wallet.ID)

	known, err := w.unspents.List(ctx, wallet.ID, core.UnspentFilter{})
	if err != nil {
		logger.Error("unspents.List", "err", err)
		return 0, err
	}

	outpoints := mapset.New[string]()
	for _, u := range known {
		outpoints.Put(u.Outpoint())
	}

	addresses, err := w.addresses.List(ctx, wallet.ID)
	if err != nil {
		logger.Error("addresses.List", "err", err)
		return 0, err
	}

	var (
		synced []*core.Unspent
		fresh  int
	)

	for _, addr := range addresses {
		unspents, err := w.chain.ListUnspents(ctx, addr.Address)
		if err != nil {
			logger.Error("chain.ListUnspents", "address", addr.Address, "err", err)
			return 0, err
		}

		for _, u := range unspents {
			u.WalletID = wallet.ID
			u.CreatedAt = w.clock.Now()
			u.ChainPath = addr.ChainPath()
			u.RedeemScript = addr.RedeemScript

			if !outpoints.Has(u.Outpoint()) {
				fresh++
			}
		}

		synced = append(synced, unspents...)
	}

	if len(synced) == 0 {
		return 0, nil
	}

	if err := w.unspents.Save(ctx, synced); err != nil {
		logger.Error("unspents.Save", "err", err)
		return 0, err
	}

	if fresh > 0 {
		logger.Info("new unspents", "count", fresh)
	}

	return len(synced), nil
}
