package cleaner

import (
	"context"
	"log/slog"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/pandodao/btcvault/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zyedidia/generic/mapset"
)

var fragmentedWallets = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "btcvault",
	Name:      "fragmented_wallets",
	Help:      "Wallets holding more unspents than the cleaner capacity.",
})

type Config struct {
	// Capacity is the unspent count above which a wallet is reported as
	// needing consolidation.
	Capacity int `valid:"required"`
}

// Cleaner drops unspents that were spent outside this service and reports
// wallets that grew too fragmented.
type Cleaner struct {
	unspents core.UnspentStore
	chain    core.ChainService
	wallets  core.WalletStore
	logger   *slog.Logger
	cfg      Config
}

func New(
	unspents core.UnspentStore,
	chain core.ChainService,
	wallets core.WalletStore,
	logger *slog.Logger,
	cfg Config,
) *Cleaner {
	if _, err := govalidator.ValidateStruct(cfg); err != nil {
		panic(err)
	}

	return &Cleaner{
		unspents: unspents,
		chain:    chain,
		wallets:  wallets,
		logger:   logger.With("worker", "cleaner"),
		cfg:      cfg,
	}
}

func (w *Cleaner) Run(ctx context.Context) error {
	w.logger.Info("cleaner start")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Minute):
			_ = w.run(ctx)
		}
	}
}

func (w *Cleaner) run(ctx context.Context) error {
	var (
		// outpoints asked this round; pages may overlap while the syncer
		// inserts concurrently
		checked = mapset.New[string]()
		offset  int
	)

	for {
		const limit = 500
		unspents, err := w.unspents.ListAll(ctx, offset, limit)
		if err != nil {
			w.logger.Error("unspents.ListAll", "err", err)
			return err
		}

		if len(unspents) == 0 {
			break
		}

		offset += len(unspents)

		var spent []*core.Unspent
		for _, u := range unspents {
			if checked.Has(u.Outpoint()) {
				continue
			}

			checked.Put(u.Outpoint())

			ok, err := w.chain.IsSpent(ctx, u)
			if err != nil {
				w.logger.Error("chain.IsSpent", "outpoint", u.Outpoint(), "err", err)
				return err
			}

			if ok {
				spent = append(spent, u)
			}
		}

		if len(spent) == 0 {
			continue
		}

		if err := w.unspents.Delete(ctx, spent); err != nil {
			w.logger.Error("unspents.Delete", "count", len(spent), "err", err)
			return err
		}

		// deleted rows shift the pages behind them
		offset -= len(spent)
		w.logger.Info("spent unspents removed", "count", len(spent))
	}

	return w.reportFragmented(ctx)
}

func (w *Cleaner) reportFragmented(ctx context.Context) error {
	wallets, err := w.wallets.List(ctx)
	if err != nil {
		w.logger.Error("wallets.List", "err", err)
		return err
	}

	var fragmented int
	for _, wallet := range wallets {
		b, err := w.unspents.SumBalance(ctx, wallet.ID)
		if err != nil {
			w.logger.Error("unspents.SumBalance", "err", err)
			return err
		}

		if b.Count > w.cfg.Capacity {
			fragmented++
			w.logger.Warn("wallet needs consolidation", "wallet", wallet.ID, "count", b.Count, "capacity", w.cfg.Capacity)
		}
	}

	fragmentedWallets.Set(float64(fragmented))
	return nil
}
