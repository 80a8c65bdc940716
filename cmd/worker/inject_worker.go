package main

import (
	"github.com/google/wire"
	"github.com/pandodao/btcvault/service/wallet"
	"github.com/pandodao/btcvault/worker/cashier"
	"github.com/pandodao/btcvault/worker/cleaner"
	"github.com/pandodao/btcvault/worker/syncer"
	"github.com/spf13/viper"
)

var workerSet = wire.NewSet(
	wire.Bind(new(cashier.Wallets), new(*wallet.Service)),
	cashier.New,
	syncer.New,
	provideCleanerConfig,
	cleaner.New,
)

func provideCleanerConfig(v *viper.Viper) cleaner.Config {
	v.SetDefault("cleaner.capacity", 1000)

	return cleaner.Config{
		Capacity: v.GetInt("cleaner.capacity"),
	}
}
