package main

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/wire"
	"github.com/pandodao/btcvault/store/address"
	"github.com/pandodao/btcvault/store/db"
	"github.com/pandodao/btcvault/store/keychain"
	"github.com/pandodao/btcvault/store/policy"
	"github.com/pandodao/btcvault/store/property"
	"github.com/pandodao/btcvault/store/transfer"
	"github.com/pandodao/btcvault/store/unspent"
	"github.com/pandodao/btcvault/store/wallet"
	"github.com/spf13/viper"
	"github.com/tsenart/nap"
)

var storeSet = wire.NewSet(
	provideDB,
	wallet.New,
	keychain.New,
	address.New,
	unspent.New,
	policy.New,
	transfer.New,
	property.New,
)

func provideDB(v *viper.Viper, params *chaincfg.Params) (*nap.DB, func(), error) {
	v.SetDefault("db.driver", "mysql")

	driver := v.GetString("db.driver")
	dsn := v.GetString("db.dsn")

	for _, replica := range v.GetStringSlice("db.replicas") {
		dsn += ";" + replica
	}

	conn, err := nap.Open(driver, dsn)
	if err != nil {
		return nil, nil, err
	}

	if err := db.Migrate(conn.Master(), db.MigrateData{Network: params.Name}); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	var network string
	if err := property.New(conn).Get(context.Background(), "network", &network); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	if network != params.Name {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("database holds %s wallets, configured for %s", network, params.Name)
	}

	return conn, func() { _ = conn.Close() }, nil
}
