package main

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/service/address"
	"github.com/pandodao/btcvault/service/condition"
	"github.com/pandodao/btcvault/service/esplora"
	"github.com/pandodao/btcvault/service/fee"
	"github.com/pandodao/btcvault/service/keychain"
	"github.com/pandodao/btcvault/service/multisig"
	"github.com/pandodao/btcvault/service/policy"
	"github.com/pandodao/btcvault/service/selector"
	"github.com/pandodao/btcvault/service/txbuilder"
	"github.com/pandodao/btcvault/service/wallet"
	"github.com/pandodao/btcvault/service/webhook"
	"github.com/spf13/viper"
)

var serviceSet = wire.NewSet(
	provideParams,
	provideClock,
	provideEsploraConfig,
	esplora.New,
	wire.Bind(new(core.ChainService), new(*esplora.Client)),
	wire.Bind(new(core.FeeSource), new(*esplora.Client)),
	wire.Bind(new(core.Broadcaster), new(*esplora.Client)),
	provideFeeConfig,
	fee.New,
	selector.New,
	address.New,
	wire.Bind(new(txbuilder.AddressService), new(*address.Service)),
	keychain.New,
	txbuilder.New,
	multisig.New,
	provideWebhooks,
	policy.New,
	provideWalletConfig,
	wallet.New,
	provideConditions,
)

func provideParams(v *viper.Viper) (*chaincfg.Params, error) {
	v.SetDefault("network", chaincfg.MainNetParams.Name)

	for _, params := range []*chaincfg.Params{
		&chaincfg.MainNetParams,
		&chaincfg.TestNet3Params,
		&chaincfg.RegressionNetParams,
		&chaincfg.SigNetParams,
	} {
		if params.Name == v.GetString("network") {
			return params, nil
		}
	}

	return nil, fmt.Errorf("unknown network %q", v.GetString("network"))
}

func provideClock() clock.Clock {
	return clock.NewDefaultClock()
}

func provideEsploraConfig(v *viper.Viper) esplora.Config {
	v.SetDefault("esplora.url", esplora.DefaultURL)
	v.SetDefault("esplora.timeout", "15s")

	return esplora.Config{
		URL:       v.GetString("esplora.url"),
		Timeout:   v.GetDuration("esplora.timeout"),
		UserAgent: "btcvault-worker/" + version,
	}
}

func provideFeeConfig(v *viper.Viper) fee.Config {
	v.SetDefault("fee.ceiling", fee.DefaultCeiling)
	v.SetDefault("fee.cache_ttl", "1m")
	v.SetDefault("fee.extrapolate", false)

	return fee.Config{
		Ceiling:     v.GetInt64("fee.ceiling"),
		CacheTTL:    v.GetDuration("fee.cache_ttl"),
		Extrapolate: v.GetBool("fee.extrapolate"),
	}
}

func provideWebhooks(v *viper.Viper) core.WebhookService {
	return webhook.New(v.GetDuration("webhook.timeout"))
}

func provideWalletConfig(v *viper.Viper) wallet.Config {
	return wallet.Config{
		ServerPassphrase: v.GetString("server.passphrase"),
	}
}

func provideConditions(v *viper.Viper) core.ConditionSource {
	v.SetDefault("condition.timeout", "10s")
	return condition.New(v.GetDuration("condition.timeout"))
}
