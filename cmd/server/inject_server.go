package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/wire"
	"github.com/pandodao/btcvault/handler/api"
	"github.com/pandodao/btcvault/handler/hc"
	"github.com/pandodao/btcvault/service/esplora"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/viper"
	"github.com/tsenart/nap"
)

var serverSet = wire.NewSet(
	provideApiConfig,
	api.New,
	provideServer,
)

func provideApiConfig(v *viper.Viper) api.Config {
	v.SetDefault("session.unlock", "10m")

	return api.Config{
		Unlock: v.GetDuration("session.unlock"),
	}
}

func provideServer(apiHandler *api.Server, conn *nap.DB, chain *esplora.Client, params *chaincfg.Params) *http.Server {
	m := chi.NewMux()
	m.Use(middleware.RealIP)
	m.Use(middleware.Logger)
	m.Use(middleware.Recoverer)
	m.Use(cors.AllowAll().Handler)

	m.Mount("/api", apiHandler.Handler())
	m.Mount("/metrics", promhttp.Handler())
	m.Mount("/hc", hc.Handler(version, params.Name, map[string]hc.Check{
		"db": func(ctx context.Context) error {
			return conn.Master().PingContext(ctx)
		},
		"esplora": func(ctx context.Context) error {
			_, err := chain.TipHeight(ctx)
			return err
		},
	}))

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", opt.port),
		Handler: m,
	}
}
