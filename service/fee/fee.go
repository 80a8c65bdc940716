package fee

import (
	"context"
	"sync"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/pandodao/btcvault/core"
	"github.com/zyedidia/generic/cache"
)

const (
	// DefaultCeiling is 0.001 BTC/kB.
	DefaultCeiling int64 = 100000

	defaultNumBlocks uint32 = 1
	maxBlockTarget   uint32 = 1008
)

type Config struct {
	Ceiling  int64         `valid:"required"`
	CacheTTL time.Duration `valid:"required"`
	// Extrapolate answers an absent target with the next lower cached
	// target instead of the ceiling.
	Extrapolate bool
}

func New(source core.FeeSource, clk clock.Clock, cfg Config) core.FeeEstimator {
	if _, err := govalidator.ValidateStruct(cfg); err != nil {
		panic(err)
	}

	return &estimator{
		source: source,
		clock:  clk,
		cfg:    cfg,
	}
}

type estimator struct {
	source core.FeeSource
	clock  clock.Clock
	cfg    Config

	rates     *cache.Cache[uint32, int64]
	updatedAt time.Time
	mux       sync.Mutex
}

func (e *estimator) Estimate(ctx context.Context, numBlocks uint32, ceiling fn.Option[int64]) (*core.FeeEstimate, error) {
	numBlocks = normalizeTarget(numBlocks)

	e.mux.Lock()
	defer e.mux.Unlock()

	if e.rates == nil || e.clock.Now().Sub(e.updatedAt) >= e.cfg.CacheTTL {
		rates, err := e.source.FeeRates(ctx)
		if err != nil {
			return nil, err
		}

		e.rates = cache.New[uint32, int64](int(maxBlockTarget))
		for target, rate := range rates {
			e.rates.Put(target, rate)
		}

		e.updatedAt = e.clock.Now()
	}

	rate, ok := e.rates.Get(numBlocks)
	if !ok && e.cfg.Extrapolate {
		if rate, ok = lookup(e.rates.Get, numBlocks); ok {
			e.rates.Put(numBlocks, rate)
		}
	}

	return &core.FeeEstimate{
		FeePerKb:  clamp(rate, ok, ceiling.UnwrapOr(e.cfg.Ceiling)),
		NumBlocks: numBlocks,
	}, nil
}

// NewStatic returns an estimator over a fixed schedule of sat/kB rates. A
// target missing from the schedule gets the ceiling.
func NewStatic(rates map[uint32]int64, ceiling int64) core.FeeEstimator {
	return &static{rates: rates, ceiling: ceiling}
}

type static struct {
	rates   map[uint32]int64
	ceiling int64
}

func (s *static) Estimate(_ context.Context, numBlocks uint32, ceiling fn.Option[int64]) (*core.FeeEstimate, error) {
	numBlocks = normalizeTarget(numBlocks)
	rate, ok := s.rates[numBlocks]

	return &core.FeeEstimate{
		FeePerKb:  clamp(rate, ok, ceiling.UnwrapOr(s.ceiling)),
		NumBlocks: numBlocks,
	}, nil
}

func normalizeTarget(numBlocks uint32) uint32 {
	if numBlocks == 0 {
		return defaultNumBlocks
	}

	return min(numBlocks, maxBlockTarget)
}

// lookup falls back to the next lower target that has a rate.
func lookup(get func(uint32) (int64, bool), numBlocks uint32) (int64, bool) {
	for target := numBlocks; target >= 1; target-- {
		if rate, ok := get(target); ok {
			return rate, true
		}
	}

	return 0, false
}

func clamp(rate int64, ok bool, ceiling int64) int64 {
	if !ok || rate > ceiling {
		return ceiling
	}

	floor := int64(txrules.DefaultRelayFeePerKb)
	if rate < floor {
		return min(floor, ceiling)
	}

	return rate
}
