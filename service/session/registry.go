package session

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pandodao/generic"
)

// Registry keeps one session per wallet. Evicted sessions are locked.
type Registry struct {
	clock    clock.Clock
	params   *chaincfg.Params
	mux      sync.Mutex
	sessions *lru.Cache[string, *Session]
}

func NewRegistry(clk clock.Clock, params *chaincfg.Params, size int) *Registry {
	return &Registry{
		clock:  clk,
		params: params,
		sessions: generic.Must(lru.NewWithEvict(size, func(_ string, s *Session) {
			s.Lock()
		})),
	}
}

// Get returns the session of walletID, creating a locked one when absent.
func (r *Registry) Get(walletID string) *Session {
	r.mux.Lock()
	defer r.mux.Unlock()

	if s, ok := r.sessions.Get(walletID); ok {
		return s
	}

	s := New(r.clock, r.params)
	r.sessions.Add(walletID, s)
	return s
}
