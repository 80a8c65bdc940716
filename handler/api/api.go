// Package api serves the wallet over a JSON HTTP API.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/service/consolidate"
	"github.com/pandodao/btcvault/service/session"
	"github.com/pandodao/btcvault/service/transfer"
	"github.com/pandodao/btcvault/service/wallet"
	"github.com/zyedidia/generic/mapset"
	"golang.org/x/sync/singleflight"
)

var errBusy = errors.New("another operation is running on this wallet")

type Config struct {
	// Unlock is the session lifetime used when a request names none.
	Unlock time.Duration `valid:"required"`
}

func New(
	wallets *wallet.Service,
	planner *consolidate.Planner,
	transfers *transfer.Service,
	fees core.FeeEstimator,
	sessions *session.Registry,
	logger *slog.Logger,
	cfg Config,
) *Server {
	if _, err := govalidator.ValidateStruct(cfg); err != nil {
		panic(err)
	}

	return &Server{
		wallets:   wallets,
		planner:   planner,
		transfers: transfers,
		fees:      fees,
		sessions:  sessions,
		logger:    logger.With("server", "api"),
		sf:        &singleflight.Group{},
		busy:      mapset.New[string](),
		cfg:       cfg,
	}
}

type Server struct {
	wallets   *wallet.Service
	planner   *consolidate.Planner
	transfers *transfer.Service
	fees      core.FeeEstimator
	sessions  *session.Registry
	logger    *slog.Logger
	sf        *singleflight.Group

	mux  sync.Mutex
	busy mapset.Set[string]

	cfg Config
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/fees", s.estimateFee)
	r.Get("/transfers/{trace_id}", s.findTransfer)
	r.Post("/wallets", s.createWallet)

	r.Route("/wallets/{wallet_id}", func(r chi.Router) {
		r.Use(s.loadWallet)

		r.Get("/", s.getWallet)
		r.Post("/addresses", s.createAddress)
		r.Post("/unlock", s.unlock)
		r.Post("/lock", s.lock)
		r.Post("/freeze", s.freeze)

		r.Route("/policy", func(r chi.Router) {
			r.Get("/rules", s.listRules)
			r.Put("/rules", s.setRule)
			r.Delete("/rules/{rule_id}", s.removeRule)
			r.Get("/status", s.policyStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.exclusive)

			r.Post("/sendmany", s.sendMany)
			r.Post("/transactions/build", s.buildTransaction)
			r.Post("/transactions/send", s.sendTransaction)
			r.Post("/fanout", s.fanOut)
			r.Post("/consolidate", s.consolidate)
			r.Post("/transfers", s.createTransfer)
		})
	})

	return r
}

type walletKey struct{}

func walletFrom(ctx context.Context) *core.Wallet {
	return ctx.Value(walletKey{}).(*core.Wallet)
}

func (s *Server) loadWallet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallet, err := s.wallets.Find(r.Context(), chi.URLParam(r, "wallet_id"))
		if err != nil {
			s.renderError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), walletKey{}, wallet)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// exclusive rejects a mutating request while another one runs on the same
// wallet.
func (s *Server) exclusive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := walletFrom(r.Context()).ID

		s.mux.Lock()
		if s.busy.Has(id) {
			s.mux.Unlock()
			s.renderError(w, r, errBusy)
			return
		}
		s.busy.Put(id)
		s.mux.Unlock()

		defer func() {
			s.mux.Lock()
			s.busy.Remove(id)
			s.mux.Unlock()
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) estimateFee(w http.ResponseWriter, r *http.Request) {
	var blocks uint64
	if v := r.URL.Query().Get("num_blocks"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			s.renderError(w, r, core.ValidationError("invalid num_blocks %q", v))
			return
		}

		blocks = n
	}

	estimate, err := s.fees.Estimate(r.Context(), uint32(blocks), maxFeeRate(r))
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	renderJSON(w, http.StatusOK, estimate)
}

func (s *Server) createWallet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Label      string `json:"label"`
		Passphrase string `json:"passphrase"`
	}

	if err := decodeJSON(r, &body); err != nil {
		s.renderError(w, r, err)
		return
	}

	wallet, backupXPrv, err := s.wallets.Create(r.Context(), body.Label, body.Passphrase)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	view := viewWallet(wallet, nil)
	view.BackupXPrv = backupXPrv
	renderJSON(w, http.StatusCreated, view)
}

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	wallet := walletFrom(r.Context())

	balance, err := s.wallets.Balance(r.Context(), wallet)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	renderJSON(w, http.StatusOK, viewWallet(wallet, balance))
}

func (s *Server) createAddress(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Chain uint32 `json:"chain"`
	}

	if err := decodeJSON(r, &body); err != nil {
		s.renderError(w, r, err)
		return
	}

	addr, err := s.wallets.CreateAddress(r.Context(), walletFrom(r.Context()), body.Chain)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	renderJSON(w, http.StatusCreated, addr)
}

func (s *Server) unlock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Duration int64 `json:"duration"`
	}

	if err := decodeJSON(r, &body); err != nil {
		s.renderError(w, r, err)
		return
	}

	if body.Duration < 0 {
		s.renderError(w, r, core.ValidationError("duration must not be negative"))
		return
	}

	d := time.Duration(body.Duration) * time.Second
	if d == 0 {
		d = s.cfg.Unlock
	}

	expires := s.sessions.Get(walletFrom(r.Context()).ID).Unlock(d)
	renderJSON(w, http.StatusOK, unlockView{Expires: expires})
}

func (s *Server) lock(w http.ResponseWriter, r *http.Request) {
	s.sessions.Get(walletFrom(r.Context()).ID).Lock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) freeze(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Duration int64 `json:"duration"`
	}

	if err := decodeJSON(r, &body); err != nil {
		s.renderError(w, r, err)
		return
	}

	f, err := s.wallets.Freeze(r.Context(), walletFrom(r.Context()), time.Duration(body.Duration)*time.Second)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	renderJSON(w, http.StatusOK, f)
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.wallets.ListPolicyRules(r.Context(), walletFrom(r.Context()))
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	renderJSON(w, http.StatusOK, rules)
}

func (s *Server) setRule(w http.ResponseWriter, r *http.Request) {
	var rule core.PolicyRule
	if err := decodeJSON(r, &rule); err != nil {
		s.renderError(w, r, err)
		return
	}

	if err := s.wallets.SetPolicyRule(r.Context(), walletFrom(r.Context()), &rule); err != nil {
		s.renderError(w, r, err)
		return
	}

	renderJSON(w, http.StatusOK, rule)
}

func (s *Server) removeRule(w http.ResponseWriter, r *http.Request) {
	if err := s.wallets.RemovePolicyRule(r.Context(), walletFrom(r.Context()), chi.URLParam(r, "rule_id")); err != nil {
		s.renderError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) policyStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.wallets.PolicyStatus(r.Context(), walletFrom(r.Context()))
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	renderJSON(w, http.StatusOK, status)
}
