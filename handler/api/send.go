package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/service/consolidate"
)

func maxFeeRate(r *http.Request) fn.Option[int64] {
	v, err := strconv.ParseInt(r.URL.Query().Get("max_fee_rate"), 10, 64)
	if err != nil || v <= 0 {
		return fn.None[int64]()
	}

	return fn.Some(v)
}

func (s *Server) sendMany(w http.ResponseWriter, r *http.Request) {
	var body sendRequest
	if err := decodeJSON(r, &body); err != nil {
		s.renderError(w, r, err)
		return
	}

	wallet := walletFrom(r.Context())
	result, err := s.wallets.SendMany(r.Context(), s.sessions.Get(wallet.ID), wallet, body.request())
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	renderJSON(w, http.StatusOK, viewSend(result))
}

func (s *Server) buildTransaction(w http.ResponseWriter, r *http.Request) {
	var body sendRequest
	if err := decodeJSON(r, &body); err != nil {
		s.renderError(w, r, err)
		return
	}

	if len(body.Recipients) == 0 {
		s.renderError(w, r, core.ValidationError("at least one recipient is required"))
		return
	}

	wallet := walletFrom(r.Context())
	tx, signed, err := s.wallets.Build(r.Context(), s.sessions.Get(wallet.ID), wallet, body.request())
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	renderJSON(w, http.StatusOK, buildView{
		Transaction: tx,
		Signatures:  signed.Signatures,
		State:       signed.State,
	})
}

// sendTransaction co-signs a transaction built and user signed elsewhere.
func (s *Server) sendTransaction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Hex      string `json:"hex"`
		Approved bool   `json:"approved"`
	}

	if err := decodeJSON(r, &body); err != nil {
		s.renderError(w, r, err)
		return
	}

	if body.Hex == "" {
		s.renderError(w, r, core.ValidationError("transaction hex is required"))
		return
	}

	wallet := walletFrom(r.Context())
	tx, err := s.wallets.Inspect(r.Context(), wallet, body.Hex)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	result, err := s.wallets.SendTransaction(r.Context(), wallet, tx, body.Approved)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	renderJSON(w, http.StatusOK, viewSend(result))
}

func (s *Server) fanOut(w http.ResponseWriter, r *http.Request) {
	var body struct {
		credentials
		feeOptions

		Target      int   `json:"target"`
		MinConfirms int64 `json:"min_confirms"`
	}

	if err := decodeJSON(r, &body); err != nil {
		s.renderError(w, r, err)
		return
	}

	wallet := walletFrom(r.Context())
	result, err := s.planner.FanOut(r.Context(), s.sessions.Get(wallet.ID), wallet, &consolidate.FanOutRequest{
		Credentials: consolidate.Credentials{Passphrase: body.Passphrase, XPrv: body.XPrv},
		Target:      body.Target,
		MinConfirms: body.MinConfirms,
		Fee:         body.options(),
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	renderJSON(w, http.StatusOK, viewSend(result))
}

func (s *Server) consolidate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		credentials
		feeOptions

		Target      int   `json:"target"`
		MaxInputs   int   `json:"max_inputs"`
		MinConfirms int64 `json:"min_confirms"`
		MinSize     int64 `json:"min_size"`
	}

	if err := decodeJSON(r, &body); err != nil {
		s.renderError(w, r, err)
		return
	}

	wallet := walletFrom(r.Context())
	logger := s.logger.With("wallet", wallet.ID)

	done, err := s.planner.Consolidate(r.Context(), s.sessions.Get(wallet.ID), wallet, &consolidate.ConsolidateRequest{
		Credentials: consolidate.Credentials{Passphrase: body.Passphrase, XPrv: body.XPrv},
		Target:      body.Target,
		MaxInputs:   body.MaxInputs,
		MinConfirms: body.MinConfirms,
		MinSize:     body.MinSize,
		Fee:         body.options(),
		Progress: func(p *consolidate.Progress) {
			logger.Info("consolidation batch sent", "index", p.BatchIndex, "inputs", p.InputCount, "hash", p.TxHash)
		},
	})

	// batches already broadcast are reported along with the failure
	if err != nil && len(done) == 0 {
		s.renderError(w, r, err)
		return
	}

	view := struct {
		Batches []*progressView `json:"batches"`
		Error   string          `json:"error,omitempty"`
	}{Batches: viewProgresses(done)}

	status := http.StatusOK
	if err != nil {
		view.Error = err.Error()
		status = http.StatusMultiStatus
	}

	renderJSON(w, status, view)
}

func (s *Server) createTransfer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		sendRequest

		TraceID   string         `json:"trace_id"`
		Condition core.Condition `json:"condition"`
	}

	if err := decodeJSON(r, &body); err != nil {
		s.renderError(w, r, err)
		return
	}

	wallet := walletFrom(r.Context())
	v, err, _ := s.sf.Do(body.TraceID, func() (any, error) {
		return s.transfers.Create(r.Context(), s.sessions.Get(wallet.ID), wallet, body.TraceID, body.request(), body.Condition)
	})

	if err != nil {
		s.renderError(w, r, err)
		return
	}

	renderJSON(w, http.StatusOK, viewTransfer(v.(*core.Transfer)))
}

func (s *Server) findTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := s.transfers.Find(r.Context(), chi.URLParam(r, "trace_id"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	renderJSON(w, http.StatusOK, viewTransfer(t))
}
