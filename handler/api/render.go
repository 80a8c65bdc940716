package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oxtoacart/bpool"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/store"
)

var buffers = bpool.NewBufferPool(64)

func renderJSON(w http.ResponseWriter, status int, v any) {
	buf := buffers.Get()
	defer buffers.Put(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

type errorView struct {
	Error  string `json:"error"`
	RuleID string `json:"rule_id,omitempty"`
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation),
		errors.Is(err, core.ErrInvalidDestination),
		errors.Is(err, core.ErrTransactionTooLarge),
		errors.Is(err, core.ErrInsufficientFunds),
		errors.Is(err, core.ErrInsufficientSignatures),
		errors.Is(err, core.ErrSignatureInvalid),
		errors.Is(err, core.ErrDecryptionFailure):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotAuthorized),
		errors.Is(err, core.ErrPolicyDenied):
		return http.StatusForbidden
	case store.IsErrNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, errBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	view := errorView{Error: err.Error()}

	var denied *core.PolicyDeniedError
	if errors.As(err, &denied) {
		view.RuleID = denied.RuleID
	}

	switch {
	case status == http.StatusNotFound:
		view.Error = "not found"
	case status >= http.StatusInternalServerError:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		view.Error = "internal error"
	}

	renderJSON(w, status, view)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return core.ValidationError("malformed request body: %v", err)
	}

	return nil
}
