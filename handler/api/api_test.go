package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/service/consolidate"
	"github.com/pandodao/btcvault/service/fee"
	"github.com/pandodao/btcvault/service/keychain"
	"github.com/pandodao/btcvault/service/multisig"
	"github.com/pandodao/btcvault/service/policy"
	"github.com/pandodao/btcvault/service/selector"
	"github.com/pandodao/btcvault/service/session"
	"github.com/pandodao/btcvault/service/testutil"
	"github.com/pandodao/btcvault/service/transfer"
	"github.com/pandodao/btcvault/service/txbuilder"
	"github.com/pandodao/btcvault/service/wallet"
	"github.com/pandodao/btcvault/service/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zyedidia/generic/mapset"
)

type harness struct {
	*testutil.Fixture
	broadcaster *testutil.Broadcaster
	server      *httptest.Server
}

func newHarness(t *testing.T) *harness {
	f := testutil.New(t)
	h := &harness{Fixture: f, broadcaster: &testutil.Broadcaster{}}

	fees := fee.NewStatic(map[uint32]int64{1: 20000, 6: 10000}, fee.DefaultCeiling)
	wallets := wallet.New(
		f.Wallets,
		f.Unspents,
		keychain.New(f.Keychains, testutil.Params),
		f.AddressService,
		txbuilder.New(fees, selector.New(f.Unspents), f.AddressService, testutil.Params),
		multisig.New(testutil.Params),
		policy.New(f.Wallets, f.Policies, webhook.New(time.Second), f.Clock),
		h.broadcaster,
		f.Clock,
		slog.Default(),
		wallet.Config{ServerPassphrase: testutil.ServerPassphrase},
	)

	s := New(
		wallets,
		consolidate.New(wallets, f.Unspents, slog.Default()),
		transfer.New(f.Transfers, wallets, f.Clock),
		fees,
		session.NewRegistry(f.Clock, testutil.Params, 16),
		slog.Default(),
		Config{Unlock: time.Minute},
	)

	h.server = httptest.NewServer(s.Handler())
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body, out any) int {
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}

	req, err := http.NewRequest(method, h.server.URL+path, &payload)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

func (h *harness) walletPath(suffix string) string {
	return "/wallets/" + h.Wallet.ID + suffix
}

func (h *harness) sendBody(t *testing.T, amount int64) map[string]any {
	return map[string]any{
		"passphrase": testutil.Passphrase,
		"recipients": []map[string]any{{"address": testutil.ExternalAddress(t, 1), "amount": amount}},
	}
}

func TestWallets(t *testing.T) {
	h := newHarness(t)

	var created struct {
		ID         string `json:"id"`
		M          int    `json:"m"`
		BackupXPrv string `json:"backup_xprv"`
	}
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/wallets", map[string]string{
		"label":      "savings",
		"passphrase": "correct horse",
	}, &created))
	assert.Equal(t, 2, created.M)
	assert.NotEmpty(t, created.BackupXPrv)

	var errView errorView
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/wallets", map[string]string{"label": "x"}, &errView))
	assert.Contains(t, errView.Error, "passphrase")

	h.Fund(t, 15e7, 5e7)

	var got struct {
		ID           string `json:"id"`
		Balance      int64  `json:"balance"`
		BalanceBTC   string `json:"balance_btc"`
		UnspentCount int    `json:"unspent_count"`
		BackupXPrv   string `json:"backup_xprv"`
	}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, h.walletPath("/"), nil, &got))
	assert.Equal(t, int64(2e8), got.Balance)
	assert.Equal(t, "2.00000000", got.BalanceBTC)
	assert.Equal(t, 2, got.UnspentCount)
	assert.Empty(t, got.BackupXPrv)

	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/wallets/"+uuid.NewString()+"/", nil, &errView))
	assert.Equal(t, "not found", errView.Error)

	var addr core.Address
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, h.walletPath("/addresses"), map[string]uint32{"chain": core.ChainChange}, &addr))
	assert.Equal(t, core.ChainChange, addr.Chain)
	assert.NotEmpty(t, addr.Address)

	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, h.walletPath("/addresses"), map[string]uint32{"chain": 9}, nil))
}

func TestSendMany(t *testing.T) {
	h := newHarness(t)
	h.Fund(t, 2e8)

	var errView errorView
	require.Equal(t, http.StatusForbidden, h.do(t, http.MethodPost, h.walletPath("/sendmany"), h.sendBody(t, 1e8), &errView))
	assert.Contains(t, errView.Error, "locked")

	var unlocked unlockView
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, h.walletPath("/unlock"), map[string]int{}, &unlocked))
	assert.True(t, testutil.StartTime.Add(time.Minute).Equal(unlocked.Expires))

	wrong := h.sendBody(t, 1e8)
	wrong["passphrase"] = "guess"
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, h.walletPath("/sendmany"), wrong, &errView))

	var result struct {
		TxHash string          `json:"tx_hash"`
		Status core.SendStatus `json:"status"`
		Fee    int64           `json:"fee"`
		FeeBTC string          `json:"fee_btc"`
	}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, h.walletPath("/sendmany"), h.sendBody(t, 1e8), &result))
	assert.Equal(t, core.SendAccepted, result.Status)
	assert.Equal(t, h.broadcaster.Submitted()[0].TxHash().String(), result.TxHash)
	assert.Equal(t, fmt.Sprintf("0.%08d", result.Fee), result.FeeBTC)

	require.Equal(t, http.StatusNoContent, h.do(t, http.MethodPost, h.walletPath("/lock"), nil, nil))
	require.Equal(t, http.StatusForbidden, h.do(t, http.MethodPost, h.walletPath("/sendmany"), h.sendBody(t, 1e7), &errView))
}

func TestBuildAndSend(t *testing.T) {
	h := newHarness(t)
	h.Fund(t, 2e8)
	h.do(t, http.MethodPost, h.walletPath("/unlock"), map[string]int{"duration": 60}, nil)

	rule := core.PolicyRule{
		ID:        "review",
		Type:      core.PolicyDailyLimit,
		Condition: core.PolicyCondition{Amount: 1000},
		Action:    core.PolicyActionRequireApproval,
	}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPut, h.walletPath("/policy/rules"), rule, nil))

	var built buildView
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, h.walletPath("/transactions/build"), h.sendBody(t, 1e8), &built))
	assert.Equal(t, core.SignaturePartiallySigned, built.State)
	assert.Equal(t, 1, built.Signatures)

	var result core.SendResult
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, h.walletPath("/transactions/send"), map[string]any{"hex": built.Transaction.Hex}, &result))
	assert.Equal(t, core.SendPendingApproval, result.Status)
	assert.Empty(t, h.broadcaster.Submitted())

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, h.walletPath("/transactions/send"), map[string]any{
		"hex":      built.Transaction.Hex,
		"approved": true,
	}, &result))
	assert.Equal(t, core.SendAccepted, result.Status)
	assert.Len(t, h.broadcaster.Submitted(), 1)

	var errView errorView
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, h.walletPath("/transactions/send"), map[string]any{"hex": built.Transaction.Hex}, &errView))
	assert.Contains(t, errView.Error, "not spendable")
}

func TestPolicy(t *testing.T) {
	h := newHarness(t)

	var errView errorView
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPut, h.walletPath("/policy/rules"), core.PolicyRule{ID: "bad", Type: "unknown"}, &errView))

	rule := core.PolicyRule{
		ID:        "limit",
		Type:      core.PolicyDailyLimit,
		Condition: core.PolicyCondition{Amount: 5e7},
		Action:    core.PolicyActionDeny,
	}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPut, h.walletPath("/policy/rules"), rule, nil))

	var rules []*core.PolicyRule
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, h.walletPath("/policy/rules"), nil, &rules))
	require.Len(t, rules, 1)
	assert.Equal(t, h.Wallet.ID, rules[0].WalletID)

	var status []*core.PolicyStatus
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, h.walletPath("/policy/status"), nil, &status))
	require.Len(t, status, 1)
	assert.Equal(t, int64(5e7), status[0].Remaining)

	h.Fund(t, 2e8)
	h.do(t, http.MethodPost, h.walletPath("/unlock"), map[string]int{}, nil)
	require.Equal(t, http.StatusForbidden, h.do(t, http.MethodPost, h.walletPath("/sendmany"), h.sendBody(t, 1e8), &errView))
	assert.Equal(t, "limit", errView.RuleID)

	require.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, h.walletPath("/policy/rules/limit"), nil, nil))
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodDelete, h.walletPath("/policy/rules/limit"), nil, &errView))

	var frozen core.Freeze
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, h.walletPath("/freeze"), map[string]int{"duration": 60}, &frozen))
	assert.True(t, testutil.StartTime.Add(time.Minute).Equal(frozen.Expires))
	require.Equal(t, http.StatusForbidden, h.do(t, http.MethodPost, h.walletPath("/sendmany"), h.sendBody(t, 1e8), &errView))
	assert.Contains(t, errView.Error, "frozen")
}

func TestConsolidate(t *testing.T) {
	h := newHarness(t)
	h.Fund(t, testutil.Repeat(1e7, 6)...)
	h.do(t, http.MethodPost, h.walletPath("/unlock"), map[string]int{}, nil)

	var view struct {
		Batches []struct {
			Index      int    `json:"index"`
			InputCount int    `json:"input_count"`
			TxHash     string `json:"tx_hash"`
			AmountBTC  string `json:"amount_btc"`
		} `json:"batches"`
	}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, h.walletPath("/consolidate"), map[string]any{
		"passphrase": testutil.Passphrase,
		"max_inputs": 3,
	}, &view))
	// 6 -> 4 -> 2 -> 1, each batch also spending the previous output
	require.Len(t, view.Batches, 3)
	assert.Equal(t, 3, view.Batches[0].InputCount)
	assert.NotEmpty(t, view.Batches[0].TxHash)

	var errView errorView
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, h.walletPath("/consolidate"), map[string]any{"max_inputs": 1}, &errView))
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, h.walletPath("/fanout"), map[string]any{"target": 0}, &errView))
}

func TestTransfers(t *testing.T) {
	h := newHarness(t)
	h.Fund(t, 2e8)
	h.do(t, http.MethodPost, h.walletPath("/unlock"), map[string]int{}, nil)

	body := h.sendBody(t, 1e7)
	body["trace_id"] = uuid.NewString()
	body["condition"] = core.Condition{URL: "https://example.com/names", Key: "alice"}

	var created transferView
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, h.walletPath("/transfers"), body, &created))
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, int64(1e7), created.SendAmount)

	var found transferView
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/transfers/"+created.TraceID, nil, &found))
	assert.Equal(t, created, found)

	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/transfers/"+uuid.NewString(), nil, nil))
}

func TestEstimateFee(t *testing.T) {
	h := newHarness(t)

	var estimate core.FeeEstimate
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/fees?num_blocks=6", nil, &estimate))
	assert.Equal(t, int64(10000), estimate.FeePerKb)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/fees?max_fee_rate=5000", nil, &estimate))
	assert.Equal(t, int64(5000), estimate.FeePerKb)

	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/fees?num_blocks=x", nil, nil))
}

func TestExclusive(t *testing.T) {
	h := newHarness(t)

	s := &Server{busy: mapset.New[string](), logger: slog.Default()}
	s.busy.Put(h.Wallet.ID)
	called := false
	handler := s.exclusive(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), walletKey{}, h.Wallet))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, called)

	s.busy.Remove(h.Wallet.ID)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.True(t, called)
	assert.False(t, s.busy.Has(h.Wallet.ID))
}

func Test_statusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ValidationError("bad"), http.StatusBadRequest},
		{&core.InsufficientFundsError{Fee: 1}, http.StatusBadRequest},
		{fmt.Errorf("%w: x", core.ErrInvalidDestination), http.StatusBadRequest},
		{core.ErrTransactionTooLarge, http.StatusBadRequest},
		{core.ErrNotAuthorized, http.StatusForbidden},
		{&core.PolicyDeniedError{Reason: "frozen"}, http.StatusForbidden},
		{fmt.Errorf("find: %w", sql.ErrNoRows), http.StatusNotFound},
		{errBusy, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusOf(tt.err), tt.err.Error())
	}
}
