// Package policy decides whether a wallet may spend.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/store"
)

const (
	DefaultFreeze = time.Hour

	// spendWindow is the rolling window of daily limits.
	spendWindow = 24 * time.Hour
)

func New(
	wallets core.WalletStore,
	policies core.PolicyStore,
	webhooks core.WebhookService,
	clk clock.Clock,
) *Service {
	return &Service{
		wallets:  wallets,
		policies: policies,
		webhooks: webhooks,
		clock:    clk,
	}
}

type Service struct {
	wallets  core.WalletStore
	policies core.PolicyStore
	webhooks core.WebhookService
	clock    clock.Clock
}

// Check runs the freeze and every rule of the wallet against tx. A rule
// with the requireApproval action passes when approved is set, otherwise
// it fails with NeedsApproval. Webhook transport errors are returned as is.
// The freeze is read from the store, not from the given wallet.
func (s *Service) Check(ctx context.Context, wallet *core.Wallet, tx *core.UnsignedTransaction, approved bool) error {
	current, err := s.wallets.Find(ctx, wallet.ID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	if current.Freeze.Active(now) {
		wallet.Freeze = current.Freeze
		return &core.PolicyDeniedError{Reason: "wallet is frozen until " + current.Freeze.Expires.Format(time.RFC3339)}
	}

	rules, err := s.policies.ListRules(ctx, wallet.ID)
	if err != nil {
		return err
	}

	for _, rule := range rules {
		reason, err := s.evaluate(ctx, wallet, rule, tx, now)
		if err != nil {
			return err
		}

		if reason == "" {
			continue
		}

		denied := &core.PolicyDeniedError{RuleID: rule.ID, Reason: reason}
		if rule.Action == core.PolicyActionRequireApproval {
			if approved {
				continue
			}

			denied.NeedsApproval = true
		}

		return denied
	}

	return nil
}

// evaluate returns why rule rejects tx, or an empty reason.
func (s *Service) evaluate(ctx context.Context, wallet *core.Wallet, rule *core.PolicyRule, tx *core.UnsignedTransaction, now time.Time) (string, error) {
	switch rule.Type {
	case core.PolicyDailyLimit:
		spent, err := s.policies.SumSpent(ctx, wallet.ID, now.Add(-spendWindow))
		if err != nil {
			return "", err
		}

		if spent+tx.SendAmount > rule.Condition.Amount {
			return fmt.Sprintf("daily limit of %d exceeded: spent %d, sending %d", rule.Condition.Amount, spent, tx.SendAmount), nil
		}
	case core.PolicyWebhook:
		code, err := s.webhooks.Call(ctx, rule.Condition.URL, &core.WebhookPayload{
			WalletID: wallet.ID,
			RuleID:   rule.ID,
			Outputs:  tx.Outputs,
			Amount:   tx.SendAmount,
			Fee:      tx.Fee,
			Hex:      tx.Hex,
		})
		if err != nil {
			return "", err
		}

		if code < 200 || code > 299 {
			return fmt.Sprintf("webhook responded with status %d", code), nil
		}
	}

	return "", nil
}

// Freeze blocks spending for d, DefaultFreeze when zero. An active freeze
// is only ever extended.
func (s *Service) Freeze(ctx context.Context, wallet *core.Wallet, d time.Duration) (*core.Freeze, error) {
	if d < 0 {
		return nil, core.ValidationError("invalid freeze duration %s", d)
	}

	if d == 0 {
		d = DefaultFreeze
	}

	current, err := s.wallets.Find(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	freeze := core.Freeze{Time: now, Expires: now.Add(d)}
	if current.Freeze.Active(now) && current.Freeze.Expires.After(freeze.Expires) {
		freeze.Expires = current.Freeze.Expires
	}

	wallet.Freeze = freeze
	if err := s.wallets.UpdateFreeze(ctx, wallet); err != nil {
		return nil, err
	}

	return &wallet.Freeze, nil
}

func (s *Service) SetRule(ctx context.Context, wallet *core.Wallet, rule *core.PolicyRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	rule.WalletID = wallet.ID
	return s.policies.SaveRule(ctx, rule)
}

func validateRule(rule *core.PolicyRule) error {
	if rule.ID == "" {
		return core.ValidationError("rule id is required")
	}

	switch rule.Type {
	case core.PolicyDailyLimit:
		if rule.Condition.Amount <= 0 {
			return core.ValidationError("daily limit amount must be positive")
		}
	case core.PolicyWebhook:
		if !govalidator.IsURL(rule.Condition.URL) {
			return core.ValidationError("invalid webhook url %q", rule.Condition.URL)
		}
	default:
		return core.ValidationError("unknown rule type %q", rule.Type)
	}

	switch rule.Action {
	case core.PolicyActionDeny, core.PolicyActionRequireApproval:
	default:
		return core.ValidationError("unknown rule action %q", rule.Action)
	}

	return nil
}

func (s *Service) RemoveRule(ctx context.Context, wallet *core.Wallet, id string) error {
	if err := s.policies.DeleteRule(ctx, wallet.ID, id); err != nil {
		if store.IsErrNotFound(err) {
			return core.ValidationError("rule %s not found", id)
		}

		return err
	}

	return nil
}

func (s *Service) ListRules(ctx context.Context, wallet *core.Wallet) ([]*core.PolicyRule, error) {
	return s.policies.ListRules(ctx, wallet.ID)
}

// Status reports what is left of every daily limit.
func (s *Service) Status(ctx context.Context, wallet *core.Wallet) ([]*core.PolicyStatus, error) {
	rules, err := s.policies.ListRules(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}

	spent, err := s.policies.SumSpent(ctx, wallet.ID, s.clock.Now().Add(-spendWindow))
	if err != nil {
		return nil, err
	}

	statuses := []*core.PolicyStatus{}
	for _, rule := range rules {
		if rule.Type != core.PolicyDailyLimit {
			continue
		}

		statuses = append(statuses, &core.PolicyStatus{
			RuleID:    rule.ID,
			Remaining: max(rule.Condition.Amount-spent, 0),
		})
	}

	return statuses, nil
}

func (s *Service) RecordSpend(ctx context.Context, wallet *core.Wallet, txHash string, amount int64) error {
	if amount <= 0 {
		return nil
	}

	return s.policies.RecordSpend(ctx, &core.Spend{
		WalletID:  wallet.ID,
		TxHash:    txHash,
		Amount:    amount,
		CreatedAt: s.clock.Now(),
	})
}
