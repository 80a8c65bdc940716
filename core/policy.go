package core

import (
	"context"
	"time"
)

type PolicyType string

const (
	PolicyDailyLimit PolicyType = "dailyLimit"
	PolicyWebhook    PolicyType = "webhook"
)

type PolicyAction string

const (
	PolicyActionDeny            PolicyAction = "deny"
	PolicyActionRequireApproval PolicyAction = "requireApproval"
)

type PolicyCondition struct {
	Amount int64  `json:"amount,omitempty"`
	URL    string `json:"url,omitempty"`
}

type PolicyRule struct {
	ID        string          `json:"id"`
	WalletID  string          `json:"wallet_id"`
	Type      PolicyType      `json:"type"`
	Condition PolicyCondition `json:"condition"`
	Action    PolicyAction    `json:"action"`
}

type PolicyStatus struct {
	RuleID    string `json:"rule_id"`
	Remaining int64  `json:"remaining"`
}

type Spend struct {
	WalletID  string    `json:"wallet_id"`
	TxHash    string    `json:"tx_hash"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

type PolicyStore interface {
	// SaveRule inserts the rule or replaces the one with the same id.
	SaveRule(ctx context.Context, rule *PolicyRule) error
	DeleteRule(ctx context.Context, walletID, ruleID string) error
	FindRule(ctx context.Context, walletID, ruleID string) (*PolicyRule, error)
	ListRules(ctx context.Context, walletID string) ([]*PolicyRule, error)
	RecordSpend(ctx context.Context, spend *Spend) error
	SumSpent(ctx context.Context, walletID string, since time.Time) (int64, error)
}

type WebhookPayload struct {
	WalletID string       `json:"wallet_id"`
	RuleID   string       `json:"rule_id"`
	Outputs  []*Recipient `json:"outputs"`
	Amount   int64        `json:"amount"`
	Fee      int64        `json:"fee"`
	Hex      string       `json:"hex"`
}

type WebhookService interface {
	// Call posts payload to url and returns the response status code.
	Call(ctx context.Context, url string, payload *WebhookPayload) (int, error)
}

type Condition struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

type ConditionSource interface {
	Satisfied(ctx context.Context, cond Condition) (bool, error)
}
