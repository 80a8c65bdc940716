package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pandodao/btcvault/core"
	"github.com/tsenart/nap"
)

func New(db *nap.DB) core.PolicyStore {
	return &store{db: db}
}

type store struct {
	db *nap.DB
}

var ruleColumns = []string{"wallet_id", "id", "type", "`condition`", "action"}

func (s *store) SaveRule(ctx context.Context, rule *core.PolicyRule) error {
	condition, err := json.Marshal(rule.Condition)
	if err != nil {
		return err
	}

	b := sq.Insert("policy_rules").
		Columns(ruleColumns...).
		Values(rule.WalletID, rule.ID, rule.Type, condition, rule.Action).
		Suffix("ON DUPLICATE KEY UPDATE type = VALUES(type), `condition` = VALUES(`condition`), action = VALUES(action)")

	_, err = b.RunWith(s.db).ExecContext(ctx)
	return err
}

func (s *store) DeleteRule(ctx context.Context, walletID, ruleID string) error {
	b := sq.Delete("policy_rules").Where(sq.Eq{"wallet_id": walletID, "id": ruleID})
	r, err := b.RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return err
	}

	n, err := r.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (s *store) FindRule(ctx context.Context, walletID, ruleID string) (*core.PolicyRule, error) {
	b := sq.Select(ruleColumns...).
		From("policy_rules").
		Where(sq.Eq{"wallet_id": walletID, "id": ruleID})

	var rule core.PolicyRule
	if err := scanRule(b.RunWith(s.db).QueryRowContext(ctx), &rule); err != nil {
		return nil, err
	}

	return &rule, nil
}

func (s *store) ListRules(ctx context.Context, walletID string) ([]*core.PolicyRule, error) {
	b := sq.Select(ruleColumns...).
		From("policy_rules").
		Where(sq.Eq{"wallet_id": walletID}).
		OrderBy("id")

	rows, err := b.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var rules []*core.PolicyRule
	for rows.Next() {
		var rule core.PolicyRule
		if err := scanRule(rows, &rule); err != nil {
			return nil, err
		}

		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

func (s *store) RecordSpend(ctx context.Context, spend *core.Spend) error {
	b := sq.Insert("spends").
		Columns("wallet_id", "tx_hash", "amount", "created_at").
		Values(spend.WalletID, spend.TxHash, spend.Amount, spend.CreatedAt)

	_, err := b.RunWith(s.db).ExecContext(ctx)
	return err
}

func (s *store) SumSpent(ctx context.Context, walletID string, since time.Time) (int64, error) {
	b := sq.Select("COALESCE(SUM(amount), 0)").
		From("spends").
		Where(sq.Eq{"wallet_id": walletID}).
		Where(sq.GtOrEq{"created_at": since})

	var sum int64
	if err := b.RunWith(s.db).QueryRowContext(ctx).Scan(&sum); err != nil {
		return 0, err
	}

	return sum, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(scanner scanner, rule *core.PolicyRule) error {
	var condition []byte
	if err := scanner.Scan(&rule.WalletID, &rule.ID, &rule.Type, &condition, &rule.Action); err != nil {
		return err
	}

	return json.Unmarshal(condition, &rule.Condition)
}
