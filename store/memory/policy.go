package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/pandodao/btcvault/core"
)

func NewPolicyStore() core.PolicyStore {
	return &policyStore{rules: map[string]map[string]core.PolicyRule{}}
}

type policyStore struct {
	mux    sync.Mutex
	rules  map[string]map[string]core.PolicyRule
	spends []core.Spend
}

func (s *policyStore) SaveRule(_ context.Context, rule *core.PolicyRule) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	rules, ok := s.rules[rule.WalletID]
	if !ok {
		rules = map[string]core.PolicyRule{}
		s.rules[rule.WalletID] = rules
	}

	rules[rule.ID] = *rule
	return nil
}

func (s *policyStore) DeleteRule(_ context.Context, walletID, ruleID string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if _, ok := s.rules[walletID][ruleID]; !ok {
		return sql.ErrNoRows
	}

	delete(s.rules[walletID], ruleID)
	return nil
}

func (s *policyStore) FindRule(_ context.Context, walletID, ruleID string) (*core.PolicyRule, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	rule, ok := s.rules[walletID][ruleID]
	if !ok {
		return nil, sql.ErrNoRows
	}

	return &rule, nil
}

func (s *policyStore) ListRules(_ context.Context, walletID string) ([]*core.PolicyRule, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	var rules []*core.PolicyRule
	for _, rule := range s.rules[walletID] {
		rule := rule
		rules = append(rules, &rule)
	}

	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

func (s *policyStore) RecordSpend(_ context.Context, spend *core.Spend) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	s.spends = append(s.spends, *spend)
	return nil
}

func (s *policyStore) SumSpent(_ context.Context, walletID string, since time.Time) (int64, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	var sum int64
	for _, spend := range s.spends {
		if spend.WalletID == walletID && !spend.CreatedAt.Before(since) {
			sum += spend.Amount
		}
	}

	return sum, nil
}
