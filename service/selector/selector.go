package selector

import (
	"context"
	"sort"

	"github.com/pandodao/btcvault/core"
)

func New(unspents core.UnspentStore) *Selector {
	return &Selector{unspents: unspents}
}

// Selector picks the fewest unspents covering a target, largest first.
type Selector struct {
	unspents core.UnspentStore
}

// Eligible lists the wallet unspents passing filter, in selection order.
func (s *Selector) Eligible(ctx context.Context, walletID string, filter core.UnspentFilter) ([]*core.Unspent, error) {
	unspents, err := s.unspents.List(ctx, walletID, filter)
	if err != nil {
		return nil, err
	}

	Sort(unspents)
	return unspents, nil
}

// Select covers target from eligible, which must already be in Sort order.
// On shortfall it returns an *InsufficientFundsError without a fee; the
// caller knows the fee it attempted.
func Select(eligible []*core.Unspent, target int64) ([]*core.Unspent, error) {
	var (
		sum    int64
		picked int
	)

	for picked < len(eligible) && sum < target {
		sum += eligible[picked].Value
		picked++
	}

	if sum < target {
		return nil, &core.InsufficientFundsError{Available: sum, Required: target}
	}

	selected := make([]*core.Unspent, picked)
	copy(selected, eligible[:picked])

	if picked == 0 {
		return selected, nil
	}

	// Swap the last pick for the smallest unspent that still covers the
	// target, leaving less change for the same input count.
	last := selected[picked-1]
	rest := sum - last.Value
	for i := len(eligible) - 1; i >= picked; i-- {
		if rest+eligible[i].Value >= target {
			selected[picked-1] = eligible[i]
			break
		}
	}

	return selected, nil
}

// Sort orders by value descending, then confirmations descending, then
// outpoint so selection is deterministic.
func Sort(unspents []*core.Unspent) {
	sort.SliceStable(unspents, func(i, j int) bool {
		a, b := unspents[i], unspents[j]
		if a.Value != b.Value {
			return a.Value > b.Value
		}

		if a.Confirmations != b.Confirmations {
			return a.Confirmations > b.Confirmations
		}

		return a.Outpoint() < b.Outpoint()
	})
}

func Sum(unspents []*core.Unspent) int64 {
	var sum int64
	for _, u := range unspents {
		sum += u.Value
	}

	return sum
}
