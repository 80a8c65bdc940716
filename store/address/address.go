package address

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/pandodao/btcvault/core"
	"github.com/tsenart/nap"
)

func New(db *nap.DB) core.AddressStore {
	return &store{db: db}
}

type store struct {
	db *nap.DB
}

var columns = []string{"wallet_id", "created_at", "chain", "`index`", "address", "redeem_script"}

func (s *store) Create(ctx context.Context, address *core.Address) error {
	b := sq.Insert("addresses").
		Columns(columns...).
		Values(address.WalletID, address.CreatedAt, address.Chain, address.Index, address.Address, address.RedeemScript)

	_, err := b.RunWith(s.db).ExecContext(ctx)
	return err
}

func (s *store) Find(ctx context.Context, address string) (*core.Address, error) {
	b := sq.Select(columns...).From("addresses").Where(sq.Eq{"address": address})

	var a core.Address
	if err := scanAddress(b.RunWith(s.db).QueryRowContext(ctx), &a); err != nil {
		return nil, err
	}

	return &a, nil
}

func (s *store) NextIndex(ctx context.Context, walletID string, chain uint32) (uint32, error) {
	b := sq.Select("COALESCE(MAX(`index`) + 1, 0)").
		From("addresses").
		Where(sq.Eq{"wallet_id": walletID, "chain": chain})

	var next uint32
	if err := b.RunWith(s.db).QueryRowContext(ctx).Scan(&next); err != nil {
		return 0, err
	}

	return next, nil
}

func (s *store) List(ctx context.Context, walletID string) ([]*core.Address, error) {
	b := sq.Select(columns...).
		From("addresses").
		Where(sq.Eq{"wallet_id": walletID}).
		OrderBy("chain", "`index`")

	rows, err := b.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var addresses []*core.Address
	for rows.Next() {
		var a core.Address
		if err := scanAddress(rows, &a); err != nil {
			return nil, err
		}

		addresses = append(addresses, &a)
	}

	return addresses, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAddress(scanner scanner, a *core.Address) error {
	return scanner.Scan(&a.WalletID, &a.CreatedAt, &a.Chain, &a.Index, &a.Address, &a.RedeemScript)
}
