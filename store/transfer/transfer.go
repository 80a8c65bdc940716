package transfer

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/pandodao/btcvault/core"
	"github.com/tsenart/nap"
)

func New(db *nap.DB) core.TransferStore {
	return &store{db: db}
}

type store struct {
	db *nap.DB
}

// marshalJSON encodes the json columns of a transfer.
func marshalJSON(values ...any) ([][]byte, error) {
	out := make([][]byte, len(values))
	for i, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}

		out[i] = b
	}

	return out, nil
}

func insert(ctx context.Context, r sq.BaseRunner, transfer *core.Transfer) (int64, error) {
	raw, err := marshalJSON(transfer.Unspents, transfer.Outputs, transfer.Condition)
	if err != nil {
		return 0, err
	}

	b := sq.Insert("transfers").
		Columns("trace_id", "status", "wallet_id", "tx_hex", "unspents", "outputs", "send_amount", "fee", "`condition`").
		Values(transfer.TraceID, transfer.Status, transfer.WalletID, transfer.TxHex, raw[0], raw[1], transfer.SendAmount, transfer.Fee, raw[2])

	result, err := b.RunWith(r).ExecContext(ctx)
	if err != nil {
		return 0, err
	}

	return result.LastInsertId()
}

func update(ctx context.Context, r sq.BaseRunner, transfer *core.Transfer, to core.TransferStatus) error {
	b := sq.Update("transfers").
		Set("status", to).
		Set("tx_hash", transfer.TxHash).
		Set("error", transfer.Error).
		Where("id = ? AND status = ?", transfer.ID, transfer.Status)
	result, err := b.RunWith(r).ExecContext(ctx)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("optimistic lock failed")
	}

	transfer.Status = to
	return nil
}

func (s *store) Create(ctx context.Context, transfer *core.Transfer) error {
	id, err := insert(ctx, s.db, transfer)
	if err != nil {
		return err
	}

	transfer.ID = uint64(id)
	return nil
}

func (s *store) UpdateStatus(ctx context.Context, transfer *core.Transfer, to core.TransferStatus) error {
	return update(ctx, s.db, transfer, to)
}

func (s *store) FindTrace(ctx context.Context, traceID string) (*core.Transfer, error) {
	b := sq.Select(scanColumns...).
		From("transfers").
		Where("trace_id = ?", traceID)
	row := b.RunWith(s.db).QueryRowContext(ctx)

	var transfer core.Transfer
	if err := scanTransfer(row, &transfer); err != nil {
		return nil, err
	}

	return &transfer, nil
}

func (s *store) ListStatus(ctx context.Context, status core.TransferStatus, limit int) ([]*core.Transfer, error) {
	b := sq.Select(scanColumns...).
		From("transfers").
		Where("status = ?", status).
		OrderBy("id").
		Limit(uint64(limit))

	rows, err := b.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var transfers []*core.Transfer
	for rows.Next() {
		var transfer core.Transfer
		if err := scanTransfer(rows, &transfer); err != nil {
			return nil, err
		}

		transfers = append(transfers, &transfer)
	}

	return transfers, rows.Err()
}
