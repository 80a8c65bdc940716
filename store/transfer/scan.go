package transfer

import (
	"database/sql"
	"encoding/json"

	"github.com/pandodao/btcvault/core"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

var scanColumns = []string{
	"id",
	"created_at",
	"trace_id",
	"status",
	"wallet_id",
	"tx_hex",
	"unspents",
	"outputs",
	"send_amount",
	"fee",
	"`condition`",
	"tx_hash",
	"error",
}

func scanTransfer(scanner scanner, transfer *core.Transfer) error {
	var (
		unspents  []byte
		outputs   []byte
		condition []byte
		errMsg    sql.NullString
	)

	if err := scanner.Scan(
		&transfer.ID,
		&transfer.CreatedAt,
		&transfer.TraceID,
		&transfer.Status,
		&transfer.WalletID,
		&transfer.TxHex,
		&unspents,
		&outputs,
		&transfer.SendAmount,
		&transfer.Fee,
		&condition,
		&transfer.TxHash,
		&errMsg,
	); err != nil {
		return err
	}

	transfer.Error = errMsg.String

	for _, v := range []struct {
		raw []byte
		dst any
	}{
		{unspents, &transfer.Unspents},
		{outputs, &transfer.Outputs},
		{condition, &transfer.Condition},
	} {
		if err := json.Unmarshal(v.raw, v.dst); err != nil {
			return err
		}
	}

	return nil
}
