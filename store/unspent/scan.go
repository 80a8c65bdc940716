package unspent

import (
	"github.com/pandodao/btcvault/core"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

var scanColumns = []string{
	"tx_hash",
	"vout",
	"wallet_id",
	"created_at",
	"address",
	"value",
	"confirmations",
	"chain_path",
	"redeem_script",
	"instant",
}

func scanUnspent(scanner scanner, u *core.Unspent) error {
	return scanner.Scan(
		&u.TxHash,
		&u.Vout,
		&u.WalletID,
		&u.CreatedAt,
		&u.Address,
		&u.Value,
		&u.Confirmations,
		&u.ChainPath,
		&u.RedeemScript,
		&u.Instant,
	)
}
