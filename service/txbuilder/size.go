package txbuilder

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/pandodao/btcvault/core"
)

const (
	// maxStandardTxSize is the relay policy ceiling for a non witness
	// transaction (400000 weight units / 4).
	maxStandardTxSize = 100000

	// sigSize is a worst case DER signature plus its sighash byte.
	sigSize = 73

	// defaultRedeemScriptSize is a 2-of-3 script over compressed keys.
	defaultRedeemScriptSize = 1 + 3*(1+33) + 1 + 1
)

func pushDataSize(n int) int {
	switch {
	case n < txscript.OP_PUSHDATA1:
		return 1
	case n <= 0xff:
		return 2
	case n <= 0xffff:
		return 3
	default:
		return 5
	}
}

// sigScriptSize is the size of a fully signed P2SH multisig input script:
// OP_0, m signatures, then the redeem script push.
func sigScriptSize(m, redeemScriptSize int) int {
	return 1 + m*(1+sigSize) + pushDataSize(redeemScriptSize) + redeemScriptSize
}

func inputSize(m int, u *core.Unspent) int {
	redeem := len(u.RedeemScript)
	if redeem == 0 {
		redeem = defaultRedeemScriptSize
	}

	script := sigScriptSize(m, redeem)
	return 32 + 4 + wire.VarIntSerializeSize(uint64(script)) + script + 4
}

// estimateSize is the serialized size of the transaction once all inputs
// carry m signatures.
func estimateSize(m int, inputs []*core.Unspent, outputs []*wire.TxOut) int {
	size := 4 + wire.VarIntSerializeSize(uint64(len(inputs))) +
		wire.VarIntSerializeSize(uint64(len(outputs))) + 4

	for _, u := range inputs {
		size += inputSize(m, u)
	}

	return size + txsizes.SumOutputSerializeSizes(outputs)
}
