package multisig

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/service/keychain"
)

func New(params *chaincfg.Params) *Signer {
	return &Signer{params: params}
}

// Signer adds and checks P2SH multisig signatures. Input scripts always
// hold OP_0, the present signatures in redeem script key order, then the
// redeem script, so a partially signed transaction can be passed on and
// signed again.
type Signer struct {
	params *chaincfg.Params
}

// input is the signing state of one transaction input.
type input struct {
	redeemScript []byte
	pubKeys      []*btcec.PublicKey
	required     int
	// sigs is indexed like pubKeys; nil means missing.
	sigs [][]byte
}

func (in *input) count() int {
	var n int
	for _, sig := range in.sigs {
		if sig != nil {
			n++
		}
	}

	return n
}

func (in *input) script() ([]byte, error) {
	b := txscript.NewScriptBuilder().AddOp(txscript.OP_0)
	for _, sig := range in.sigs {
		if sig != nil {
			b.AddData(sig)
		}
	}

	return b.AddData(in.redeemScript).Script()
}

// Sign adds the signature of key, derived along keychainPath and each
// unspent chain path, to every input that lacks it. A key that already
// signed an input is skipped, as is an input that is already complete.
func (s *Signer) Sign(txHex string, unspents []*core.Unspent, key *hdkeychain.ExtendedKey, keychainPath string, validate bool) (*core.SignedTransaction, error) {
	if !key.IsPrivate() {
		return nil, core.ValidationError("not a private key")
	}

	msg, inputs, err := s.load(txHex, unspents)
	if err != nil {
		return nil, err
	}

	for i, in := range inputs {
		child, err := keychain.DerivePath(key, keychainPath, unspents[i].ChainPath)
		if err != nil {
			return nil, err
		}

		priv, err := child.ECPrivKey()
		if err != nil {
			return nil, err
		}

		pos := -1
		for j, pub := range in.pubKeys {
			if pub.IsEqual(priv.PubKey()) {
				pos = j
				break
			}
		}

		if pos < 0 {
			return nil, core.ValidationError("key does not sign input %d", i)
		}

		if in.sigs[pos] == nil && in.count() < in.required {
			sig, err := txscript.RawTxInSignature(msg, i, in.redeemScript, txscript.SigHashAll, priv)
			if err != nil {
				return nil, err
			}

			in.sigs[pos] = sig
		}

		if msg.TxIn[i].SignatureScript, err = in.script(); err != nil {
			return nil, err
		}
	}

	hexTx, err := encode(msg)
	if err != nil {
		return nil, err
	}

	if validate {
		return s.Verify(hexTx, unspents)
	}

	return summarize(hexTx, inputs), nil
}

// Verify checks every present signature against the redeem script keys in
// order. A fully signed transaction is also run through the script engine.
func (s *Signer) Verify(txHex string, unspents []*core.Unspent) (*core.SignedTransaction, error) {
	msg, inputs, err := s.load(txHex, unspents)
	if err != nil {
		return nil, err
	}

	signed := summarize(txHex, inputs)
	if signed.State != core.SignatureFullySigned {
		return signed, nil
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(msg.TxIn))
	pkScripts := make([][]byte, len(msg.TxIn))
	for i, in := range inputs {
		addr, err := btcutil.NewAddressScriptHash(in.redeemScript, s.params)
		if err != nil {
			return nil, err
		}

		if pkScripts[i], err = txscript.PayToAddrScript(addr); err != nil {
			return nil, err
		}

		prevOuts[msg.TxIn[i].PreviousOutPoint] = wire.NewTxOut(unspents[i].Value, pkScripts[i])
	}

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	hashes := txscript.NewTxSigHashes(msg, fetcher)
	for i := range msg.TxIn {
		vm, err := txscript.NewEngine(pkScripts[i], msg, i, txscript.StandardVerifyFlags, nil, hashes, unspents[i].Value, fetcher)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d: %v", core.ErrSignatureInvalid, i, err)
		}

		if err := vm.Execute(); err != nil {
			return nil, fmt.Errorf("%w: input %d: %v", core.ErrSignatureInvalid, i, err)
		}
	}

	return signed, nil
}

func (s *Signer) load(txHex string, unspents []*core.Unspent) (*wire.MsgTx, []*input, error) {
	msg, err := decode(txHex)
	if err != nil {
		return nil, nil, err
	}

	if len(unspents) != len(msg.TxIn) {
		return nil, nil, core.ValidationError("%d unspents for %d inputs", len(unspents), len(msg.TxIn))
	}

	inputs := make([]*input, len(msg.TxIn))
	for i, txIn := range msg.TxIn {
		u := unspents[i]
		op := txIn.PreviousOutPoint
		if op.Hash.String() != u.TxHash || op.Index != u.Vout {
			return nil, nil, core.ValidationError("input %d spends %s, not %s", i, op.String(), u.Outpoint())
		}

		in, err := s.parseInput(msg, i, u.RedeemScript)
		if err != nil {
			return nil, nil, err
		}

		inputs[i] = in
	}

	return msg, inputs, nil
}

func (s *Signer) parseInput(msg *wire.MsgTx, idx int, redeemScript []byte) (*input, error) {
	class, addrs, required, err := txscript.ExtractPkScriptAddrs(redeemScript, s.params)
	if err != nil || class != txscript.MultiSigTy {
		return nil, core.ValidationError("input %d: redeem script is not multisig", idx)
	}

	in := &input{
		redeemScript: redeemScript,
		required:     required,
		sigs:         make([][]byte, len(addrs)),
	}

	for _, addr := range addrs {
		pk, ok := addr.(*btcutil.AddressPubKey)
		if !ok {
			return nil, core.ValidationError("input %d: unexpected key type", idx)
		}

		in.pubKeys = append(in.pubKeys, pk.PubKey())
	}

	sigs, err := existingSignatures(msg.TxIn[idx].SignatureScript, redeemScript)
	if err != nil {
		return nil, fmt.Errorf("%w: input %d: %v", core.ErrSignatureInvalid, idx, err)
	}

	if len(sigs) == 0 {
		return in, nil
	}

	hash, err := txscript.CalcSignatureHash(redeemScript, txscript.SigHashAll, msg, idx)
	if err != nil {
		return nil, err
	}

	// signatures must follow key order, so each match starts past the last
	next := 0
	for _, sig := range sigs {
		matched := false
		for j := next; j < len(in.pubKeys); j++ {
			if verify(sig, hash, in.pubKeys[j]) {
				in.sigs[j] = sig
				next = j + 1
				matched = true
				break
			}
		}

		if !matched {
			return nil, fmt.Errorf("%w: input %d: signature does not match any remaining key", core.ErrSignatureInvalid, idx)
		}
	}

	return in, nil
}

func existingSignatures(sigScript, redeemScript []byte) ([][]byte, error) {
	if len(sigScript) == 0 {
		return nil, nil
	}

	pushes, err := txscript.PushedData(sigScript)
	if err != nil {
		return nil, err
	}

	if len(pushes) < 2 || len(pushes[0]) != 0 {
		return nil, fmt.Errorf("malformed signature script")
	}

	if !bytes.Equal(pushes[len(pushes)-1], redeemScript) {
		return nil, fmt.Errorf("signature script redeems a different script")
	}

	return pushes[1 : len(pushes)-1], nil
}

func verify(sig, hash []byte, pub *btcec.PublicKey) bool {
	if len(sig) < 2 || txscript.SigHashType(sig[len(sig)-1]) != txscript.SigHashAll {
		return false
	}

	parsed, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	if err != nil {
		return false
	}

	return parsed.Verify(hash, pub)
}

func summarize(txHex string, inputs []*input) *core.SignedTransaction {
	signed := &core.SignedTransaction{Hex: txHex, State: core.SignatureUnsigned}
	if len(inputs) == 0 {
		return signed
	}

	lowest, required := -1, 0
	for _, in := range inputs {
		if n := in.count(); lowest < 0 || n < lowest {
			lowest = n
		}

		required = max(required, in.required)
	}

	signed.Signatures = lowest
	switch {
	case lowest >= required:
		signed.State = core.SignatureFullySigned
	case lowest > 0:
		signed.State = core.SignaturePartiallySigned
	}

	return signed
}

func decode(txHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, core.ValidationError("invalid transaction hex: %v", err)
	}

	var msg wire.MsgTx
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, core.ValidationError("invalid transaction: %v", err)
	}

	return &msg, nil
}

func encode(msg *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := msg.Serialize(&buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf.Bytes()), nil
}
