package keychain

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pandodao/btcvault/core"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	seed := make([]byte, hdkeychain.RecommendedSeedLen)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	testCases := []struct {
		name      string
		plaintext string
	}{
		{"Empty string", ""},
		{"Short text", "Hello, World!"},
		{"Special characters", "!@#$%^&*()_+{}[]|\\:;\"'<>,.?/~`"},
		{"xprv", master.String()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, err := Encrypt("correct horse", tc.plaintext)
			require.NoError(t, err)

			decrypted, err := Decrypt("correct horse", ciphertext)
			require.NoError(t, err)
			require.Equal(t, tc.plaintext, decrypted)
		})
	}
}

func TestDecryptInvalidInput(t *testing.T) {
	valid, err := Encrypt("right", "secret")
	require.NoError(t, err)

	testCases := []struct {
		name       string
		password   string
		ciphertext string
	}{
		{"Empty string", "right", ""},
		{"Invalid base64", "right", "This is not base64!"},
		{"Too short after base64 decode", "right", "aGVsbG8="},
		{"Wrong password", "wrong", valid},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decrypt(tc.password, tc.ciphertext)
			require.True(t, errors.Is(err, core.ErrDecryptionFailure), "got %v", err)
		})
	}
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		path string
		want []uint32
		err  bool
	}{
		{"", nil, false},
		{"m", nil, false},
		{"/0/0", []uint32{0, 0}, false},
		{"m/1/7", []uint32{1, 7}, false},
		{"0'/2", []uint32{hdkeychain.HardenedKeyStart, 2}, false},
		{"/a/1", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := ParsePath(tt.path)
			if tt.err {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDerivePathMatchesPublic(t *testing.T) {
	seed := make([]byte, hdkeychain.RecommendedSeedLen)
	seed[0] = 7
	master, err := hdkeychain.NewMaster(seed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	xpub, err := master.Neuter()
	require.NoError(t, err)

	priv, err := DerivePath(master, DefaultPath, "/1/3")
	require.NoError(t, err)
	pub, err := DerivePath(xpub, DefaultPath, "/1/3")
	require.NoError(t, err)

	privKey, err := priv.ECPubKey()
	require.NoError(t, err)
	pubKey, err := pub.ECPubKey()
	require.NoError(t, err)
	require.True(t, privKey.IsEqual(pubKey))
}
