package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pandodao/btcvault/core"
	"github.com/pandodao/btcvault/service/testutil"
	"github.com/stretchr/testify/require"
)

func TestAuthorize(t *testing.T) {
	f := testutil.New(t)
	s := New(f.Clock, testutil.Params)

	require.True(t, errors.Is(s.Authorize(), core.ErrNotAuthorized))

	expires := s.Unlock(0)
	require.Equal(t, testutil.StartTime.Add(DefaultUnlock), expires)
	require.NoError(t, s.Authorize())

	f.Clock.SetTime(expires.Add(-time.Second))
	require.NoError(t, s.Authorize())

	f.Clock.SetTime(expires)
	require.True(t, errors.Is(s.Authorize(), core.ErrNotAuthorized))

	s.Unlock(time.Minute)
	require.NoError(t, s.Authorize())
	s.Lock()
	require.True(t, errors.Is(s.Authorize(), core.ErrNotAuthorized))
}

func TestSigningKey(t *testing.T) {
	f := testutil.New(t)
	ctx := context.Background()

	user, err := f.Keychains.Find(ctx, f.Wallet.Keychains[0])
	require.NoError(t, err)

	userXPub, err := f.XPrvs[0].Neuter()
	require.NoError(t, err)

	tests := []struct {
		name       string
		passphrase string
		xprv       string
		err        error
	}{
		{"passphrase", testutil.Passphrase, "", nil},
		{"xprv", "", f.XPrvs[0].String(), nil},
		{"both", testutil.Passphrase, f.XPrvs[0].String(), core.ErrValidation},
		{"neither", "", "", core.ErrValidation},
		{"wrong passphrase", "nope", "", core.ErrDecryptionFailure},
		{"garbage xprv", "", "xprv-nope", core.ErrValidation},
		{"xpub", "", userXPub.String(), core.ErrValidation},
		{"other keychain", "", f.XPrvs[1].String(), core.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(f.Clock, testutil.Params)
			s.Unlock(time.Minute)

			key, err := s.SigningKey(user, tt.passphrase, tt.xprv)
			if tt.err != nil {
				require.True(t, errors.Is(err, tt.err), "got %v", err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, f.XPrvs[0].String(), key.String())
		})
	}
}

func TestSigningKeyLocked(t *testing.T) {
	f := testutil.New(t)
	user, err := f.Keychains.Find(context.Background(), f.Wallet.Keychains[0])
	require.NoError(t, err)

	s := New(f.Clock, testutil.Params)
	_, err = s.SigningKey(user, testutil.Passphrase, "")
	require.True(t, errors.Is(err, core.ErrNotAuthorized))

	s.Unlock(time.Minute)
	_, err = s.SigningKey(user, testutil.Passphrase, "")
	require.NoError(t, err)

	f.Clock.SetTime(testutil.StartTime.Add(2 * time.Minute))
	_, err = s.SigningKey(user, testutil.Passphrase, "")
	require.True(t, errors.Is(err, core.ErrNotAuthorized))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(testutil.New(t).Clock, testutil.Params, 1)

	a := r.Get("a")
	require.Same(t, a, r.Get("a"))
	require.ErrorIs(t, a.Authorize(), core.ErrNotAuthorized)

	a.Unlock(0)
	require.NoError(t, a.Authorize())

	// evicting a locks it
	b := r.Get("b")
	require.NotSame(t, a, b)
	require.ErrorIs(t, a.Authorize(), core.ErrNotAuthorized)
}
