package wallet

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hardhatKey0 = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	hardhatKey1 = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

func TestLocalWallet(t *testing.T) {
	ctx := context.Background()

	t.Run("Address derives from the key", func(t *testing.T) {
		w, err := NewLocalWallet(hardhatKey0, nil)
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), w.Address())
	})

	t.Run("Signature recovers to the signer", func(t *testing.T) {
		w, err := NewLocalWallet(hardhatKey1, nil)
		require.NoError(t, err)

		msg := []byte("decrypt permission")
		sig, err := w.SignMessage(ctx, msg)
		require.NoError(t, err)

		addr, err := RecoverAddress(msg, sig)
		require.NoError(t, err)
		assert.Equal(t, w.Address(), addr)

		other, err := RecoverAddress([]byte("something else"), sig)
		require.NoError(t, err)
		assert.NotEqual(t, w.Address(), other)
	})

	t.Run("Rejected prompt surfaces ErrRejected", func(t *testing.T) {
		w, err := NewLocalWallet(hardhatKey0, func(context.Context, common.Address, []byte) error {
			return errors.New("user closed the prompt")
		})
		require.NoError(t, err)

		_, err = w.SignMessage(ctx, []byte("x"))
		assert.ErrorIs(t, err, ErrRejected)
	})

	t.Run("Transact opts carry the sender", func(t *testing.T) {
		w, err := NewLocalWallet(hardhatKey0, nil)
		require.NoError(t, err)

		opts, err := w.TransactOpts(ctx, big.NewInt(31337))
		require.NoError(t, err)
		assert.Equal(t, w.Address(), opts.From)
	})

	t.Run("Invalid key", func(t *testing.T) {
		_, err := NewLocalWallet("zz", nil)
		assert.Error(t, err)
	})
}

func TestKeyring(t *testing.T) {
	k, err := NewKeyring([]string{hardhatKey0, hardhatKey1}, nil)
	require.NoError(t, err)

	assert.Len(t, k.Accounts(), 2)

	w, err := k.Account(1)
	require.NoError(t, err)
	assert.Equal(t, k.Accounts()[1], w.Address())

	_, err = k.Account(2)
	assert.ErrorIs(t, err, ErrUnknownAccount)
}
