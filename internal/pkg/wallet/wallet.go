package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrRejected 用户拒绝签名或交易
	ErrRejected = errors.New("wallet: request rejected by user")
	// ErrUnknownAccount 账户索引不存在
	ErrUnknownAccount = errors.New("wallet: unknown account")
)

// Wallet 钱包能力：当前账户、消息签名、交易签名
type Wallet interface {
	Address() common.Address
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
	TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)
}

// Approver 签名确认钩子（相当于钱包弹窗），返回 error 表示拒绝
type Approver func(ctx context.Context, account common.Address, msg []byte) error

// LocalWallet 本地私钥钱包
type LocalWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	approve Approver
}

// NewLocalWallet 从十六进制私钥创建钱包
func NewLocalWallet(hexKey string, approve Approver) (*LocalWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &LocalWallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		approve: approve,
	}, nil
}

func (w *LocalWallet) Address() common.Address {
	return w.address
}

// SignMessage personal_sign (EIP-191)，V 取 27/28
func (w *LocalWallet) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	if w.approve != nil {
		if err := w.approve(ctx, w.address, msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRejected, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(accounts.TextHash(msg), w.key)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// TransactOpts 交易签名参数
func (w *LocalWallet) TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(w.key, chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// RecoverAddress 从 personal_sign 签名恢复签名者地址
func RecoverAddress(msg, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	s := make([]byte, len(sig))
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash(msg), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Keyring 配置中的一组本地账户
type Keyring struct {
	wallets []*LocalWallet
}

// NewKeyring 创建账户集合
func NewKeyring(keys []string, approve Approver) (*Keyring, error) {
	k := &Keyring{}
	for i, hexKey := range keys {
		w, err := NewLocalWallet(hexKey, approve)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		k.wallets = append(k.wallets, w)
	}
	return k, nil
}

// Account 按索引取钱包
func (k *Keyring) Account(index int) (*LocalWallet, error) {
	if index < 0 || index >= len(k.wallets) {
		return nil, fmt.Errorf("%w: index %d", ErrUnknownAccount, index)
	}
	return k.wallets[index], nil
}

// Accounts 所有账户地址
func (k *Keyring) Accounts() []common.Address {
	out := make([]common.Address, len(k.wallets))
	for i, w := range k.wallets {
		out[i] = w.address
	}
	return out
}
