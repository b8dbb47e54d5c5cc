package fhe

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	// ErrUnavailable 当前链没有可用的 FHE 客户端
	ErrUnavailable = errors.New("fhe: client unavailable for chain")
	// ErrUnauthorized 调用者不在句柄 ACL 中
	ErrUnauthorized = errors.New("fhe: caller is not allowed to decrypt handle")
	// ErrInvalidSignature 解密签名无效或已过期
	ErrInvalidSignature = errors.New("fhe: invalid or expired decryption signature")
	// ErrInvalidProof 加密输入证明不匹配
	ErrInvalidProof = errors.New("fhe: invalid input proof")
)

// Handle 链上密文句柄
type Handle [32]byte

// ParseHandle 解析 0x 开头的 32 字节十六进制句柄
func ParseHandle(s string) (Handle, error) {
	var h Handle
	b, err := hexutil.Decode(s)
	if err != nil {
		return h, fmt.Errorf("invalid handle %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("invalid handle %q: want %d bytes, got %d", s, len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

func (h Handle) String() string {
	return hexutil.Encode(h[:])
}

// IsZero 未初始化的句柄
func (h Handle) IsZero() bool {
	return h == Handle{}
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Handle) UnmarshalText(b []byte) error {
	parsed, err := ParseHandle(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// EncryptedInput 加密后的输入：每个值一个句柄，加一份输入证明
type EncryptedInput struct {
	Handles []Handle
	Proof   []byte
}

// Keypair 用户解密用的临时密钥对
type Keypair struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// DecryptRequest 一次用户解密请求，所有句柄属于同一个合约
type DecryptRequest struct {
	Handles   []Handle
	Contract  common.Address
	Signature *DecryptionSignature
}

// Client FHE SDK 实例
type Client interface {
	// Encrypt 为 contract 上 user 发起的调用加密一组 64 位值
	Encrypt(ctx context.Context, contract, user common.Address, values []uint64) (*EncryptedInput, error)
	// UserDecrypt 网络往返，按签名授权解密
	UserDecrypt(ctx context.Context, req DecryptRequest) (map[Handle]uint64, error)
	GenerateKeypair() (Keypair, error)
}

// Provider 按链提供 FHE 客户端
type Provider interface {
	ClientFor(chainID uint64) (Client, error)
}

// StaticProvider 固定映射
type StaticProvider map[uint64]Client

func (p StaticProvider) ClientFor(chainID uint64) (Client, error) {
	c, ok := p[chainID]
	if !ok || c == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnavailable, chainID)
	}
	return c, nil
}
