package fhe

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DecryptionSignature 用户解密授权：钱包对临时公钥、合约列表和有效期的签名
type DecryptionSignature struct {
	PublicKey         string           `json:"publicKey"`
	PrivateKey        string           `json:"privateKey"`
	Signature         string           `json:"signature"`
	ContractAddresses []common.Address `json:"contractAddresses"`
	UserAddress       common.Address   `json:"userAddress"`
	ChainID           uint64           `json:"chainId"`
	StartTimestamp    int64            `json:"startTimestamp"`
	DurationDays      int              `json:"durationDays"`
}

// Message 待签名的文本
func (s *DecryptionSignature) Message() []byte {
	contracts := make([]string, len(s.ContractAddresses))
	for i, c := range s.ContractAddresses {
		contracts[i] = c.Hex()
	}
	return []byte(fmt.Sprintf(
		"EncryptedLike user decryption\nchainId: %d\npublicKey: %s\ncontracts: %s\nstart: %d\ndurationDays: %d",
		s.ChainID, s.PublicKey, strings.Join(contracts, ","), s.StartTimestamp, s.DurationDays,
	))
}

// ExpiresAt 过期时间
func (s *DecryptionSignature) ExpiresAt() time.Time {
	return time.Unix(s.StartTimestamp, 0).Add(time.Duration(s.DurationDays) * 24 * time.Hour)
}

// IsValid 在有效期内且已签名
func (s *DecryptionSignature) IsValid(now time.Time) bool {
	if s == nil || s.Signature == "" {
		return false
	}
	return now.Before(s.ExpiresAt())
}

// Covers 是否授权了该合约
func (s *DecryptionSignature) Covers(contract common.Address) bool {
	for _, c := range s.ContractAddresses {
		if c == contract {
			return true
		}
	}
	return false
}
