package fhe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"encrypted_like/internal/pkg/wallet"
	"encrypted_like/pkg/cache"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

const signatureKeyPrefix = "fhe_sig:"

// SignatureCache 解密签名缓存，按 (chain, user, contract) 复用，避免每次解密都弹出钱包
type SignatureCache struct {
	store        cache.CacheService
	durationDays int
	log          *zap.Logger
	now          func() time.Time

	// 串行化签名流程，同一时刻最多一次钱包弹窗
	mu sync.Mutex
}

// NewSignatureCache 创建签名缓存
func NewSignatureCache(store cache.CacheService, durationDays int, log *zap.Logger) *SignatureCache {
	if durationDays <= 0 {
		durationDays = 365
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SignatureCache{
		store:        store,
		durationDays: durationDays,
		log:          log,
		now:          time.Now,
	}
}

func signatureKey(chainID uint64, user, contract common.Address) string {
	return fmt.Sprintf("%s%d:%s:%s", signatureKeyPrefix, chainID,
		strings.ToLower(user.Hex()), strings.ToLower(contract.Hex()))
}

// LoadOrSign 命中且有效则复用，否则生成密钥对并请求钱包签名。
// current 非 nil 时，只有它返回 true 才写回缓存；会话已切换的签名只用于本次请求。
func (c *SignatureCache) LoadOrSign(ctx context.Context, chainID uint64, client Client, w wallet.Wallet, contract common.Address, current func() bool) (*DecryptionSignature, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := signatureKey(chainID, w.Address(), contract)
	now := c.now()

	var cached DecryptionSignature
	err := c.store.Get(ctx, key, &cached)
	switch {
	case err == nil:
		if cached.IsValid(now) && cached.UserAddress == w.Address() && cached.Covers(contract) {
			return &cached, nil
		}
		c.log.Info("cached decryption signature expired", zap.String("user", w.Address().Hex()))
	case errors.Is(err, cache.ErrCacheMiss):
	default:
		// 存储故障不阻断解密，退化为重新签名
		c.log.Warn("signature store read failed", zap.Error(err))
	}

	kp, err := client.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	sig := &DecryptionSignature{
		PublicKey:         kp.PublicKey,
		PrivateKey:        kp.PrivateKey,
		ContractAddresses: []common.Address{contract},
		UserAddress:       w.Address(),
		ChainID:           chainID,
		StartTimestamp:    now.Unix(),
		DurationDays:      c.durationDays,
	}
	raw, err := w.SignMessage(ctx, sig.Message())
	if err != nil {
		return nil, fmt.Errorf("sign decryption permission: %w", err)
	}
	sig.Signature = hexutil.Encode(raw)

	if current != nil && !current() {
		c.log.Debug("session changed while signing, signature not cached", zap.String("user", w.Address().Hex()))
		return sig, nil
	}
	if err := c.store.Set(ctx, key, sig, time.Until(sig.ExpiresAt())); err != nil {
		c.log.Warn("failed to cache decryption signature", zap.Error(err))
	}
	return sig, nil
}

// Invalidate 账户或链切换时清除旧 (chain, user) 的签名
func (c *SignatureCache) Invalidate(ctx context.Context, chainID uint64, user common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pattern := fmt.Sprintf("%s%d:%s:*", signatureKeyPrefix, chainID, strings.ToLower(user.Hex()))
	if err := c.store.InvalidatePattern(ctx, pattern); err != nil {
		return fmt.Errorf("invalidate decryption signatures: %w", err)
	}
	return nil
}
