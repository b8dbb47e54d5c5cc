package service

import (
	"context"
	"errors"
	"fmt"

	"encrypted_like/internal/domain/social/model"
	"encrypted_like/internal/pkg/fhe"
	"encrypted_like/internal/pkg/inflight"
	"encrypted_like/pkg/cache"
	"encrypted_like/pkg/metrics"

	"go.uber.org/zap"
)

// decryptedPrefix 解密结果缓存 key 前缀，会话变化时整体清空
const decryptedPrefix = "dec:"

func reactionCacheKey(postID uint64, rt model.ReactionType) string {
	return fmt.Sprintf("%spost:%d:reaction:%d", decryptedPrefix, postID, uint8(rt))
}

func commentCountCacheKey(postID uint64) string {
	return fmt.Sprintf("%spost:%d:comments", decryptedPrefix, postID)
}

func commentContentCacheKey(commentID uint64) string {
	return fmt.Sprintf("%scomment:%d:content", decryptedPrefix, commentID)
}

// decryptedEntry 缓存的明文及其对应的句柄；句柄变化后条目失效
type decryptedEntry struct {
	Handles []fhe.Handle `json:"handles"`
	Values  []uint64     `json:"values"`
}

func (e *decryptedEntry) matches(handles []fhe.Handle) bool {
	if len(e.Handles) != len(handles) || len(e.Values) != len(handles) {
		return false
	}
	for i := range handles {
		if e.Handles[i] != handles[i] {
			return false
		}
	}
	return true
}

func (o *Orchestrator) lookupDecrypted(ctx context.Context, key string, handles []fhe.Handle) ([]uint64, bool) {
	var entry decryptedEntry
	if err := o.decrypted.Get(ctx, key, &entry); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			o.log.Warn("decrypt cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if !entry.matches(handles) {
		return nil, false
	}
	return entry.Values, true
}

// DecryptReactionCount 解密帖子某种表情的计数，只有帖子作者有权限
func (o *Orchestrator) DecryptReactionCount(ctx context.Context, postID uint64, rt model.ReactionType, handle fhe.Handle) (uint64, error) {
	const op = "decryptReactionCount"
	if err := validReaction(op, postID, rt); err != nil {
		return 0, err
	}
	if handle.IsZero() {
		return 0, validationError(op, "reaction count handle is empty")
	}
	values, err := o.decrypt(ctx, op, reactionCacheKey(postID, rt), []fhe.Handle{handle}, func(v *model.View) error {
		return postAuthorOnly(v, postID)
	})
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

// DecryptCommentCount 解密帖子评论数，只有帖子作者有权限
func (o *Orchestrator) DecryptCommentCount(ctx context.Context, postID uint64, handle fhe.Handle) (uint64, error) {
	const op = "decryptCommentCount"
	if postID == 0 {
		return 0, validationError(op, "post id is required")
	}
	if handle.IsZero() {
		return 0, validationError(op, "comment count handle is empty")
	}
	values, err := o.decrypt(ctx, op, commentCountCacheKey(postID), []fhe.Handle{handle}, func(v *model.View) error {
		return postAuthorOnly(v, postID)
	})
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

// DecryptCommentContent 解密评论正文，评论作者和帖子作者有权限
func (o *Orchestrator) DecryptCommentContent(ctx context.Context, commentID uint64, handles []fhe.Handle) (string, error) {
	const op = "decryptCommentContent"
	if commentID == 0 {
		return "", validationError(op, "comment id is required")
	}
	if len(handles) == 0 {
		return "", validationError(op, "comment has no content handles")
	}
	for _, h := range handles {
		if h.IsZero() {
			return "", validationError(op, "comment content handle is empty")
		}
	}
	values, err := o.decrypt(ctx, op, commentContentCacheKey(commentID), handles, func(v *model.View) error {
		c, ok := v.Comment(commentID)
		if ok && !c.CanDecrypt {
			return errors.New("only the comment author or post author can decrypt")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return fhe.UnpackText(values), nil
}

func postAuthorOnly(v *model.View, postID uint64) error {
	if p, ok := v.Post(postID); ok && !p.IsAuthor {
		return errors.New("only the post author can decrypt")
	}
	return nil
}

// decrypt 通用解密流程：本地权限预检、缓存、签名、网络解密。
// 视图里没有的实体交给 FHE 层判定权限。
func (o *Orchestrator) decrypt(ctx context.Context, op, key string, handles []fhe.Handle, authorize func(*model.View) error) (values []uint64, err error) {
	pt := metrics.NewPerformanceTracker(o.metrics, op)
	epoch := o.currentEpoch()
	defer func() { o.finish(pt, op, epoch, err, "") }()

	b, err := o.requireContract(op)
	if err != nil {
		return nil, err
	}
	epoch = b.epoch

	v := o.View(ctx)
	if err := authorize(&v); err != nil {
		return nil, opError(op, ErrDecryptionAuthorization, err)
	}

	if values, ok := o.lookupDecrypted(ctx, key, handles); ok {
		o.metrics.RecordCacheOperation("decrypt", true)
		return values, nil
	}
	o.metrics.RecordCacheOperation("decrypt", false)

	client, err := o.requireFHE(op, b, ErrDecryptionTransport)
	if err != nil {
		return nil, err
	}

	lease, err := o.decrypting.BeginOp(ctx, decryptKey, inflight.KindDecrypt, op)
	if err != nil {
		return nil, busy(op, err)
	}
	defer lease.End()

	// 排队期间可能已有相同请求完成
	if values, ok := o.lookupDecrypted(ctx, key, handles); ok {
		return values, nil
	}

	if err := lease.Advance(inflight.Signing); err != nil {
		return nil, err
	}
	// 会话 epoch 在回调失效旧签名之前已经递增
	current := func() bool { return o.session.Current().Epoch == b.epoch && !o.closed() }
	sig, err := o.signatures.LoadOrSign(ctx, b.session.ChainID, client, b.wallet, b.contract.Address(), current)
	if err != nil {
		return nil, opError(op, ErrDecryptionAuthorization, err)
	}

	if err := lease.Advance(inflight.Decrypting); err != nil {
		return nil, err
	}
	plain, err := client.UserDecrypt(ctx, fhe.DecryptRequest{
		Handles:   handles,
		Contract:  b.contract.Address(),
		Signature: sig,
	})
	o.metrics.RecordFHECall("userDecrypt", err == nil)
	if err != nil {
		if errors.Is(err, fhe.ErrUnauthorized) || errors.Is(err, fhe.ErrInvalidSignature) {
			return nil, opError(op, ErrDecryptionAuthorization, err)
		}
		return nil, opError(op, ErrDecryptionTransport, err)
	}

	values = make([]uint64, len(handles))
	for i, h := range handles {
		n, ok := plain[h]
		if !ok {
			return nil, opError(op, ErrDecryptionTransport, fmt.Errorf("no plaintext for handle %s", h))
		}
		values[i] = n
	}

	if o.currentEpoch() == epoch && !o.closed() {
		entry := decryptedEntry{Handles: append([]fhe.Handle{}, handles...), Values: values}
		if err := o.decrypted.Set(ctx, key, entry, 0); err != nil {
			o.log.Warn("failed to cache decrypted value", zap.String("key", key), zap.Error(err))
		}
	}
	return values, nil
}
