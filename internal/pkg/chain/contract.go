package chain

import (
	"context"
	"errors"
	"fmt"

	"encrypted_like/internal/pkg/fhe"
	"encrypted_like/internal/pkg/wallet"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotDeployed 当前链上没有部署合约
	ErrNotDeployed = errors.New("contract not deployed on chain")
	// ErrReverted 交易被链拒绝或回滚
	ErrReverted = errors.New("transaction reverted")
	// ErrNotFound 实体不存在
	ErrNotFound = errors.New("not found")
)

// ReactionTypes 合约支持的表情种类数，合法取值为 [0, ReactionTypes)
const ReactionTypes = 5

// PostRecord 合约中的帖子明文字段
type PostRecord struct {
	ID        uint64
	Author    common.Address
	Content   string
	Category  string
	Tags      []string
	Timestamp uint64
}

// CommentRecord 合约中的评论，正文为密文分片
type CommentRecord struct {
	ID              uint64
	PostID          uint64
	ParentCommentID uint64
	Author          common.Address
	Timestamp       uint64
	ContentHandles  []fhe.Handle
}

// Transaction 已提交的交易，Wait 等待确认
type Transaction interface {
	Hash() string
	Wait(ctx context.Context) error
}

// Contract EncryptedLike 合约绑定，写方法以绑定的钱包身份发送
type Contract interface {
	Address() common.Address
	ChainID() uint64

	CreatePost(ctx context.Context, content, category string, tags []string) (Transaction, error)
	AddReaction(ctx context.Context, postID uint64, reactionType uint8, in *fhe.EncryptedInput) (Transaction, error)
	RemoveReaction(ctx context.Context, postID uint64) (Transaction, error)
	AddComment(ctx context.Context, postID, parentCommentID uint64, in *fhe.EncryptedInput) (Transaction, error)

	PostCount(ctx context.Context) (uint64, error)
	// GetPosts 按创建顺序返回 [offset, offset+limit) 区间
	GetPosts(ctx context.Context, offset, limit uint64) ([]PostRecord, error)
	GetPostComments(ctx context.Context, postID uint64) ([]CommentRecord, error)
	ReactionCountHandle(ctx context.Context, postID uint64, reactionType uint8) (fhe.Handle, error)
	CommentCountHandle(ctx context.Context, postID uint64) (fhe.Handle, error)
	UserReaction(ctx context.Context, postID uint64, user common.Address) (uint8, bool, error)
}

// Connector 为 (chain, wallet) 绑定合约
type Connector interface {
	Connect(ctx context.Context, chainID uint64, w wallet.Wallet) (Contract, error)
}

// Router 按 chainId 分发到具体 Connector
type Router map[uint64]Connector

func (r Router) Connect(ctx context.Context, chainID uint64, w wallet.Wallet) (Contract, error) {
	c, ok := r[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotDeployed, chainID)
	}
	return c.Connect(ctx, chainID, w)
}
