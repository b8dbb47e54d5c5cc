package evm

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"encrypted_like/internal/pkg/chain"
	"encrypted_like/internal/pkg/fhe"
	"encrypted_like/internal/pkg/wallet"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

//go:embed encrypted_like.abi.json
var defaultABI []byte

// ParseABI 解析部署文件中的 ABI，为空时使用内置 ABI
func ParseABI(raw []byte) (abi.ABI, error) {
	if len(raw) == 0 {
		raw = defaultABI
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse contract abi: %w", err)
	}
	return parsed, nil
}

// Connector 通过 JSON-RPC 绑定已部署的合约
type Connector struct {
	rpcURL      string
	deployments *chain.Deployments
	log         *zap.Logger

	mu     sync.Mutex
	client *ethclient.Client
}

// NewConnector 创建 RPC 连接器，首次 Connect 时才拨号
func NewConnector(rpcURL string, deployments *chain.Deployments, log *zap.Logger) *Connector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Connector{rpcURL: rpcURL, deployments: deployments, log: log}
}

func (c *Connector) dial(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.rpcURL, err)
	}
	c.client = client
	return client, nil
}

// Connect 校验链 id 后绑定合约
func (c *Connector) Connect(ctx context.Context, chainID uint64, w wallet.Wallet) (chain.Contract, error) {
	dep, ok := c.deployments.Lookup(chainID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", chain.ErrNotDeployed, chainID)
	}
	if w == nil {
		return nil, errors.New("evm: wallet required")
	}
	parsed, err := ParseABI(dep.ABI)
	if err != nil {
		return nil, err
	}

	client, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	remote, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	if remote.Uint64() != chainID {
		return nil, fmt.Errorf("rpc %s serves chain %d, want %d", c.rpcURL, remote.Uint64(), chainID)
	}

	c.log.Info("contract bound",
		zap.Uint64("chain_id", chainID),
		zap.String("address", dep.Address.Hex()),
		zap.String("account", w.Address().Hex()),
	)
	return &Contract{
		address: dep.Address,
		chainID: chainID,
		bound:   bind.NewBoundContract(dep.Address, parsed, client, client, client),
		backend: client,
		wallet:  w,
	}, nil
}

// Close 关闭 RPC 连接
func (c *Connector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// Contract EncryptedLike 的 go-ethereum 绑定
type Contract struct {
	address common.Address
	chainID uint64
	bound   *bind.BoundContract
	backend bind.DeployBackend
	wallet  wallet.Wallet
}

type transaction struct {
	tx      *types.Transaction
	backend bind.DeployBackend
}

func (t *transaction) Hash() string {
	return t.tx.Hash().Hex()
}

func (t *transaction) Wait(ctx context.Context) error {
	receipt, err := bind.WaitMined(ctx, t.backend, t.tx)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", t.Hash(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s", chain.ErrReverted, t.Hash())
	}
	return nil
}

func (c *Contract) Address() common.Address {
	return c.address
}

func (c *Contract) ChainID() uint64 {
	return c.chainID
}

func (c *Contract) transact(ctx context.Context, method string, args ...interface{}) (chain.Transaction, error) {
	opts, err := c.wallet.TransactOpts(ctx, new(big.Int).SetUint64(c.chainID))
	if err != nil {
		return nil, err
	}
	tx, err := c.bound.Transact(opts, method, args...)
	if err != nil {
		if errors.Is(err, wallet.ErrRejected) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		// 估算 gas 阶段的 revert 也在这里返回
		return nil, fmt.Errorf("%w: %s: %v", chain.ErrReverted, method, err)
	}
	return &transaction{tx: tx, backend: c.backend}, nil
}

func (c *Contract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

func handles(in *fhe.EncryptedInput) [][32]byte {
	out := make([][32]byte, len(in.Handles))
	for i, h := range in.Handles {
		out[i] = h
	}
	return out
}

func (c *Contract) CreatePost(ctx context.Context, content, category string, tags []string) (chain.Transaction, error) {
	if tags == nil {
		tags = []string{}
	}
	return c.transact(ctx, "createPost", content, category, tags)
}

func (c *Contract) AddReaction(ctx context.Context, postID uint64, reactionType uint8, in *fhe.EncryptedInput) (chain.Transaction, error) {
	if in == nil || len(in.Handles) != 1 {
		return nil, errors.New("addReaction: expected one encrypted value")
	}
	return c.transact(ctx, "addReaction", new(big.Int).SetUint64(postID), reactionType, [32]byte(in.Handles[0]), in.Proof)
}

func (c *Contract) RemoveReaction(ctx context.Context, postID uint64) (chain.Transaction, error) {
	return c.transact(ctx, "removeReaction", new(big.Int).SetUint64(postID))
}

func (c *Contract) AddComment(ctx context.Context, postID, parentCommentID uint64, in *fhe.EncryptedInput) (chain.Transaction, error) {
	if in == nil || len(in.Handles) == 0 {
		return nil, errors.New("addComment: empty encrypted content")
	}
	return c.transact(ctx, "addComment",
		new(big.Int).SetUint64(postID), new(big.Int).SetUint64(parentCommentID), handles(in), in.Proof)
}

func (c *Contract) PostCount(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "getPostCount")
	if err != nil {
		return 0, err
	}
	return (*abi.ConvertType(out[0], new(*big.Int)).(**big.Int)).Uint64(), nil
}

type postTuple struct {
	Id        *big.Int
	Author    common.Address
	Content   string
	Category  string
	Tags      []string
	Timestamp *big.Int
}

type commentTuple struct {
	Id              *big.Int
	PostId          *big.Int
	ParentCommentId *big.Int
	Author          common.Address
	Timestamp       *big.Int
	ContentHandles  [][32]byte
}

func (c *Contract) GetPosts(ctx context.Context, offset, limit uint64) ([]chain.PostRecord, error) {
	out, err := c.call(ctx, "getPosts", new(big.Int).SetUint64(offset), new(big.Int).SetUint64(limit))
	if err != nil {
		return nil, err
	}
	rows := *abi.ConvertType(out[0], new([]postTuple)).(*[]postTuple)

	posts := make([]chain.PostRecord, 0, len(rows))
	for _, r := range rows {
		posts = append(posts, chain.PostRecord{
			ID:        r.Id.Uint64(),
			Author:    r.Author,
			Content:   r.Content,
			Category:  r.Category,
			Tags:      r.Tags,
			Timestamp: r.Timestamp.Uint64(),
		})
	}
	return posts, nil
}

func (c *Contract) GetPostComments(ctx context.Context, postID uint64) ([]chain.CommentRecord, error) {
	out, err := c.call(ctx, "getPostComments", new(big.Int).SetUint64(postID))
	if err != nil {
		return nil, err
	}
	rows := *abi.ConvertType(out[0], new([]commentTuple)).(*[]commentTuple)

	comments := make([]chain.CommentRecord, 0, len(rows))
	for _, r := range rows {
		hs := make([]fhe.Handle, len(r.ContentHandles))
		for i, h := range r.ContentHandles {
			hs[i] = h
		}
		comments = append(comments, chain.CommentRecord{
			ID:              r.Id.Uint64(),
			PostID:          r.PostId.Uint64(),
			ParentCommentID: r.ParentCommentId.Uint64(),
			Author:          r.Author,
			Timestamp:       r.Timestamp.Uint64(),
			ContentHandles:  hs,
		})
	}
	return comments, nil
}

func (c *Contract) ReactionCountHandle(ctx context.Context, postID uint64, reactionType uint8) (fhe.Handle, error) {
	out, err := c.call(ctx, "getReactionCount", new(big.Int).SetUint64(postID), reactionType)
	if err != nil {
		return fhe.Handle{}, err
	}
	return *abi.ConvertType(out[0], new([32]byte)).(*[32]byte), nil
}

func (c *Contract) CommentCountHandle(ctx context.Context, postID uint64) (fhe.Handle, error) {
	out, err := c.call(ctx, "getCommentCount", new(big.Int).SetUint64(postID))
	if err != nil {
		return fhe.Handle{}, err
	}
	return *abi.ConvertType(out[0], new([32]byte)).(*[32]byte), nil
}

func (c *Contract) UserReaction(ctx context.Context, postID uint64, user common.Address) (uint8, bool, error) {
	out, err := c.call(ctx, "getUserReaction", new(big.Int).SetUint64(postID), user)
	if err != nil {
		return 0, false, err
	}
	rt := *abi.ConvertType(out[0], new(uint8)).(*uint8)
	ok := *abi.ConvertType(out[1], new(bool)).(*bool)
	return rt, ok, nil
}
