package devnet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"encrypted_like/internal/pkg/chain"
	"encrypted_like/internal/pkg/fhe"
	"encrypted_like/internal/pkg/wallet"
	"encrypted_like/pkg/database"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Options devnet 链参数
type Options struct {
	ChainID   uint64
	Deployer  common.Address
	BlockTime time.Duration
}

// Ledger 进程内的 EncryptedLike 合约。写操作在互斥锁和数据库事务内执行，
// 交易在 BlockTime 之后视为确认。
type Ledger struct {
	db        *gorm.DB
	chainID   uint64
	address   common.Address
	fhe       *Coprocessor
	blockTime time.Duration
	log       *zap.Logger
	now       func() time.Time

	mu sync.Mutex
}

// NewLedger 创建 devnet 账本，合约地址取部署者 nonce 0 的 CREATE 地址
func NewLedger(db *gorm.DB, opts Options, log *zap.Logger) (*Ledger, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cop, err := NewCoprocessor(db, opts.ChainID, log)
	if err != nil {
		return nil, err
	}
	return &Ledger{
		db:        db,
		chainID:   opts.ChainID,
		address:   crypto.CreateAddress(opts.Deployer, 0),
		fhe:       cop,
		blockTime: opts.BlockTime,
		log:       log,
		now:       time.Now,
	}, nil
}

// Open 打开账本数据库并建表
func Open(ctx context.Context, driver, dsn string, opts Options, log *zap.Logger) (*Ledger, error) {
	db, err := database.Open(driver, dsn, false)
	if err != nil {
		return nil, err
	}
	l, err := NewLedger(db, opts, log)
	if err != nil {
		return nil, err
	}
	if err := l.Migrate(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Migrate 建表
func (l *Ledger) Migrate(ctx context.Context) error {
	if err := l.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("migrate devnet ledger: %w", err)
	}
	return nil
}

// DB 账本数据库
func (l *Ledger) DB() *gorm.DB {
	return l.db
}

// Close 关闭底层连接
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Address 合约地址
func (l *Ledger) Address() common.Address {
	return l.address
}

// ChainID 链 id
func (l *Ledger) ChainID() uint64 {
	return l.chainID
}

// Coprocessor 本链的 FHE 客户端
func (l *Ledger) Coprocessor() *Coprocessor {
	return l.fhe
}

// Connect 以钱包身份绑定合约
func (l *Ledger) Connect(ctx context.Context, chainID uint64, w wallet.Wallet) (chain.Contract, error) {
	if chainID != l.chainID {
		return nil, fmt.Errorf("%w: %d", chain.ErrNotDeployed, chainID)
	}
	if w == nil {
		return nil, errors.New("devnet: wallet required")
	}
	return &contract{l: l, sender: w.Address()}, nil
}

func revert(reason string) error {
	return fmt.Errorf("%w: %s", chain.ErrReverted, reason)
}

func parseHandle(s string) (fhe.Handle, error) {
	if s == "" {
		return fhe.Handle{}, nil
	}
	return fhe.ParseHandle(s)
}

type transaction struct {
	hash    string
	minedAt time.Time
}

func (t *transaction) Hash() string {
	return t.hash
}

func (t *transaction) Wait(ctx context.Context) error {
	d := time.Until(t.minedAt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type contract struct {
	l      *Ledger
	sender common.Address
}

func (c *contract) Address() common.Address {
	return c.l.address
}

func (c *contract) ChainID() uint64 {
	return c.l.chainID
}

func (c *contract) send(ctx context.Context, method string, fn func(tx *gorm.DB) error) (chain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.l.mu.Lock()
	defer c.l.mu.Unlock()

	if err := c.l.db.WithContext(ctx).Transaction(fn); err != nil {
		c.l.log.Debug("devnet transaction failed",
			zap.String("method", method),
			zap.String("from", c.sender.Hex()),
			zap.Error(err),
		)
		return nil, err
	}

	tx := &transaction{
		hash:    crypto.Keccak256Hash([]byte(uuid.NewString())).Hex(),
		minedAt: time.Now().Add(c.l.blockTime),
	}
	c.l.log.Debug("devnet transaction submitted",
		zap.String("method", method),
		zap.String("from", c.sender.Hex()),
		zap.String("hash", tx.hash),
	)
	return tx, nil
}

func (c *contract) loadPost(tx *gorm.DB, postID uint64) (*Post, error) {
	var p Post
	err := tx.First(&p, postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, revert("post does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("load post %d: %w", postID, err)
	}
	return &p, nil
}

func (c *contract) CreatePost(ctx context.Context, content, category string, tags []string) (chain.Transaction, error) {
	return c.send(ctx, "createPost", func(tx *gorm.DB) error {
		if strings.TrimSpace(content) == "" {
			return revert("content is empty")
		}
		p := Post{
			Author:    accountKey(c.sender),
			Content:   content,
			Category:  category,
			Tags:      tags,
			Timestamp: uint64(c.l.now().Unix()),
		}
		if err := tx.Create(&p).Error; err != nil {
			return fmt.Errorf("insert post: %w", err)
		}
		return nil
	})
}

func (c *contract) AddReaction(ctx context.Context, postID uint64, reactionType uint8, in *fhe.EncryptedInput) (chain.Transaction, error) {
	return c.send(ctx, "addReaction", func(tx *gorm.DB) error {
		if reactionType >= chain.ReactionTypes {
			return revert("invalid reaction type")
		}
		post, err := c.loadPost(tx, postID)
		if err != nil {
			return err
		}

		var existing UserReaction
		err = tx.Where("post_id = ? AND account = ?", postID, accountKey(c.sender)).First(&existing).Error
		if err == nil {
			return revert("already reacted")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load user reaction: %w", err)
		}

		if err := c.l.fhe.verifyInput(c.l.address, c.sender, in); err != nil {
			return revert(err.Error())
		}
		if len(in.Handles) != 1 {
			return revert("expected one encrypted value")
		}

		current, err := c.counter(tx, postID, reactionType)
		if err != nil {
			return err
		}
		next, err := c.l.fhe.add(tx, current, in.Handles[0])
		if err != nil {
			return err
		}
		if err := c.storeCounter(tx, post, reactionType, next); err != nil {
			return err
		}

		return tx.Create(&UserReaction{
			PostID:       postID,
			Account:      accountKey(c.sender),
			ReactionType: reactionType,
		}).Error
	})
}

func (c *contract) RemoveReaction(ctx context.Context, postID uint64) (chain.Transaction, error) {
	return c.send(ctx, "removeReaction", func(tx *gorm.DB) error {
		post, err := c.loadPost(tx, postID)
		if err != nil {
			return err
		}

		var existing UserReaction
		err = tx.Where("post_id = ? AND account = ?", postID, accountKey(c.sender)).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return revert("no reaction to remove")
		}
		if err != nil {
			return fmt.Errorf("load user reaction: %w", err)
		}

		one, err := c.l.fhe.trivialEncrypt(tx, 1)
		if err != nil {
			return err
		}
		current, err := c.counter(tx, postID, existing.ReactionType)
		if err != nil {
			return err
		}
		next, err := c.l.fhe.sub(tx, current, one)
		if err != nil {
			return err
		}
		if err := c.storeCounter(tx, post, existing.ReactionType, next); err != nil {
			return err
		}

		return tx.Where("post_id = ? AND account = ?", postID, existing.Account).Delete(&UserReaction{}).Error
	})
}

func (c *contract) counter(tx *gorm.DB, postID uint64, reactionType uint8) (fhe.Handle, error) {
	var rc ReactionCounter
	err := tx.Where("post_id = ? AND reaction_type = ?", postID, reactionType).First(&rc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fhe.Handle{}, nil
	}
	if err != nil {
		return fhe.Handle{}, fmt.Errorf("load reaction counter: %w", err)
	}
	return parseHandle(rc.Handle)
}

// storeCounter 写回计数句柄并授权帖子作者解密
func (c *contract) storeCounter(tx *gorm.DB, post *Post, reactionType uint8, h fhe.Handle) error {
	if err := c.l.fhe.allow(tx, h, common.HexToAddress(post.Author)); err != nil {
		return err
	}
	rc := ReactionCounter{PostID: post.ID, ReactionType: reactionType, Handle: h.String()}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "post_id"}, {Name: "reaction_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"handle"}),
	}).Create(&rc).Error
	if err != nil {
		return fmt.Errorf("store reaction counter: %w", err)
	}
	return nil
}

func (c *contract) AddComment(ctx context.Context, postID, parentCommentID uint64, in *fhe.EncryptedInput) (chain.Transaction, error) {
	return c.send(ctx, "addComment", func(tx *gorm.DB) error {
		post, err := c.loadPost(tx, postID)
		if err != nil {
			return err
		}
		if parentCommentID != 0 {
			var parent Comment
			err := tx.Where("id = ? AND post_id = ?", parentCommentID, postID).First(&parent).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return revert("parent comment does not exist")
			}
			if err != nil {
				return fmt.Errorf("load parent comment: %w", err)
			}
		}
		if err := c.l.fhe.verifyInput(c.l.address, c.sender, in); err != nil {
			return revert(err.Error())
		}

		author := common.HexToAddress(post.Author)
		handles := make([]string, 0, len(in.Handles))
		for _, h := range in.Handles {
			if err := c.l.fhe.allow(tx, h, c.sender, author); err != nil {
				return err
			}
			handles = append(handles, h.String())
		}

		comment := Comment{
			PostID:          postID,
			ParentCommentID: parentCommentID,
			Author:          accountKey(c.sender),
			Timestamp:       uint64(c.l.now().Unix()),
			ContentHandles:  handles,
		}
		if err := tx.Create(&comment).Error; err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}

		current, err := parseHandle(post.CommentCountHandle)
		if err != nil {
			return err
		}
		one, err := c.l.fhe.trivialEncrypt(tx, 1)
		if err != nil {
			return err
		}
		next, err := c.l.fhe.add(tx, current, one)
		if err != nil {
			return err
		}
		if err := c.l.fhe.allow(tx, next, author); err != nil {
			return err
		}
		return tx.Model(&Post{}).Where("id = ?", postID).Update("comment_count_handle", next.String()).Error
	})
}

func (c *contract) PostCount(ctx context.Context) (uint64, error) {
	var n int64
	if err := c.l.db.WithContext(ctx).Model(&Post{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return uint64(n), nil
}

func (c *contract) GetPosts(ctx context.Context, offset, limit uint64) ([]chain.PostRecord, error) {
	var rows []Post
	err := c.l.db.WithContext(ctx).
		Order("id ASC").
		Offset(int(offset)).
		Limit(int(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	out := make([]chain.PostRecord, 0, len(rows))
	for _, p := range rows {
		out = append(out, chain.PostRecord{
			ID:        p.ID,
			Author:    common.HexToAddress(p.Author),
			Content:   p.Content,
			Category:  p.Category,
			Tags:      p.Tags,
			Timestamp: p.Timestamp,
		})
	}
	return out, nil
}

func (c *contract) postExists(ctx context.Context, postID uint64) (*Post, error) {
	var p Post
	err := c.l.db.WithContext(ctx).First(&p, postID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: post %d", chain.ErrNotFound, postID)
	}
	if err != nil {
		return nil, fmt.Errorf("load post %d: %w", postID, err)
	}
	return &p, nil
}

func (c *contract) GetPostComments(ctx context.Context, postID uint64) ([]chain.CommentRecord, error) {
	if _, err := c.postExists(ctx, postID); err != nil {
		return nil, err
	}

	var rows []Comment
	if err := c.l.db.WithContext(ctx).Where("post_id = ?", postID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}

	out := make([]chain.CommentRecord, 0, len(rows))
	for _, cm := range rows {
		handles := make([]fhe.Handle, 0, len(cm.ContentHandles))
		for _, s := range cm.ContentHandles {
			h, err := parseHandle(s)
			if err != nil {
				return nil, err
			}
			handles = append(handles, h)
		}
		out = append(out, chain.CommentRecord{
			ID:              cm.ID,
			PostID:          cm.PostID,
			ParentCommentID: cm.ParentCommentID,
			Author:          common.HexToAddress(cm.Author),
			Timestamp:       cm.Timestamp,
			ContentHandles:  handles,
		})
	}
	return out, nil
}

func (c *contract) ReactionCountHandle(ctx context.Context, postID uint64, reactionType uint8) (fhe.Handle, error) {
	if _, err := c.postExists(ctx, postID); err != nil {
		return fhe.Handle{}, err
	}
	return c.counter(c.l.db.WithContext(ctx), postID, reactionType)
}

func (c *contract) CommentCountHandle(ctx context.Context, postID uint64) (fhe.Handle, error) {
	p, err := c.postExists(ctx, postID)
	if err != nil {
		return fhe.Handle{}, err
	}
	return parseHandle(p.CommentCountHandle)
}

func (c *contract) UserReaction(ctx context.Context, postID uint64, user common.Address) (uint8, bool, error) {
	var ur UserReaction
	err := c.l.db.WithContext(ctx).Where("post_id = ? AND account = ?", postID, accountKey(user)).First(&ur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load user reaction: %w", err)
	}
	return ur.ReactionType, true, nil
}
