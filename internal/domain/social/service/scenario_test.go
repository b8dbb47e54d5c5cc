package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"encrypted_like/internal/domain/social/model"
	sessionService "encrypted_like/internal/domain/session/service"
	"encrypted_like/internal/pkg/chain"
	"encrypted_like/internal/pkg/devnet"
	"encrypted_like/internal/pkg/fhe"
	"encrypted_like/internal/pkg/inflight"
	"encrypted_like/internal/pkg/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const devChainID = 31337

// hardhat 默认账户 0-2
var devKeys = []string{
	"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
	"5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a",
}

const (
	alice = iota
	bob
	carol
)

// countingClient 统计网络解密次数
type countingClient struct {
	fhe.Client
	decrypts atomic.Int32
}

func (c *countingClient) UserDecrypt(ctx context.Context, req fhe.DecryptRequest) (map[fhe.Handle]uint64, error) {
	c.decrypts.Add(1)
	return c.Client.UserDecrypt(ctx, req)
}

type devFixture struct {
	ledger    *devnet.Ledger
	session   sessionService.SessionService
	orch      *Orchestrator
	fhe       *countingClient
	approvals atomic.Int32
	accounts  []common.Address
}

func setupDevnet(t *testing.T, blockTime time.Duration, policy inflight.Policy) *devFixture {
	t.Helper()
	f := &devFixture{}

	keyring, err := wallet.NewKeyring(devKeys, func(ctx context.Context, account common.Address, msg []byte) error {
		f.approvals.Add(1)
		return nil
	})
	require.NoError(t, err)
	f.accounts = keyring.Accounts()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	f.ledger, err = devnet.Open(context.Background(), "sqlite", dsn, devnet.Options{
		ChainID:   devChainID,
		Deployer:  f.accounts[alice],
		BlockTime: blockTime,
	}, nil)
	require.NoError(t, err)

	f.fhe = &countingClient{Client: f.ledger.Coprocessor()}
	f.session = sessionService.NewSessionService(keyring, map[uint64]string{devChainID: "Hardhat"}, nil)
	f.orch = NewOrchestrator(Deps{
		Session:   f.session,
		Connector: chain.Router{devChainID: f.ledger},
		FHE:       fhe.StaticProvider{devChainID: f.fhe},
	}, Options{
		MaxContentLength: 280,
		MaxCommentLength: 500,
		MaxTags:          5,
		BusyPolicy:       policy,
	})
	t.Cleanup(f.orch.Close)
	return f
}

func (f *devFixture) connect(t *testing.T, account int) {
	t.Helper()
	_, err := f.session.Connect(context.Background(), account, devChainID)
	require.NoError(t, err)
}

func (f *devFixture) switchTo(t *testing.T, account int) {
	t.Helper()
	_, err := f.session.SwitchAccount(context.Background(), account)
	require.NoError(t, err)
}

func (f *devFixture) post(t *testing.T, id uint64) model.Post {
	t.Helper()
	v := f.orch.View(context.Background())
	p, ok := v.Post(id)
	require.True(t, ok, "post %d not in view", id)
	return *p
}

func TestConnectionScenario(t *testing.T) {
	f := setupDevnet(t, 0, inflight.Reject)
	ctx := context.Background()

	v := f.orch.View(ctx)
	assert.Equal(t, model.StatusDisconnected, v.Status)
	assert.Empty(t, v.Posts)
	assert.Nil(t, v.Account)

	err := f.orch.CreatePost(ctx, "hello", "", nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = f.session.Connect(ctx, alice, 1)
	require.NoError(t, err)
	v = f.orch.View(ctx)
	assert.Equal(t, model.StatusNotDeployed, v.Status)
	assert.Empty(t, v.Posts)
	assert.Nil(t, v.Contract)
	assert.ErrorIs(t, f.orch.Refresh(ctx), ErrUnsupportedChain)

	_, err = f.session.SwitchChain(ctx, devChainID)
	require.NoError(t, err)
	v = f.orch.View(ctx)
	assert.Equal(t, model.StatusEmpty, v.Status)
	require.NotNil(t, v.Contract)
	assert.Equal(t, f.ledger.Address(), *v.Contract)
	assert.Equal(t, model.FHEReady, v.FHEStatus)

	f.session.Disconnect(ctx)
	v = f.orch.View(ctx)
	assert.Equal(t, model.StatusDisconnected, v.Status)
}

func TestCreatePostThenRefresh(t *testing.T) {
	f := setupDevnet(t, 0, inflight.Reject)
	ctx := context.Background()
	f.connect(t, alice)

	t.Run("Validation never reaches the chain", func(t *testing.T) {
		assert.ErrorIs(t, f.orch.CreatePost(ctx, "   ", "Art", nil), ErrValidation)
		assert.ErrorIs(t, f.orch.CreatePost(ctx, "hi", "Sports", nil), ErrValidation)
		assert.ErrorIs(t, f.orch.CreatePost(ctx, "hi", "Art", []string{"1", "2", "3", "4", "5", "6"}), ErrValidation)
		assert.Equal(t, model.StatusEmpty, f.orch.View(ctx).Status)
	})

	t.Run("Created post appears once", func(t *testing.T) {
		require.NoError(t, f.orch.CreatePost(ctx, " hello world ", "Technology", []string{"fhe", " ", "go"}))

		v := f.orch.View(ctx)
		assert.Equal(t, model.StatusReady, v.Status)
		require.Len(t, v.Posts, 1)
		p := v.Posts[0]
		assert.Equal(t, "hello world", p.Content)
		assert.Equal(t, "Technology", p.Category)
		assert.Equal(t, []string{"fhe", "go"}, p.Tags)
		assert.Equal(t, f.accounts[alice], p.Author)
		assert.True(t, p.IsAuthor)
		assert.Nil(t, p.UserReaction)
		assert.Equal(t, "Post created", v.Message)
		assert.False(t, v.Flags.IsCreatingPost)
	})

	t.Run("Newest first", func(t *testing.T) {
		require.NoError(t, f.orch.CreatePost(ctx, "second", "", nil))
		v := f.orch.View(ctx)
		require.Len(t, v.Posts, 2)
		assert.Equal(t, "second", v.Posts[0].Content)
		assert.Equal(t, model.DefaultCategory, v.Posts[0].Category)
	})

	t.Run("Other accounts see the post but do not own it", func(t *testing.T) {
		f.switchTo(t, bob)
		v := f.orch.View(ctx)
		require.Len(t, v.Posts, 2)
		assert.False(t, v.Posts[0].IsAuthor)
	})
}

func TestReactionLifecycle(t *testing.T) {
	f := setupDevnet(t, 0, inflight.Reject)
	ctx := context.Background()
	f.connect(t, alice)
	require.NoError(t, f.orch.CreatePost(ctx, "react to me", "Art", nil))
	postID := f.orch.View(ctx).Posts[0].ID

	f.switchTo(t, bob)
	require.NoError(t, f.orch.AddReaction(ctx, postID, model.Like))
	p := f.post(t, postID)
	require.NotNil(t, p.UserReaction)
	assert.Equal(t, model.Like, *p.UserReaction)

	// 相同表情再次提交不产生交易
	require.NoError(t, f.orch.AddReaction(ctx, postID, model.Like))

	// 切换表情：先移除再添加
	require.NoError(t, f.orch.AddReaction(ctx, postID, model.Love))
	p = f.post(t, postID)
	require.NotNil(t, p.UserReaction)
	assert.Equal(t, model.Love, *p.UserReaction)

	assert.ErrorIs(t, f.orch.AddReaction(ctx, postID, model.ReactionType(7)), ErrValidation)
	assert.ErrorIs(t, f.orch.AddReaction(ctx, 999, model.Like), ErrTransaction)

	// 作者解密计数
	f.switchTo(t, alice)
	p = f.post(t, postID)
	assert.Nil(t, p.UserReaction)

	love, err := f.orch.DecryptReactionCount(ctx, postID, model.Love, p.ReactionHandles[model.Love])
	require.NoError(t, err)
	assert.Equal(t, uint64(1), love)
	like, err := f.orch.DecryptReactionCount(ctx, postID, model.Like, p.ReactionHandles[model.Like])
	require.NoError(t, err)
	assert.Equal(t, uint64(0), like)

	f.switchTo(t, bob)
	require.NoError(t, f.orch.RemoveReaction(ctx, postID))
	assert.Nil(t, f.post(t, postID).UserReaction)
	assert.ErrorIs(t, f.orch.RemoveReaction(ctx, postID), ErrValidation)
}

func TestDecryptCaching(t *testing.T) {
	f := setupDevnet(t, 0, inflight.Reject)
	ctx := context.Background()
	f.connect(t, alice)
	require.NoError(t, f.orch.CreatePost(ctx, "count me", "Art", nil))
	postID := f.orch.View(ctx).Posts[0].ID

	f.switchTo(t, bob)
	require.NoError(t, f.orch.AddReaction(ctx, postID, model.Wow))
	f.switchTo(t, alice)

	handle := f.post(t, postID).ReactionHandles[model.Wow]
	require.False(t, handle.IsZero())

	first, err := f.orch.DecryptReactionCount(ctx, postID, model.Wow, handle)
	require.NoError(t, err)
	second, err := f.orch.DecryptReactionCount(ctx, postID, model.Wow, handle)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), f.fhe.decrypts.Load())
	assert.Equal(t, int32(1), f.approvals.Load())

	p := f.post(t, postID)
	assert.Equal(t, uint64(1), p.DecryptedReactions[model.Wow])
	assert.Equal(t, "1", model.DisplayCount(ptr(p.DecryptedReactions[model.Wow])))

	// 切换账户会清空明文并作废签名，重新签名一次后可复用
	f.switchTo(t, bob)
	require.NoError(t, f.orch.AddReaction(ctx, postID, model.Sad))
	f.switchTo(t, alice)
	assert.Empty(t, f.post(t, postID).DecryptedReactions, "session change clears decrypted values")

	approvals := f.approvals.Load()
	p = f.post(t, postID)
	sad, err := f.orch.DecryptReactionCount(ctx, postID, model.Sad, p.ReactionHandles[model.Sad])
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sad)
	wow, err := f.orch.DecryptReactionCount(ctx, postID, model.Wow, p.ReactionHandles[model.Wow])
	require.NoError(t, err)
	assert.Equal(t, uint64(0), wow)
	assert.Equal(t, approvals+1, f.approvals.Load())

	f.switchTo(t, carol)
	require.NoError(t, f.orch.AddReaction(ctx, postID, model.Sad))
	f.switchTo(t, alice)
	p = f.post(t, postID)
	_, shown := p.DecryptedReactions[model.Sad]
	assert.False(t, shown)
}

func TestDecryptAuthorization(t *testing.T) {
	f := setupDevnet(t, 0, inflight.Reject)
	ctx := context.Background()
	f.connect(t, alice)
	require.NoError(t, f.orch.CreatePost(ctx, "secrets", "Lifestyle", nil))
	postID := f.orch.View(ctx).Posts[0].ID

	f.switchTo(t, bob)
	require.NoError(t, f.orch.AddComment(ctx, postID, "bob was here"))
	require.NoError(t, f.orch.AddComment(ctx, postID, "and again"))
	assert.ErrorIs(t, f.orch.AddComment(ctx, postID, "  "), ErrValidation)

	comments, err := f.orch.Comments(ctx, postID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Greater(t, comments[0].ID, comments[1].ID, "newest first")
	assert.True(t, comments[0].CanDecrypt)

	t.Run("Comment author reads own comment", func(t *testing.T) {
		c := comments[1]
		text, err := f.orch.DecryptCommentContent(ctx, c.ID, c.ContentHandles)
		require.NoError(t, err)
		assert.Equal(t, "bob was here", text)

		v := f.orch.View(ctx)
		shown, ok := v.Comment(c.ID)
		require.True(t, ok)
		require.NotNil(t, shown.DecryptedContent)
		assert.Equal(t, "bob was here", *shown.DecryptedContent)
	})

	t.Run("Non author cannot decrypt post counters", func(t *testing.T) {
		before := f.fhe.decrypts.Load()
		p := f.post(t, postID)
		_, err := f.orch.DecryptCommentCount(ctx, postID, p.CommentCountHandle)
		assert.ErrorIs(t, err, ErrDecryptionAuthorization)
		assert.Equal(t, before, f.fhe.decrypts.Load())
		assert.NotEmpty(t, f.orch.View(ctx).Message)
	})

	t.Run("Post author reads count and comments", func(t *testing.T) {
		f.switchTo(t, alice)
		p := f.post(t, postID)
		n, err := f.orch.DecryptCommentCount(ctx, postID, p.CommentCountHandle)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), n)
		assert.Equal(t, "2", model.DisplayCount(f.post(t, postID).DecryptedCommentCount))

		c := comments[0]
		text, err := f.orch.DecryptCommentContent(ctx, c.ID, c.ContentHandles)
		require.NoError(t, err)
		assert.Equal(t, "and again", text)
	})

	t.Run("Third party is rejected", func(t *testing.T) {
		f.switchTo(t, carol)
		c, ok := func() (model.Comment, bool) {
			v := f.orch.View(ctx)
			c, ok := v.Comment(comments[0].ID)
			if !ok {
				return model.Comment{}, false
			}
			return *c, true
		}()
		require.True(t, ok)
		assert.False(t, c.CanDecrypt)

		_, err := f.orch.DecryptCommentContent(ctx, c.ID, c.ContentHandles)
		assert.ErrorIs(t, err, ErrDecryptionAuthorization)

		// 视图中没有的评论交给 FHE 层拒绝
		_, err = f.orch.DecryptCommentContent(ctx, 999, c.ContentHandles)
		assert.ErrorIs(t, err, ErrDecryptionAuthorization)
	})

	_, err = f.orch.Comments(ctx, 999)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConcurrentReactions(t *testing.T) {
	for _, tc := range []struct {
		name   string
		policy inflight.Policy
	}{
		{"Reject", inflight.Reject},
		{"Queue", inflight.Queue},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := setupDevnet(t, 100*time.Millisecond, tc.policy)
			ctx := context.Background()
			f.connect(t, alice)
			require.NoError(t, f.orch.CreatePost(ctx, "race", "Art", nil))
			postID := f.orch.View(ctx).Posts[0].ID
			f.switchTo(t, bob)

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i, rt := range []model.ReactionType{model.Like, model.Love} {
				wg.Add(1)
				go func(i int, rt model.ReactionType) {
					defer wg.Done()
					errs[i] = f.orch.AddReaction(ctx, postID, rt)
				}(i, rt)
			}
			wg.Wait()

			succeeded := 0
			for _, err := range errs {
				if err == nil {
					succeeded++
					continue
				}
				assert.ErrorIs(t, err, ErrBusy)
			}
			assert.GreaterOrEqual(t, succeeded, 1)
			if tc.policy == inflight.Queue {
				assert.Equal(t, 2, succeeded)
			}
			require.NotNil(t, f.post(t, postID).UserReaction)

			// 所有计数之和恰好为 1
			f.switchTo(t, alice)
			p := f.post(t, postID)
			var total uint64
			for rt, h := range p.ReactionHandles {
				n, err := f.orch.DecryptReactionCount(ctx, postID, rt, h)
				require.NoError(t, err)
				total += n
			}
			assert.Equal(t, uint64(1), total)
		})
	}
}

func TestSessionChangeDropsStaleResults(t *testing.T) {
	f := setupDevnet(t, 150*time.Millisecond, inflight.Reject)
	ctx := context.Background()
	f.connect(t, alice)

	done := make(chan error, 1)
	go func() { done <- f.orch.CreatePost(ctx, "slow", "Art", nil) }()

	require.Eventually(t, func() bool {
		return f.orch.View(ctx).Flags.IsCreatingPost
	}, time.Second, 5*time.Millisecond)
	f.switchTo(t, bob)

	require.NoError(t, <-done)
	v := f.orch.View(ctx)
	assert.Empty(t, v.Message, "result of the old session is not shown")
	assert.False(t, v.Flags.IsCreatingPost)

	require.NoError(t, f.orch.Refresh(ctx))
	v = f.orch.View(ctx)
	require.Len(t, v.Posts, 1)
	assert.False(t, v.Posts[0].IsAuthor)
}

func TestClosedOrchestrator(t *testing.T) {
	f := setupDevnet(t, 0, inflight.Reject)
	ctx := context.Background()
	f.connect(t, alice)
	f.orch.Close()

	assert.True(t, errors.Is(f.orch.CreatePost(ctx, "late", "Art", nil), ErrClosed))
	assert.ErrorIs(t, f.orch.Refresh(ctx), ErrClosed)
}

func TestSubmittedWriteOutlivesCaller(t *testing.T) {
	f := setupDevnet(t, 250*time.Millisecond, inflight.Reject)
	ctx := context.Background()
	f.connect(t, alice)

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	require.NoError(t, f.orch.CreatePost(short, "slow block", "Art", nil))
	require.Len(t, f.orch.View(ctx).Posts, 1)
	postID := f.orch.View(ctx).Posts[0].ID

	short, cancel = context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	require.NoError(t, f.orch.AddReaction(short, postID, model.Love))

	v := f.orch.View(ctx)
	assert.Equal(t, fmt.Sprintf("Reacted with %s %s", model.Love.Emoji(), model.Love), v.Message)
	p := f.post(t, postID)
	require.NotNil(t, p.UserReaction)
	assert.Equal(t, model.Love, *p.UserReaction)
	assert.Empty(t, v.Flags.Reacting)
}

func TestPollingPicksUpExternalWrites(t *testing.T) {
	f := setupDevnet(t, 0, inflight.Reject)
	ctx := context.Background()
	f.connect(t, alice)

	poller := NewOrchestrator(Deps{
		Session:   f.session,
		Connector: chain.Router{devChainID: f.ledger},
		FHE:       fhe.StaticProvider{devChainID: f.fhe},
	}, Options{PollInterval: 20 * time.Millisecond})
	t.Cleanup(poller.Close)
	require.Empty(t, poller.View(ctx).Posts)

	// 绕过编排器直接写链
	w, _, err := f.session.Wallet()
	require.NoError(t, err)
	contract, err := f.ledger.Connect(ctx, devChainID, w)
	require.NoError(t, err)
	tx, err := contract.CreatePost(ctx, "from elsewhere", "Other", nil)
	require.NoError(t, err)
	require.NoError(t, tx.Wait(ctx))

	require.Eventually(t, func() bool {
		return len(poller.View(ctx).Posts) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func ptr(n uint64) *uint64 {
	return &n
}
