package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"encrypted_like/internal/domain/social/model"
	sessionModel "encrypted_like/internal/domain/session/model"
	sessionService "encrypted_like/internal/domain/session/service"
	"encrypted_like/internal/pkg/chain"
	"encrypted_like/internal/pkg/fhe"
	"encrypted_like/internal/pkg/inflight"
	"encrypted_like/internal/pkg/wallet"
	"encrypted_like/internal/pkg/worker"
	"encrypted_like/pkg/cache"
	"encrypted_like/pkg/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrClosed 编排器已关闭
var ErrClosed = errors.New("orchestrator closed")

const (
	createKey  = "create"
	decryptKey = "decrypt"
	viewKey    = "view"

	opReaction = "reaction"
	opComment  = "comment"
)

func postKey(id uint64) string {
	return fmt.Sprintf("post:%d", id)
}

// Options 编排参数
type Options struct {
	MaxContentLength int
	MaxCommentLength int
	MaxTags          int
	Categories       []string
	BusyPolicy       inflight.Policy
	PageSize         int
	PollInterval     time.Duration
}

// Deps 编排器依赖
type Deps struct {
	Session    sessionService.SessionService
	Connector  chain.Connector
	FHE        fhe.Provider
	Signatures *fhe.SignatureCache
	// Decrypted 解密结果缓存，只能是进程内缓存
	Decrypted cache.CacheService
	Workers   *worker.WorkerPool
	Metrics   *metrics.MetricsCollector
	Log       *zap.Logger
}

// binding 某个会话 epoch 下绑定的合约与 FHE 客户端
type binding struct {
	epoch    uint64
	session  sessionModel.Session
	wallet   wallet.Wallet
	contract chain.Contract
	bindErr  error
	fhe      fhe.Client
	fheErr   error
}

func (b *binding) account() common.Address {
	return b.session.Account
}

// Orchestrator 串联钱包、FHE 客户端和合约，维护视图
type Orchestrator struct {
	session    sessionService.SessionService
	connector  chain.Connector
	fheClients fhe.Provider
	signatures *fhe.SignatureCache
	decrypted  cache.CacheService
	workers    *worker.WorkerPool
	metrics    *metrics.MetricsCollector
	log        *zap.Logger
	opts       Options

	creating   *inflight.Tracker
	posts      *inflight.Tracker
	decrypting *inflight.Tracker
	refreshing *inflight.Tracker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	readSeq atomic.Uint64

	mu    sync.RWMutex
	bind  *binding
	state viewState
}

// NewOrchestrator 创建编排器并订阅会话变化
func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetricsCollector(prometheus.NewRegistry())
	}
	if deps.Decrypted == nil {
		deps.Decrypted = cache.NewMemoryCache()
	}
	if deps.Signatures == nil {
		deps.Signatures = fhe.NewSignatureCache(cache.NewMemoryCache(), 0, deps.Log)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if len(opts.Categories) == 0 {
		opts.Categories = model.DefaultCategories
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		session:    deps.Session,
		connector:  deps.Connector,
		fheClients: deps.FHE,
		signatures: deps.Signatures,
		decrypted:  deps.Decrypted,
		workers:    deps.Workers,
		metrics:    deps.Metrics,
		log:        deps.Log,
		opts:       opts,
		creating:   inflight.NewTracker("creating", opts.BusyPolicy),
		posts:      inflight.NewTracker("posts", opts.BusyPolicy),
		decrypting: inflight.NewTracker("decrypting", opts.BusyPolicy),
		refreshing: inflight.NewTracker("refreshing", inflight.Queue),
		ctx:        ctx,
		cancel:     cancel,
		bind:       &binding{},
	}

	o.rebind(o.session.Current())
	o.session.OnChange(o.onSessionChange)

	if opts.PollInterval > 0 {
		o.wg.Add(1)
		go o.poll(opts.PollInterval)
	}
	return o
}

// Close 停止后台轮询，进行中的操作结果不再写入视图
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) closed() bool {
	return o.ctx.Err() != nil
}

func (o *Orchestrator) poll(interval time.Duration) {
	defer o.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			if b := o.binding(); b.contract != nil {
				o.scheduleRefresh("poll")
			}
		}
	}
}

func (o *Orchestrator) binding() *binding {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.bind
}

func (o *Orchestrator) onSessionChange(ctx context.Context, change sessionModel.Change) {
	if change.Old.Connected && (change.AccountChanged() || change.ChainChanged()) {
		if err := o.signatures.Invalidate(ctx, change.Old.ChainID, change.Old.Account); err != nil {
			o.log.Warn("failed to invalidate decryption signature", zap.Error(err))
		}
	}
	if err := o.decrypted.InvalidatePattern(ctx, decryptedPrefix+"*"); err != nil {
		o.log.Warn("failed to clear decrypt cache", zap.Error(err))
	}

	if !o.rebind(change.New) {
		return
	}
	if b := o.binding(); b.contract != nil {
		o.scheduleRefresh(change.Reason)
	}
}

// rebind 为会话绑定合约，旧 epoch 的绑定不会覆盖新的
func (o *Orchestrator) rebind(sess sessionModel.Session) bool {
	b := &binding{epoch: sess.Epoch, session: sess}
	if sess.Connected {
		w, cur, err := o.session.Wallet()
		if err != nil || cur.Epoch != sess.Epoch {
			// 会话已经再次变化，交给后续回调处理
			return false
		}
		b.wallet = w

		b.contract, b.bindErr = o.connector.Connect(o.ctx, sess.ChainID, w)
		if b.bindErr != nil {
			o.log.Info("contract unavailable",
				zap.Uint64("chain_id", sess.ChainID),
				zap.Error(b.bindErr),
			)
		}
		b.fhe, b.fheErr = o.fheClients.ClientFor(sess.ChainID)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bind != nil && o.bind.epoch > b.epoch {
		return false
	}
	o.bind = b
	o.state = viewState{}
	return true
}

func (o *Orchestrator) scheduleRefresh(reason string) {
	task := worker.Task{
		Name: "refresh:" + reason,
		Run: func(ctx context.Context) error {
			err := o.Refresh(ctx)
			if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrUnsupportedChain) || errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		},
	}
	if o.workers == nil {
		_ = task.Run(o.ctx)
		return
	}
	o.workers.AddTask(task)
}

// requireContract 校验钱包已连接且当前链有合约
func (o *Orchestrator) requireContract(op string) (*binding, error) {
	if o.closed() {
		return nil, ErrClosed
	}
	b := o.binding()
	if !b.session.Connected {
		return nil, opError(op, ErrNotConnected, nil)
	}
	if b.contract == nil {
		return nil, opError(op, ErrUnsupportedChain, b.bindErr)
	}
	return b, nil
}

func (o *Orchestrator) requireFHE(op string, b *binding, kind error) (fhe.Client, error) {
	if b.fhe == nil {
		return nil, opError(op, kind, b.fheErr)
	}
	return b.fhe, nil
}

func busy(op string, err error) error {
	if errors.Is(err, inflight.ErrBusy) {
		return opError(op, ErrBusy, err)
	}
	return err
}

func outcome(err error) string {
	var op *OpError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &op):
		return strings.ReplaceAll(op.Kind.Error(), " ", "_")
	default:
		return "error"
	}
}

// finish 记录指标并更新提示信息；会话已变化或已关闭时丢弃结果
func (o *Orchestrator) finish(pt *metrics.PerformanceTracker, op string, epoch uint64, err error, success string) {
	pt.Finish(outcome(err))
	if o.closed() {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bind == nil || o.bind.epoch != epoch {
		return
	}
	if err != nil {
		o.state.message = Message(err)
		o.log.Warn("operation failed", zap.String("op", op), zap.Error(err))
		return
	}
	if success != "" {
		o.state.message = success
	}
}

func (o *Orchestrator) currentEpoch() uint64 {
	if b := o.binding(); b != nil {
		return b.epoch
	}
	return 0
}

// confirm 等待交易确认
func (o *Orchestrator) confirm(ctx context.Context, op, method string, tx chain.Transaction) error {
	err := tx.Wait(ctx)
	o.metrics.RecordTransaction(method, err == nil)
	if err != nil {
		return opError(op, ErrTransaction, err)
	}
	o.log.Debug("transaction confirmed", zap.String("method", method), zap.String("hash", tx.Hash()))
	return nil
}

// txFailed 提交阶段失败
func (o *Orchestrator) txFailed(op, method string, err error) error {
	o.metrics.RecordTransaction(method, false)
	return opError(op, ErrTransaction, err)
}

// detach 交易提交后的等待与重读不再跟随调用方取消，只随编排器关闭结束
func (o *Orchestrator) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(o.ctx, cancel)
	return dctx, func() {
		stop()
		cancel()
	}
}

// settle 写操作确认后重读链上状态
func (o *Orchestrator) settle(ctx context.Context, lease *inflight.Lease, op string) error {
	if err := lease.Advance(inflight.Refreshing); err != nil {
		return err
	}
	o.resync(ctx, op)
	return nil
}

// resync 重读链上状态；失败不影响写操作结果，转入后台重试
func (o *Orchestrator) resync(ctx context.Context, op string) {
	if err := o.Refresh(ctx); err != nil && !errors.Is(err, ErrClosed) {
		o.log.Warn("refresh after write failed", zap.String("op", op), zap.Error(err))
		if o.workers != nil {
			o.scheduleRefresh("retry " + op)
		}
	}
}

func (o *Orchestrator) normalizePost(content, category string, tags []string) (string, string, []string, error) {
	const op = "createPost"
	content = strings.TrimSpace(content)
	if content == "" {
		return "", "", nil, validationError(op, "content is empty")
	}
	if o.opts.MaxContentLength > 0 && utf8.RuneCountInString(content) > o.opts.MaxContentLength {
		return "", "", nil, validationError(op, "content exceeds %d characters", o.opts.MaxContentLength)
	}

	category = strings.TrimSpace(category)
	if category == "" {
		category = model.DefaultCategory
	}
	known := false
	for _, c := range o.opts.Categories {
		if c == category {
			known = true
			break
		}
	}
	if !known {
		return "", "", nil, validationError(op, "unknown category %q", category)
	}

	cleaned := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	if o.opts.MaxTags > 0 && len(cleaned) > o.opts.MaxTags {
		return "", "", nil, validationError(op, "at most %d tags allowed", o.opts.MaxTags)
	}
	return content, category, cleaned, nil
}

// CreatePost 发帖
func (o *Orchestrator) CreatePost(ctx context.Context, content, category string, tags []string) (err error) {
	const op = "createPost"
	pt := metrics.NewPerformanceTracker(o.metrics, op)
	epoch := o.currentEpoch()
	defer func() { o.finish(pt, op, epoch, err, "Post created") }()

	content, category, tags, err = o.normalizePost(content, category, tags)
	if err != nil {
		return err
	}
	b, err := o.requireContract(op)
	if err != nil {
		return err
	}
	epoch = b.epoch

	lease, err := o.creating.BeginOp(ctx, createKey, inflight.KindWrite, op)
	if err != nil {
		return busy(op, err)
	}
	defer lease.End()

	if err := lease.Advance(inflight.Submitting); err != nil {
		return err
	}
	tx, err := b.contract.CreatePost(ctx, content, category, tags)
	if err != nil {
		return o.txFailed(op, "createPost", err)
	}
	ctx, cancel := o.detach(ctx)
	defer cancel()
	if err := lease.Advance(inflight.Confirming); err != nil {
		return err
	}
	if err := o.confirm(ctx, op, "createPost", tx); err != nil {
		return err
	}
	return o.settle(ctx, lease, op)
}

func validReaction(op string, postID uint64, rt model.ReactionType) error {
	if postID == 0 {
		return validationError(op, "post id is required")
	}
	if !rt.Valid() {
		return validationError(op, "unknown reaction type %d", uint8(rt))
	}
	return nil
}

// AddReaction 设置当前账户对帖子的表情；已有其他表情时先移除再添加
func (o *Orchestrator) AddReaction(ctx context.Context, postID uint64, rt model.ReactionType) (err error) {
	const op = "addReaction"
	pt := metrics.NewPerformanceTracker(o.metrics, op)
	epoch := o.currentEpoch()
	success := fmt.Sprintf("Reacted with %s %s", rt.Emoji(), rt)
	defer func() { o.finish(pt, op, epoch, err, success) }()

	if err := validReaction(op, postID, rt); err != nil {
		return err
	}
	b, err := o.requireContract(op)
	if err != nil {
		return err
	}
	epoch = b.epoch

	lease, err := o.posts.BeginOp(ctx, postKey(postID), inflight.KindWrite, opReaction)
	if err != nil {
		return busy(op, err)
	}
	defer lease.End()

	current, has, err := b.contract.UserReaction(ctx, postID, b.account())
	if err != nil {
		return opError(op, ErrTransaction, err)
	}
	if has && model.ReactionType(current) == rt {
		return nil
	}

	client, err := o.requireFHE(op, b, ErrEncryption)
	if err != nil {
		return err
	}
	if err := lease.Advance(inflight.Encrypting); err != nil {
		return err
	}
	in, err := o.encrypt(ctx, op, client, b, []uint64{1})
	if err != nil {
		return err
	}

	// 移除与添加作为一个整体提交，调用方取消不会中断
	ctx, cancel := o.detach(ctx)
	defer cancel()

	if has {
		if err := lease.Advance(inflight.Submitting); err != nil {
			return err
		}
		tx, err := b.contract.RemoveReaction(ctx, postID)
		if err != nil {
			return o.txFailed(op, "removeReaction", err)
		}
		if err := lease.Advance(inflight.Confirming); err != nil {
			return err
		}
		if err := o.confirm(ctx, op, "removeReaction", tx); err != nil {
			return err
		}
	}

	if err := lease.Advance(inflight.Submitting); err != nil {
		return err
	}
	tx, addErr := b.contract.AddReaction(ctx, postID, uint8(rt), in)
	if addErr != nil {
		addErr = o.txFailed(op, "addReaction", addErr)
	}
	if addErr == nil {
		if err := lease.Advance(inflight.Confirming); err != nil {
			return err
		}
		addErr = o.confirm(ctx, op, "addReaction", tx)
	}
	if addErr != nil {
		if has {
			o.restoreReaction(ctx, lease, b, client, postID, model.ReactionType(current))
			o.resync(ctx, op)
		}
		return addErr
	}
	return o.settle(ctx, lease, op)
}

// restoreReaction 切换表情时 add 失败，重新加回原表情
func (o *Orchestrator) restoreReaction(ctx context.Context, lease *inflight.Lease, b *binding, client fhe.Client, postID uint64, previous model.ReactionType) {
	const op = "restoreReaction"
	log := o.log.With(zap.Uint64("post_id", postID), zap.Stringer("reaction", previous))

	if err := lease.Advance(inflight.Encrypting); err != nil {
		log.Error("cannot restore reaction", zap.Error(err))
		return
	}
	in, err := o.encrypt(ctx, op, client, b, []uint64{1})
	if err != nil {
		log.Error("cannot restore reaction", zap.Error(err))
		return
	}
	if err := lease.Advance(inflight.Submitting); err != nil {
		log.Error("cannot restore reaction", zap.Error(err))
		return
	}
	tx, err := b.contract.AddReaction(ctx, postID, uint8(previous), in)
	if err != nil {
		err = o.txFailed(op, "addReaction", err)
	}
	if err == nil {
		_ = lease.Advance(inflight.Confirming)
		err = o.confirm(ctx, op, "addReaction", tx)
	}
	if err != nil {
		log.Error("cannot restore reaction", zap.Error(err))
		return
	}
	log.Info("previous reaction restored")
}

// RemoveReaction 移除当前账户对帖子的表情
func (o *Orchestrator) RemoveReaction(ctx context.Context, postID uint64) (err error) {
	const op = "removeReaction"
	pt := metrics.NewPerformanceTracker(o.metrics, op)
	epoch := o.currentEpoch()
	defer func() { o.finish(pt, op, epoch, err, "Reaction removed") }()

	if postID == 0 {
		return validationError(op, "post id is required")
	}
	b, err := o.requireContract(op)
	if err != nil {
		return err
	}
	epoch = b.epoch

	lease, err := o.posts.BeginOp(ctx, postKey(postID), inflight.KindWrite, opReaction)
	if err != nil {
		return busy(op, err)
	}
	defer lease.End()

	_, has, err := b.contract.UserReaction(ctx, postID, b.account())
	if err != nil {
		return opError(op, ErrTransaction, err)
	}
	if !has {
		return validationError(op, "no reaction on post %d", postID)
	}

	if err := lease.Advance(inflight.Submitting); err != nil {
		return err
	}
	tx, err := b.contract.RemoveReaction(ctx, postID)
	if err != nil {
		return o.txFailed(op, "removeReaction", err)
	}
	ctx, cancel := o.detach(ctx)
	defer cancel()
	if err := lease.Advance(inflight.Confirming); err != nil {
		return err
	}
	if err := o.confirm(ctx, op, "removeReaction", tx); err != nil {
		return err
	}
	return o.settle(ctx, lease, op)
}

// AddComment 加密评论内容后提交，只支持一级评论
func (o *Orchestrator) AddComment(ctx context.Context, postID uint64, text string) (err error) {
	const op = "addComment"
	pt := metrics.NewPerformanceTracker(o.metrics, op)
	epoch := o.currentEpoch()
	defer func() { o.finish(pt, op, epoch, err, "Comment posted") }()

	if postID == 0 {
		return validationError(op, "post id is required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return validationError(op, "comment is empty")
	}
	if o.opts.MaxCommentLength > 0 && len(text) > o.opts.MaxCommentLength {
		return validationError(op, "comment exceeds %d bytes", o.opts.MaxCommentLength)
	}
	b, err := o.requireContract(op)
	if err != nil {
		return err
	}
	epoch = b.epoch

	lease, err := o.posts.BeginOp(ctx, postKey(postID), inflight.KindWrite, opComment)
	if err != nil {
		return busy(op, err)
	}
	defer lease.End()

	client, err := o.requireFHE(op, b, ErrEncryption)
	if err != nil {
		return err
	}
	if err := lease.Advance(inflight.Encrypting); err != nil {
		return err
	}
	in, err := o.encrypt(ctx, op, client, b, fhe.PackText(text))
	if err != nil {
		return err
	}

	if err := lease.Advance(inflight.Submitting); err != nil {
		return err
	}
	tx, err := b.contract.AddComment(ctx, postID, 0, in)
	if err != nil {
		return o.txFailed(op, "addComment", err)
	}
	ctx, cancel := o.detach(ctx)
	defer cancel()
	if err := lease.Advance(inflight.Confirming); err != nil {
		return err
	}
	if err := o.confirm(ctx, op, "addComment", tx); err != nil {
		return err
	}
	return o.settle(ctx, lease, op)
}

func (o *Orchestrator) encrypt(ctx context.Context, op string, client fhe.Client, b *binding, values []uint64) (*fhe.EncryptedInput, error) {
	in, err := client.Encrypt(ctx, b.contract.Address(), b.account(), values)
	o.metrics.RecordFHECall("encrypt", err == nil)
	if err != nil {
		return nil, opError(op, ErrEncryption, err)
	}
	return in, nil
}
