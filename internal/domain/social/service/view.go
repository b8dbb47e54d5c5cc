package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"encrypted_like/internal/domain/social/model"
	"encrypted_like/internal/pkg/chain"
	"encrypted_like/internal/pkg/fhe"
	"encrypted_like/internal/pkg/inflight"

	"go.uber.org/zap"
)

// viewState 最近一次应用的链上读取结果
type viewState struct {
	loaded   bool
	failed   bool
	seq      uint64
	posts    []model.Post
	comments []model.Comment
	message  string
}

// snapshot 一次完整的链上读取，带序号和会话 epoch
type snapshot struct {
	seq      uint64
	epoch    uint64
	posts    []model.Post
	comments []model.Comment
}

// Refresh 重读链上全部帖子与评论并应用到视图
func (o *Orchestrator) Refresh(ctx context.Context) error {
	const op = "refresh"
	b, err := o.requireContract(op)
	if err != nil {
		return err
	}

	lease, err := o.refreshing.BeginOp(ctx, viewKey, inflight.KindRead, op)
	if err != nil {
		return err
	}
	defer lease.End()
	if err := lease.Advance(inflight.Refreshing); err != nil {
		return err
	}

	snap, err := o.read(ctx, b)
	if err != nil {
		o.metrics.RecordRefresh("error", 0)
		o.mu.Lock()
		if o.bind.epoch == b.epoch {
			o.state.message = fmt.Sprintf("Failed to load posts: %v", err)
			o.state.failed = true
		}
		o.mu.Unlock()
		return fmt.Errorf("refresh: %w", err)
	}

	result := o.apply(snap)
	o.metrics.RecordRefresh(result, len(snap.posts))
	o.log.Debug("refresh finished",
		zap.String("result", result),
		zap.Uint64("seq", snap.seq),
		zap.Int("posts", len(snap.posts)),
		zap.Int("comments", len(snap.comments)),
	)
	return nil
}

// read 读取链上状态；序号在读取开始前分配
func (o *Orchestrator) read(ctx context.Context, b *binding) (*snapshot, error) {
	snap := &snapshot{seq: o.readSeq.Add(1), epoch: b.epoch}
	c := b.contract
	account := b.account()

	count, err := c.PostCount(ctx)
	if err != nil {
		return nil, err
	}

	page := uint64(o.opts.PageSize)
	var records []chain.PostRecord
	for offset := uint64(0); offset < count; offset += page {
		batch, err := c.GetPosts(ctx, offset, page)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		records = append(records, batch...)
	}

	for _, r := range records {
		p := model.Post{
			ID:              r.ID,
			Author:          r.Author,
			Content:         r.Content,
			Category:        r.Category,
			Tags:            r.Tags,
			Timestamp:       r.Timestamp,
			ReactionHandles: make(map[model.ReactionType]fhe.Handle, chain.ReactionTypes),
			IsAuthor:        r.Author == account,
		}
		if p.Tags == nil {
			p.Tags = []string{}
		}
		for _, rt := range model.AllReactions() {
			h, err := c.ReactionCountHandle(ctx, r.ID, uint8(rt))
			if err != nil {
				return nil, err
			}
			if !h.IsZero() {
				p.ReactionHandles[rt] = h
			}
		}
		if p.CommentCountHandle, err = c.CommentCountHandle(ctx, r.ID); err != nil {
			return nil, err
		}
		rt, has, err := c.UserReaction(ctx, r.ID, account)
		if err != nil {
			return nil, err
		}
		if has {
			mine := model.ReactionType(rt)
			p.UserReaction = &mine
		}
		snap.posts = append(snap.posts, p)

		comments, err := c.GetPostComments(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		for _, cr := range comments {
			snap.comments = append(snap.comments, model.Comment{
				ID:              cr.ID,
				PostID:          cr.PostID,
				ParentCommentID: cr.ParentCommentID,
				Author:          cr.Author,
				Timestamp:       cr.Timestamp,
				ContentHandles:  cr.ContentHandles,
				CanDecrypt:      cr.Author == account || r.Author == account,
			})
		}
	}

	// 最新的帖子在前
	sort.SliceStable(snap.posts, func(i, j int) bool { return snap.posts[i].ID > snap.posts[j].ID })
	sort.SliceStable(snap.comments, func(i, j int) bool { return snap.comments[i].ID < snap.comments[j].ID })
	return snap, nil
}

// apply 用读取结果整体替换视图。旧序号或旧 epoch 的结果被丢弃，
// 因此同一结果应用多次得到相同视图。
func (o *Orchestrator) apply(snap *snapshot) string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.bind == nil || o.bind.epoch != snap.epoch {
		return "stale_epoch"
	}
	if o.state.loaded && snap.seq <= o.state.seq {
		return "stale"
	}
	o.state.loaded = true
	o.state.failed = false
	o.state.seq = snap.seq
	o.state.posts = snap.posts
	o.state.comments = snap.comments
	return "applied"
}

// View 当前视图快照，合并已解密的值
func (o *Orchestrator) View(ctx context.Context) model.View {
	o.mu.RLock()
	b := o.bind
	st := o.state
	o.mu.RUnlock()

	v := model.View{
		Posts:    []model.Post{},
		Comments: []model.Comment{},
		Message:  st.message,
		Epoch:    b.epoch,
		Seq:      st.seq,
		Flags:    o.flags(),
	}

	switch {
	case !b.session.Connected:
		v.Status = model.StatusDisconnected
		return v
	case b.contract == nil:
		v.Status = model.StatusNotDeployed
	case !st.loaded && st.failed:
		v.Status = model.StatusError
	case !st.loaded:
		v.Status = model.StatusLoading
	case len(st.posts) == 0:
		v.Status = model.StatusEmpty
	default:
		v.Status = model.StatusReady
	}

	account := b.account()
	v.Account = &account
	v.ChainID = b.session.ChainID
	v.FHEStatus = model.FHEReady
	if b.fhe == nil {
		v.FHEStatus = model.FHEUnavailable
	}
	if b.contract == nil {
		return v
	}
	addr := b.contract.Address()
	v.Contract = &addr

	for _, p := range st.posts {
		v.Posts = append(v.Posts, o.mergePost(ctx, p))
	}
	for _, c := range st.comments {
		v.Comments = append(v.Comments, o.mergeComment(ctx, c))
	}
	return v
}

// mergePost 拷贝帖子并填入仍然有效的解密值
func (o *Orchestrator) mergePost(ctx context.Context, p model.Post) model.Post {
	handles := make(map[model.ReactionType]fhe.Handle, len(p.ReactionHandles))
	for rt, h := range p.ReactionHandles {
		handles[rt] = h
	}
	p.ReactionHandles = handles
	p.Tags = append([]string{}, p.Tags...)
	p.DecryptedReactions = map[model.ReactionType]uint64{}

	if !p.IsAuthor {
		return p
	}
	for rt, h := range p.ReactionHandles {
		if values, ok := o.lookupDecrypted(ctx, reactionCacheKey(p.ID, rt), []fhe.Handle{h}); ok {
			p.DecryptedReactions[rt] = values[0]
		}
	}
	if !p.CommentCountHandle.IsZero() {
		if values, ok := o.lookupDecrypted(ctx, commentCountCacheKey(p.ID), []fhe.Handle{p.CommentCountHandle}); ok {
			n := values[0]
			p.DecryptedCommentCount = &n
		}
	}
	return p
}

func (o *Orchestrator) mergeComment(ctx context.Context, c model.Comment) model.Comment {
	c.ContentHandles = append([]fhe.Handle{}, c.ContentHandles...)
	if !c.CanDecrypt {
		return c
	}
	if values, ok := o.lookupDecrypted(ctx, commentContentCacheKey(c.ID), c.ContentHandles); ok {
		text := fhe.UnpackText(values)
		c.DecryptedContent = &text
	}
	return c
}

func (o *Orchestrator) flags() model.Flags {
	f := model.Flags{
		IsCreatingPost: o.creating.Busy(createKey),
		Reacting:       []uint64{},
		Commenting:     []uint64{},
		IsDecrypting:   o.decrypting.Any(),
		IsRefreshing:   o.refreshing.Any(),
	}
	for key, op := range o.posts.Ops() {
		id, err := strconv.ParseUint(strings.TrimPrefix(key, "post:"), 10, 64)
		if err != nil {
			continue
		}
		switch op {
		case opReaction:
			f.Reacting = append(f.Reacting, id)
		case opComment:
			f.Commenting = append(f.Commenting, id)
		}
	}
	sort.Slice(f.Reacting, func(i, j int) bool { return f.Reacting[i] < f.Reacting[j] })
	sort.Slice(f.Commenting, func(i, j int) bool { return f.Commenting[i] < f.Commenting[j] })
	return f
}

// Comments 帖子的一级评论，最新在前
func (o *Orchestrator) Comments(ctx context.Context, postID uint64) ([]model.Comment, error) {
	v := o.View(ctx)
	if _, ok := v.Post(postID); !ok {
		return nil, validationError("comments", "unknown post %d", postID)
	}

	out := make([]model.Comment, 0)
	for _, c := range v.Comments {
		if c.PostID == postID && c.ParentCommentID == 0 {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}
