package model

import (
	"fmt"
	"strconv"
	"strings"

	"encrypted_like/internal/pkg/chain"
	"encrypted_like/internal/pkg/fhe"

	"github.com/ethereum/go-ethereum/common"
)

// ReactionType 表情类型，与合约中的 uint8 取值一致
type ReactionType uint8

const (
	Like ReactionType = iota
	Love
	Laugh
	Wow
	Sad
)

var reactionNames = [chain.ReactionTypes]string{"Like", "Love", "Laugh", "Wow", "Sad"}
var reactionEmojis = [chain.ReactionTypes]string{"👍", "❤️", "😂", "😮", "😢"}

// AllReactions 全部表情，按取值升序
func AllReactions() []ReactionType {
	out := make([]ReactionType, chain.ReactionTypes)
	for i := range out {
		out[i] = ReactionType(i)
	}
	return out
}

func (r ReactionType) Valid() bool {
	return int(r) < chain.ReactionTypes
}

func (r ReactionType) String() string {
	if !r.Valid() {
		return fmt.Sprintf("ReactionType(%d)", uint8(r))
	}
	return reactionNames[r]
}

// Emoji 展示用表情符号
func (r ReactionType) Emoji() string {
	if !r.Valid() {
		return ""
	}
	return reactionEmojis[r]
}

// ParseReactionType 接受数字或名称（不区分大小写）
func ParseReactionType(s string) (ReactionType, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		if r := ReactionType(n); r.Valid() {
			return r, nil
		}
		return 0, fmt.Errorf("unknown reaction type %q", s)
	}
	for i, name := range reactionNames {
		if strings.EqualFold(name, s) {
			return ReactionType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown reaction type %q", s)
}

// UnmarshalJSON 接受数字或名称字符串
func (r *ReactionType) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("invalid reaction type %s: %w", s, err)
		}
		s = unquoted
	}
	parsed, err := ParseReactionType(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// DefaultCategories 前端提供的分类
var DefaultCategories = []string{"Technology", "Lifestyle", "Art", "Other"}

// DefaultCategory 未选择分类时使用
const DefaultCategory = "Other"

// Post 帖子视图
type Post struct {
	ID        uint64         `json:"id"`
	Author    common.Address `json:"author"`
	Content   string         `json:"content"`
	Category  string         `json:"category"`
	Tags      []string       `json:"tags"`
	Timestamp uint64         `json:"timestamp"`

	ReactionHandles       map[ReactionType]fhe.Handle `json:"reactionHandles"`
	DecryptedReactions    map[ReactionType]uint64     `json:"decryptedReactions"`
	CommentCountHandle    fhe.Handle                  `json:"commentCountHandle"`
	DecryptedCommentCount *uint64                     `json:"decryptedCommentCount,omitempty"`

	UserReaction *ReactionType `json:"userReaction,omitempty"`
	IsAuthor     bool          `json:"isAuthor"`
}

// Comment 评论视图
type Comment struct {
	ID               uint64         `json:"id"`
	PostID           uint64         `json:"postId"`
	ParentCommentID  uint64         `json:"parentCommentId"`
	Author           common.Address `json:"author"`
	Timestamp        uint64         `json:"timestamp"`
	ContentHandles   []fhe.Handle   `json:"contentHandles"`
	DecryptedContent *string        `json:"decryptedContent,omitempty"`
	CanDecrypt       bool           `json:"canDecrypt"`
}

// Status 视图状态
type Status string

const (
	StatusDisconnected Status = "disconnected" // 未连接钱包
	StatusNotDeployed  Status = "not_deployed" // 当前链没有合约
	StatusLoading      Status = "loading"
	StatusError        Status = "error" // 首次读取失败
	StatusEmpty        Status = "empty"
	StatusReady        Status = "ready"
)

// FHE 客户端状态
const (
	FHEReady       = "ready"
	FHEUnavailable = "unavailable"
)

// Flags 进行中的操作
type Flags struct {
	IsCreatingPost bool     `json:"isCreatingPost"`
	Reacting       []uint64 `json:"reacting"`
	Commenting     []uint64 `json:"commenting"`
	IsDecrypting   bool     `json:"isDecrypting"`
	IsRefreshing   bool     `json:"isRefreshing"`
}

// View 暴露给展示层的完整视图
type View struct {
	Status    Status          `json:"status"`
	Account   *common.Address `json:"account,omitempty"`
	ChainID   uint64          `json:"chainId,omitempty"`
	Contract  *common.Address `json:"contract,omitempty"`
	FHEStatus string          `json:"fheStatus,omitempty"`
	Posts     []Post          `json:"posts"`
	Comments  []Comment       `json:"comments"`
	Flags     Flags           `json:"flags"`
	Message   string          `json:"message,omitempty"`
	Epoch     uint64          `json:"epoch"`
	Seq       uint64          `json:"seq"`
}

// Post 按 id 查找
func (v *View) Post(id uint64) (*Post, bool) {
	for i := range v.Posts {
		if v.Posts[i].ID == id {
			return &v.Posts[i], true
		}
	}
	return nil, false
}

// Comment 按 id 查找
func (v *View) Comment(id uint64) (*Comment, bool) {
	for i := range v.Comments {
		if v.Comments[i].ID == id {
			return &v.Comments[i], true
		}
	}
	return nil, false
}

// DisplayCount 已解密显示数字，否则显示加密状态
func DisplayCount(v *uint64) string {
	if v == nil {
		return "🔒 Encrypted"
	}
	return strconv.FormatUint(*v, 10)
}
