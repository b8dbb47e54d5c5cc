package devnet

import "time"

// Ciphertext 模拟协处理器中的密文，Value 按位存储 uint64
type Ciphertext struct {
	Handle    string `gorm:"primaryKey;size:66"`
	Value     int64
	CreatedAt time.Time
}

func (Ciphertext) TableName() string { return "devnet_ciphertexts" }

// ACLEntry 允许解密句柄的账户
type ACLEntry struct {
	Handle  string `gorm:"primaryKey;size:66"`
	Account string `gorm:"primaryKey;size:42"`
}

func (ACLEntry) TableName() string { return "devnet_acl" }

// Post 链上帖子
type Post struct {
	ID                 uint64   `gorm:"primaryKey;autoIncrement"`
	Author             string   `gorm:"size:42;index"`
	Content            string   `gorm:"type:text"`
	Category           string   `gorm:"size:64"`
	Tags               []string `gorm:"serializer:json"`
	Timestamp          uint64
	CommentCountHandle string   `gorm:"size:66"`
}

func (Post) TableName() string { return "devnet_posts" }

// ReactionCounter 每个帖子每种表情的加密计数
type ReactionCounter struct {
	PostID       uint64 `gorm:"primaryKey;autoIncrement:false"`
	ReactionType uint8  `gorm:"primaryKey;autoIncrement:false"`
	Handle       string `gorm:"size:66"`
}

func (ReactionCounter) TableName() string { return "devnet_reaction_counters" }

// UserReaction 调用者当前的表情，每人每帖最多一条
type UserReaction struct {
	PostID       uint64 `gorm:"primaryKey;autoIncrement:false"`
	Account      string `gorm:"primaryKey;size:42"`
	ReactionType uint8
}

func (UserReaction) TableName() string { return "devnet_user_reactions" }

// Comment 链上评论，正文为密文句柄
type Comment struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement"`
	PostID          uint64 `gorm:"index"`
	ParentCommentID uint64
	Author          string `gorm:"size:42"`
	Timestamp       uint64
	ContentHandles  []string `gorm:"serializer:json"`
}

func (Comment) TableName() string { return "devnet_comments" }

// Models 需要迁移的全部表
func Models() []interface{} {
	return []interface{}{&Ciphertext{}, &ACLEntry{}, &Post{}, &ReactionCounter{}, &UserReaction{}, &Comment{}}
}
