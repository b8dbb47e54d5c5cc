package service

import (
	"context"

	"encrypted_like/internal/domain/social/model"
	"encrypted_like/internal/pkg/fhe"
)

// SocialService 展示层可用的用户意图和视图
type SocialService interface {
	View(ctx context.Context) model.View
	Refresh(ctx context.Context) error
	Comments(ctx context.Context, postID uint64) ([]model.Comment, error)

	CreatePost(ctx context.Context, content, category string, tags []string) error
	AddReaction(ctx context.Context, postID uint64, rt model.ReactionType) error
	RemoveReaction(ctx context.Context, postID uint64) error
	AddComment(ctx context.Context, postID uint64, text string) error

	DecryptReactionCount(ctx context.Context, postID uint64, rt model.ReactionType, handle fhe.Handle) (uint64, error)
	DecryptCommentCount(ctx context.Context, postID uint64, handle fhe.Handle) (uint64, error)
	DecryptCommentContent(ctx context.Context, commentID uint64, handles []fhe.Handle) (string, error)
}

var _ SocialService = (*Orchestrator)(nil)
