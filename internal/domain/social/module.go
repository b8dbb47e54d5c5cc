package social

import (
	"errors"

	"encrypted_like/internal/domain/social/handler"
	"encrypted_like/internal/domain/social/service"
	"encrypted_like/internal/pkg/inflight"
	"encrypted_like/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// SocialModule 帖子、表情、加密评论
type SocialModule struct{}

func init() {
	registry.Register(&SocialModule{})
}

func (m *SocialModule) Name() string {
	return "social"
}

func (m *SocialModule) Priority() int {
	return 10
}

func (m *SocialModule) Init(ctx *registry.ModuleContext) error {
	if ctx.Session == nil {
		return errors.New("session module must be initialized first")
	}
	cfg := ctx.Config.Social
	policy, err := inflight.ParsePolicy(cfg.BusyPolicy)
	if err != nil {
		return err
	}

	orch := service.NewOrchestrator(service.Deps{
		Session:    ctx.Session,
		Connector:  ctx.Connector,
		FHE:        ctx.FHE,
		Signatures: ctx.Signatures,
		Workers:    ctx.Workers,
		Metrics:    ctx.Metrics,
		Log:        ctx.Logger.Named("social"),
	}, service.Options{
		MaxContentLength: cfg.MaxContentLength,
		MaxCommentLength: cfg.MaxCommentLength,
		MaxTags:          cfg.MaxTags,
		Categories:       cfg.Categories,
		BusyPolicy:       policy,
		PageSize:         cfg.PageSize,
		PollInterval:     cfg.PollInterval,
	})
	ctx.OnClose(orch.Close)

	setupRoutes(ctx.Router, handler.NewSocialHandler(orch))
	return nil
}

func setupRoutes(r *gin.Engine, h *handler.SocialHandler) {
	g := r.Group("/social")
	{
		g.GET("/view", h.View)
		g.POST("/refresh", h.Refresh)

		g.GET("/posts", h.ListPosts)
		g.POST("/posts", h.CreatePost)
		g.POST("/posts/:id/reactions", h.AddReaction)
		g.DELETE("/posts/:id/reactions", h.RemoveReaction)
		g.POST("/posts/:id/reactions/:type/decrypt", h.DecryptReactionCount)
		g.GET("/posts/:id/comments", h.Comments)
		g.POST("/posts/:id/comments", h.AddComment)
		g.POST("/posts/:id/comment-count/decrypt", h.DecryptCommentCount)

		g.POST("/comments/:id/decrypt", h.DecryptCommentContent)
	}
}
