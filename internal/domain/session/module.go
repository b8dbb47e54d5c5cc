package session

import (
	"encrypted_like/internal/domain/session/handler"
	"encrypted_like/internal/domain/session/service"
	"encrypted_like/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// SessionModule 钱包会话模块
type SessionModule struct{}

func init() {
	registry.Register(&SessionModule{})
}

func (m *SessionModule) Name() string {
	return "session"
}

func (m *SessionModule) Priority() int {
	// social 模块依赖会话
	return 1
}

func (m *SessionModule) Init(ctx *registry.ModuleContext) error {
	chainNames := make(map[uint64]string, len(ctx.Config.Chains))
	for _, ch := range ctx.Config.Chains {
		chainNames[ch.ChainID] = ch.Name
	}

	ctx.Session = service.NewSessionService(ctx.Keyring, chainNames, ctx.Logger.Named("session"))
	setupRoutes(ctx.Router, handler.NewSessionHandler(ctx.Session))
	return nil
}

func setupRoutes(r *gin.Engine, h *handler.SessionHandler) {
	g := r.Group("/session")
	{
		g.GET("", h.Current)
		g.POST("/connect", h.Connect)
		g.POST("/chain", h.SwitchChain)
		g.POST("/account", h.SwitchAccount)
		g.POST("/disconnect", h.Disconnect)
	}
}
