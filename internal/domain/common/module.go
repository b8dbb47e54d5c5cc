package common

import (
	commonHandler "encrypted_like/internal/pkg/common"
	"encrypted_like/internal/pkg/registry"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CommonModule 通用功能模块
type CommonModule struct{}

func init() {
	registry.Register(&CommonModule{})
}

func (m *CommonModule) Name() string {
	return "common"
}

func (m *CommonModule) Priority() int {
	return 100 // 最后初始化
}

func (m *CommonModule) Init(ctx *registry.ModuleContext) error {
	gatherer := ctx.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := commonHandler.NewHealthHandler(ctx.Config, ctx.Session)
	setupRoutes(ctx.Router, h, gatherer)
	return nil
}

func setupRoutes(r *gin.Engine, h *commonHandler.HealthHandler, gatherer prometheus.Gatherer) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
