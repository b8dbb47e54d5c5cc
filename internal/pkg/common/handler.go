package handler

import (
	"time"

	sessionService "encrypted_like/internal/domain/session/service"
	"encrypted_like/internal/pkg/config"
	"encrypted_like/pkg/response"

	"github.com/gin-gonic/gin"
)

// HealthHandler 健康检查
type HealthHandler struct {
	cfg     *config.Config
	session sessionService.SessionService
	started time.Time
}

// NewHealthHandler 创建健康检查处理器，session 可以为 nil
func NewHealthHandler(cfg *config.Config, session sessionService.SessionService) *HealthHandler {
	return &HealthHandler{cfg: cfg, session: session, started: time.Now()}
}

// ChainStatus 已配置的链
type ChainStatus struct {
	ChainID uint64 `json:"chainId"`
	Name    string `json:"name"`
	Mode    string `json:"mode"`
}

// HealthStatus 健康检查结果
type HealthStatus struct {
	Status    string        `json:"status"`
	Env       string        `json:"env"`
	Uptime    string        `json:"uptime"`
	Chains    []ChainStatus `json:"chains"`
	Connected bool          `json:"connected"`
	ChainID   uint64        `json:"chainId,omitempty"`
}

// Health 服务状态
// @Summary 健康检查
// @Tags Common
// @Produce json
// @Success 200 {object} HealthStatus
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	st := HealthStatus{
		Status: "ok",
		Env:    h.cfg.App.Env,
		Uptime: time.Since(h.started).Round(time.Second).String(),
		Chains: make([]ChainStatus, 0, len(h.cfg.Chains)),
	}
	for _, ch := range h.cfg.Chains {
		st.Chains = append(st.Chains, ChainStatus{ChainID: ch.ChainID, Name: ch.Name, Mode: ch.Mode})
	}
	if h.session != nil {
		sess := h.session.Current()
		st.Connected = sess.Connected
		st.ChainID = sess.ChainID
	}
	response.Success(c, st)
}
