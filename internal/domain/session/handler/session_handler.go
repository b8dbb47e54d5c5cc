package handler

import (
	"errors"
	"net/http"

	"encrypted_like/internal/domain/session/service"
	"encrypted_like/internal/pkg/wallet"
	"encrypted_like/pkg/response"

	"github.com/gin-gonic/gin"
)

// SessionHandler 钱包会话处理器
type SessionHandler struct {
	service service.SessionService
}

// NewSessionHandler 创建处理器
func NewSessionHandler(s service.SessionService) *SessionHandler {
	return &SessionHandler{service: s}
}

// ConnectInput 连接钱包输入
type ConnectInput struct {
	AccountIndex *int   `json:"accountIndex" binding:"required,min=0"`
	ChainID      uint64 `json:"chainId" binding:"required"`
}

// SwitchChainInput 切换链输入
type SwitchChainInput struct {
	ChainID uint64 `json:"chainId" binding:"required"`
}

// SwitchAccountInput 切换账户输入
type SwitchAccountInput struct {
	AccountIndex *int `json:"accountIndex" binding:"required,min=0"`
}

// Connect 连接钱包
func (h *SessionHandler) Connect(c *gin.Context) {
	var input ConnectInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	sess, err := h.service.Connect(c.Request.Context(), *input.AccountIndex, input.ChainID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, sess)
}

// SwitchChain 切换链
func (h *SessionHandler) SwitchChain(c *gin.Context) {
	var input SwitchChainInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	sess, err := h.service.SwitchChain(c.Request.Context(), input.ChainID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, sess)
}

// SwitchAccount 切换账户
func (h *SessionHandler) SwitchAccount(c *gin.Context) {
	var input SwitchAccountInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	sess, err := h.service.SwitchAccount(c.Request.Context(), *input.AccountIndex)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, sess)
}

// Disconnect 断开钱包
func (h *SessionHandler) Disconnect(c *gin.Context) {
	response.Success(c, h.service.Disconnect(c.Request.Context()))
}

// Current 当前会话
func (h *SessionHandler) Current(c *gin.Context) {
	response.Success(c, h.service.Current())
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotConnected):
		response.Error(c, http.StatusConflict, response.ErrNotConnected, err.Error())
	case errors.Is(err, wallet.ErrUnknownAccount):
		response.Error(c, http.StatusBadRequest, response.ErrUnknownAccount, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
	}
}
