package handler

import (
	"errors"
	"net/http"
	"strconv"

	"encrypted_like/internal/domain/social/model"
	"encrypted_like/internal/domain/social/service"
	"encrypted_like/internal/pkg/fhe"
	"encrypted_like/pkg/response"
	"encrypted_like/pkg/utils"

	"github.com/gin-gonic/gin"
)

type SocialHandler struct {
	service service.SocialService
}

func NewSocialHandler(s service.SocialService) *SocialHandler {
	return &SocialHandler{service: s}
}

// CreatePostInput 发帖输入
type CreatePostInput struct {
	Content  string   `json:"content" binding:"required"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

// ReactionInput 表情输入，reactionType 可以是 0-4 或名称
type ReactionInput struct {
	ReactionType *model.ReactionType `json:"reactionType" binding:"required"`
}

// CommentInput 评论输入
type CommentInput struct {
	Text string `json:"text" binding:"required"`
}

// DecryptInput 解密单个句柄
type DecryptInput struct {
	Handle *fhe.Handle `json:"handle" binding:"required"`
}

// DecryptContentInput 解密评论正文分片
type DecryptContentInput struct {
	Handles []fhe.Handle `json:"handles" binding:"required,min=1"`
}

// CountResult 解密后的计数
type CountResult struct {
	Value   uint64 `json:"value"`
	Display string `json:"display"`
}

// View 当前视图
// @Summary 获取视图
// @Tags Social
// @Produce json
// @Success 200 {object} model.View
// @Router /social/view [get]
func (h *SocialHandler) View(c *gin.Context) {
	response.Success(c, h.service.View(c.Request.Context()))
}

// ListPosts 分页列出视图中的帖子
// @Summary 帖子列表
// @Tags Social
// @Produce json
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Success 200 {object} utils.PageResult
// @Router /social/posts [get]
func (h *SocialHandler) ListPosts(c *gin.Context) {
	var p utils.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	v := h.service.View(c.Request.Context())
	response.Success(c, utils.Paginate(v.Posts, &p))
}

// Refresh 重读链上状态
// @Summary 刷新
// @Tags Social
// @Produce json
// @Success 200 {object} model.View
// @Router /social/refresh [post]
func (h *SocialHandler) Refresh(c *gin.Context) {
	if err := h.service.Refresh(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, h.service.View(c.Request.Context()))
}

// CreatePost 发帖
// @Summary 发帖
// @Tags Social
// @Accept json
// @Produce json
// @Param input body CreatePostInput true "帖子内容"
// @Success 200 {object} model.View
// @Router /social/posts [post]
func (h *SocialHandler) CreatePost(c *gin.Context) {
	var input CreatePostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	if err := h.service.CreatePost(c.Request.Context(), input.Content, input.Category, input.Tags); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, h.service.View(c.Request.Context()))
}

// AddReaction 设置表情
// @Summary 设置表情
// @Tags Social
// @Accept json
// @Produce json
// @Param id path int true "帖子ID"
// @Param input body ReactionInput true "表情"
// @Success 200 {object} model.View
// @Router /social/posts/{id}/reactions [post]
func (h *SocialHandler) AddReaction(c *gin.Context) {
	postID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var input ReactionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	if err := h.service.AddReaction(c.Request.Context(), postID, *input.ReactionType); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, h.service.View(c.Request.Context()))
}

// RemoveReaction 移除表情
// @Summary 移除表情
// @Tags Social
// @Produce json
// @Param id path int true "帖子ID"
// @Success 200 {object} model.View
// @Router /social/posts/{id}/reactions [delete]
func (h *SocialHandler) RemoveReaction(c *gin.Context) {
	postID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.RemoveReaction(c.Request.Context(), postID); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, h.service.View(c.Request.Context()))
}

// AddComment 发表加密评论
// @Summary 评论
// @Tags Social
// @Accept json
// @Produce json
// @Param id path int true "帖子ID"
// @Param input body CommentInput true "评论内容"
// @Success 200 {object} model.View
// @Router /social/posts/{id}/comments [post]
func (h *SocialHandler) AddComment(c *gin.Context) {
	postID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var input CommentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	if err := h.service.AddComment(c.Request.Context(), postID, input.Text); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, h.service.View(c.Request.Context()))
}

// Comments 帖子的一级评论
// @Summary 评论列表
// @Tags Social
// @Produce json
// @Param id path int true "帖子ID"
// @Success 200 {array} model.Comment
// @Router /social/posts/{id}/comments [get]
func (h *SocialHandler) Comments(c *gin.Context) {
	postID, ok := pathID(c, "id")
	if !ok {
		return
	}
	comments, err := h.service.Comments(c.Request.Context(), postID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, comments)
}

// DecryptReactionCount 解密表情计数
// @Summary 解密表情计数（仅作者）
// @Tags Social
// @Accept json
// @Produce json
// @Param id path int true "帖子ID"
// @Param type path string true "表情类型"
// @Param input body DecryptInput true "句柄"
// @Success 200 {object} CountResult
// @Router /social/posts/{id}/reactions/{type}/decrypt [post]
func (h *SocialHandler) DecryptReactionCount(c *gin.Context) {
	postID, ok := pathID(c, "id")
	if !ok {
		return
	}
	rt, err := model.ParseReactionType(c.Param("type"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	var input DecryptInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	n, err := h.service.DecryptReactionCount(c.Request.Context(), postID, rt, *input.Handle)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, CountResult{Value: n, Display: model.DisplayCount(&n)})
}

// DecryptCommentCount 解密评论数
// @Summary 解密评论数（仅作者）
// @Tags Social
// @Accept json
// @Produce json
// @Param id path int true "帖子ID"
// @Param input body DecryptInput true "句柄"
// @Success 200 {object} CountResult
// @Router /social/posts/{id}/comment-count/decrypt [post]
func (h *SocialHandler) DecryptCommentCount(c *gin.Context) {
	postID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var input DecryptInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	n, err := h.service.DecryptCommentCount(c.Request.Context(), postID, *input.Handle)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, CountResult{Value: n, Display: model.DisplayCount(&n)})
}

// DecryptCommentContent 解密评论正文
// @Summary 解密评论（评论作者或帖子作者）
// @Tags Social
// @Accept json
// @Produce json
// @Param id path int true "评论ID"
// @Param input body DecryptContentInput true "句柄"
// @Success 200 {object} map[string]string
// @Router /social/comments/{id}/decrypt [post]
func (h *SocialHandler) DecryptCommentContent(c *gin.Context) {
	commentID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var input DecryptContentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	text, err := h.service.DecryptCommentContent(c.Request.Context(), commentID, input.Handles)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"content": text})
}

func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "invalid "+name)
		return 0, false
	}
	return id, true
}

// writeError 失败阶段映射为 HTTP 状态和业务码
func writeError(c *gin.Context, err error) {
	msg := service.Message(err)
	switch {
	case errors.Is(err, service.ErrValidation):
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, msg)
	case errors.Is(err, service.ErrNotConnected):
		response.Error(c, http.StatusConflict, response.ErrNotConnected, msg)
	case errors.Is(err, service.ErrUnsupportedChain):
		response.Error(c, http.StatusConflict, response.ErrUnsupportedChain, msg)
	case errors.Is(err, service.ErrBusy):
		response.Error(c, http.StatusConflict, response.ErrBusy, msg)
	case errors.Is(err, service.ErrEncryption):
		response.Error(c, http.StatusBadGateway, response.ErrEncryption, msg)
	case errors.Is(err, service.ErrTransaction):
		response.Error(c, http.StatusUnprocessableEntity, response.ErrTransaction, msg)
	case errors.Is(err, service.ErrDecryptionAuthorization):
		response.Error(c, http.StatusForbidden, response.ErrDecryptionAuthorization, msg)
	case errors.Is(err, service.ErrDecryptionTransport):
		response.Error(c, http.StatusBadGateway, response.ErrDecryptionTransport, msg)
	case errors.Is(err, service.ErrClosed):
		response.Error(c, http.StatusServiceUnavailable, response.ErrServerInternal, msg)
	default:
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, msg)
	}
}
