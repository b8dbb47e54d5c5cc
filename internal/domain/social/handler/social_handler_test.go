package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"encrypted_like/internal/domain/social/model"
	"encrypted_like/internal/domain/social/service"
	"encrypted_like/internal/pkg/fhe"
	"encrypted_like/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockSocialService 模拟编排层
type MockSocialService struct {
	mock.Mock
}

func (m *MockSocialService) View(ctx context.Context) model.View {
	args := m.Called()
	return args.Get(0).(model.View)
}

func (m *MockSocialService) Refresh(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *MockSocialService) Comments(ctx context.Context, postID uint64) ([]model.Comment, error) {
	args := m.Called(postID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Comment), args.Error(1)
}

func (m *MockSocialService) CreatePost(ctx context.Context, content, category string, tags []string) error {
	return m.Called(content, category, tags).Error(0)
}

func (m *MockSocialService) AddReaction(ctx context.Context, postID uint64, rt model.ReactionType) error {
	return m.Called(postID, rt).Error(0)
}

func (m *MockSocialService) RemoveReaction(ctx context.Context, postID uint64) error {
	return m.Called(postID).Error(0)
}

func (m *MockSocialService) AddComment(ctx context.Context, postID uint64, text string) error {
	return m.Called(postID, text).Error(0)
}

func (m *MockSocialService) DecryptReactionCount(ctx context.Context, postID uint64, rt model.ReactionType, handle fhe.Handle) (uint64, error) {
	args := m.Called(postID, rt, handle)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockSocialService) DecryptCommentCount(ctx context.Context, postID uint64, handle fhe.Handle) (uint64, error) {
	args := m.Called(postID, handle)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockSocialService) DecryptCommentContent(ctx context.Context, commentID uint64, handles []fhe.Handle) (string, error) {
	args := m.Called(commentID, handles)
	return args.String(0), args.Error(1)
}

func setupRouter(svc service.SocialService) *gin.Engine {
	h := NewSocialHandler(svc)
	r := gin.New()
	g := r.Group("/social")
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
	return r
}

func call(r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, response.Response) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp response.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func handle(b byte) fhe.Handle {
	var h fhe.Handle
	h[31] = b
	return h
}

func readyView(n int) model.View {
	v := model.View{Status: model.StatusReady}
	for i := n; i > 0; i-- {
		v.Posts = append(v.Posts, model.Post{ID: uint64(i), Content: fmt.Sprintf("post %d", i)})
	}
	return v
}

func TestCreatePost(t *testing.T) {
	t.Run("Success returns the view", func(t *testing.T) {
		svc := new(MockSocialService)
		svc.On("CreatePost", "hello", "Art", []string{"go"}).Return(nil)
		svc.On("View").Return(readyView(1))

		w, resp := call(setupRouter(svc), http.MethodPost, "/social/posts", `{"content":"hello","category":"Art","tags":["go"]}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, response.CodeSuccess, resp.Code)
		svc.AssertExpectations(t)
	})

	t.Run("Missing content", func(t *testing.T) {
		svc := new(MockSocialService)
		w, resp := call(setupRouter(svc), http.MethodPost, "/social/posts", `{"category":"Art"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, response.ErrInvalidParam, resp.Code)
		svc.AssertNotCalled(t, "CreatePost", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestWriteErrorMapping(t *testing.T) {
	cases := []struct {
		kind     error
		status   int
		code     int
		contains string
	}{
		{service.ErrValidation, http.StatusBadRequest, response.ErrInvalidParam, "Invalid input"},
		{service.ErrNotConnected, http.StatusConflict, response.ErrNotConnected, "connect your wallet"},
		{service.ErrUnsupportedChain, http.StatusConflict, response.ErrUnsupportedChain, "not deployed"},
		{service.ErrBusy, http.StatusConflict, response.ErrBusy, "in progress"},
		{service.ErrEncryption, http.StatusBadGateway, response.ErrEncryption, "Encryption failed"},
		{service.ErrTransaction, http.StatusUnprocessableEntity, response.ErrTransaction, "Transaction failed"},
	}
	for _, tc := range cases {
		t.Run(tc.kind.Error(), func(t *testing.T) {
			svc := new(MockSocialService)
			svc.On("AddReaction", uint64(3), model.Love).
				Return(&service.OpError{Op: "addReaction", Kind: tc.kind, Err: errors.New("boom")})

			w, resp := call(setupRouter(svc), http.MethodPost, "/social/posts/3/reactions", `{"reactionType":"love"}`)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, resp.Code)
			assert.Contains(t, resp.Message, tc.contains)
		})
	}

	t.Run("Closed orchestrator", func(t *testing.T) {
		svc := new(MockSocialService)
		svc.On("RemoveReaction", uint64(1)).Return(service.ErrClosed)
		w, _ := call(setupRouter(svc), http.MethodDelete, "/social/posts/1/reactions", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestReactionInput(t *testing.T) {
	t.Run("Numeric reaction type", func(t *testing.T) {
		svc := new(MockSocialService)
		svc.On("AddReaction", uint64(2), model.Wow).Return(nil)
		svc.On("View").Return(readyView(2))

		w, _ := call(setupRouter(svc), http.MethodPost, "/social/posts/2/reactions", `{"reactionType":3}`)
		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("Unknown reaction name", func(t *testing.T) {
		svc := new(MockSocialService)
		w, _ := call(setupRouter(svc), http.MethodPost, "/social/posts/2/reactions", `{"reactionType":"meh"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Invalid post id", func(t *testing.T) {
		svc := new(MockSocialService)
		w, _ := call(setupRouter(svc), http.MethodPost, "/social/posts/0/reactions", `{"reactionType":0}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListPosts(t *testing.T) {
	svc := new(MockSocialService)
	svc.On("View").Return(readyView(5))

	w, resp := call(setupRouter(svc), http.MethodGet, "/social/posts?page=2&limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	page := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(5), page["total"])
	list := page["list"].([]interface{})
	require.Len(t, list, 2)
	assert.Equal(t, float64(3), list[0].(map[string]interface{})["id"])
}

func TestDecryptEndpoints(t *testing.T) {
	h := handle(9)
	body := fmt.Sprintf(`{"handle":%q}`, h.String())

	t.Run("Reaction count", func(t *testing.T) {
		svc := new(MockSocialService)
		svc.On("DecryptReactionCount", uint64(1), model.Laugh, h).Return(uint64(4), nil)

		w, resp := call(setupRouter(svc), http.MethodPost, "/social/posts/1/reactions/laugh/decrypt", body)
		require.Equal(t, http.StatusOK, w.Code)
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, float64(4), data["value"])
		assert.Equal(t, "4", data["display"])
	})

	t.Run("Reaction count forbidden", func(t *testing.T) {
		svc := new(MockSocialService)
		svc.On("DecryptReactionCount", uint64(1), model.Like, h).
			Return(uint64(0), &service.OpError{Op: "decryptReactionCount", Kind: service.ErrDecryptionAuthorization, Err: errors.New("only the post author")})

		w, resp := call(setupRouter(svc), http.MethodPost, "/social/posts/1/reactions/0/decrypt", body)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, response.ErrDecryptionAuthorization, resp.Code)
	})

	t.Run("Unknown reaction type in path", func(t *testing.T) {
		svc := new(MockSocialService)
		w, _ := call(setupRouter(svc), http.MethodPost, "/social/posts/1/reactions/9/decrypt", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Comment count transport failure", func(t *testing.T) {
		svc := new(MockSocialService)
		svc.On("DecryptCommentCount", uint64(1), h).
			Return(uint64(0), &service.OpError{Op: "decryptCommentCount", Kind: service.ErrDecryptionTransport, Err: errors.New("relayer down")})

		w, resp := call(setupRouter(svc), http.MethodPost, "/social/posts/1/comment-count/decrypt", body)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, response.ErrDecryptionTransport, resp.Code)
	})

	t.Run("Comment content", func(t *testing.T) {
		svc := new(MockSocialService)
		handles := []fhe.Handle{handle(1), handle(2)}
		svc.On("DecryptCommentContent", uint64(6), handles).Return("secret words", nil)

		in := fmt.Sprintf(`{"handles":[%q,%q]}`, handles[0].String(), handles[1].String())
		w, resp := call(setupRouter(svc), http.MethodPost, "/social/comments/6/decrypt", in)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "secret words", resp.Data.(map[string]interface{})["content"])
	})

	t.Run("Empty handle list", func(t *testing.T) {
		svc := new(MockSocialService)
		w, _ := call(setupRouter(svc), http.MethodPost, "/social/comments/6/decrypt", `{"handles":[]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCommentsAndRefresh(t *testing.T) {
	t.Run("Comments of a post", func(t *testing.T) {
		svc := new(MockSocialService)
		svc.On("Comments", uint64(4)).Return([]model.Comment{{ID: 2, PostID: 4}, {ID: 1, PostID: 4}}, nil)

		w, resp := call(setupRouter(svc), http.MethodGet, "/social/posts/4/comments", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, resp.Data.([]interface{}), 2)
	})

	t.Run("Add comment not connected", func(t *testing.T) {
		svc := new(MockSocialService)
		svc.On("AddComment", uint64(4), "hi").Return(&service.OpError{Op: "addComment", Kind: service.ErrNotConnected})

		w, _ := call(setupRouter(svc), http.MethodPost, "/social/posts/4/comments", `{"text":"hi"}`)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Refresh failure is an internal error", func(t *testing.T) {
		svc := new(MockSocialService)
		svc.On("Refresh").Return(errors.New("refresh: rpc down"))

		w, resp := call(setupRouter(svc), http.MethodPost, "/social/refresh", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, resp.Message, "rpc down")
	})
}
