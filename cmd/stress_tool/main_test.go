package main

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"encrypted_like/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRunStress(t *testing.T) {
	var (
		mu      sync.Mutex
		claimed bool
	)
	release := make(chan struct{})

	r := gin.New()
	r.POST("/social/posts", func(c *gin.Context) {
		response.Success(c, gin.H{"posts": []gin.H{{"id": 7}, {"id": 3}}})
	})
	r.POST("/social/posts/:id/reactions", func(c *gin.Context) {
		if c.Param("id") != "7" {
			response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "unknown post")
			return
		}
		mu.Lock()
		first := !claimed
		claimed = true
		mu.Unlock()
		if !first {
			response.Error(c, http.StatusConflict, response.ErrBusy, "busy")
			return
		}
		<-release
		response.Success(c, nil)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	postID, err := createPost(srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), postID)

	done := make(chan Result)
	go func() { done <- runStress(srv.Client(), srv.URL, postID, 20) }()

	// 第一个请求占住帖子后放行
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return claimed
	}, 5*time.Second, 10*time.Millisecond)
	close(release)

	res := <-done
	assert.Equal(t, 1, res.Success)
	assert.Equal(t, 19, res.Busy)
	assert.Equal(t, 0, res.Failed)
}
