package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"encrypted_like/internal/domain/social/model"
	"encrypted_like/internal/pkg/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Port: "0", Mode: "test"},
		App:    config.AppConfig{Env: "test"},
		Wallet: config.WalletConfig{
			PrivateKeys: []string{
				"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
				"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
			},
			AutoConnect: true,
		},
		Chains: []config.ChainConfig{
			{ChainID: 31337, Name: "hardhat", Mode: config.ChainModeDevnet},
			{ChainID: 11155111, Name: "sepolia", Mode: config.ChainModeEVM, RPCURL: "http://127.0.0.1:1"},
		},
		Deployments: config.DeploymentsConfig{Dir: t.TempDir(), Contract: "EncryptedLike"},
		Devnet: config.DevnetConfig{
			Driver: "sqlite",
			DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		},
		FHE:  config.FHEConfig{SignatureDurationDays: 1},
		CORS: config.CORSConfig{AllowOrigins: []string{"http://localhost:3000"}},
		Social: config.SocialConfig{
			MaxContentLength: 280,
			MaxCommentLength: 200,
			MaxTags:          5,
			BusyPolicy:       "reject",
			PageSize:         10,
			Workers:          1,
		},
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func TestApp(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.close()
	a.start(context.Background())
	h := a.handler()

	t.Run("Health reports the auto connected session", func(t *testing.T) {
		code, env := do(t, h, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, code)

		var st struct {
			Connected bool   `json:"connected"`
			ChainID   uint64 `json:"chainId"`
			Chains    []any  `json:"chains"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &st))
		assert.True(t, st.Connected)
		assert.Equal(t, uint64(31337), st.ChainID)
		assert.Len(t, st.Chains, 2)
	})

	t.Run("Create a post and react to it", func(t *testing.T) {
		code, env := do(t, h, http.MethodPost, "/social/posts", `{"content":"hello devnet","category":"Art","tags":["go"]}`)
		require.Equal(t, http.StatusOK, code, env.Message)

		var view model.View
		require.NoError(t, json.Unmarshal(env.Data, &view))
		require.Len(t, view.Posts, 1)
		post := view.Posts[0]
		assert.Equal(t, "hello devnet", post.Content)

		code, env = do(t, h, http.MethodPost, "/social/posts/1/reactions", `{"reactionType":"like"}`)
		require.Equal(t, http.StatusOK, code, env.Message)
		require.NoError(t, json.Unmarshal(env.Data, &view))
		require.NotNil(t, view.Posts[0].UserReaction)
		assert.Equal(t, model.Like, *view.Posts[0].UserReaction)
	})

	t.Run("Unknown post is a bad request", func(t *testing.T) {
		code, _ := do(t, h, http.MethodGet, "/social/posts/99/comments", "")
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("Switching to a chain without deployment", func(t *testing.T) {
		code, _ := do(t, h, http.MethodPost, "/session/chain", `{"chainId":11155111}`)
		require.Equal(t, http.StatusOK, code)

		code, env := do(t, h, http.MethodGet, "/social/view", "")
		require.Equal(t, http.StatusOK, code)
		var view model.View
		require.NoError(t, json.Unmarshal(env.Data, &view))
		assert.Equal(t, model.StatusNotDeployed, view.Status)

		code, _ = do(t, h, http.MethodPost, "/session/chain", `{"chainId":31337}`)
		require.Equal(t, http.StatusOK, code)
	})

	t.Run("Metrics endpoint exposes request counters", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "http_requests_total")
	})
}

func TestNewAppRejectsBadBusyPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Social.BusyPolicy = "drop"
	_, err := newApp(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNewAppRejectsEmptyCORSOrigins(t *testing.T) {
	cfg := testConfig(t)
	cfg.CORS.AllowOrigins = nil
	_, err := newApp(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cors.allow_origins")
}
