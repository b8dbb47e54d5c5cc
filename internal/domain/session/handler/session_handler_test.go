package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"encrypted_like/internal/domain/session/model"
	"encrypted_like/internal/domain/session/service"
	"encrypted_like/internal/pkg/wallet"
	"encrypted_like/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	keyring, err := wallet.NewKeyring([]string{"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"}, nil)
	require.NoError(t, err)
	h := NewSessionHandler(service.NewSessionService(keyring, map[uint64]string{31337: "hardhat"}, nil))

	r := gin.New()
	r.GET("/session", h.Current)
	r.POST("/session/connect", h.Connect)
	r.POST("/session/chain", h.SwitchChain)
	r.POST("/session/account", h.SwitchAccount)
	r.POST("/session/disconnect", h.Disconnect)
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

func decodeSession(t *testing.T, resp response.Response) model.Session {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var sess model.Session
	require.NoError(t, json.Unmarshal(raw, &sess))
	return sess
}

func TestSessionHandler(t *testing.T) {
	t.Run("Connect then read current", func(t *testing.T) {
		r := setupRouter(t)
		w, resp := call(r, http.MethodPost, "/session/connect", `{"accountIndex":0,"chainId":31337}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, response.CodeSuccess, resp.Code)
		assert.True(t, decodeSession(t, resp).Connected)

		w, resp = call(r, http.MethodGet, "/session", "")
		require.Equal(t, http.StatusOK, w.Code)
		sess := decodeSession(t, resp)
		assert.Equal(t, "hardhat", sess.ChainName)
		assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", sess.Account.Hex())
	})

	t.Run("Missing account index is a bad request", func(t *testing.T) {
		r := setupRouter(t)
		w, resp := call(r, http.MethodPost, "/session/connect", `{"chainId":31337}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, response.ErrInvalidParam, resp.Code)
	})

	t.Run("Unknown account", func(t *testing.T) {
		r := setupRouter(t)
		w, resp := call(r, http.MethodPost, "/session/connect", `{"accountIndex":3,"chainId":31337}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, response.ErrUnknownAccount, resp.Code)
	})

	t.Run("Switch chain before connecting", func(t *testing.T) {
		r := setupRouter(t)
		w, resp := call(r, http.MethodPost, "/session/chain", `{"chainId":1}`)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, response.ErrNotConnected, resp.Code)
	})

	t.Run("Disconnect", func(t *testing.T) {
		r := setupRouter(t)
		call(r, http.MethodPost, "/session/connect", `{"accountIndex":0,"chainId":31337}`)
		w, resp := call(r, http.MethodPost, "/session/disconnect", "")
		require.Equal(t, http.StatusOK, w.Code)
		sess := decodeSession(t, resp)
		assert.False(t, sess.Connected)
		assert.Equal(t, uint64(2), sess.Epoch)
	})
}
