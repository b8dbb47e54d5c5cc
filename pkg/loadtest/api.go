package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APITest 对运行中的服务发请求，只覆盖只读接口
type APITest struct {
	baseURL string
	client  *http.Client
}

// NewAPITest 创建 API 测试
func NewAPITest(baseURL string) *APITest {
	return &APITest{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

// WithClient 替换 HTTP 客户端
func (at *APITest) WithClient(c *http.Client) *APITest {
	at.client = c
	return at
}

func (at *APITest) get(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, at.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := at.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status code: %d", path, resp.StatusCode)
	}
	return decodeEnvelope(resp.Body)
}

// decodeEnvelope 业务码非 0 视为失败
func decodeEnvelope(r io.Reader) error {
	var env struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code != 0 {
		return fmt.Errorf("business code %d: %s", env.Code, env.Message)
	}
	return nil
}

// HealthCheckTest 健康检查
func (at *APITest) HealthCheckTest() RequestFunc {
	return func(ctx context.Context) error {
		return at.get(ctx, "/health")
	}
}

// ViewTest 读取视图模型
func (at *APITest) ViewTest() RequestFunc {
	return func(ctx context.Context) error {
		return at.get(ctx, "/social/view")
	}
}

// PostsTest 分页读取帖子
func (at *APITest) PostsTest(page, limit int) RequestFunc {
	return func(ctx context.Context) error {
		return at.get(ctx, fmt.Sprintf("/social/posts?page=%d&limit=%d", page, limit))
	}
}

// SessionTest 读取会话
func (at *APITest) SessionTest() RequestFunc {
	return func(ctx context.Context) error {
		return at.get(ctx, "/session")
	}
}

// ReadScenario 只读接口混合压测
func (at *APITest) ReadScenario(concurrency int, duration time.Duration) *PerformanceTest {
	pt := NewPerformanceTest("read endpoints", concurrency, duration)
	pt.AddRequest(at.HealthCheckTest())
	pt.AddRequest(at.SessionTest())
	pt.AddRequest(at.ViewTest())
	pt.AddRequest(at.PostsTest(1, 10))
	return pt
}
