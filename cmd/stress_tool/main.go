package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"encrypted_like/pkg/response"
)

// Config
const (
	BaseURL       = "http://localhost:8080"
	TotalRequests = 200 // 同一帖子上的并发表情请求
)

var httpClient *http.Client

func init() {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 500
	t.MaxIdleConnsPerHost = 500
	t.MaxConnsPerHost = 500
	httpClient = &http.Client{
		Transport: t,
		Timeout:   2 * time.Minute,
	}
}

// Result 压测结果
type Result struct {
	Success int
	Busy    int
	Failed  int
}

// envelope 统一响应
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func main() {
	// 1. 发帖
	postID, err := createPost(httpClient, BaseURL)
	if err != nil {
		fmt.Printf("发帖失败: %v\n", err)
		return
	}

	fmt.Printf("开始压测：对帖子 %d 并发发送 %d 个表情请求...\n", postID, TotalRequests)

	// 2. 并发设置表情
	start := time.Now()
	res := runStress(httpClient, BaseURL, postID, TotalRequests)
	duration := time.Since(start)

	fmt.Println("--------------------------------------------------")
	fmt.Printf("压测结束，耗时: %v\n", duration)
	fmt.Printf("总请求数: %d\n", TotalRequests)
	fmt.Printf("QPS: %.2f\n", float64(TotalRequests)/duration.Seconds())
	fmt.Printf("成功: %d\n", res.Success)
	fmt.Printf("忙碌被拒绝: %d\n", res.Busy)
	fmt.Printf("其他失败: %d\n", res.Failed)
	fmt.Println("--------------------------------------------------")
}

func post(client *http.Client, url string, payload interface{}) (int, envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, envelope{}, err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, envelope{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, envelope{}, err
	}
	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return resp.StatusCode, envelope{}, fmt.Errorf("解析响应失败: %w", err)
	}
	return resp.StatusCode, env, nil
}

// createPost 发一条压测专用帖子，返回最新帖子 id
func createPost(client *http.Client, baseURL string) (uint64, error) {
	status, env, err := post(client, baseURL+"/social/posts", map[string]interface{}{
		"content":  "stress " + time.Now().Format(time.RFC3339),
		"category": "Other",
	})
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK || env.Code != response.CodeSuccess {
		return 0, fmt.Errorf("status %d: %s", status, env.Message)
	}

	var view struct {
		Posts []struct {
			ID uint64 `json:"id"`
		} `json:"posts"`
	}
	if err := json.Unmarshal(env.Data, &view); err != nil {
		return 0, err
	}
	if len(view.Posts) == 0 {
		return 0, fmt.Errorf("view has no posts")
	}
	// 帖子按 id 倒序
	return view.Posts[0].ID, nil
}

// runStress 并发设置表情，按结果分类计数
func runStress(client *http.Client, baseURL string, postID uint64, total int) Result {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		res Result
	)
	url := fmt.Sprintf("%s/social/posts/%d/reactions", baseURL, postID)

	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, env, err := post(client, url, map[string]int{"reactionType": i % 5})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && status == http.StatusOK && env.Code == response.CodeSuccess:
				res.Success++
			case err == nil && env.Code == response.ErrBusy:
				res.Busy++
			default:
				res.Failed++
			}
		}(i)
	}
	wg.Wait()
	return res
}
