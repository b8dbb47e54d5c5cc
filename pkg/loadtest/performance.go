package loadtest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// PerformanceTest 固定并发、固定时长的压测
type PerformanceTest struct {
	name        string
	concurrency int
	duration    time.Duration
	requests    []RequestFunc
	metrics     *TestMetrics
}

// RequestFunc 请求函数
type RequestFunc func(ctx context.Context) error

// TestMetrics 测试指标
type TestMetrics struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	TotalDuration   time.Duration
	MinDuration     time.Duration
	MaxDuration     time.Duration
	ResponseTimes   []time.Duration
	mu              sync.Mutex
}

// NewPerformanceTest 创建性能测试
func NewPerformanceTest(name string, concurrency int, duration time.Duration) *PerformanceTest {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &PerformanceTest{
		name:        name,
		concurrency: concurrency,
		duration:    duration,
		metrics:     &TestMetrics{},
	}
}

// AddRequest 添加请求函数，运行时轮流执行
func (pt *PerformanceTest) AddRequest(request RequestFunc) {
	pt.requests = append(pt.requests, request)
}

// Run 运行性能测试
func (pt *PerformanceTest) Run(ctx context.Context) *TestResult {
	ctx, cancel := context.WithTimeout(ctx, pt.duration)
	defer cancel()

	var wg sync.WaitGroup
	requestChan := make(chan RequestFunc, pt.concurrency*2)

	for i := 0; i < pt.concurrency; i++ {
		wg.Add(1)
		go pt.worker(ctx, &wg, requestChan)
	}

	go func() {
		defer close(requestChan)
		if len(pt.requests) == 0 {
			return
		}
		for {
			for _, req := range pt.requests {
				select {
				case requestChan <- req:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	wg.Wait()
	return pt.generateResult()
}

func (pt *PerformanceTest) worker(ctx context.Context, wg *sync.WaitGroup, requestChan <-chan RequestFunc) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case request, ok := <-requestChan:
			if !ok {
				return
			}
			pt.executeRequest(ctx, request)
		}
	}
}

func (pt *PerformanceTest) executeRequest(ctx context.Context, request RequestFunc) {
	start := time.Now()
	err := request(ctx)
	duration := time.Since(start)

	// 超时打断的请求不计入
	if err != nil && ctx.Err() != nil {
		return
	}

	m := pt.metrics
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalRequests++
	m.TotalDuration += duration
	m.ResponseTimes = append(m.ResponseTimes, duration)
	if m.MinDuration == 0 || duration < m.MinDuration {
		m.MinDuration = duration
	}
	if duration > m.MaxDuration {
		m.MaxDuration = duration
	}
	if err != nil {
		m.FailedRequests++
	} else {
		m.SuccessRequests++
	}
}

func (pt *PerformanceTest) generateResult() *TestResult {
	m := pt.metrics
	m.mu.Lock()
	defer m.mu.Unlock()

	result := &TestResult{
		TestName:        pt.name,
		Concurrency:     pt.concurrency,
		Duration:        pt.duration,
		TotalRequests:   m.TotalRequests,
		SuccessRequests: m.SuccessRequests,
		FailedRequests:  m.FailedRequests,
		QPS:             float64(m.TotalRequests) / pt.duration.Seconds(),
	}
	if m.TotalRequests == 0 {
		return result
	}
	result.SuccessRate = float64(m.SuccessRequests) / float64(m.TotalRequests)
	result.ErrorRate = float64(m.FailedRequests) / float64(m.TotalRequests)
	result.AverageResponseTime = m.TotalDuration / time.Duration(len(m.ResponseTimes))
	result.MinResponseTime = m.MinDuration
	result.MaxResponseTime = m.MaxDuration

	sorted := make([]time.Duration, len(m.ResponseTimes))
	copy(sorted, m.ResponseTimes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	result.P50 = percentile(sorted, 0.5)
	result.P95 = percentile(sorted, 0.95)
	result.P99 = percentile(sorted, 0.99)
	return result
}

// percentile 计算百分位数，times 已排序
func percentile(times []time.Duration, p float64) time.Duration {
	if len(times) == 0 {
		return 0
	}
	index := int(float64(len(times)) * p)
	if index >= len(times) {
		index = len(times) - 1
	}
	return times[index]
}

// TestResult 测试结果
type TestResult struct {
	TestName            string        `json:"test_name"`
	Concurrency         int           `json:"concurrency"`
	Duration            time.Duration `json:"duration"`
	TotalRequests       int64         `json:"total_requests"`
	SuccessRequests     int64         `json:"success_requests"`
	FailedRequests      int64         `json:"failed_requests"`
	QPS                 float64       `json:"qps"`
	SuccessRate         float64       `json:"success_rate"`
	ErrorRate           float64       `json:"error_rate"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	MinResponseTime     time.Duration `json:"min_response_time"`
	MaxResponseTime     time.Duration `json:"max_response_time"`
	P50                 time.Duration `json:"p50"`
	P95                 time.Duration `json:"p95"`
	P99                 time.Duration `json:"p99"`
}

// PrintResult 打印测试结果
func (tr *TestResult) PrintResult(w io.Writer) {
	fmt.Fprintf(w, "性能测试结果: %s\n", tr.TestName)
	fmt.Fprintf(w, "================================\n")
	fmt.Fprintf(w, "并发数: %d\n", tr.Concurrency)
	fmt.Fprintf(w, "测试时长: %v\n", tr.Duration)
	fmt.Fprintf(w, "总请求数: %d\n", tr.TotalRequests)
	fmt.Fprintf(w, "成功请求: %d\n", tr.SuccessRequests)
	fmt.Fprintf(w, "失败请求: %d\n", tr.FailedRequests)
	fmt.Fprintf(w, "QPS: %.2f\n", tr.QPS)
	fmt.Fprintf(w, "成功率: %.2f%%\n", tr.SuccessRate*100)
	fmt.Fprintf(w, "平均响应时间: %v\n", tr.AverageResponseTime)
	fmt.Fprintf(w, "P50: %v  P95: %v  P99: %v\n", tr.P50, tr.P95, tr.P99)
	fmt.Fprintf(w, "================================\n")
}
