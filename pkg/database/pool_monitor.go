package database

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PoolRecorder 接收连接池采样，由 metrics.MetricsCollector 实现
type PoolRecorder interface {
	UpdateDBPool(open, inUse, idle int, waitCount int64)
}

// PoolStats 连接池统计
type PoolStats struct {
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	WaitCount       int64         `json:"wait_count"`
	WaitDuration    time.Duration `json:"wait_duration"`
	SampledAt       time.Time     `json:"sampled_at"`
}

// PoolMonitor 连接池监控器，定期把 sql.DBStats 写入指标
type PoolMonitor struct {
	db       *gorm.DB
	recorder PoolRecorder
	interval time.Duration
	log      *zap.Logger

	mu    sync.RWMutex
	stats PoolStats
}

// NewPoolMonitor 创建连接池监控器，recorder 可以为 nil
func NewPoolMonitor(db *gorm.DB, recorder PoolRecorder, interval time.Duration, log *zap.Logger) *PoolMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PoolMonitor{
		db:       db,
		recorder: recorder,
		interval: interval,
		log:      log,
	}
}

// Start 开始采样，ctx 取消后退出
func (pm *PoolMonitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(pm.interval)
		defer ticker.Stop()

		pm.Collect()
		for {
			select {
			case <-ticker.C:
				pm.Collect()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Collect 立即采样一次
func (pm *PoolMonitor) Collect() {
	sqlDB, err := pm.db.DB()
	if err != nil {
		pm.log.Warn("failed to get database connection", zap.Error(err))
		return
	}
	s := sqlDB.Stats()

	snapshot := PoolStats{
		OpenConnections: s.OpenConnections,
		InUse:           s.InUse,
		Idle:            s.Idle,
		WaitCount:       s.WaitCount,
		WaitDuration:    s.WaitDuration,
		SampledAt:       time.Now(),
	}

	pm.mu.Lock()
	prev := pm.stats
	pm.stats = snapshot
	pm.mu.Unlock()

	if snapshot.WaitCount > prev.WaitCount {
		pm.log.Debug("ledger connections waited",
			zap.Int64("new_waits", snapshot.WaitCount-prev.WaitCount),
			zap.Duration("wait_duration", snapshot.WaitDuration))
	}
	if pm.recorder != nil {
		pm.recorder.UpdateDBPool(snapshot.OpenConnections, snapshot.InUse, snapshot.Idle, snapshot.WaitCount)
	}
}

// Stats 最近一次采样
func (pm *PoolMonitor) Stats() PoolStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.stats
}
