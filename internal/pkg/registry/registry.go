package registry

import (
	"fmt"
	"sort"
	"sync"

	sessionService "encrypted_like/internal/domain/session/service"
	"encrypted_like/internal/pkg/chain"
	"encrypted_like/internal/pkg/config"
	"encrypted_like/internal/pkg/fhe"
	"encrypted_like/internal/pkg/wallet"
	"encrypted_like/internal/pkg/worker"
	"encrypted_like/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ModuleContext 模块初始化所需的上下文
type ModuleContext struct {
	Config *config.Config
	Router *gin.Engine
	// Redis 未启用时为 nil
	Redis  *redis.Client
	Logger *zap.Logger

	Metrics  *metrics.MetricsCollector
	Gatherer prometheus.Gatherer

	Keyring    *wallet.Keyring
	Connector  chain.Connector
	FHE        fhe.Provider
	Signatures *fhe.SignatureCache
	Workers    *worker.WorkerPool

	// Session 由 session 模块初始化后填入
	Session sessionService.SessionService

	mu      sync.Mutex
	closers []func()
}

// OnClose 注册关闭回调，Close 时按注册的逆序执行
func (c *ModuleContext) OnClose(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, f)
}

// Close 释放模块持有的资源
func (c *ModuleContext) Close() {
	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

// Module 模块接口
type Module interface {
	// Name 返回模块名称
	Name() string

	// Init 初始化模块（依赖注入、路由注册等）
	Init(ctx *ModuleContext) error

	// Priority 返回初始化优先级（数字越小越先初始化）
	// 例如：session 模块必须先于 social 模块初始化
	Priority() int
}

// moduleRegistry 全局模块注册表
var moduleRegistry = make(map[string]Module)

// Register 注册模块
func Register(module Module) {
	moduleRegistry[module.Name()] = module
}

// GetModules 获取所有已注册的模块
func GetModules() map[string]Module {
	return moduleRegistry
}

// InitModules 按优先级初始化所有模块，优先级相同按名称排序
func InitModules(ctx *ModuleContext) error {
	modules := make([]Module, 0, len(moduleRegistry))
	for _, m := range moduleRegistry {
		modules = append(modules, m)
	}
	sort.Slice(modules, func(i, j int) bool {
		if modules[i].Priority() != modules[j].Priority() {
			return modules[i].Priority() < modules[j].Priority()
		}
		return modules[i].Name() < modules[j].Name()
	})

	for _, module := range modules {
		if err := module.Init(ctx); err != nil {
			return fmt.Errorf("init module %s: %w", module.Name(), err)
		}
		if ctx.Logger != nil {
			ctx.Logger.Info("module initialized", zap.String("module", module.Name()))
		}
	}
	return nil
}
