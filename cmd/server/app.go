package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	// 注册业务模块
	_ "encrypted_like/internal/domain/common"
	_ "encrypted_like/internal/domain/session"
	_ "encrypted_like/internal/domain/social"

	"encrypted_like/internal/pkg/chain"
	"encrypted_like/internal/pkg/chain/evm"
	"encrypted_like/internal/pkg/config"
	"encrypted_like/internal/pkg/devnet"
	"encrypted_like/internal/pkg/fhe"
	"encrypted_like/internal/pkg/middleware"
	"encrypted_like/internal/pkg/registry"
	"encrypted_like/internal/pkg/wallet"
	"encrypted_like/internal/pkg/worker"
	"encrypted_like/pkg/cache"
	"encrypted_like/pkg/database"
	"encrypted_like/pkg/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// app 进程内装配好的全部组件
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	engine  *gin.Engine
	modules *registry.ModuleContext

	workers *worker.WorkerPool
	ledger  *devnet.Ledger
	monitor *database.PoolMonitor
	rpcs    []*evm.Connector
	redis   *redis.Client
	cancel  context.CancelFunc
}

// approveAndLog 本地账户自动确认签名请求，只记录日志
func approveAndLog(log *zap.Logger) wallet.Approver {
	return func(ctx context.Context, account common.Address, msg []byte) error {
		log.Info("signature requested", zap.String("account", account.Hex()), zap.Int("bytes", len(msg)))
		return nil
	}
}

// newApp 按配置装配链、FHE、缓存、中间件和模块
func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *app, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewMetricsCollector(reg)

	keyring, err := wallet.NewKeyring(cfg.Wallet.PrivateKeys, approveAndLog(log.Named("wallet")))
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}

	router, clients, err := a.openChains(ctx, keyring)
	if err != nil {
		return nil, err
	}

	var store cache.CacheService = cache.NewMemoryCache()
	if cfg.Redis.Enabled {
		a.redis, err = database.OpenRedis(ctx, database.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		store = cache.NewRedisCache(a.redis, "encrypted-like:")
	}
	signatures := fhe.NewSignatureCache(store, cfg.FHE.SignatureDurationDays, log.Named("fhe"))

	a.workers = worker.NewWorkerPool(cfg.Social.Workers, 16, log.Named("worker"))

	if a.ledger != nil {
		a.monitor = database.NewPoolMonitor(a.ledger.DB(), collector, 15*time.Second, log.Named("ledger"))
	}

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	r := gin.New()
	r.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TraceMiddleware(),
		middleware.LoggerMiddleware(log.Named("http")),
		middleware.MetricsMiddleware(collector),
		middleware.CORSMiddleware(cfg.CORS.AllowOrigins),
	)
	if cfg.RateLimit.QPS > 0 {
		r.Use(middleware.RateLimitMiddleware(middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimit.QPS), cfg.RateLimit.Burst)))
	}
	a.engine = r

	a.modules = &registry.ModuleContext{
		Config:     cfg,
		Router:     r,
		Redis:      a.redis,
		Logger:     log,
		Metrics:    collector,
		Gatherer:   reg,
		Keyring:    keyring,
		Connector:  router,
		FHE:        clients,
		Signatures: signatures,
		Workers:    a.workers,
	}
	if err := registry.InitModules(a.modules); err != nil {
		return nil, err
	}
	return a, nil
}

// openChains 为每条配置的链创建 Connector，devnet 链同时提供 FHE 客户端
func (a *app) openChains(ctx context.Context, keyring *wallet.Keyring) (chain.Router, fhe.StaticProvider, error) {
	cfg := a.cfg
	router := chain.Router{}
	clients := fhe.StaticProvider{}

	var networks []chain.Network
	for _, ch := range cfg.Chains {
		if ch.Mode == config.ChainModeEVM {
			networks = append(networks, chain.Network{ChainID: ch.ChainID, Name: ch.Name})
		}
	}
	deployments, skipped, err := chain.LoadDeployments(cfg.Deployments.Dir, cfg.Deployments.Contract, networks)
	if err != nil {
		return nil, nil, err
	}
	for _, n := range skipped {
		a.log.Warn("no deployment found, chain is not supported",
			zap.Uint64("chain_id", n.ChainID), zap.String("network", n.Name))
	}

	for _, ch := range cfg.Chains {
		switch ch.Mode {
		case config.ChainModeDevnet:
			ledger, err := devnet.Open(ctx, cfg.Devnet.Driver, cfg.Devnet.DSN, devnet.Options{
				ChainID:   ch.ChainID,
				Deployer:  keyring.Accounts()[0],
				BlockTime: cfg.Devnet.BlockTime,
			}, a.log.Named("devnet"))
			if err != nil {
				return nil, nil, fmt.Errorf("open devnet %d: %w", ch.ChainID, err)
			}
			a.ledger = ledger
			router[ch.ChainID] = ledger
			clients[ch.ChainID] = ledger.Coprocessor()
			a.log.Info("devnet ready",
				zap.Uint64("chain_id", ch.ChainID), zap.String("contract", ledger.Address().Hex()))
		case config.ChainModeEVM:
			if _, ok := deployments.Lookup(ch.ChainID); !ok {
				continue
			}
			conn := evm.NewConnector(ch.RPCURL, deployments, a.log.Named("evm"))
			a.rpcs = append(a.rpcs, conn)
			router[ch.ChainID] = conn
		}
	}
	return router, clients, nil
}

// start 启动后台组件，并按配置自动连接默认账户
func (a *app) start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.workers.Start(ctx)
	if a.monitor != nil {
		a.monitor.Start(ctx)
	}

	if !a.cfg.Wallet.AutoConnect || a.modules.Session == nil {
		return
	}
	chainID := a.cfg.Chains[0].ChainID
	if _, err := a.modules.Session.Connect(ctx, a.cfg.Wallet.DefaultAccount, chainID); err != nil {
		a.log.Warn("auto connect failed", zap.Uint64("chain_id", chainID), zap.Error(err))
	}
}

// handler HTTP 入口
func (a *app) handler() http.Handler {
	return a.engine
}

// close 按依赖的逆序释放资源
func (a *app) close() {
	if a.modules != nil {
		a.modules.Close()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.workers != nil {
		a.workers.Stop()
	}
	for _, c := range a.rpcs {
		c.Close()
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.log.Warn("close devnet ledger", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
