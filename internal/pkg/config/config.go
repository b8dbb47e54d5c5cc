package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	App         AppConfig         `mapstructure:"app"`
	Log         LogConfig         `mapstructure:"log"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Wallet      WalletConfig      `mapstructure:"wallet"`
	Chains      []ChainConfig     `mapstructure:"chains"`
	Deployments DeploymentsConfig `mapstructure:"deployments"`
	Devnet      DevnetConfig      `mapstructure:"devnet"`
	FHE         FHEConfig         `mapstructure:"fhe"`
	Social      SocialConfig      `mapstructure:"social"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	CORS        CORSConfig        `mapstructure:"cors"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type AppConfig struct {
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json / console
}

// RedisConfig 签名缓存可选用 Redis，未启用时使用内存
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WalletConfig 本地钱包私钥（十六进制，不带 0x 也可）
type WalletConfig struct {
	PrivateKeys    []string `mapstructure:"private_keys"`
	DefaultAccount int      `mapstructure:"default_account"`
	// AutoConnect 启动时用默认账户连接第一条链
	AutoConnect    bool     `mapstructure:"auto_connect"`
}

// 链模式
const (
	ChainModeDevnet = "devnet" // 进程内模拟链 + 模拟 FHE 协处理器
	ChainModeEVM    = "evm"    // 真实 JSON-RPC 节点
)

type ChainConfig struct {
	ChainID uint64 `mapstructure:"chain_id"`
	Name    string `mapstructure:"name"`
	Mode    string `mapstructure:"mode"`
	RPCURL  string `mapstructure:"rpc_url"`
}

// DeploymentsConfig hardhat-deploy 输出目录
type DeploymentsConfig struct {
	Dir      string `mapstructure:"dir"`
	Contract string `mapstructure:"contract"`
}

type DevnetConfig struct {
	Driver    string        `mapstructure:"driver"` // sqlite / postgres
	DSN       string        `mapstructure:"dsn"`
	BlockTime time.Duration `mapstructure:"block_time"`
}

type FHEConfig struct {
	SignatureDurationDays int `mapstructure:"signature_duration_days"`
}

type SocialConfig struct {
	MaxContentLength int           `mapstructure:"max_content_length"`
	MaxCommentLength int           `mapstructure:"max_comment_length"`
	MaxTags          int           `mapstructure:"max_tags"`
	Categories       []string      `mapstructure:"categories"`
	BusyPolicy       string        `mapstructure:"busy_policy"` // reject / queue
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	PageSize         int           `mapstructure:"page_size"`
	Workers          int           `mapstructure:"workers"`
}

type RateLimitConfig struct {
	QPS   float64 `mapstructure:"qps"`
	Burst int     `mapstructure:"burst"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

var GlobalConfig Config

// Validate 验证配置
func (c *Config) Validate() error {
	if len(c.Wallet.PrivateKeys) == 0 {
		return errors.New("wallet.private_keys must contain at least one key")
	}
	if c.Wallet.DefaultAccount < 0 || c.Wallet.DefaultAccount >= len(c.Wallet.PrivateKeys) {
		return fmt.Errorf("wallet.default_account %d out of range", c.Wallet.DefaultAccount)
	}

	if len(c.Chains) == 0 {
		return errors.New("at least one chain must be configured")
	}
	seen := make(map[uint64]bool, len(c.Chains))
	devnets := 0
	for _, ch := range c.Chains {
		if ch.ChainID == 0 {
			return errors.New("chain_id is required")
		}
		if seen[ch.ChainID] {
			return fmt.Errorf("chain %d configured twice", ch.ChainID)
		}
		seen[ch.ChainID] = true
		switch ch.Mode {
		case ChainModeDevnet:
			// 账本表不区分链
			devnets++
			if devnets > 1 {
				return errors.New("only one devnet chain can be configured")
			}
		case ChainModeEVM:
			if ch.RPCURL == "" {
				return fmt.Errorf("chain %d: rpc_url is required in evm mode", ch.ChainID)
			}
		default:
			return fmt.Errorf("chain %d: unknown mode %q", ch.ChainID, ch.Mode)
		}
	}

	if len(c.CORS.AllowOrigins) == 0 {
		return errors.New("cors.allow_origins must contain at least one origin")
	}
	for _, origin := range c.CORS.AllowOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("cors origin %q must be * or start with http:// or https://", origin)
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis address is required when redis is enabled")
	}

	switch c.Devnet.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("devnet.driver must be sqlite or postgres, got %q", c.Devnet.Driver)
	}

	switch c.Social.BusyPolicy {
	case "reject", "queue":
	default:
		return fmt.Errorf("social.busy_policy must be reject or queue, got %q", c.Social.BusyPolicy)
	}
	if c.Social.MaxContentLength <= 0 || c.Social.MaxCommentLength <= 0 {
		return errors.New("social content limits must be positive")
	}

	return nil
}

// Chain 按 chainId 查找链配置
func (c *Config) Chain(chainID uint64) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.ChainID == chainID {
			return ch, true
		}
	}
	return ChainConfig{}, false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.debug", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("wallet.default_account", 0)
	v.SetDefault("wallet.auto_connect", false)
	v.SetDefault("deployments.dir", "./backend/deployments")
	v.SetDefault("deployments.contract", "EncryptedLike")
	v.SetDefault("devnet.driver", "sqlite")
	v.SetDefault("devnet.dsn", "file:devnet?mode=memory&cache=shared")
	v.SetDefault("devnet.block_time", 0)
	v.SetDefault("fhe.signature_duration_days", 365)
	v.SetDefault("social.max_content_length", 1000)
	v.SetDefault("social.max_comment_length", 256)
	v.SetDefault("social.max_tags", 10)
	v.SetDefault("social.categories", []string{"Technology", "Lifestyle", "Art", "Other"})
	v.SetDefault("social.busy_policy", "reject")
	v.SetDefault("social.poll_interval", 15*time.Second)
	v.SetDefault("social.page_size", 50)
	v.SetDefault("social.workers", 2)
	v.SetDefault("rate_limit.qps", 50)
	v.SetDefault("rate_limit.burst", 100)
	v.SetDefault("cors.allow_origins", []string{"http://localhost:3000"})
}

// Load 从指定目录加载配置，APP_ENV 选择 config.<env>.yaml
func Load(paths ...string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	env := os.Getenv("APP_ENV")
	configName := "config"
	if env != "" && env != "dev" {
		configName = "config." + env
	}

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./configs", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// 绑定环境变量，例如 EL_REDIS_ADDR
	v.SetEnvPrefix("EL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 手动覆盖，AutomaticEnv 对切片不生效
	if keys := os.Getenv("WALLET_PRIVATE_KEYS"); keys != "" {
		cfg.Wallet.PrivateKeys = strings.Split(keys, ",")
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		cfg.Redis.Addr = redisAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadConfig 加载配置到 GlobalConfig
func LoadConfig(paths ...string) error {
	cfg, err := Load(paths...)
	if err != nil {
		return err
	}
	GlobalConfig = *cfg
	return nil
}
