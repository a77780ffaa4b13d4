package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Exchange   ExchangeConfig            `mapstructure:"exchange"`
	Engine     EngineConfig              `mapstructure:"engine"`
	Ledger     LedgerConfig              `mapstructure:"ledger"`
	Retry      RetryConfig               `mapstructure:"retry"`
	Paper      PaperConfig               `mapstructure:"paper"`
	Storage    StorageConfig             `mapstructure:"storage"`
	Log        LogConfig                 `mapstructure:"log"`
	Strategies map[string]StrategyConfig `mapstructure:"strategies"`
}

// ExchangeConfig 定义了交易所的连接信息
type ExchangeConfig struct {
	Name  string `mapstructure:"name"`
	WSURL string `mapstructure:"ws_url"` // Okx 公共频道
}

// EngineConfig 调度器与回测的运行参数
type EngineConfig struct {
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	KlineLimit       int           `mapstructure:"kline_limit"`
	DefaultTimeframe string        `mapstructure:"default_timeframe"`
	BacktestWindow   int           `mapstructure:"backtest_window"`
}

type LedgerConfig struct {
	MarginRate float64 `mapstructure:"margin_rate"`
}

// RetryConfig 上游调用的重试策略
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

type PaperConfig struct {
	InitialBalance float64 `mapstructure:"initial_balance"`
}

// StorageConfig 回测结果存储，Driver 为 sqlite3 或 postgres，为空则不落库
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// StrategyConfig 定义了一个策略实例的启动参数
type StrategyConfig struct {
	Type        string         `mapstructure:"type"`
	Name        string         `mapstructure:"name"`
	Description string         `mapstructure:"description"`
	Enabled     bool           `mapstructure:"enabled"`
	Parameters  map[string]any `mapstructure:"parameters"`
}

// GlobalConfig 存储加载后的全局配置
var GlobalConfig Config

const envPrefix = "ENGINE"

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange.name", "okx")
	v.SetDefault("exchange.ws_url", "wss://ws.okx.com:8443/ws/v5/public")
	// 空默认值让 AutomaticEnv 在 Unmarshal 时也能覆盖这些键
	v.SetDefault("storage.driver", "")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("engine.refresh_interval", 500*time.Millisecond)
	v.SetDefault("engine.tick_interval", time.Second)
	v.SetDefault("engine.kline_limit", 100)
	v.SetDefault("engine.default_timeframe", "1m")
	v.SetDefault("engine.backtest_window", 100)
	v.SetDefault("ledger.margin_rate", 0.1)
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.backoff", 200*time.Millisecond)
	v.SetDefault("paper.initial_balance", 10000.0)
	v.SetDefault("log.level", "info")
}

// LoadConfig 读取 configPath 下的 .env 与 config.yaml。
// 配置文件不存在时使用默认值，环境变量 ENGINE_* 覆盖文件中的值。
func LoadConfig(configPath string) (*Config, error) {
	// .env 只用于注入密钥，缺失不是错误
	envFile := filepath.Join(configPath, ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		Logger.Warn("Config file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	GlobalConfig = cfg
	return &cfg, nil
}
