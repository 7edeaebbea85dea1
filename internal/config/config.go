// Package config 负责加载和验证 YAML 配置文件。
// 提供应用程序所需的所有配置项，包括行情连接、存储引擎、广播与输出设置等。
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"orderbook-timetravel/internal/core/model"
)

// 存储引擎名称
const (
	// EnginePebble 本地 LSM 存储（默认）
	EnginePebble = "pebble"
	// EngineRedis Redis 有序集合
	EngineRedis = "redis"
	// EngineMemory 进程内存储（重启丢失）
	EngineMemory = "memory"
)

// Config 应用配置根结构
// 包含所有子模块的配置项
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Feed 行情连接配置
	Feed FeedConfig `yaml:"feed"`
	// Metadata 交易对元数据校验配置
	Metadata MetadataConfig `yaml:"metadata"`
	// Storage 时序存储配置
	Storage StorageConfig `yaml:"storage"`
	// Broadcast 广播总线配置
	Broadcast BroadcastConfig `yaml:"broadcast"`
	// Kafka 快照转发配置
	Kafka KafkaConfig `yaml:"kafka"`
	// Output 输出配置
	Output OutputConfig `yaml:"output"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// FeedConfig Kraken WebSocket 行情配置
type FeedConfig struct {
	// URL WebSocket 连接地址
	URL string `yaml:"url"`
	// Symbols 订阅的交易对（BASE/QUOTE 形式，如 XBT/USD）
	Symbols []string `yaml:"symbols"`
	// Depth 订阅深度
	Depth int `yaml:"depth"`
	// PingIntervalMs 应用层心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
	// ReadTimeoutMs 读取超时（毫秒），超时视为连接失效
	ReadTimeoutMs int `yaml:"read_timeout_ms"`
	// HandshakeTimeoutMs 握手超时（毫秒）
	HandshakeTimeoutMs int `yaml:"handshake_timeout_ms"`
	// WriteTimeoutMs 控制帧写超时（毫秒）
	WriteTimeoutMs int `yaml:"write_timeout_ms"`
	// EventBuffer 会话事件通道容量
	EventBuffer int `yaml:"event_buffer"`
	// Reconnect 重连策略
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig 重连策略
// 默认固定 5 秒、无限重试；max_delay_ms > base_delay_ms 且 jitter > 0 时为带抖动的指数退避。
type ReconnectConfig struct {
	// BaseDelayMs 基础等待时间（毫秒）
	BaseDelayMs int `yaml:"base_delay_ms"`
	// MaxDelayMs 最大等待时间（毫秒）
	MaxDelayMs int `yaml:"max_delay_ms"`
	// Jitter 抖动比例（0-1）
	Jitter float64 `yaml:"jitter"`
}

// MetadataConfig 交易对元数据配置
type MetadataConfig struct {
	// AssetPairsURL Kraken AssetPairs 接口地址，为空则跳过校验
	AssetPairsURL string `yaml:"asset_pairs_url"`
	// TimeoutMs HTTP 请求超时时间（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
}

// StorageConfig 时序存储配置
type StorageConfig struct {
	// Engine 存储引擎: pebble, redis, memory
	Engine string `yaml:"engine"`
	// Path pebble 数据目录
	Path string `yaml:"path"`
	// SyncWrites 每次写入是否 fsync
	SyncWrites bool `yaml:"sync_writes"`
	// Redis Redis 连接配置
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	// Addr 地址，如 localhost:6379
	Addr string `yaml:"addr"`
	// Password 密码
	Password string `yaml:"password"`
	// DB 数据库编号
	DB int `yaml:"db"`
	// KeyPrefix 键前缀
	KeyPrefix string `yaml:"key_prefix"`
}

// BroadcastConfig 广播总线配置
type BroadcastConfig struct {
	// Capacity 每个订阅者的缓冲容量，满时丢弃最旧的未读快照
	Capacity int `yaml:"capacity"`
}

// KafkaConfig 快照转发到 Kafka 的配置
type KafkaConfig struct {
	// Enabled 是否启用
	Enabled bool `yaml:"enabled"`
	// Brokers broker 地址列表
	Brokers []string `yaml:"brokers"`
	// Topic 主题
	Topic string `yaml:"topic"`
	// BatchTimeoutMs 批量发送等待时间（毫秒）
	BatchTimeoutMs int `yaml:"batch_timeout_ms"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// CaptureEnabled 是否录制原始帧（可用于 replay）
	CaptureEnabled bool `yaml:"capture_enabled"`
	// MetricsEnabled 是否输出指标文件
	MetricsEnabled bool `yaml:"metrics_enabled"`
	// MetricsIntervalMs 指标输出间隔（毫秒）
	MetricsIntervalMs int `yaml:"metrics_interval_ms"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 从 YAML 字节解析配置，设置默认值并验证
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "orderbook-timetravel"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	if c.Feed.URL == "" {
		c.Feed.URL = "wss://ws.kraken.com"
	}
	if c.Feed.Depth == 0 {
		c.Feed.Depth = 25
	}
	if c.Feed.PingIntervalMs == 0 {
		c.Feed.PingIntervalMs = 20000 // 20 秒
	}
	if c.Feed.ReadTimeoutMs == 0 {
		c.Feed.ReadTimeoutMs = 30000 // Kraken 空闲时每秒推送 heartbeat
	}
	if c.Feed.HandshakeTimeoutMs == 0 {
		c.Feed.HandshakeTimeoutMs = 10000
	}
	if c.Feed.WriteTimeoutMs == 0 {
		c.Feed.WriteTimeoutMs = 5000
	}
	if c.Feed.EventBuffer == 0 {
		c.Feed.EventBuffer = 1000
	}
	if c.Feed.Reconnect.BaseDelayMs == 0 {
		c.Feed.Reconnect.BaseDelayMs = 5000 // 固定 5 秒
	}
	if c.Feed.Reconnect.MaxDelayMs == 0 {
		c.Feed.Reconnect.MaxDelayMs = c.Feed.Reconnect.BaseDelayMs
	}

	if c.Metadata.TimeoutMs == 0 {
		c.Metadata.TimeoutMs = 10000
	}

	if c.Storage.Engine == "" {
		c.Storage.Engine = EnginePebble
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/orderbooks"
	}
	if c.Storage.Redis.Addr == "" {
		c.Storage.Redis.Addr = "localhost:6379"
	}
	if c.Storage.Redis.KeyPrefix == "" {
		c.Storage.Redis.KeyPrefix = "obtt"
	}

	if c.Broadcast.Capacity == 0 {
		c.Broadcast.Capacity = 1000
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "orderbook-snapshots"
	}
	if c.Kafka.BatchTimeoutMs == 0 {
		c.Kafka.BatchTimeoutMs = 10
	}

	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.MetricsIntervalMs == 0 {
		c.Output.MetricsIntervalMs = 10000 // 10 秒
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}
}

// Validate 验证配置合法性
// 检查所有必填项和数值范围
// 返回: 若配置无效则返回描述性错误
func (c *Config) Validate() error {
	var errs []string

	if len(c.Feed.Symbols) == 0 {
		errs = append(errs, "feed.symbols: 至少需要配置一个交易对")
	}
	seen := make(map[string]bool, len(c.Feed.Symbols))
	for i, sym := range c.Feed.Symbols {
		if !IsCanonicalSymbol(sym) {
			errs = append(errs, fmt.Sprintf("feed.symbols[%d]: 交易对 '%s' 必须为 BASE/QUOTE 形式", i, sym))
		}
		if seen[sym] {
			errs = append(errs, fmt.Sprintf("feed.symbols[%d]: 交易对 '%s' 重复", i, sym))
		}
		seen[sym] = true
	}
	if c.Feed.URL == "" {
		errs = append(errs, "feed.url: WebSocket 地址不能为空")
	}
	if c.Feed.Depth != 10 && c.Feed.Depth != model.MaxDepth {
		errs = append(errs, fmt.Sprintf("feed.depth: 订阅深度只能为 10 或 %d", model.MaxDepth))
	}
	if c.Feed.PingIntervalMs < 0 || c.Feed.ReadTimeoutMs < 0 || c.Feed.HandshakeTimeoutMs < 0 {
		errs = append(errs, "feed: 超时与心跳间隔不能为负数")
	}
	if c.Feed.Reconnect.BaseDelayMs <= 0 {
		errs = append(errs, "feed.reconnect.base_delay_ms: 必须为正数")
	}
	if c.Feed.Reconnect.MaxDelayMs < c.Feed.Reconnect.BaseDelayMs {
		errs = append(errs, "feed.reconnect.max_delay_ms: 不能小于 base_delay_ms")
	}
	if c.Feed.Reconnect.Jitter < 0 || c.Feed.Reconnect.Jitter >= 1 {
		errs = append(errs, "feed.reconnect.jitter: 必须在 [0, 1) 之间")
	}

	switch c.Storage.Engine {
	case EnginePebble:
		if c.Storage.Path == "" {
			errs = append(errs, "storage.path: pebble 数据目录不能为空")
		}
	case EngineRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, "storage.redis.addr: Redis 地址不能为空")
		}
	case EngineMemory:
	default:
		errs = append(errs, fmt.Sprintf("storage.engine: 无效的存储引擎 '%s'，有效值: pebble, redis, memory", c.Storage.Engine))
	}

	if c.Broadcast.Capacity <= 0 {
		errs = append(errs, "broadcast.capacity: 必须为正数")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka.brokers: 启用 Kafka 时至少需要一个 broker")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka.topic: 主题不能为空")
		}
	}

	if c.Output.MetricsIntervalMs <= 0 {
		errs = append(errs, "output.metrics_interval_ms: 必须为正数")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsCanonicalSymbol 判断交易对是否为 BASE/QUOTE 形式
func IsCanonicalSymbol(s string) bool {
	base, quote, ok := strings.Cut(s, "/")
	return ok && base != "" && quote != "" && !strings.Contains(quote, "/") && strings.TrimSpace(s) == s
}
