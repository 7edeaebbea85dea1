// Package config 配置模块测试
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestConfigValidation_Reconnect 测试重连参数验证
func TestConfigValidation_Reconnect(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性: 基础等待时间非正数应验证失败
	properties.Property("基础等待时间非正数应验证失败", prop.ForAll(
		func(base int) bool {
			cfg := createValidConfig()
			cfg.Feed.Reconnect.BaseDelayMs = base
			return cfg.Validate() != nil
		},
		gen.IntRange(-100000, 0),
	))

	// 属性: 最大等待时间小于基础等待时间应验证失败
	properties.Property("最大等待小于基础等待应验证失败", prop.ForAll(
		func(base, diff int) bool {
			cfg := createValidConfig()
			cfg.Feed.Reconnect.BaseDelayMs = base
			cfg.Feed.Reconnect.MaxDelayMs = base - diff
			return cfg.Validate() != nil
		},
		gen.IntRange(1, 100000),
		gen.IntRange(1, 1000),
	))

	// 属性: 抖动比例超出 [0, 1) 应验证失败
	properties.Property("抖动比例超出范围应验证失败", prop.ForAll(
		func(jitter float64) bool {
			cfg := createValidConfig()
			cfg.Feed.Reconnect.Jitter = jitter
			return cfg.Validate() != nil
		},
		gen.OneGenOf(
			gen.Float64Range(-1000, -0.0001),
			gen.Float64Range(1, 1000),
		),
	))

	// 属性: 合法参数应通过验证
	properties.Property("合法重连参数应通过验证", prop.ForAll(
		func(base, extra int, jitter float64) bool {
			cfg := createValidConfig()
			cfg.Feed.Reconnect.BaseDelayMs = base
			cfg.Feed.Reconnect.MaxDelayMs = base + extra
			cfg.Feed.Reconnect.Jitter = jitter
			return cfg.Validate() == nil
		},
		gen.IntRange(1, 100000),
		gen.IntRange(0, 100000),
		gen.Float64Range(0, 0.99),
	))

	properties.TestingRun(t)
}

// TestConfigValidation_Symbols 测试交易对配置验证
func TestConfigValidation_Symbols(t *testing.T) {
	tests := []struct {
		name    string
		symbols []string
		wantErr bool
	}{
		{"单个交易对", []string{"XBT/USD"}, false},
		{"多个交易对", []string{"XBT/USD", "ETH/USD"}, false},
		{"空列表", []string{}, true},
		{"缺少斜杠", []string{"XBTUSD"}, true},
		{"缺少报价币", []string{"XBT/"}, true},
		{"多个斜杠", []string{"XBT/USD/EUR"}, true},
		{"首尾空白", []string{" XBT/USD"}, true},
		{"重复", []string{"XBT/USD", "XBT/USD"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := createValidConfig()
			cfg.Feed.Symbols = tt.symbols
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestConfigValidation_Storage 测试存储引擎验证
func TestConfigValidation_Storage(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"pebble", func(c *Config) {}, false},
		{"memory", func(c *Config) { c.Storage.Engine = EngineMemory }, false},
		{"redis", func(c *Config) { c.Storage.Engine = EngineRedis }, false},
		{"未知引擎", func(c *Config) { c.Storage.Engine = "sqlite" }, true},
		{"pebble 无路径", func(c *Config) { c.Storage.Path = "" }, true},
		{"redis 无地址", func(c *Config) {
			c.Storage.Engine = EngineRedis
			c.Storage.Redis.Addr = ""
		}, true},
		{"广播容量为零", func(c *Config) { c.Broadcast.Capacity = 0 }, true},
		{"kafka 无 broker", func(c *Config) { c.Kafka.Enabled = true }, true},
		{"kafka 有 broker", func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Brokers = []string{"localhost:9092"}
		}, false},
		{"无效日志级别", func(c *Config) { c.App.LogLevel = "trace" }, true},
		{"深度 10", func(c *Config) { c.Feed.Depth = 10 }, false},
		{"深度超过上限", func(c *Config) { c.Feed.Depth = 100 }, true},
		{"深度非 Kraken 档位", func(c *Config) { c.Feed.Depth = 20 }, true},
		{"深度为负", func(c *Config) { c.Feed.Depth = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := createValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestConfigValidation_AggregatesErrors 测试多个错误合并报告
func TestConfigValidation_AggregatesErrors(t *testing.T) {
	cfg := createValidConfig()
	cfg.Feed.Symbols = nil
	cfg.Broadcast.Capacity = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("应返回错误")
	}
	msg := err.Error()
	if !strings.Contains(msg, "feed.symbols") || !strings.Contains(msg, "broadcast.capacity") {
		t.Errorf("错误信息应包含全部问题: %s", msg)
	}
}

// createValidConfig 创建一个有效的配置用于测试
func createValidConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:     "test",
			LogLevel: "info",
		},
		Feed: FeedConfig{
			URL:                "wss://ws.kraken.com",
			Symbols:            []string{"XBT/USD"},
			Depth:              25,
			PingIntervalMs:     20000,
			ReadTimeoutMs:      30000,
			HandshakeTimeoutMs: 10000,
			WriteTimeoutMs:     5000,
			EventBuffer:        1000,
			Reconnect: ReconnectConfig{
				BaseDelayMs: 5000,
				MaxDelayMs:  5000,
			},
		},
		Metadata: MetadataConfig{
			TimeoutMs: 10000,
		},
		Storage: StorageConfig{
			Engine: EnginePebble,
			Path:   "./data/orderbooks",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "obtt",
			},
		},
		Broadcast: BroadcastConfig{
			Capacity: 1000,
		},
		Kafka: KafkaConfig{
			Topic:          "orderbook-snapshots",
			BatchTimeoutMs: 10,
		},
		Output: OutputConfig{
			Dir:               "./output",
			MetricsEnabled:    true,
			MetricsIntervalMs: 10000,
			BufferSize:        1000,
		},
	}
}

// TestLoad_ValidFile 测试从有效文件加载配置
func TestLoad_ValidFile(t *testing.T) {
	content := `
app:
  name: test-timetravel
  log_level: debug

feed:
  url: wss://ws.kraken.com
  symbols:
    - XBT/USD
    - ETH/USD
  depth: 25

storage:
  engine: memory

output:
  dir: ./output
  capture_enabled: true
`
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("创建临时文件失败: %v", err)
	}

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.App.Name != "test-timetravel" {
		t.Errorf("App.Name = %s, want test-timetravel", cfg.App.Name)
	}
	if len(cfg.Feed.Symbols) != 2 {
		t.Errorf("len(Feed.Symbols) = %d, want 2", len(cfg.Feed.Symbols))
	}
	if cfg.Storage.Engine != EngineMemory {
		t.Errorf("Storage.Engine = %s, want memory", cfg.Storage.Engine)
	}
	if !cfg.Output.CaptureEnabled {
		t.Error("Output.CaptureEnabled 应为 true")
	}
}

// TestParse_DepthAboveLimit 配置深度超过单侧上限时拒绝加载
func TestParse_DepthAboveLimit(t *testing.T) {
	_, err := Parse([]byte("feed: {symbols: [XBT/USD], depth: 100}"))
	if err == nil || !strings.Contains(err.Error(), "feed.depth") {
		t.Errorf("Parse() err = %v, want feed.depth 错误", err)
	}
}

// TestLoad_Defaults 测试默认值
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("feed:\n  symbols: [XBT/USD]\n"))
	if err != nil {
		t.Fatalf("解析配置失败: %v", err)
	}

	if cfg.Feed.URL != "wss://ws.kraken.com" {
		t.Errorf("Feed.URL = %s", cfg.Feed.URL)
	}
	if cfg.Feed.Depth != 25 {
		t.Errorf("Feed.Depth = %d, want 25", cfg.Feed.Depth)
	}
	// 默认固定 5 秒重连
	if cfg.Feed.Reconnect.BaseDelayMs != 5000 || cfg.Feed.Reconnect.MaxDelayMs != 5000 || cfg.Feed.Reconnect.Jitter != 0 {
		t.Errorf("Reconnect = %+v, want 5000/5000/0", cfg.Feed.Reconnect)
	}
	if cfg.Storage.Engine != EnginePebble {
		t.Errorf("Storage.Engine = %s, want pebble", cfg.Storage.Engine)
	}
	if cfg.Broadcast.Capacity != 1000 {
		t.Errorf("Broadcast.Capacity = %d, want 1000", cfg.Broadcast.Capacity)
	}
}

// TestLoad_InvalidFile 测试加载无效文件
func TestLoad_InvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("加载不存在的文件应返回错误")
	}
}

// TestLoad_InvalidYAML 测试加载无效 YAML
func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "invalid.yaml")
	if err := os.WriteFile(tmpFile, []byte("invalid: yaml: content:"), 0644); err != nil {
		t.Fatalf("创建临时文件失败: %v", err)
	}

	_, err := Load(tmpFile)
	if err == nil {
		t.Error("加载无效 YAML 应返回错误")
	}
}
