package core

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/docgraph-ai/docgraph/app/core/srv"
	"github.com/docgraph-ai/docgraph/pkg/chunker"
	"github.com/docgraph-ai/docgraph/pkg/vector/qdrant"
)

func MustLoadBaseConfig(path string) CoreConfig {
	if path == "" {
		return LoadBaseConfigFromENV()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	conf := &CoreConfig{}
	if err = toml.Unmarshal(raw, conf); err != nil {
		panic(err)
	}
	conf.ApplyDefaults()

	return *conf
}

func LoadBaseConfigFromENV() CoreConfig {
	var c CoreConfig
	c.FromENV()
	c.ApplyDefaults()
	return c
}

type CoreConfig struct {
	Addr     string        `toml:"addr"`
	Log      Log           `toml:"log"`
	Postgres PGConfig      `toml:"postgres"`
	Redis    RedisConfig   `toml:"redis"`
	Qdrant   qdrant.Config `toml:"qdrant"`

	AI srv.AIConfig `toml:"ai"`

	Chat      ChatConfig      `toml:"chat"`
	Chunking  chunker.Config  `toml:"chunking"`
	Task      TaskConfig      `toml:"task"`
	Storage   StorageConfig   `toml:"storage"`
	RateLimit RateLimitConfig `toml:"rate_limit"`

	Prompt Prompt `toml:"prompt"`
}

// ChatConfig 会话轮次的预算与串行化参数
type ChatConfig struct {
	MaxContextTokens       int `toml:"max_context_tokens"`
	ReservedOutputTokens   int `toml:"reserved_output_tokens"`
	ReservedEvidenceTokens int `toml:"reserved_evidence_tokens"`
	TopK                   int `toml:"top_k"`
	LockTTLSeconds         int `toml:"lock_ttl_seconds"`
	RecentCacheMax         int `toml:"recent_cache_max"`
	CacheTTLHours          int `toml:"cache_ttl_hours"`
	// SummarizeDropThreshold 本轮被裁剪的历史条数超过该值时触发摘要
	SummarizeDropThreshold int `toml:"summarize_drop_threshold"`
}

type TaskConfig struct {
	MaxAttempts        int `toml:"max_attempts"`
	QueueConcurrency   int `toml:"queue_concurrency"`
	PendingStaleSecond int `toml:"pending_stale_second"`
	RunningStaleSecond int `toml:"running_stale_second"`
}

type StorageConfig struct {
	UploadDir string `toml:"upload_dir"`
}

// RateLimitConfig 按客户端地址的请求限流参数
type RateLimitConfig struct {
	PerSecond int `toml:"per_second"`
	Burst     int `toml:"burst"`
}

// Prompt 配置结构
// 用于自定义系统各场景下使用的 prompt，为空则使用内置默认值
type Prompt struct {
	Base        string `toml:"base"`         // 回答系统 Prompt
	ChatSummary string `toml:"chat_summary"` // 历史摘要 Prompt
}

func (c *CoreConfig) ApplyDefaults() {
	if c.Chat.MaxContextTokens == 0 {
		c.Chat.MaxContextTokens = 8192
	}
	if c.Chat.ReservedOutputTokens == 0 {
		c.Chat.ReservedOutputTokens = 1024
	}
	if c.Chat.ReservedEvidenceTokens == 0 {
		c.Chat.ReservedEvidenceTokens = 2048
	}
	if c.Chat.TopK == 0 {
		c.Chat.TopK = 6
	}
	if c.Chat.LockTTLSeconds == 0 {
		c.Chat.LockTTLSeconds = 60
	}
	if c.Chat.RecentCacheMax == 0 {
		c.Chat.RecentCacheMax = 50
	}
	if c.Chat.CacheTTLHours == 0 {
		c.Chat.CacheTTLHours = 24 * 7
	}
	if c.Chat.SummarizeDropThreshold == 0 {
		c.Chat.SummarizeDropThreshold = 6
	}
	if c.Chunking.TargetChars == 0 {
		c.Chunking = chunker.DefaultConfig()
	}
	if c.Task.MaxAttempts == 0 {
		c.Task.MaxAttempts = 3
	}
	if c.Task.QueueConcurrency == 0 {
		c.Task.QueueConcurrency = 4
	}
	if c.Task.PendingStaleSecond == 0 {
		c.Task.PendingStaleSecond = 120
	}
	if c.Task.RunningStaleSecond == 0 {
		c.Task.RunningStaleSecond = 1800
	}
	if c.Storage.UploadDir == "" {
		c.Storage.UploadDir = "./data/uploads"
	}
	if c.RateLimit.PerSecond == 0 {
		c.RateLimit.PerSecond = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
}

func (c *CoreConfig) FromENV() {
	c.Addr = os.Getenv("DOCGRAPH_API_SERVICE_ADDRESS")
	c.Log.FromENV()
	c.Postgres.FromENV()
	c.Redis.FromENV()
	c.Qdrant.URL = os.Getenv("DOCGRAPH_QDRANT_URL")
	c.Qdrant.APIKey = os.Getenv("DOCGRAPH_QDRANT_API_KEY")
	c.AI.Token = os.Getenv("DOCGRAPH_OPENAI_TOKEN")
	c.AI.Proxy = os.Getenv("DOCGRAPH_OPENAI_PROXY")
}

type PGConfig struct {
	DSN string `toml:"dsn"`
}

func (m *PGConfig) FromENV() {
	m.DSN = os.Getenv("DOCGRAPH_POSTGRESQL_DSN")
}

func (c PGConfig) FormatDSN() string {
	return c.DSN
}

type RedisConfig struct {
	Addr     string `toml:"addr"`     // Redis地址，格式: host:port
	Password string `toml:"password"` // Redis密码
	DB       int    `toml:"db"`       // Redis数据库索引 (0-15)

	PoolSize     int `toml:"pool_size"`      // 连接池大小，默认10
	MinIdleConns int `toml:"min_idle_conns"` // 最小空闲连接数，默认0
	DialTimeout  int `toml:"dial_timeout"`   // 连接超时(秒)，默认5
	ReadTimeout  int `toml:"read_timeout"`   // 读超时(秒)，默认3
	WriteTimeout int `toml:"write_timeout"`  // 写超时(秒)，默认3
}

func (r *RedisConfig) FromENV() {
	r.Addr = os.Getenv("DOCGRAPH_REDIS_ADDR")
	r.Password = os.Getenv("DOCGRAPH_REDIS_PASSWORD")
	if dbStr := os.Getenv("DOCGRAPH_REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			r.DB = db
		}
	}
}

type Log struct {
	Level string `toml:"level"`
	Path  string `toml:"path"`
}

func (l *Log) FromENV() {
	l.Level = os.Getenv("DOCGRAPH_API_LOG_LEVEL")
	l.Path = os.Getenv("DOCGRAPH_API_LOG_PATH")
}

func (l *Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}
