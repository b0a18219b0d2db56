package srv

import (
	"github.com/docgraph-ai/docgraph/pkg/ai"
	"github.com/docgraph-ai/docgraph/pkg/ai/openai"
)

type AIConfig struct {
	Driver     string       `toml:"driver"`
	Token      string       `toml:"token"`
	Proxy      string       `toml:"proxy"`
	Model      ai.ModelName `toml:"model"`
	VectorSize int          `toml:"vector_size"`
}

// AI 聚合模型能力，索引与会话流程共用一套驱动
type AI struct {
	embedder   ai.Embedder
	generator  ai.Generator
	tokens     ai.Counter
	vectorSize int
}

func SetupAI(cfg AIConfig) *AI {
	driver := openai.New(cfg.Token, cfg.Proxy, cfg.Model)

	vectorSize := cfg.VectorSize
	if vectorSize == 0 {
		vectorSize = 1536
	}

	return &AI{
		embedder:   driver,
		generator:  driver,
		tokens:     ai.NewTokenCounter(driver.ChatModel()),
		vectorSize: vectorSize,
	}
}

func ApplyAI(cfg AIConfig) ApplyFunc {
	return func(s *Srv) {
		s.ai = SetupAI(cfg)
	}
}

func (a *AI) Embedder() ai.Embedder {
	return a.embedder
}

func (a *AI) Generator() ai.Generator {
	return a.generator
}

func (a *AI) Tokens() ai.Counter {
	return a.tokens
}

func (a *AI) VectorSize() int {
	return a.vectorSize
}
