package ai

import (
	"context"

	"github.com/pkoukk/tiktoken-go"
)

type ModelName struct {
	ChatModel      string `toml:"chat_model"`
	EmbeddingModel string `toml:"embedding_model"`
}

type Message struct {
	Role    string
	Content string
}

// Embedder 文本向量化能力
type Embedder interface {
	Embedding(ctx context.Context, content []string) ([][]float32, error)
}

// Generator 文本生成能力
type Generator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Counter 估算文本的 token 数量
type Counter interface {
	NumTokens(text string) int
}

// MESSAGE_OVERHEAD_TOKENS 每条消息除正文外的结构开销估算
const MESSAGE_OVERHEAD_TOKENS = 8

type TokenCounter struct {
	encoder *tiktoken.Tiktoken
}

// NewTokenCounter builds a counter for model. Unknown models fall back
// to a bytes/3 heuristic instead of failing.
func NewTokenCounter(model string) *TokenCounter {
	encoder, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoder = nil
	}
	return &TokenCounter{encoder: encoder}
}

func (c *TokenCounter) NumTokens(text string) int {
	if c.encoder != nil {
		return len(c.encoder.Encode(text, nil, nil))
	}
	return len(text) / 3
}

// NumTokensMessages sums token estimates over a prompt, counting the
// per-message structural overhead.
func NumTokensMessages(counter Counter, messages []Message) int {
	var total int
	for _, m := range messages {
		total += counter.NumTokens(m.Content) + MESSAGE_OVERHEAD_TOKENS
	}
	return total
}
