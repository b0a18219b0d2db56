package openai

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/docgraph-ai/docgraph/pkg/ai"
)

const (
	NAME = "openai"
)

const embeddingBatchMax = 16

type Driver struct {
	client *openai.Client
	model  ai.ModelName
}

func New(token, proxy string, model ai.ModelName) *Driver {
	cfg := openai.DefaultConfig(token)
	if proxy != "" {
		cfg.BaseURL = proxy
	}

	if model.ChatModel == "" {
		model.ChatModel = openai.GPT4oMini
	}
	if model.EmbeddingModel == "" {
		model.EmbeddingModel = string(openai.SmallEmbedding3)
	}

	return &Driver{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (s *Driver) ChatModel() string {
	return s.model.ChatModel
}

func (s *Driver) Embedding(ctx context.Context, content []string) ([][]float32, error) {
	slog.Debug("Embedding", slog.String("driver", NAME), slog.Int("inputs", len(content)))

	var groups [][]string
	for i, v := range content {
		if i%embeddingBatchMax == 0 {
			groups = append(groups, []string{})
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], v)
	}

	var result [][]float32
	for _, group := range groups {
		resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(s.model.EmbeddingModel),
			Input: group,
		})
		if err != nil {
			return nil, fmt.Errorf("Error creating embedding: %w", err)
		}
		for _, d := range resp.Data {
			result = append(result, d.Embedding)
		}
	}

	return result, nil
}

func (s *Driver) Generate(ctx context.Context, messages []ai.Message) (string, error) {
	slog.Debug("Generate", slog.String("driver", NAME), slog.String("model", s.model.ChatModel))

	req := openai.ChatCompletionRequest{
		Model: s.model.ChatModel,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("Error creating chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
