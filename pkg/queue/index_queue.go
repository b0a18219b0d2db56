package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// 任务类型
	TaskTypeDocumentIndex = "document:index"

	// 索引队列名称
	IndexQueueName = "indexing"

	// 重试和超时配置
	MaxRetries  = 3
	TaskTimeout = 30 * time.Minute
)

// DocumentIndexTask 文档索引任务载荷,真正的输入快照存在任务行里
type DocumentIndexTask struct {
	TaskID string `json:"task_id"`
}

// IndexQueue 基于 Asynq 的文档索引队列
type IndexQueue struct {
	client     *asynq.Client
	maxRetries int
}

// NewIndexQueueWithClient 使用已存在的 Client 创建队列
// 适用于多个队列共享同一个 asynq 连接的场景
func NewIndexQueueWithClient(client *asynq.Client, maxRetries int) *IndexQueue {
	if maxRetries <= 0 {
		maxRetries = MaxRetries
	}
	return &IndexQueue{
		client:     client,
		maxRetries: maxRetries,
	}
}

// EnqueueDocumentIndex 将索引任务加入队列,返回队列侧的任务标识
func (q *IndexQueue) EnqueueDocumentIndex(ctx context.Context, taskID string) (string, error) {
	payload, err := json.Marshal(DocumentIndexTask{TaskID: taskID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal task: %w", err)
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeDocumentIndex, payload,
		asynq.MaxRetry(q.maxRetries),
		asynq.Timeout(TaskTimeout),
		asynq.Queue(IndexQueueName),
	))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	slog.Info("document index task enqueued",
		slog.String("task_id", taskID),
		slog.String("queue_task_id", info.ID))
	return info.ID, nil
}

// Shutdown 关闭队列客户端
func (q *IndexQueue) Shutdown() {
	if q.client != nil {
		if err := q.client.Close(); err != nil {
			slog.Error("failed to close asynq client", slog.String("error", err.Error()))
		}
	}
}
