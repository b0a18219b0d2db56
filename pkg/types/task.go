package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	TASK_TYPE_DOCUMENT_INDEX = "document_index"
)

const (
	TASK_STATUS_PENDING   = "pending"
	TASK_STATUS_RUNNING   = "running"
	TASK_STATUS_SUCCEEDED = "succeeded"
	TASK_STATUS_FAILED    = "failed"
	TASK_STATUS_CANCELED  = "canceled"
)

// 索引任务的阶段，执行器按声明顺序推进，重试从记录的阶段继续
const (
	TASK_STAGE_PERSIST_META     = "persist_meta"
	TASK_STAGE_CHUNK            = "chunk"
	TASK_STAGE_EMBEDDING_UPSERT = "embedding_upsert"
	TASK_STAGE_DELETE_OLD       = "delete_old"
)

// 各阶段完成后的进度值
const (
	TASK_PROGRESS_PERSIST_META = 0.25
	TASK_PROGRESS_CHUNK        = 0.55
	TASK_PROGRESS_EMBEDDING    = 0.9
	TASK_PROGRESS_DONE         = 1.0
)

// Task 数据表结构，一次异步索引任务
// idempotency_key 唯一约束保证同一 (workspace, document, content_hash, task_type)
// 至多存在一条记录
type Task struct {
	ID             string          `json:"id" db:"id"`
	WorkspaceID    string          `json:"workspace_id" db:"workspace_id"`
	DocumentID     string          `json:"document_id" db:"document_id"`
	TaskType       string          `json:"task_type" db:"task_type"`
	Status         string          `json:"status" db:"status"`
	Stage          string          `json:"stage" db:"stage"` // 当前待执行阶段，空表示尚未开始
	Progress       float64         `json:"progress" db:"progress"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	QueueTaskID    string          `json:"queue_task_id" db:"queue_task_id"`
	Input          json.RawMessage `json:"input" db:"input"`
	Result         json.RawMessage `json:"result" db:"result"`
	Error          json.RawMessage `json:"error" db:"error"`
	Attempts       int             `json:"attempts" db:"attempts"`
	MaxAttempts    int             `json:"max_attempts" db:"max_attempts"`
	CreatedAt      int64           `json:"created_at" db:"created_at"`
	StartedAt      int64           `json:"started_at" db:"started_at"`
	FinishedAt     int64           `json:"finished_at" db:"finished_at"`
	UpdatedAt      int64           `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the task will never run again.
func (t Task) IsTerminal() bool {
	return t.Status == TASK_STATUS_SUCCEEDED || t.Status == TASK_STATUS_FAILED || t.Status == TASK_STATUS_CANCELED
}

// GenTaskIdempotencyKey 根据任务的身份要素生成幂等键
// 同样的输入永远得到同样的键,配合唯一约束实现去重
func GenTaskIdempotencyKey(workspaceID, documentID, contentHash, taskType string) string {
	raw := strings.Join([]string{workspaceID, documentID, contentHash, taskType}, ":")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenChunkUID 生成片段的全局稳定标识
func GenChunkUID(documentID string, version, index int) string {
	return fmt.Sprintf("chunk_%s_%d_%d", documentID, version, index)
}

// TaskError 记录在任务行 error 字段中的结构化错误
type TaskError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Context map[string]string `json:"context,omitempty"`
}

// TaskInput 入队时记录的任务输入,执行器只依赖该快照而不回读上传接口的内存状态
type TaskInput struct {
	DocumentID  string `json:"document_id"`
	ContentHash string `json:"content_hash"`
	StorageURI  string `json:"storage_uri"`
	MimeType    string `json:"mime_type"`
	FileExt     string `json:"file_ext"`
	SizeBytes   int64  `json:"size_bytes"`
	IsMarkdown  bool   `json:"is_markdown"`
}

// TaskResult 任务成功后的结果摘要
type TaskResult struct {
	Skipped    string `json:"skipped,omitempty"` // same_content_hash 表示内容未变化被短路
	Version    int    `json:"version,omitempty"`
	ChunkCount int    `json:"chunk_count,omitempty"`
}
