package store

import (
	"context"

	"github.com/docgraph-ai/docgraph/pkg/sqlstore"
	"github.com/docgraph-ai/docgraph/pkg/types"
)

// WorkspaceStore 定义工作空间的存储操作
type WorkspaceStore interface {
	sqlstore.SqlCommons
	Create(ctx context.Context, data types.Workspace) error
	Get(ctx context.Context, id string) (*types.Workspace, error)
	List(ctx context.Context, page, pageSize uint64) ([]types.Workspace, error)
	UpdateAlias(ctx context.Context, id, alias string) error
	Delete(ctx context.Context, id string) error
}

// SourceStore 定义文档来源的存储操作
type SourceStore interface {
	sqlstore.SqlCommons
	Create(ctx context.Context, data types.Source) error
	GetByType(ctx context.Context, workspaceID, sourceType string) (*types.Source, error)
}

// DocumentStore 定义逻辑文档的存储操作
type DocumentStore interface {
	sqlstore.SqlCommons
	Create(ctx context.Context, data types.Document) error
	Get(ctx context.Context, workspaceID, id string) (*types.Document, error)
	GetByExternalKey(ctx context.Context, workspaceID, sourceID, externalKey string) (*types.Document, error)
	List(ctx context.Context, workspaceID string, page, pageSize uint64) ([]types.Document, error)
	Total(ctx context.Context, workspaceID string) (uint64, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// DocumentVersionStore 定义文档版本快照的存储操作
type DocumentVersionStore interface {
	sqlstore.SqlCommons
	Create(ctx context.Context, data types.DocumentVersion) error
	Get(ctx context.Context, id string) (*types.DocumentVersion, error)
	GetByContentHash(ctx context.Context, documentID, contentHash string) (*types.DocumentVersion, error)
	GetLatest(ctx context.Context, documentID string) (*types.DocumentVersion, error)
}

// ChunkStore 定义片段的存储操作
type ChunkStore interface {
	sqlstore.SqlCommons
	BatchCreate(ctx context.Context, data []*types.Chunk) error
	ListByVersion(ctx context.Context, documentVersionID string) ([]types.Chunk, error)
	ListByChunkUIDs(ctx context.Context, chunkUIDs []string) ([]types.Chunk, error)
	DeleteOldVersions(ctx context.Context, documentID string, keepVersion int) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

// TaskStore 定义索引任务的存储操作
type TaskStore interface {
	sqlstore.SqlCommons
	Create(ctx context.Context, data types.Task) error
	Get(ctx context.Context, id string) (*types.Task, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*types.Task, error)
	GetLatestByDocument(ctx context.Context, documentID string) (*types.Task, error)
	UpdateStatus(ctx context.Context, id, status string) error
	SetQueueTaskID(ctx context.Context, id, queueTaskID string) error
	MarkRunning(ctx context.Context, id string) error
	AdvanceStage(ctx context.Context, id, stage string, progress float64) error
	Finish(ctx context.Context, id, status string, result, taskErr []byte) error
	ResetForRetry(ctx context.Context, id string, input []byte) error
	ListByStatus(ctx context.Context, status string, updatedBefore int64, page, pageSize uint64) ([]types.Task, error)
}

// ConversationStore 定义会话的存储操作
type ConversationStore interface {
	sqlstore.SqlCommons
	Create(ctx context.Context, data types.Conversation) error
	Get(ctx context.Context, id string) (*types.Conversation, error)
	List(ctx context.Context, workspaceID string, page, pageSize uint64) ([]types.Conversation, error)
	UpdateTitle(ctx context.Context, id, title string) error
	Touch(ctx context.Context, id string) error
}

// MessageStore 定义消息的存储操作，消息只追加不修改
type MessageStore interface {
	sqlstore.SqlCommons
	Create(ctx context.Context, data types.Message) error
	List(ctx context.Context, conversationID string, page, pageSize uint64) ([]types.Message, error)
	ListRecent(ctx context.Context, conversationID string, limit uint64) ([]types.Message, error)
	ListAfter(ctx context.Context, conversationID string, afterID int64, limit uint64) ([]types.Message, error)
}

// MemorySummaryStore 定义会话摘要的存储操作
type MemorySummaryStore interface {
	sqlstore.SqlCommons
	Get(ctx context.Context, conversationID string) (*types.MemorySummary, error)
	// Upsert 写入摘要，last_message_id 只允许前移
	Upsert(ctx context.Context, data types.MemorySummary) error
}
