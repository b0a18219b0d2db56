package types

import "encoding/json"

const (
	MESSAGE_ROLE_USER      = "user"
	MESSAGE_ROLE_ASSISTANT = "assistant"
	MESSAGE_ROLE_SYSTEM    = "system"
)

// Conversation 数据表结构，一个多轮对话
type Conversation struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	Title       string `json:"title" db:"title"`
	CreatedAt   int64  `json:"created_at" db:"created_at"`
	UpdatedAt   int64  `json:"updated_at" db:"updated_at"`
}

// Message 数据表结构，对话中的一条消息，只追加不修改
// id 使用雪花算法生成，同一会话内随时间单调递增
type Message struct {
	ID             int64           `json:"id" db:"id"`
	ConversationID string          `json:"conversation_id" db:"conversation_id"`
	Role           string          `json:"role" db:"role"`
	Content        string          `json:"content" db:"content"`
	Metadata       json.RawMessage `json:"metadata" db:"metadata"` // assistant 消息携带引用信息
	CreatedAt      int64           `json:"created_at" db:"created_at"`
}

// MemorySummary 数据表结构，会话早期历史的滚动摘要
// last_message_id 只会单调前移，记录摘要覆盖到的最后一条消息
type MemorySummary struct {
	ConversationID string `json:"conversation_id" db:"conversation_id"`
	Summary        string `json:"summary" db:"summary"`
	LastMessageID  int64  `json:"last_message_id" db:"last_message_id"`
	UpdatedAt      int64  `json:"updated_at" db:"updated_at"`
}

// Citation 回答引用的片段定位信息
type Citation struct {
	ChunkUID   string  `json:"chunk_uid"`
	DocumentID string  `json:"document_id"`
	Score      float32 `json:"score"`
}

// TurnResult 一次对话轮次的结果
type TurnResult struct {
	ConversationID string     `json:"conversation_id"`
	MessageID      int64      `json:"message_id"`
	Answer         string     `json:"answer"`
	Citations      []Citation `json:"citations"`
}

// MessageMetadata 持久化在 assistant 消息 metadata 字段中的内容
type MessageMetadata struct {
	Citations []Citation `json:"citations,omitempty"`
}
