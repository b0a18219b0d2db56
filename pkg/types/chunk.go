package types

import "encoding/json"

// Chunk 数据表结构，文档版本切分出的片段
// chunk_uid 全局唯一且可由 (document, version, index) 推导，向量索引以它定位片段
type Chunk struct {
	ID                string          `json:"id" db:"id"`
	DocumentVersionID string          `json:"document_version_id" db:"document_version_id"`
	ChunkIndex        int             `json:"chunk_index" db:"chunk_index"`
	ChunkUID          string          `json:"chunk_uid" db:"chunk_uid"`
	TitlePath         json.RawMessage `json:"title_path" db:"title_path"` // 标题层级路径，JSON 数组
	OffsetStart       int             `json:"offset_start" db:"offset_start"`
	OffsetEnd         int             `json:"offset_end" db:"offset_end"`
	Content           string          `json:"content" db:"content"`
	ContentHash       string          `json:"content_hash" db:"content_hash"`
	CreatedAt         int64           `json:"created_at" db:"created_at"`
}
