package types

import "encoding/json"

const (
	SOURCE_TYPE_LOCAL_UPLOAD = "local_upload"
)

const (
	DOCUMENT_STATUS_ACTIVE  = "active"
	DOCUMENT_STATUS_DELETED = "deleted"
)

// Source 数据表结构，文档的来源渠道
type Source struct {
	ID          string          `json:"id" db:"id"`
	WorkspaceID string          `json:"workspace_id" db:"workspace_id"`
	Type        string          `json:"type" db:"type"` // 来源类型，例如 local_upload
	Name        string          `json:"name" db:"name"`
	Config      json.RawMessage `json:"config" db:"config"` // 来源相关配置
	CreatedAt   int64           `json:"created_at" db:"created_at"`
}

// Document 数据表结构，逻辑文档
// 同一 (workspace, source, external_key) 只会存在一条记录，内容变化通过版本表体现
type Document struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	SourceID    string `json:"source_id" db:"source_id"`
	ExternalKey string `json:"external_key" db:"external_key"` // 来源侧的文档标识，例如文件名
	Title       string `json:"title" db:"title"`
	Status      string `json:"status" db:"status"`
	CreatedAt   int64  `json:"created_at" db:"created_at"`
	UpdatedAt   int64  `json:"updated_at" db:"updated_at"`
}

// DocumentVersion 数据表结构，文档的一个不可变内容快照
type DocumentVersion struct {
	ID          string `json:"id" db:"id"`
	DocumentID  string `json:"document_id" db:"document_id"`
	Version     int    `json:"version" db:"version"` // 从 1 开始递增
	ContentHash string `json:"content_hash" db:"content_hash"`
	SizeBytes   int64  `json:"size_bytes" db:"size_bytes"`
	StorageURI  string `json:"storage_uri" db:"storage_uri"`
	MimeType    string `json:"mime_type" db:"mime_type"`
	FileExt     string `json:"file_ext" db:"file_ext"`
	CreatedAt   int64  `json:"created_at" db:"created_at"`
}

// DocumentWithTask 文档列表视图，附带最近一次索引任务状态
type DocumentWithTask struct {
	Document
	LatestVersion int     `json:"latest_version" db:"latest_version"`
	TaskID        string  `json:"task_id" db:"task_id"`
	TaskStatus    string  `json:"task_status" db:"task_status"`
	TaskProgress  float64 `json:"task_progress" db:"task_progress"`
}
