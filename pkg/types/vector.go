package types

// PointPayload 向量点携带的定位信息
// version 为数值类型，delete_old 阶段依赖它做范围过滤
type PointPayload struct {
	ChunkUID          string `json:"chunk_uid"`
	DocumentID        string `json:"document_id"`
	DocumentVersionID string `json:"document_version_id"`
	Version           int    `json:"version"`
	OffsetStart       int    `json:"offset_start"`
	OffsetEnd         int    `json:"offset_end"`
}

// VectorPoint 待写入向量索引的一个点
type VectorPoint struct {
	ID      string       `json:"id"` // uuid5(chunk_uid)
	Vector  []float32    `json:"vector"`
	Payload PointPayload `json:"payload"`
}

// VectorMatch 相似度检索命中
type VectorMatch struct {
	ChunkUID   string  `json:"chunk_uid"`
	DocumentID string  `json:"document_id"`
	Score      float32 `json:"score"`
}
