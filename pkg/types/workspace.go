package types

// Workspace 数据表结构，表示一个独立的检索空间
// 每个工作空间对应向量索引中的一个独立 collection
type Workspace struct {
	ID              string `json:"id" db:"id"`                             // 工作空间ID
	Name            string `json:"name" db:"name"`                         // 工作空间名称
	Collection      string `json:"collection" db:"collection"`             // 向量索引 collection 名称，全局唯一
	CollectionAlias string `json:"collection_alias" db:"collection_alias"` // collection 别名，空表示未启用
	CreatedAt       int64  `json:"created_at" db:"created_at"`
	UpdatedAt       int64  `json:"updated_at" db:"updated_at"`
}
