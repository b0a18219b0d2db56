package srv

import (
	"context"

	"github.com/docgraph-ai/docgraph/pkg/types"
)

// VectorIndex 外部向量索引能力，允许短暂滞后于事实库
type VectorIndex interface {
	EnsureCollection(ctx context.Context, collection string, vectorSize int) error
	EnsureAlias(ctx context.Context, alias, collection string) error
	DeleteCollection(ctx context.Context, collection string) error
	Upsert(ctx context.Context, collection string, points []types.VectorPoint) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]types.VectorMatch, error)
	DeleteOldVersions(ctx context.Context, collection, documentID string, keepVersion int) error
}
