package sqlstore

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/docgraph-ai/docgraph/pkg/register"
	"github.com/docgraph-ai/docgraph/pkg/types"
)

func init() {
	register.RegisterFunc[*Provider](RegisterKey{}, func(provider *Provider) {
		provider.stores.ChunkStore = NewChunkStore(provider)
	})
}

type ChunkStore struct {
	CommonFields
}

// NewChunkStore 创建 ChunkStore 实例
func NewChunkStore(provider SqlProviderAchieve) *ChunkStore {
	repo := &ChunkStore{}
	repo.SetProvider(provider)
	repo.SetTable(types.TABLE_CHUNK)
	repo.SetAllColumns("id", "document_version_id", "chunk_index", "chunk_uid", "title_path", "offset_start", "offset_end", "content", "content_hash", "created_at")
	return repo
}

// BatchCreate 批量写入片段，chunk_uid 冲突时跳过，保证阶段重试幂等
func (s *ChunkStore) BatchCreate(ctx context.Context, data []*types.Chunk) error {
	if len(data) == 0 {
		return nil
	}

	query := sq.Insert(s.GetTable()).
		Columns("id", "document_version_id", "chunk_index", "chunk_uid", "title_path", "offset_start", "offset_end", "content", "content_hash", "created_at")

	for _, item := range data {
		if item.CreatedAt == 0 {
			item.CreatedAt = time.Now().Unix()
		}
		if len(item.TitlePath) == 0 {
			item.TitlePath = []byte("[]")
		}
		query = query.Values(item.ID, item.DocumentVersionID, item.ChunkIndex, item.ChunkUID, item.TitlePath, item.OffsetStart, item.OffsetEnd, item.Content, item.ContentHash, item.CreatedAt)
	}
	query = query.Suffix("ON CONFLICT (chunk_uid) DO NOTHING")

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}

func (s *ChunkStore) ListByVersion(ctx context.Context, documentVersionID string) ([]types.Chunk, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"document_version_id": documentVersionID}).
		OrderBy("chunk_index ASC")

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res []types.Chunk
	if err := s.GetReplica(ctx).Select(&res, queryString, args...); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *ChunkStore) ListByChunkUIDs(ctx context.Context, chunkUIDs []string) ([]types.Chunk, error) {
	if len(chunkUIDs) == 0 {
		return nil, nil
	}

	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"chunk_uid": chunkUIDs})

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res []types.Chunk
	if err := s.GetReplica(ctx).Select(&res, queryString, args...); err != nil {
		return nil, err
	}
	return res, nil
}

// DeleteOldVersions 删除低于保留版本的片段行,供索引收尾阶段清理旧快照
func (s *ChunkStore) DeleteOldVersions(ctx context.Context, documentID string, keepVersion int) error {
	sub := sq.Select("id").
		From(types.TABLE_DOCUMENT_VERSION.Name()).
		Where(sq.Eq{"document_id": documentID}).
		Where(sq.Lt{"version": keepVersion})

	subQuery, subArgs, err := sub.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	query := sq.Delete(s.GetTable()).
		Where("document_version_id IN ("+subQuery+")", subArgs...)

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}

func (s *ChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	sub := sq.Select("id").
		From(types.TABLE_DOCUMENT_VERSION.Name()).
		Where(sq.Eq{"document_id": documentID})

	subQuery, subArgs, err := sub.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	query := sq.Delete(s.GetTable()).
		Where("document_version_id IN ("+subQuery+")", subArgs...)

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}
