package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/docgraph-ai/docgraph/pkg/register"
	"github.com/docgraph-ai/docgraph/pkg/types"
)

func init() {
	register.RegisterFunc[*Provider](RegisterKey{}, func(provider *Provider) {
		provider.stores.DocumentVersionStore = NewDocumentVersionStore(provider)
	})
}

type DocumentVersionStore struct {
	CommonFields
}

// NewDocumentVersionStore 创建 DocumentVersionStore 实例
func NewDocumentVersionStore(provider SqlProviderAchieve) *DocumentVersionStore {
	repo := &DocumentVersionStore{}
	repo.SetProvider(provider)
	repo.SetTable(types.TABLE_DOCUMENT_VERSION)
	repo.SetAllColumns("id", "document_id", "version", "content_hash", "size_bytes", "storage_uri", "mime_type", "file_ext", "created_at")
	return repo
}

func (s *DocumentVersionStore) Create(ctx context.Context, data types.DocumentVersion) error {
	if data.CreatedAt == 0 {
		data.CreatedAt = time.Now().Unix()
	}
	query := sq.Insert(s.GetTable()).
		Columns("id", "document_id", "version", "content_hash", "size_bytes", "storage_uri", "mime_type", "file_ext", "created_at").
		Values(data.ID, data.DocumentID, data.Version, data.ContentHash, data.SizeBytes, data.StorageURI, data.MimeType, data.FileExt, data.CreatedAt)

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}

func (s *DocumentVersionStore) Get(ctx context.Context, id string) (*types.DocumentVersion, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"id": id})

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res types.DocumentVersion
	if err := s.GetReplica(ctx).Get(&res, queryString, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (s *DocumentVersionStore) GetByContentHash(ctx context.Context, documentID, contentHash string) (*types.DocumentVersion, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"document_id": documentID, "content_hash": contentHash}).
		OrderBy("version DESC").
		Limit(1)

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res types.DocumentVersion
	if err := s.GetReplica(ctx).Get(&res, queryString, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (s *DocumentVersionStore) GetLatest(ctx context.Context, documentID string) (*types.DocumentVersion, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"document_id": documentID}).
		OrderBy("version DESC").
		Limit(1)

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res types.DocumentVersion
	if err := s.GetReplica(ctx).Get(&res, queryString, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}
