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
		provider.stores.DocumentStore = NewDocumentStore(provider)
	})
}

type DocumentStore struct {
	CommonFields
}

// NewDocumentStore 创建 DocumentStore 实例
func NewDocumentStore(provider SqlProviderAchieve) *DocumentStore {
	repo := &DocumentStore{}
	repo.SetProvider(provider)
	repo.SetTable(types.TABLE_DOCUMENT)
	repo.SetAllColumns("id", "workspace_id", "source_id", "external_key", "title", "status", "created_at", "updated_at")
	return repo
}

func (s *DocumentStore) Create(ctx context.Context, data types.Document) error {
	if data.CreatedAt == 0 {
		data.CreatedAt = time.Now().Unix()
	}
	if data.UpdatedAt == 0 {
		data.UpdatedAt = data.CreatedAt
	}
	if data.Status == "" {
		data.Status = types.DOCUMENT_STATUS_ACTIVE
	}
	query := sq.Insert(s.GetTable()).
		Columns("id", "workspace_id", "source_id", "external_key", "title", "status", "created_at", "updated_at").
		Values(data.ID, data.WorkspaceID, data.SourceID, data.ExternalKey, data.Title, data.Status, data.CreatedAt, data.UpdatedAt)

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}

func (s *DocumentStore) Get(ctx context.Context, workspaceID, id string) (*types.Document, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"workspace_id": workspaceID, "id": id})

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res types.Document
	if err := s.GetReplica(ctx).Get(&res, queryString, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (s *DocumentStore) GetByExternalKey(ctx context.Context, workspaceID, sourceID, externalKey string) (*types.Document, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"workspace_id": workspaceID, "source_id": sourceID, "external_key": externalKey})

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res types.Document
	if err := s.GetReplica(ctx).Get(&res, queryString, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (s *DocumentStore) List(ctx context.Context, workspaceID string, page, pageSize uint64) ([]types.Document, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"workspace_id": workspaceID}).
		OrderBy("created_at DESC")
	if page != types.NO_PAGING {
		query = query.Limit(pageSize).Offset((page - 1) * pageSize)
	}

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res []types.Document
	if err := s.GetReplica(ctx).Select(&res, queryString, args...); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *DocumentStore) Total(ctx context.Context, workspaceID string) (uint64, error) {
	query := sq.Select("COUNT(*)").
		From(s.GetTable()).
		Where(sq.Eq{"workspace_id": workspaceID})

	queryString, args, err := query.ToSql()
	if err != nil {
		return 0, ErrorSqlBuild(err)
	}

	var total uint64
	if err := s.GetReplica(ctx).Get(&total, queryString, args...); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *DocumentStore) UpdateStatus(ctx context.Context, id, status string) error {
	query := sq.Update(s.GetTable()).
		Set("status", status).
		Set("updated_at", time.Now().Unix()).
		Where(sq.Eq{"id": id})

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}
