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
		provider.stores.WorkspaceStore = NewWorkspaceStore(provider)
	})
}

type WorkspaceStore struct {
	CommonFields
}

// NewWorkspaceStore 创建 WorkspaceStore 实例
func NewWorkspaceStore(provider SqlProviderAchieve) *WorkspaceStore {
	repo := &WorkspaceStore{}
	repo.SetProvider(provider)
	repo.SetTable(types.TABLE_WORKSPACE)
	repo.SetAllColumns("id", "name", "collection", "collection_alias", "created_at", "updated_at")
	return repo
}

func (s *WorkspaceStore) Create(ctx context.Context, data types.Workspace) error {
	if data.CreatedAt == 0 {
		data.CreatedAt = time.Now().Unix()
	}
	if data.UpdatedAt == 0 {
		data.UpdatedAt = data.CreatedAt
	}
	query := sq.Insert(s.GetTable()).
		Columns("id", "name", "collection", "collection_alias", "created_at", "updated_at").
		Values(data.ID, data.Name, data.Collection, data.CollectionAlias, data.CreatedAt, data.UpdatedAt)

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}

func (s *WorkspaceStore) Get(ctx context.Context, id string) (*types.Workspace, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"id": id})

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res types.Workspace
	if err := s.GetReplica(ctx).Get(&res, queryString, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (s *WorkspaceStore) List(ctx context.Context, page, pageSize uint64) ([]types.Workspace, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		OrderBy("created_at DESC")
	if page != types.NO_PAGING {
		query = query.Limit(pageSize).Offset((page - 1) * pageSize)
	}

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res []types.Workspace
	if err := s.GetReplica(ctx).Select(&res, queryString, args...); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *WorkspaceStore) UpdateAlias(ctx context.Context, id, alias string) error {
	query := sq.Update(s.GetTable()).
		Set("collection_alias", alias).
		Set("updated_at", time.Now().Unix()).
		Where(sq.Eq{"id": id})

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}

func (s *WorkspaceStore) Delete(ctx context.Context, id string) error {
	query := sq.Delete(s.GetTable()).Where(sq.Eq{"id": id})

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}
