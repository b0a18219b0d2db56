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
		provider.stores.SourceStore = NewSourceStore(provider)
	})
}

type SourceStore struct {
	CommonFields
}

// NewSourceStore 创建 SourceStore 实例
func NewSourceStore(provider SqlProviderAchieve) *SourceStore {
	repo := &SourceStore{}
	repo.SetProvider(provider)
	repo.SetTable(types.TABLE_SOURCE)
	repo.SetAllColumns("id", "workspace_id", "type", "name", "config", "created_at")
	return repo
}

func (s *SourceStore) Create(ctx context.Context, data types.Source) error {
	if data.CreatedAt == 0 {
		data.CreatedAt = time.Now().Unix()
	}
	if len(data.Config) == 0 {
		data.Config = []byte("{}")
	}
	query := sq.Insert(s.GetTable()).
		Columns("id", "workspace_id", "type", "name", "config", "created_at").
		Values(data.ID, data.WorkspaceID, data.Type, data.Name, data.Config, data.CreatedAt).
		Suffix("ON CONFLICT (workspace_id, type) DO NOTHING")

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}

func (s *SourceStore) GetByType(ctx context.Context, workspaceID, sourceType string) (*types.Source, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"workspace_id": workspaceID, "type": sourceType})

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res types.Source
	if err := s.GetReplica(ctx).Get(&res, queryString, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}
