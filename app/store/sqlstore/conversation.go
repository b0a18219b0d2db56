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
		provider.stores.ConversationStore = NewConversationStore(provider)
	})
}

type ConversationStore struct {
	CommonFields
}

// NewConversationStore 创建 ConversationStore 实例
func NewConversationStore(provider SqlProviderAchieve) *ConversationStore {
	repo := &ConversationStore{}
	repo.SetProvider(provider)
	repo.SetTable(types.TABLE_CONVERSATION)
	repo.SetAllColumns("id", "workspace_id", "title", "created_at", "updated_at")
	return repo
}

func (s *ConversationStore) Create(ctx context.Context, data types.Conversation) error {
	if data.CreatedAt == 0 {
		data.CreatedAt = time.Now().Unix()
	}
	if data.UpdatedAt == 0 {
		data.UpdatedAt = data.CreatedAt
	}
	query := sq.Insert(s.GetTable()).
		Columns("id", "workspace_id", "title", "created_at", "updated_at").
		Values(data.ID, data.WorkspaceID, data.Title, data.CreatedAt, data.UpdatedAt)

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}

func (s *ConversationStore) Get(ctx context.Context, id string) (*types.Conversation, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"id": id})

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res types.Conversation
	if err := s.GetReplica(ctx).Get(&res, queryString, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (s *ConversationStore) List(ctx context.Context, workspaceID string, page, pageSize uint64) ([]types.Conversation, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"workspace_id": workspaceID}).
		OrderBy("updated_at DESC")
	if page != types.NO_PAGING {
		query = query.Limit(pageSize).Offset((page - 1) * pageSize)
	}

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res []types.Conversation
	if err := s.GetReplica(ctx).Select(&res, queryString, args...); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *ConversationStore) UpdateTitle(ctx context.Context, id, title string) error {
	query := sq.Update(s.GetTable()).
		Set("title", title).
		Set("updated_at", time.Now().Unix()).
		Where(sq.Eq{"id": id})

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}

// Touch 刷新会话活跃时间
func (s *ConversationStore) Touch(ctx context.Context, id string) error {
	query := sq.Update(s.GetTable()).
		Set("updated_at", time.Now().Unix()).
		Where(sq.Eq{"id": id})

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}
