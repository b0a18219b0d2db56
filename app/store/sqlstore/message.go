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
		provider.stores.MessageStore = NewMessageStore(provider)
	})
}

type MessageStore struct {
	CommonFields
}

// NewMessageStore 创建 MessageStore 实例
func NewMessageStore(provider SqlProviderAchieve) *MessageStore {
	repo := &MessageStore{}
	repo.SetProvider(provider)
	repo.SetTable(types.TABLE_MESSAGE)
	repo.SetAllColumns("id", "conversation_id", "role", "content", "metadata", "created_at")
	return repo
}

func (s *MessageStore) Create(ctx context.Context, data types.Message) error {
	if data.CreatedAt == 0 {
		data.CreatedAt = time.Now().Unix()
	}
	if len(data.Metadata) == 0 {
		data.Metadata = []byte("{}")
	}
	query := sq.Insert(s.GetTable()).
		Columns("id", "conversation_id", "role", "content", "metadata", "created_at").
		Values(data.ID, data.ConversationID, data.Role, data.Content, data.Metadata, data.CreatedAt)

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}

func (s *MessageStore) List(ctx context.Context, conversationID string, page, pageSize uint64) ([]types.Message, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"conversation_id": conversationID}).
		OrderBy("id ASC")
	if page != types.NO_PAGING {
		query = query.Limit(pageSize).Offset((page - 1) * pageSize)
	}

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res []types.Message
	if err := s.GetReplica(ctx).Select(&res, queryString, args...); err != nil {
		return nil, err
	}
	return res, nil
}

// ListRecent 返回最近的 limit 条消息，按时间正序排列
func (s *MessageStore) ListRecent(ctx context.Context, conversationID string, limit uint64) ([]types.Message, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"conversation_id": conversationID}).
		OrderBy("id DESC").
		Limit(limit)

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res []types.Message
	if err := s.GetReplica(ctx).Select(&res, queryString, args...); err != nil {
		return nil, err
	}

	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

func (s *MessageStore) ListAfter(ctx context.Context, conversationID string, afterID int64, limit uint64) ([]types.Message, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"conversation_id": conversationID}).
		Where(sq.Gt{"id": afterID}).
		OrderBy("id ASC").
		Limit(limit)

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res []types.Message
	if err := s.GetReplica(ctx).Select(&res, queryString, args...); err != nil {
		return nil, err
	}
	return res, nil
}
