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
		provider.stores.MemorySummaryStore = NewMemorySummaryStore(provider)
	})
}

type MemorySummaryStore struct {
	CommonFields
}

// NewMemorySummaryStore 创建 MemorySummaryStore 实例
func NewMemorySummaryStore(provider SqlProviderAchieve) *MemorySummaryStore {
	repo := &MemorySummaryStore{}
	repo.SetProvider(provider)
	repo.SetTable(types.TABLE_MEMORY_SUMMARY)
	repo.SetAllColumns("conversation_id", "summary", "last_message_id", "updated_at")
	return repo
}

func (s *MemorySummaryStore) Get(ctx context.Context, conversationID string) (*types.MemorySummary, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"conversation_id": conversationID})

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res types.MemorySummary
	if err := s.GetReplica(ctx).Get(&res, queryString, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

// Upsert 写入摘要。冲突更新带 last_message_id 递增条件，
// 并发写入时旧摘要不会覆盖新摘要
func (s *MemorySummaryStore) Upsert(ctx context.Context, data types.MemorySummary) error {
	if data.UpdatedAt == 0 {
		data.UpdatedAt = time.Now().Unix()
	}
	query := sq.Insert(s.GetTable()).
		Columns("conversation_id", "summary", "last_message_id", "updated_at").
		Values(data.ConversationID, data.Summary, data.LastMessageID, data.UpdatedAt).
		Suffix("ON CONFLICT (conversation_id) DO UPDATE SET summary = EXCLUDED.summary, last_message_id = EXCLUDED.last_message_id, updated_at = EXCLUDED.updated_at WHERE " + s.GetTable() + ".last_message_id <= EXCLUDED.last_message_id")

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}
