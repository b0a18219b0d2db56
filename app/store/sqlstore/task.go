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
		provider.stores.TaskStore = NewTaskStore(provider)
	})
}

type TaskStore struct {
	CommonFields
}

// NewTaskStore 创建 TaskStore 实例
func NewTaskStore(provider SqlProviderAchieve) *TaskStore {
	repo := &TaskStore{}
	repo.SetProvider(provider)
	repo.SetTable(types.TABLE_TASK)
	repo.SetAllColumns("id", "workspace_id", "document_id", "task_type", "status", "stage", "progress",
		"idempotency_key", "queue_task_id", "input", "result", "error", "attempts", "max_attempts",
		"created_at", "started_at", "finished_at", "updated_at")
	return repo
}

func (s *TaskStore) Create(ctx context.Context, data types.Task) error {
	now := time.Now().Unix()
	if data.CreatedAt == 0 {
		data.CreatedAt = now
	}
	if data.UpdatedAt == 0 {
		data.UpdatedAt = now
	}
	if data.Status == "" {
		data.Status = types.TASK_STATUS_PENDING
	}
	if len(data.Input) == 0 {
		data.Input = []byte("{}")
	}
	if len(data.Result) == 0 {
		data.Result = []byte("{}")
	}
	if len(data.Error) == 0 {
		data.Error = []byte("{}")
	}
	query := sq.Insert(s.GetTable()).
		Columns("id", "workspace_id", "document_id", "task_type", "status", "stage", "progress",
			"idempotency_key", "queue_task_id", "input", "result", "error", "attempts", "max_attempts",
			"created_at", "started_at", "finished_at", "updated_at").
		Values(data.ID, data.WorkspaceID, data.DocumentID, data.TaskType, data.Status, data.Stage, data.Progress,
			data.IdempotencyKey, data.QueueTaskID, data.Input, data.Result, data.Error, data.Attempts, data.MaxAttempts,
			data.CreatedAt, data.StartedAt, data.FinishedAt, data.UpdatedAt)

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}

func (s *TaskStore) Get(ctx context.Context, id string) (*types.Task, error) {
	return s.getOne(ctx, sq.Eq{"id": id})
}

func (s *TaskStore) GetByIdempotencyKey(ctx context.Context, key string) (*types.Task, error) {
	return s.getOne(ctx, sq.Eq{"idempotency_key": key})
}

func (s *TaskStore) getOne(ctx context.Context, cond sq.Eq) (*types.Task, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(cond)

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res types.Task
	if err := s.GetReplica(ctx).Get(&res, queryString, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (s *TaskStore) GetLatestByDocument(ctx context.Context, documentID string) (*types.Task, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"document_id": documentID}).
		OrderBy("created_at DESC").
		Limit(1)

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res types.Task
	if err := s.GetReplica(ctx).Get(&res, queryString, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (s *TaskStore) UpdateStatus(ctx context.Context, id, status string) error {
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

func (s *TaskStore) SetQueueTaskID(ctx context.Context, id, queueTaskID string) error {
	query := sq.Update(s.GetTable()).
		Set("queue_task_id", queueTaskID).
		Set("updated_at", time.Now().Unix()).
		Where(sq.Eq{"id": id})

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}

// MarkRunning 将任务置为运行态并累计尝试次数
func (s *TaskStore) MarkRunning(ctx context.Context, id string) error {
	now := time.Now().Unix()
	query := sq.Update(s.GetTable()).
		Set("status", types.TASK_STATUS_RUNNING).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("started_at", sq.Expr("CASE WHEN started_at = 0 THEN ? ELSE started_at END", now)).
		Set("updated_at", now).
		Where(sq.Eq{"id": id})

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}

func (s *TaskStore) AdvanceStage(ctx context.Context, id, stage string, progress float64) error {
	query := sq.Update(s.GetTable()).
		Set("stage", stage).
		Set("progress", progress).
		Set("updated_at", time.Now().Unix()).
		Where(sq.Eq{"id": id})

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}

// Finish 写入终态，result 与 taskErr 为空时保持原值
func (s *TaskStore) Finish(ctx context.Context, id, status string, result, taskErr []byte) error {
	now := time.Now().Unix()
	query := sq.Update(s.GetTable()).
		Set("status", status).
		Set("finished_at", now).
		Set("updated_at", now).
		Where(sq.Eq{"id": id})
	if status == types.TASK_STATUS_SUCCEEDED {
		query = query.Set("progress", types.TASK_PROGRESS_DONE)
	}
	if len(result) > 0 {
		query = query.Set("result", result)
	}
	if len(taskErr) > 0 {
		query = query.Set("error", taskErr)
	}

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}

// ResetForRetry 将失败或已取消的任务原地重置为待执行
func (s *TaskStore) ResetForRetry(ctx context.Context, id string, input []byte) error {
	now := time.Now().Unix()
	query := sq.Update(s.GetTable()).
		Set("status", types.TASK_STATUS_PENDING).
		Set("stage", "").
		Set("progress", 0).
		Set("result", []byte("{}")).
		Set("error", []byte("{}")).
		Set("attempts", 0).
		Set("started_at", 0).
		Set("finished_at", 0).
		Set("updated_at", now).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": []string{types.TASK_STATUS_FAILED, types.TASK_STATUS_CANCELED}})
	if len(input) > 0 {
		query = query.Set("input", input)
	}

	queryString, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(queryString, args...)
	return err
}

func (s *TaskStore) ListByStatus(ctx context.Context, status string, updatedBefore int64, page, pageSize uint64) ([]types.Task, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"status": status}).
		Where(sq.Lt{"updated_at": updatedBefore}).
		OrderBy("updated_at ASC")
	if page != types.NO_PAGING {
		query = query.Limit(pageSize).Offset((page - 1) * pageSize)
	}

	queryString, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var res []types.Task
	if err := s.GetReplica(ctx).Select(&res, queryString, args...); err != nil {
		return nil, err
	}
	return res, nil
}
