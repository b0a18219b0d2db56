package v1

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/docgraph-ai/docgraph/app/core"
	"github.com/docgraph-ai/docgraph/pkg/errors"
	"github.com/docgraph-ai/docgraph/pkg/i18n"
	"github.com/docgraph-ai/docgraph/pkg/types"
)

type TaskLogic struct {
	ctx  context.Context
	core *core.Core
}

func NewTaskLogic(ctx context.Context, core *core.Core) *TaskLogic {
	return &TaskLogic{
		ctx:  ctx,
		core: core,
	}
}

// TaskStatusResult 任务状态查询视图
type TaskStatusResult struct {
	TaskID   string           `json:"task_id"`
	Status   string           `json:"status"`
	Stage    string           `json:"stage"`
	Progress float64          `json:"progress"`
	Attempts int              `json:"attempts"`
	Result   json.RawMessage  `json:"result,omitempty"`
	Error    *types.TaskError `json:"error,omitempty"`
}

func (l *TaskLogic) GetTask(taskID string) (*types.Task, error) {
	task, err := l.core.Store().TaskStore().Get(l.ctx, taskID)
	if err != nil {
		return nil, errors.New("TaskLogic.GetTask.TaskStore.Get", i18n.ERROR_INTERNAL, err)
	}
	if task == nil {
		return nil, errors.New("TaskLogic.GetTask.NotFound", i18n.ERROR_TASK_NOT_FOUND, nil).
			Code(http.StatusNotFound)
	}
	return task, nil
}

func (l *TaskLogic) GetTaskStatus(taskID string) (*TaskStatusResult, error) {
	task, err := l.GetTask(taskID)
	if err != nil {
		return nil, errors.Trace("TaskLogic.GetTaskStatus", err)
	}

	result := &TaskStatusResult{
		TaskID:   task.ID,
		Status:   task.Status,
		Stage:    task.Stage,
		Progress: task.Progress,
		Attempts: task.Attempts,
	}
	if len(task.Result) > 0 {
		result.Result = task.Result
	}
	if len(task.Error) > 0 {
		var taskErr types.TaskError
		if err := json.Unmarshal(task.Error, &taskErr); err == nil {
			result.Error = &taskErr
		}
	}
	return result, nil
}

// CancelTask 请求取消任务,运行中的任务由执行器在阶段边界协作式停止
// 重复取消视为成功,其它终态任务拒绝取消
func (l *TaskLogic) CancelTask(taskID string) error {
	task, err := l.GetTask(taskID)
	if err != nil {
		return errors.Trace("TaskLogic.CancelTask", err)
	}

	switch task.Status {
	case types.TASK_STATUS_CANCELED:
		return nil
	case types.TASK_STATUS_SUCCEEDED, types.TASK_STATUS_FAILED:
		return errors.New("TaskLogic.CancelTask.Terminal", i18n.ERROR_TASK_NOT_CANCELABLE, nil).
			Code(http.StatusConflict).Kind(errors.KindConflict)
	}

	if err = l.core.Store().TaskStore().UpdateStatus(l.ctx, task.ID, types.TASK_STATUS_CANCELED); err != nil {
		return errors.New("TaskLogic.CancelTask.TaskStore.UpdateStatus", i18n.ERROR_INTERNAL, err)
	}
	return nil
}
