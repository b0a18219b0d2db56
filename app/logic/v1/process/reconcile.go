package process

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docgraph-ai/docgraph/pkg/register"
	"github.com/docgraph-ai/docgraph/pkg/safe"
	"github.com/docgraph-ai/docgraph/pkg/types"
)

func init() {
	register.RegisterFunc[*Process](ProcessKey{}, func(p *Process) {
		if _, err := p.Cron().AddFunc("* * * * *", func() {
			safe.Run(func() {
				reconcileTasks(p)
			})
		}); err != nil {
			slog.Error("failed to register task reconciler", slog.String("error", err.Error()))
			return
		}
		slog.Info("task reconciler scheduled")
	})
}

const reconcilePageSize = 100

// reconcileTasks 补偿巡检,兜住队列消息丢失和执行器宕机两类情况
// pending 超时说明消息没被消费,重新入队;running 超时说明执行器死亡,直接判失败
func reconcileTasks(p *Process) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := p.Core().Cfg().Task
	now := time.Now().Unix()

	requeueStalePending(ctx, p, now-int64(cfg.PendingStaleSecond))
	failStaleRunning(ctx, p, now-int64(cfg.RunningStaleSecond))
}

func requeueStalePending(ctx context.Context, p *Process, updatedBefore int64) {
	tasks, err := p.Core().Store().TaskStore().ListByStatus(ctx, types.TASK_STATUS_PENDING, updatedBefore, 1, reconcilePageSize)
	if err != nil {
		slog.Error("reconciler failed to list stale pending tasks", slog.String("error", err.Error()))
		return
	}

	for _, task := range tasks {
		queueTaskID, err := p.IndexQueue().EnqueueDocumentIndex(ctx, task.ID)
		if err != nil {
			slog.Error("reconciler failed to requeue task",
				slog.String("task_id", task.ID), slog.String("error", err.Error()))
			continue
		}
		if err = p.Core().Store().TaskStore().SetQueueTaskID(ctx, task.ID, queueTaskID); err != nil {
			slog.Error("reconciler failed to record queue task id",
				slog.String("task_id", task.ID), slog.String("error", err.Error()))
		}
		slog.Info("stale pending task requeued",
			slog.String("task_id", task.ID), slog.String("queue_task_id", queueTaskID))
	}
}

func failStaleRunning(ctx context.Context, p *Process, updatedBefore int64) {
	tasks, err := p.Core().Store().TaskStore().ListByStatus(ctx, types.TASK_STATUS_RUNNING, updatedBefore, 1, reconcilePageSize)
	if err != nil {
		slog.Error("reconciler failed to list stale running tasks", slog.String("error", err.Error()))
		return
	}

	for _, task := range tasks {
		failTask(ctx, p.Core().Store().TaskStore(), task.ID, types.TaskError{
			Code:    TASK_ERR_INTERNAL,
			Message: fmt.Sprintf("worker lost, no progress since %d", task.UpdatedAt),
			Context: map[string]string{"stage": task.Stage},
		})
		p.Core().Metrics().TaskResultInc(types.TASK_STATUS_FAILED)
		slog.Warn("stale running task marked failed",
			slog.String("task_id", task.ID), slog.String("stage", task.Stage))
	}
}
