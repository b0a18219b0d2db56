package process

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/samber/lo"

	"github.com/docgraph-ai/docgraph/app/core"
	"github.com/docgraph-ai/docgraph/app/core/srv"
	"github.com/docgraph-ai/docgraph/app/store"
	"github.com/docgraph-ai/docgraph/pkg/ai"
	"github.com/docgraph-ai/docgraph/pkg/chunker"
	"github.com/docgraph-ai/docgraph/pkg/queue"
	"github.com/docgraph-ai/docgraph/pkg/register"
	"github.com/docgraph-ai/docgraph/pkg/types"
	"github.com/docgraph-ai/docgraph/pkg/utils"
	"github.com/docgraph-ai/docgraph/pkg/vector/qdrant"
)

func init() {
	register.RegisterFunc[*Process](ProcessKey{}, func(p *Process) {
		p.AsynqServerMux().HandleFunc(queue.TaskTypeDocumentIndex, func(ctx context.Context, task *asynq.Task) error {
			var payload queue.DocumentIndexTask
			if err := json.Unmarshal(task.Payload(), &payload); err != nil {
				slog.Error("failed to unmarshal index task payload", slog.String("error", err.Error()))
				return fmt.Errorf("bad payload: %w", asynq.SkipRetry)
			}
			return HandleDocumentIndex(ctx, p.Core(), payload.TaskID)
		})
		slog.Info("document index consumer registered")
	})
}

// 任务失败时记录的错误码
const (
	TASK_ERR_DOCUMENT_NOT_FOUND   = "document_not_found"
	TASK_ERR_WORKSPACE_NOT_FOUND  = "workspace_not_found"
	TASK_ERR_BAD_INPUT            = "bad_input"
	TASK_ERR_STORAGE_READ_FAILED  = "storage_read_failed"
	TASK_ERR_NO_CHUNKS            = "no_chunks_produced"
	TASK_ERR_EMBEDDING_FAILED     = "embedding_failed"
	TASK_ERR_VECTOR_UNAVAILABLE   = "vector_index_unavailable"
	TASK_ERR_MAX_ATTEMPTS_REACHED = "max_attempts_reached"
	TASK_ERR_INTERNAL             = "internal"
)

// permanentError 不值得重试的任务错误
type permanentError struct {
	code string
	err  error
}

func (e *permanentError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %s", e.code, e.err.Error())
}

func permanent(code string, err error) error {
	return &permanentError{code: code, err: err}
}

// transientError 可重试的任务错误
type transientError struct {
	code string
	err  error
}

func (e *transientError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.err.Error())
}

func transient(code string, err error) error {
	return &transientError{code: code, err: err}
}

// errCanceled 表示任务在阶段边界发现了取消请求
var errCanceled = fmt.Errorf("task canceled")

// HandleDocumentIndex 消费一个索引任务,负责状态机推进与重试语义
// 任务行是唯一事实,队列消息只携带任务标识
func HandleDocumentIndex(ctx context.Context, core *core.Core, taskID string) error {
	task, err := core.Store().TaskStore().Get(ctx, taskID)
	if err != nil {
		return transient(TASK_ERR_INTERNAL, err)
	}
	if task == nil {
		// 任务行不存在,消息直接丢弃
		slog.Warn("index task row not found, dropping message", slog.String("task_id", taskID))
		return nil
	}
	if task.IsTerminal() {
		return nil
	}

	if task.MaxAttempts > 0 && task.Attempts >= task.MaxAttempts {
		failTask(ctx, core.Store().TaskStore(), task.ID, types.TaskError{
			Code:    TASK_ERR_MAX_ATTEMPTS_REACHED,
			Message: fmt.Sprintf("gave up after %d attempts", task.Attempts),
		})
		core.Metrics().TaskResultInc(types.TASK_STATUS_FAILED)
		return fmt.Errorf("max attempts reached: %w", asynq.SkipRetry)
	}

	if err = core.Store().TaskStore().MarkRunning(ctx, task.ID); err != nil {
		return transient(TASK_ERR_INTERNAL, err)
	}

	indexer := NewDocumentIndexer(core)
	err = indexer.Run(ctx, task)
	switch {
	case err == nil:
		core.Metrics().TaskResultInc(types.TASK_STATUS_SUCCEEDED)
		return nil
	case err == errCanceled:
		core.Metrics().TaskResultInc(types.TASK_STATUS_CANCELED)
		return nil
	default:
		return finishFailed(ctx, core, task, err)
	}
}

// finishFailed 将执行错误落到任务行,瞬时错误留给队列重试
func finishFailed(ctx context.Context, core *core.Core, task *types.Task, err error) error {
	if pe, ok := err.(*permanentError); ok {
		message := pe.code
		if pe.err != nil {
			message = pe.err.Error()
		}
		failTask(ctx, core.Store().TaskStore(), task.ID, types.TaskError{
			Code:    pe.code,
			Message: message,
			Context: map[string]string{"document_id": task.DocumentID},
		})
		core.Metrics().TaskResultInc(types.TASK_STATUS_FAILED)
		return fmt.Errorf("%s: %w", pe.Error(), asynq.SkipRetry)
	}

	if task.MaxAttempts > 0 && task.Attempts+1 >= task.MaxAttempts {
		code := TASK_ERR_INTERNAL
		if te, ok := err.(*transientError); ok {
			code = te.code
		}
		failTask(ctx, core.Store().TaskStore(), task.ID, types.TaskError{
			Code:    code,
			Message: err.Error(),
			Context: map[string]string{"document_id": task.DocumentID},
		})
		core.Metrics().TaskResultInc(types.TASK_STATUS_FAILED)
		return fmt.Errorf("%s: %w", err.Error(), asynq.SkipRetry)
	}

	// 行状态回到 pending,队列按退避策略重投,断点记录在 stage 字段
	if serr := core.Store().TaskStore().UpdateStatus(ctx, task.ID, types.TASK_STATUS_PENDING); serr != nil {
		slog.Error("failed to reset task status for retry",
			slog.String("task_id", task.ID), slog.String("error", serr.Error()))
	}
	return err
}

func failTask(ctx context.Context, tasks store.TaskStore, taskID string, taskErr types.TaskError) {
	raw, _ := json.Marshal(taskErr)
	if err := tasks.Finish(ctx, taskID, types.TASK_STATUS_FAILED, nil, raw); err != nil {
		slog.Error("failed to persist task failure",
			slog.String("task_id", taskID), slog.String("error", err.Error()))
	}
}

// Transactioner 事务执行入口
type Transactioner interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// DocumentIndexer 文档索引执行器,按阶段推进并在阶段边界响应取消
// 每个阶段都可以安全重入,重试从任务行记录的阶段继续
type DocumentIndexer struct {
	Workspaces store.WorkspaceStore
	Documents  store.DocumentStore
	Versions   store.DocumentVersionStore
	Chunks     store.ChunkStore
	Tasks      store.TaskStore
	Tx         Transactioner
	Vector     srv.VectorIndex
	Embedder   ai.Embedder
	Chunking   chunker.Config
	Metrics    *core.Metrics

	// ReadFile 读取落盘的原始内容,注入以便测试
	ReadFile func(path string) ([]byte, error)
}

func NewDocumentIndexer(c *core.Core) *DocumentIndexer {
	return &DocumentIndexer{
		Workspaces: c.Store().WorkspaceStore(),
		Documents:  c.Store().DocumentStore(),
		Versions:   c.Store().DocumentVersionStore(),
		Chunks:     c.Store().ChunkStore(),
		Tasks:      c.Store().TaskStore(),
		Tx:         c.Store(),
		Vector:     c.Srv().Vector(),
		Embedder:   c.Srv().AI().Embedder(),
		Chunking:   c.Cfg().Chunking,
		Metrics:    c.Metrics(),
		ReadFile:   os.ReadFile,
	}
}

// Run 执行索引状态机,返回 errCanceled 表示协作式停止
func (x *DocumentIndexer) Run(ctx context.Context, task *types.Task) error {
	var input types.TaskInput
	if err := json.Unmarshal(task.Input, &input); err != nil {
		return permanent(TASK_ERR_BAD_INPUT, err)
	}
	if input.DocumentID == "" || input.ContentHash == "" {
		return permanent(TASK_ERR_BAD_INPUT, fmt.Errorf("missing document_id or content_hash"))
	}

	document, err := x.Documents.Get(ctx, task.WorkspaceID, input.DocumentID)
	if err != nil {
		return transient(TASK_ERR_INTERNAL, err)
	}
	if document == nil || document.Status == types.DOCUMENT_STATUS_DELETED {
		return permanent(TASK_ERR_DOCUMENT_NOT_FOUND, nil)
	}
	workspace, err := x.Workspaces.Get(ctx, task.WorkspaceID)
	if err != nil {
		return transient(TASK_ERR_INTERNAL, err)
	}
	if workspace == nil {
		return permanent(TASK_ERR_WORKSPACE_NOT_FOUND, nil)
	}

	// 内容未变化时直接短路成功,不触碰向量索引
	if task.Stage == "" {
		latest, err := x.Versions.GetLatest(ctx, document.ID)
		if err != nil {
			return transient(TASK_ERR_INTERNAL, err)
		}
		if latest != nil && latest.ContentHash == input.ContentHash {
			return x.succeed(ctx, task.ID, types.TaskResult{Skipped: "same_content_hash", Version: latest.Version})
		}
	}

	stage := task.Stage
	if stage == "" {
		stage = types.TASK_STAGE_PERSIST_META
	}

	for {
		if canceled, err := x.checkCanceled(ctx, task.ID); err != nil {
			return err
		} else if canceled {
			slog.Info("index task canceled at stage boundary",
				slog.String("task_id", task.ID), slog.String("stage", stage))
			return errCanceled
		}

		stop := x.stageTimer(stage)
		switch stage {
		case types.TASK_STAGE_PERSIST_META:
			if err := x.persistMeta(ctx, task, document.ID, input); err != nil {
				stop()
				return err
			}
			stage = types.TASK_STAGE_CHUNK
		case types.TASK_STAGE_CHUNK:
			if err := x.chunk(ctx, task, document.ID, input); err != nil {
				stop()
				return err
			}
			stage = types.TASK_STAGE_EMBEDDING_UPSERT
		case types.TASK_STAGE_EMBEDDING_UPSERT:
			if err := x.embedAndUpsert(ctx, task, workspace, document.ID, input); err != nil {
				stop()
				return err
			}
			stage = types.TASK_STAGE_DELETE_OLD
		case types.TASK_STAGE_DELETE_OLD:
			result, err := x.deleteOld(ctx, workspace, document.ID, input)
			stop()
			if err != nil {
				return err
			}
			return x.succeed(ctx, task.ID, *result)
		default:
			stop()
			return permanent(TASK_ERR_BAD_INPUT, fmt.Errorf("unknown stage %q", stage))
		}
		stop()
	}
}

func (x *DocumentIndexer) stageTimer(stage string) func() {
	if x.Metrics == nil {
		return func() {}
	}
	timer := x.Metrics.TaskStageTimer(stage)
	return func() { timer.ObserveDuration() }
}

func (x *DocumentIndexer) checkCanceled(ctx context.Context, taskID string) (bool, error) {
	current, err := x.Tasks.Get(ctx, taskID)
	if err != nil {
		return false, transient(TASK_ERR_INTERNAL, err)
	}
	return current != nil && current.Status == types.TASK_STATUS_CANCELED, nil
}

func (x *DocumentIndexer) succeed(ctx context.Context, taskID string, result types.TaskResult) error {
	raw, _ := json.Marshal(result)
	if err := x.Tasks.Finish(ctx, taskID, types.TASK_STATUS_SUCCEEDED, raw, nil); err != nil {
		return transient(TASK_ERR_INTERNAL, err)
	}
	return nil
}

// resolveVersion 找到本次任务对应的版本快照,重入时按内容哈希定位
func (x *DocumentIndexer) resolveVersion(ctx context.Context, documentID string, input types.TaskInput) (*types.DocumentVersion, error) {
	version, err := x.Versions.GetByContentHash(ctx, documentID, input.ContentHash)
	if err != nil {
		return nil, transient(TASK_ERR_INTERNAL, err)
	}
	return version, nil
}

// persistMeta 创建不可变的版本快照,与阶段推进同处一个事务
func (x *DocumentIndexer) persistMeta(ctx context.Context, task *types.Task, documentID string, input types.TaskInput) error {
	existing, err := x.resolveVersion(ctx, documentID, input)
	if err != nil {
		return err
	}
	if existing != nil {
		// 上次尝试已经写过版本行,只需推进阶段
		if err = x.Tasks.AdvanceStage(ctx, task.ID, types.TASK_STAGE_CHUNK, types.TASK_PROGRESS_PERSIST_META); err != nil {
			return transient(TASK_ERR_INTERNAL, err)
		}
		return nil
	}

	latest, err := x.Versions.GetLatest(ctx, documentID)
	if err != nil {
		return transient(TASK_ERR_INTERNAL, err)
	}
	nextVersion := 1
	if latest != nil {
		nextVersion = latest.Version + 1
	}

	err = x.Tx.Transaction(ctx, func(ctx context.Context) error {
		if err := x.Versions.Create(ctx, types.DocumentVersion{
			ID:          utils.GenRandomID(),
			DocumentID:  documentID,
			Version:     nextVersion,
			ContentHash: input.ContentHash,
			SizeBytes:   input.SizeBytes,
			StorageURI:  input.StorageURI,
			MimeType:    input.MimeType,
			FileExt:     input.FileExt,
			CreatedAt:   time.Now().Unix(),
		}); err != nil {
			return err
		}
		return x.Tasks.AdvanceStage(ctx, task.ID, types.TASK_STAGE_CHUNK, types.TASK_PROGRESS_PERSIST_META)
	})
	if err != nil {
		return transient(TASK_ERR_INTERNAL, err)
	}
	return nil
}

// chunk 切分内容并写入片段行,片段键冲突静默跳过保证重入安全
func (x *DocumentIndexer) chunk(ctx context.Context, task *types.Task, documentID string, input types.TaskInput) error {
	version, err := x.resolveVersion(ctx, documentID, input)
	if err != nil {
		return err
	}
	if version == nil {
		return permanent(TASK_ERR_INTERNAL, fmt.Errorf("version snapshot missing for document %s", documentID))
	}

	raw, err := x.ReadFile(input.StorageURI)
	if err != nil {
		return permanent(TASK_ERR_STORAGE_READ_FAILED, err)
	}

	pieces := chunker.Split(string(raw), input.IsMarkdown, x.Chunking)
	if len(pieces) == 0 {
		return permanent(TASK_ERR_NO_CHUNKS, fmt.Errorf("document %s produced no chunks", documentID))
	}

	now := time.Now().Unix()
	rows := lo.Map(pieces, func(piece chunker.Chunk, i int) *types.Chunk {
		titlePath, _ := json.Marshal(piece.TitlePath)
		return &types.Chunk{
			ID:                utils.GenRandomID(),
			DocumentVersionID: version.ID,
			ChunkIndex:        i,
			ChunkUID:          types.GenChunkUID(documentID, version.Version, i),
			TitlePath:         titlePath,
			OffsetStart:       piece.OffsetStart,
			OffsetEnd:         piece.OffsetEnd,
			Content:           piece.Text,
			ContentHash:       utils.SHA256Hex(piece.Text),
			CreatedAt:         now,
		}
	})
	if err = x.Chunks.BatchCreate(ctx, rows); err != nil {
		return transient(TASK_ERR_INTERNAL, err)
	}

	if err = x.Tasks.AdvanceStage(ctx, task.ID, types.TASK_STAGE_EMBEDDING_UPSERT, types.TASK_PROGRESS_CHUNK); err != nil {
		return transient(TASK_ERR_INTERNAL, err)
	}
	return nil
}

// embedAndUpsert 向量化片段并写入向量索引,点位标识由片段键决定
// 重复执行只会覆盖同一批点位
func (x *DocumentIndexer) embedAndUpsert(ctx context.Context, task *types.Task, workspace *types.Workspace, documentID string, input types.TaskInput) error {
	version, err := x.resolveVersion(ctx, documentID, input)
	if err != nil {
		return err
	}
	if version == nil {
		return permanent(TASK_ERR_INTERNAL, fmt.Errorf("version snapshot missing for document %s", documentID))
	}

	chunks, err := x.Chunks.ListByVersion(ctx, version.ID)
	if err != nil {
		return transient(TASK_ERR_INTERNAL, err)
	}
	if len(chunks) == 0 {
		return permanent(TASK_ERR_NO_CHUNKS, fmt.Errorf("no chunk rows for version %s", version.ID))
	}

	contents := lo.Map(chunks, func(c types.Chunk, _ int) string { return c.Content })
	vectors, err := x.Embedder.Embedding(ctx, contents)
	if err != nil {
		return transient(TASK_ERR_EMBEDDING_FAILED, err)
	}
	if len(vectors) != len(chunks) {
		return transient(TASK_ERR_EMBEDDING_FAILED, fmt.Errorf("embedding count mismatch: %d vectors for %d chunks", len(vectors), len(chunks)))
	}

	points := make([]types.VectorPoint, 0, len(chunks))
	for i, c := range chunks {
		points = append(points, types.VectorPoint{
			ID:     qdrant.PointID(c.ChunkUID),
			Vector: vectors[i],
			Payload: types.PointPayload{
				ChunkUID:          c.ChunkUID,
				DocumentID:        documentID,
				DocumentVersionID: version.ID,
				Version:           version.Version,
				OffsetStart:       c.OffsetStart,
				OffsetEnd:         c.OffsetEnd,
			},
		})
	}
	if err = x.Vector.Upsert(ctx, workspace.Collection, points); err != nil {
		return transient(TASK_ERR_VECTOR_UNAVAILABLE, err)
	}

	if err = x.Tasks.AdvanceStage(ctx, task.ID, types.TASK_STAGE_DELETE_OLD, types.TASK_PROGRESS_EMBEDDING); err != nil {
		return transient(TASK_ERR_INTERNAL, err)
	}
	return nil
}

// deleteOld 清理旧版本的向量点位与片段行,按版本号范围过滤天然幂等
func (x *DocumentIndexer) deleteOld(ctx context.Context, workspace *types.Workspace, documentID string, input types.TaskInput) (*types.TaskResult, error) {
	version, err := x.resolveVersion(ctx, documentID, input)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, permanent(TASK_ERR_INTERNAL, fmt.Errorf("version snapshot missing for document %s", documentID))
	}

	if err = x.Vector.DeleteOldVersions(ctx, workspace.Collection, documentID, version.Version); err != nil {
		return nil, transient(TASK_ERR_VECTOR_UNAVAILABLE, err)
	}
	if err = x.Chunks.DeleteOldVersions(ctx, documentID, version.Version); err != nil {
		return nil, transient(TASK_ERR_INTERNAL, err)
	}

	chunks, err := x.Chunks.ListByVersion(ctx, version.ID)
	if err != nil {
		return nil, transient(TASK_ERR_INTERNAL, err)
	}
	return &types.TaskResult{Version: version.Version, ChunkCount: len(chunks)}, nil
}
