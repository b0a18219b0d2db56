package v1

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/docgraph-ai/docgraph/app/core"
	"github.com/docgraph-ai/docgraph/app/store"
	"github.com/docgraph-ai/docgraph/pkg/errors"
	"github.com/docgraph-ai/docgraph/pkg/i18n"
	"github.com/docgraph-ai/docgraph/pkg/types"
	"github.com/docgraph-ai/docgraph/pkg/utils"
)

type DocumentLogic struct {
	ctx  context.Context
	core *core.Core
}

func NewDocumentLogic(ctx context.Context, core *core.Core) *DocumentLogic {
	return &DocumentLogic{
		ctx:  ctx,
		core: core,
	}
}

type UploadDocumentArgs struct {
	WorkspaceID string
	FileName    string
	Title       string
	MimeType    string
	Content     []byte
}

// UploadDocumentResult 上传接口的返回,Reused 表示命中了已有的同内容任务
type UploadDocumentResult struct {
	Document types.Document `json:"document"`
	Task     types.Task     `json:"task"`
	Reused   bool           `json:"reused"`
}

// UploadDocument 接收文档内容,落盘原始文件并登记异步索引任务
// 同一 (workspace, document, content_hash) 的重复提交会复用已有任务
func (l *DocumentLogic) UploadDocument(args UploadDocumentArgs) (*UploadDocumentResult, error) {
	pipeline := &UploadPipeline{
		Workspaces:  l.core.Store().WorkspaceStore(),
		Sources:     l.core.Store().SourceStore(),
		Documents:   l.core.Store().DocumentStore(),
		Tasks:       l.core.Store().TaskStore(),
		Queue:       l.core.TaskQueue(),
		MaxAttempts: l.core.Cfg().Task.MaxAttempts,
		UploadDir:   l.core.Cfg().Storage.UploadDir,
		MkdirAll:    os.MkdirAll,
		WriteFile:   os.WriteFile,
	}
	return pipeline.Upload(l.ctx, args)
}

// UploadPipeline 承载一次文档提交需要的依赖
type UploadPipeline struct {
	Workspaces  store.WorkspaceStore
	Sources     store.SourceStore
	Documents   store.DocumentStore
	Tasks       store.TaskStore
	Queue       core.TaskQueue
	MaxAttempts int
	UploadDir   string

	// 文件落盘注入以便测试
	MkdirAll  func(path string, perm os.FileMode) error
	WriteFile func(path string, data []byte, perm os.FileMode) error
}

func (p *UploadPipeline) Upload(ctx context.Context, args UploadDocumentArgs) (*UploadDocumentResult, error) {
	if args.FileName == "" {
		return nil, errors.New("UploadPipeline.Upload.EmptyFileName", i18n.ERROR_INVALIDARGUMENT, nil).
			Code(http.StatusBadRequest).Kind(errors.KindValidation)
	}

	normalized := utils.NormalizeContent(string(args.Content))
	if normalized == "" {
		return nil, errors.New("UploadPipeline.Upload.EmptyContent", i18n.ERROR_DOCUMENT_EMPTY_CONTENT, nil).
			Code(http.StatusBadRequest).Kind(errors.KindValidation)
	}
	contentHash := utils.SHA256Hex(normalized)

	workspace, err := p.Workspaces.Get(ctx, args.WorkspaceID)
	if err != nil {
		return nil, errors.New("UploadPipeline.Upload.WorkspaceStore.Get", i18n.ERROR_INTERNAL, err)
	}
	if workspace == nil {
		return nil, errors.New("UploadPipeline.Upload.WorkspaceNotFound", i18n.ERROR_WORKSPACE_NOT_FOUND, nil).
			Code(http.StatusNotFound)
	}

	source, err := p.getOrCreateLocalSource(ctx, workspace.ID)
	if err != nil {
		return nil, errors.Trace("UploadPipeline.Upload", err)
	}

	document, err := p.getOrCreateDocument(ctx, workspace.ID, source.ID, args)
	if err != nil {
		return nil, errors.Trace("UploadPipeline.Upload", err)
	}

	fileExt := strings.ToLower(filepath.Ext(args.FileName))
	storageURI, err := p.persistRawContent(workspace.ID, document.ID, contentHash, fileExt, []byte(normalized))
	if err != nil {
		return nil, errors.New("UploadPipeline.Upload.PersistRawContent", i18n.ERROR_INTERNAL, err)
	}

	input, _ := json.Marshal(types.TaskInput{
		DocumentID:  document.ID,
		ContentHash: contentHash,
		StorageURI:  storageURI,
		MimeType:    args.MimeType,
		FileExt:     fileExt,
		SizeBytes:   int64(len(normalized)),
		IsMarkdown:  isMarkdown(fileExt, args.MimeType),
	})

	task, reused, err := p.resolveTask(ctx, workspace.ID, document.ID, contentHash, input)
	if err != nil {
		return nil, errors.Trace("UploadPipeline.Upload", err)
	}

	return &UploadDocumentResult{
		Document: *document,
		Task:     *task,
		Reused:   reused,
	}, nil
}

// resolveTask 按幂等键查找或登记任务,终态失败的任务原地重置后重新入队
func (p *UploadPipeline) resolveTask(ctx context.Context, workspaceID, documentID, contentHash string, input []byte) (*types.Task, bool, error) {
	idempotencyKey := types.GenTaskIdempotencyKey(workspaceID, documentID, contentHash, types.TASK_TYPE_DOCUMENT_INDEX)

	existing, err := p.Tasks.GetByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return nil, false, errors.New("UploadPipeline.resolveTask.TaskStore.GetByIdempotencyKey", i18n.ERROR_INTERNAL, err)
	}

	if existing != nil {
		switch existing.Status {
		case types.TASK_STATUS_PENDING, types.TASK_STATUS_RUNNING, types.TASK_STATUS_SUCCEEDED:
			return existing, true, nil
		case types.TASK_STATUS_FAILED, types.TASK_STATUS_CANCELED:
			if err = p.Tasks.ResetForRetry(ctx, existing.ID, input); err != nil {
				return nil, false, errors.New("UploadPipeline.resolveTask.TaskStore.ResetForRetry", i18n.ERROR_INTERNAL, err)
			}
			if err = p.enqueue(ctx, existing.ID); err != nil {
				return nil, false, errors.Trace("UploadPipeline.resolveTask", err)
			}
			refreshed, err := p.Tasks.Get(ctx, existing.ID)
			if err != nil || refreshed == nil {
				return existing, false, nil
			}
			return refreshed, false, nil
		}
	}

	now := time.Now().Unix()
	task := types.Task{
		ID:             utils.GenRandomID(),
		WorkspaceID:    workspaceID,
		DocumentID:     documentID,
		TaskType:       types.TASK_TYPE_DOCUMENT_INDEX,
		Status:         types.TASK_STATUS_PENDING,
		IdempotencyKey: idempotencyKey,
		Input:          input,
		MaxAttempts:    p.MaxAttempts,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err = p.Tasks.Create(ctx, task); err != nil {
		// 并发提交同一内容时唯一约束会拒绝第二条,回读赢家即可
		winner, getErr := p.Tasks.GetByIdempotencyKey(ctx, idempotencyKey)
		if getErr == nil && winner != nil {
			return winner, true, nil
		}
		return nil, false, errors.New("UploadPipeline.resolveTask.TaskStore.Create", i18n.ERROR_INTERNAL, err)
	}

	if err = p.enqueue(ctx, task.ID); err != nil {
		return nil, false, errors.Trace("UploadPipeline.resolveTask", err)
	}
	return &task, false, nil
}

func (p *UploadPipeline) enqueue(ctx context.Context, taskID string) error {
	if p.Queue == nil {
		// 队列未接入时任务保持 pending,由补偿巡检兜底
		slog.Warn("task queue not configured, task stays pending", slog.String("task_id", taskID))
		return nil
	}
	queueTaskID, err := p.Queue.EnqueueDocumentIndex(ctx, taskID)
	if err != nil {
		return errors.New("UploadPipeline.enqueue.EnqueueDocumentIndex", i18n.ERROR_INTERNAL, err).Kind(errors.KindTransient)
	}
	if err = p.Tasks.SetQueueTaskID(ctx, taskID, queueTaskID); err != nil {
		return errors.New("UploadPipeline.enqueue.TaskStore.SetQueueTaskID", i18n.ERROR_INTERNAL, err)
	}
	return nil
}

func (p *UploadPipeline) getOrCreateLocalSource(ctx context.Context, workspaceID string) (*types.Source, error) {
	source, err := p.Sources.GetByType(ctx, workspaceID, types.SOURCE_TYPE_LOCAL_UPLOAD)
	if err != nil {
		return nil, errors.New("UploadPipeline.getOrCreateLocalSource.SourceStore.GetByType", i18n.ERROR_INTERNAL, err)
	}
	if source != nil {
		return source, nil
	}

	created := types.Source{
		ID:          utils.GenRandomID(),
		WorkspaceID: workspaceID,
		Type:        types.SOURCE_TYPE_LOCAL_UPLOAD,
		Name:        "Local Upload",
		Config:      json.RawMessage("{}"),
		CreatedAt:   time.Now().Unix(),
	}
	if err = p.Sources.Create(ctx, created); err != nil {
		return nil, errors.New("UploadPipeline.getOrCreateLocalSource.SourceStore.Create", i18n.ERROR_INTERNAL, err)
	}
	// Create 对并发冲突静默跳过,回读保证拿到唯一的那条
	source, err = p.Sources.GetByType(ctx, workspaceID, types.SOURCE_TYPE_LOCAL_UPLOAD)
	if err != nil || source == nil {
		return nil, errors.New("UploadPipeline.getOrCreateLocalSource.Reload", i18n.ERROR_INTERNAL, err)
	}
	return source, nil
}

func (p *UploadPipeline) getOrCreateDocument(ctx context.Context, workspaceID, sourceID string, args UploadDocumentArgs) (*types.Document, error) {
	document, err := p.Documents.GetByExternalKey(ctx, workspaceID, sourceID, args.FileName)
	if err != nil {
		return nil, errors.New("UploadPipeline.getOrCreateDocument.DocumentStore.GetByExternalKey", i18n.ERROR_INTERNAL, err)
	}
	if document != nil {
		return document, nil
	}

	title := args.Title
	if title == "" {
		title = strings.TrimSuffix(args.FileName, filepath.Ext(args.FileName))
	}
	now := time.Now().Unix()
	created := types.Document{
		ID:          utils.GenRandomID(),
		WorkspaceID: workspaceID,
		SourceID:    sourceID,
		ExternalKey: args.FileName,
		Title:       title,
		Status:      types.DOCUMENT_STATUS_ACTIVE,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err = p.Documents.Create(ctx, created); err != nil {
		return nil, errors.New("UploadPipeline.getOrCreateDocument.DocumentStore.Create", i18n.ERROR_INTERNAL, err)
	}
	return &created, nil
}

func (p *UploadPipeline) persistRawContent(workspaceID, documentID, contentHash, fileExt string, content []byte) (string, error) {
	dir := filepath.Join(p.UploadDir, workspaceID, documentID)
	if err := p.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, contentHash+fileExt)
	if err := p.WriteFile(path, content, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func isMarkdown(fileExt, mimeType string) bool {
	return fileExt == ".md" || fileExt == ".markdown" || mimeType == "text/markdown"
}

// GetDocument 查询单个文档
func (l *DocumentLogic) GetDocument(workspaceID, documentID string) (*types.Document, error) {
	document, err := l.core.Store().DocumentStore().Get(l.ctx, workspaceID, documentID)
	if err != nil {
		return nil, errors.New("DocumentLogic.GetDocument.DocumentStore.Get", i18n.ERROR_INTERNAL, err)
	}
	if document == nil {
		return nil, errors.New("DocumentLogic.GetDocument.NotFound", i18n.ERROR_DOCUMENT_NOT_FOUND, nil).
			Code(http.StatusNotFound)
	}
	return document, nil
}

// ListDocuments 分页列出文档并附带最近一次索引任务的状态
func (l *DocumentLogic) ListDocuments(workspaceID string, page, pageSize uint64) ([]types.DocumentWithTask, uint64, error) {
	documents, err := l.core.Store().DocumentStore().List(l.ctx, workspaceID, page, pageSize)
	if err != nil {
		return nil, 0, errors.New("DocumentLogic.ListDocuments.DocumentStore.List", i18n.ERROR_INTERNAL, err)
	}
	total, err := l.core.Store().DocumentStore().Total(l.ctx, workspaceID)
	if err != nil {
		return nil, 0, errors.New("DocumentLogic.ListDocuments.DocumentStore.Total", i18n.ERROR_INTERNAL, err)
	}

	result := lo.Map(documents, func(doc types.Document, _ int) types.DocumentWithTask {
		item := types.DocumentWithTask{Document: doc}
		if version, err := l.core.Store().DocumentVersionStore().GetLatest(l.ctx, doc.ID); err == nil && version != nil {
			item.LatestVersion = version.Version
		}
		if task, err := l.core.Store().TaskStore().GetLatestByDocument(l.ctx, doc.ID); err == nil && task != nil {
			item.TaskID = task.ID
			item.TaskStatus = task.Status
			item.TaskProgress = task.Progress
		}
		return item
	})
	return result, total, nil
}

// DeleteDocument 将文档标记为删除并清理片段,向量侧按版本过滤不再命中
func (l *DocumentLogic) DeleteDocument(workspaceID, documentID string) error {
	document, err := l.GetDocument(workspaceID, documentID)
	if err != nil {
		return errors.Trace("DocumentLogic.DeleteDocument", err)
	}

	err = l.core.Store().Transaction(l.ctx, func(ctx context.Context) error {
		if err := l.core.Store().DocumentStore().UpdateStatus(ctx, document.ID, types.DOCUMENT_STATUS_DELETED); err != nil {
			return errors.New("DocumentLogic.DeleteDocument.DocumentStore.UpdateStatus", i18n.ERROR_INTERNAL, err)
		}
		if err := l.core.Store().ChunkStore().DeleteByDocument(ctx, document.ID); err != nil {
			return errors.New("DocumentLogic.DeleteDocument.ChunkStore.DeleteByDocument", i18n.ERROR_INTERNAL, err)
		}
		return nil
	})
	return err
}
