package v1

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docgraph-ai/docgraph/pkg/types"
)

type fakeWorkspaceStore struct {
	fakeTable
	workspaces map[string]*types.Workspace
}

func (s *fakeWorkspaceStore) Create(ctx context.Context, data types.Workspace) error {
	s.workspaces[data.ID] = &data
	return nil
}

func (s *fakeWorkspaceStore) Get(ctx context.Context, id string) (*types.Workspace, error) {
	return s.workspaces[id], nil
}

func (s *fakeWorkspaceStore) List(ctx context.Context, page, pageSize uint64) ([]types.Workspace, error) {
	return nil, nil
}

func (s *fakeWorkspaceStore) UpdateAlias(ctx context.Context, id, alias string) error { return nil }
func (s *fakeWorkspaceStore) Delete(ctx context.Context, id string) error             { return nil }

type fakeSourceStore struct {
	fakeTable
	sources map[string]*types.Source
}

func (s *fakeSourceStore) Create(ctx context.Context, data types.Source) error {
	key := data.WorkspaceID + "/" + data.Type
	if _, ok := s.sources[key]; ok {
		return nil
	}
	s.sources[key] = &data
	return nil
}

func (s *fakeSourceStore) GetByType(ctx context.Context, workspaceID, sourceType string) (*types.Source, error) {
	return s.sources[workspaceID+"/"+sourceType], nil
}

type fakeDocumentStore struct {
	fakeTable
	documents map[string]*types.Document
}

func (s *fakeDocumentStore) Create(ctx context.Context, data types.Document) error {
	s.documents[data.ID] = &data
	return nil
}

func (s *fakeDocumentStore) Get(ctx context.Context, workspaceID, id string) (*types.Document, error) {
	doc, ok := s.documents[id]
	if !ok || doc.WorkspaceID != workspaceID {
		return nil, nil
	}
	return doc, nil
}

func (s *fakeDocumentStore) GetByExternalKey(ctx context.Context, workspaceID, sourceID, externalKey string) (*types.Document, error) {
	for _, doc := range s.documents {
		if doc.WorkspaceID == workspaceID && doc.SourceID == sourceID && doc.ExternalKey == externalKey {
			return doc, nil
		}
	}
	return nil, nil
}

func (s *fakeDocumentStore) List(ctx context.Context, workspaceID string, page, pageSize uint64) ([]types.Document, error) {
	return nil, nil
}

func (s *fakeDocumentStore) Total(ctx context.Context, workspaceID string) (uint64, error) {
	return uint64(len(s.documents)), nil
}

func (s *fakeDocumentStore) UpdateStatus(ctx context.Context, id, status string) error {
	if doc, ok := s.documents[id]; ok {
		doc.Status = status
	}
	return nil
}

type fakeUploadTaskStore struct {
	fakeTable
	tasks map[string]*types.Task
	// injectWinnerOnCreate 模拟唯一约束竞争,Create 报错前让赢家先出现
	injectWinnerOnCreate *types.Task
}

func newFakeUploadTaskStore() *fakeUploadTaskStore {
	return &fakeUploadTaskStore{tasks: map[string]*types.Task{}}
}

func (s *fakeUploadTaskStore) Create(ctx context.Context, data types.Task) error {
	if s.injectWinnerOnCreate != nil {
		winner := *s.injectWinnerOnCreate
		winner.IdempotencyKey = data.IdempotencyKey
		s.tasks[winner.ID] = &winner
		return fmt.Errorf("duplicate key value violates unique constraint")
	}
	for _, t := range s.tasks {
		if t.IdempotencyKey == data.IdempotencyKey {
			return fmt.Errorf("duplicate key value violates unique constraint")
		}
	}
	s.tasks[data.ID] = &data
	return nil
}

func (s *fakeUploadTaskStore) Get(ctx context.Context, id string) (*types.Task, error) {
	task, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *task
	return &cp, nil
}

func (s *fakeUploadTaskStore) GetByIdempotencyKey(ctx context.Context, key string) (*types.Task, error) {
	for _, t := range s.tasks {
		if t.IdempotencyKey == key {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeUploadTaskStore) GetLatestByDocument(ctx context.Context, documentID string) (*types.Task, error) {
	return nil, nil
}

func (s *fakeUploadTaskStore) UpdateStatus(ctx context.Context, id, status string) error {
	if t, ok := s.tasks[id]; ok {
		t.Status = status
	}
	return nil
}

func (s *fakeUploadTaskStore) SetQueueTaskID(ctx context.Context, id, queueTaskID string) error {
	if t, ok := s.tasks[id]; ok {
		t.QueueTaskID = queueTaskID
	}
	return nil
}

func (s *fakeUploadTaskStore) MarkRunning(ctx context.Context, id string) error {
	if t, ok := s.tasks[id]; ok {
		t.Status = types.TASK_STATUS_RUNNING
		t.Attempts++
	}
	return nil
}

func (s *fakeUploadTaskStore) AdvanceStage(ctx context.Context, id, stage string, progress float64) error {
	if t, ok := s.tasks[id]; ok {
		t.Stage = stage
		t.Progress = progress
	}
	return nil
}

func (s *fakeUploadTaskStore) Finish(ctx context.Context, id, status string, result, taskErr []byte) error {
	if t, ok := s.tasks[id]; ok {
		t.Status = status
		t.Result = result
		t.Error = taskErr
	}
	return nil
}

func (s *fakeUploadTaskStore) ResetForRetry(ctx context.Context, id string, input []byte) error {
	if t, ok := s.tasks[id]; ok {
		t.Status = types.TASK_STATUS_PENDING
		t.Stage = ""
		t.Progress = 0
		t.Attempts = 0
		t.Input = input
		t.Result = nil
		t.Error = nil
		t.UpdatedAt = time.Now().Unix()
	}
	return nil
}

func (s *fakeUploadTaskStore) ListByStatus(ctx context.Context, status string, updatedBefore int64, page, pageSize uint64) ([]types.Task, error) {
	return nil, nil
}

type fakeQueue struct {
	enqueued []string
	err      error
}

func (q *fakeQueue) EnqueueDocumentIndex(ctx context.Context, taskID string) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.enqueued = append(q.enqueued, taskID)
	return "queue-" + taskID, nil
}

type uploadFixture struct {
	pipeline  *UploadPipeline
	tasks     *fakeUploadTaskStore
	documents *fakeDocumentStore
	queue     *fakeQueue
}

func newUploadFixture() *uploadFixture {
	f := &uploadFixture{
		tasks:     newFakeUploadTaskStore(),
		documents: &fakeDocumentStore{documents: map[string]*types.Document{}},
		queue:     &fakeQueue{},
	}
	workspaces := &fakeWorkspaceStore{workspaces: map[string]*types.Workspace{
		"ws1": {ID: "ws1", Collection: "ws_ws1_v1", CollectionAlias: "ws_ws1"},
	}}
	f.pipeline = &UploadPipeline{
		Workspaces:  workspaces,
		Sources:     &fakeSourceStore{sources: map[string]*types.Source{}},
		Documents:   f.documents,
		Tasks:       f.tasks,
		Queue:       f.queue,
		MaxAttempts: 3,
		UploadDir:   "/tmp/docgraph-test",
		MkdirAll:    func(string, os.FileMode) error { return nil },
		WriteFile:   func(string, []byte, os.FileMode) error { return nil },
	}
	return f
}

func uploadArgs(content string) UploadDocumentArgs {
	return UploadDocumentArgs{
		WorkspaceID: "ws1",
		FileName:    "guide.md",
		MimeType:    "text/markdown",
		Content:     []byte(content),
	}
}

func TestUploadCreatesTaskAndEnqueues(t *testing.T) {
	f := newUploadFixture()

	result, err := f.pipeline.Upload(context.Background(), uploadArgs("# Guide\n\nsome content"))
	require.NoError(t, err)

	assert.False(t, result.Reused)
	assert.Equal(t, types.TASK_STATUS_PENDING, result.Task.Status)
	assert.Equal(t, "guide.md", result.Document.ExternalKey)
	require.Len(t, f.queue.enqueued, 1)
	assert.Equal(t, result.Task.ID, f.queue.enqueued[0])

	stored, _ := f.tasks.Get(context.Background(), result.Task.ID)
	require.NotNil(t, stored)
	assert.Equal(t, "queue-"+result.Task.ID, stored.QueueTaskID)
}

func TestUploadReusesActiveTask(t *testing.T) {
	f := newUploadFixture()

	first, err := f.pipeline.Upload(context.Background(), uploadArgs("identical content"))
	require.NoError(t, err)

	second, err := f.pipeline.Upload(context.Background(), uploadArgs("identical content"))
	require.NoError(t, err)

	// 同内容重复提交拿回同一任务,不新建也不重复入队
	assert.True(t, second.Reused)
	assert.Equal(t, first.Task.ID, second.Task.ID)
	assert.Equal(t, first.Document.ID, second.Document.ID)
	assert.Len(t, f.tasks.tasks, 1)
	assert.Len(t, f.queue.enqueued, 1)
}

func TestUploadReusesSucceededTask(t *testing.T) {
	f := newUploadFixture()

	first, err := f.pipeline.Upload(context.Background(), uploadArgs("stable content"))
	require.NoError(t, err)
	require.NoError(t, f.tasks.Finish(context.Background(), first.Task.ID, types.TASK_STATUS_SUCCEEDED, nil, nil))

	second, err := f.pipeline.Upload(context.Background(), uploadArgs("stable content"))
	require.NoError(t, err)

	assert.True(t, second.Reused)
	assert.Equal(t, first.Task.ID, second.Task.ID)
	assert.Equal(t, types.TASK_STATUS_SUCCEEDED, second.Task.Status)
	assert.Len(t, f.queue.enqueued, 1)
}

func TestUploadResetsFailedTaskInPlace(t *testing.T) {
	f := newUploadFixture()

	first, err := f.pipeline.Upload(context.Background(), uploadArgs("flaky content"))
	require.NoError(t, err)
	require.NoError(t, f.tasks.Finish(context.Background(), first.Task.ID, types.TASK_STATUS_FAILED, nil, []byte(`{"code":"embedding_failed"}`)))

	second, err := f.pipeline.Upload(context.Background(), uploadArgs("flaky content"))
	require.NoError(t, err)

	// 失败任务原地重置重新入队,不产生新行
	assert.False(t, second.Reused)
	assert.Equal(t, first.Task.ID, second.Task.ID)
	assert.Equal(t, types.TASK_STATUS_PENDING, second.Task.Status)
	assert.Empty(t, second.Task.Stage)
	assert.Nil(t, second.Task.Error)
	assert.Len(t, f.tasks.tasks, 1)
	assert.Len(t, f.queue.enqueued, 2)
}

func TestUploadUniqueKeyRaceReturnsWinner(t *testing.T) {
	f := newUploadFixture()

	// Create 报错前赢家已带着同一幂等键写入,模拟并发提交中落败的一方
	f.tasks.injectWinnerOnCreate = &types.Task{
		ID:          "winner",
		WorkspaceID: "ws1",
		TaskType:    types.TASK_TYPE_DOCUMENT_INDEX,
		Status:      types.TASK_STATUS_PENDING,
	}

	result, err := f.pipeline.Upload(context.Background(), uploadArgs("raced content"))
	require.NoError(t, err)

	assert.True(t, result.Reused)
	assert.Equal(t, "winner", result.Task.ID)
	// 输家没有入队,赢家那次提交自己负责入队
	assert.Empty(t, f.queue.enqueued)
}
