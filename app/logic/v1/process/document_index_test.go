package process

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docgraph-ai/docgraph/pkg/chunker"
	"github.com/docgraph-ai/docgraph/pkg/types"
)

type fakeTable struct{ table string }

func (f fakeTable) GetTable(...interface{}) string { return f.table }

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

type fakeDocumentStore struct {
	fakeTable
	documents map[string]*types.Document
}

func (s *fakeDocumentStore) Create(ctx context.Context, data types.Document) error {
	s.documents[data.ID] = &data
	return nil
}

func (s *fakeDocumentStore) Get(ctx context.Context, workspaceID, id string) (*types.Document, error) {
	doc := s.documents[id]
	if doc == nil || doc.WorkspaceID != workspaceID {
		return nil, nil
	}
	return doc, nil
}

func (s *fakeDocumentStore) GetByExternalKey(ctx context.Context, workspaceID, sourceID, externalKey string) (*types.Document, error) {
	return nil, nil
}

func (s *fakeDocumentStore) List(ctx context.Context, workspaceID string, page, pageSize uint64) ([]types.Document, error) {
	return nil, nil
}

func (s *fakeDocumentStore) Total(ctx context.Context, workspaceID string) (uint64, error) {
	return 0, nil
}

func (s *fakeDocumentStore) UpdateStatus(ctx context.Context, id, status string) error { return nil }

type fakeVersionStore struct {
	fakeTable
	versions []*types.DocumentVersion
}

func (s *fakeVersionStore) Create(ctx context.Context, data types.DocumentVersion) error {
	s.versions = append(s.versions, &data)
	return nil
}

func (s *fakeVersionStore) Get(ctx context.Context, id string) (*types.DocumentVersion, error) {
	for _, v := range s.versions {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, nil
}

func (s *fakeVersionStore) GetByContentHash(ctx context.Context, documentID, contentHash string) (*types.DocumentVersion, error) {
	var best *types.DocumentVersion
	for _, v := range s.versions {
		if v.DocumentID == documentID && v.ContentHash == contentHash {
			if best == nil || v.Version > best.Version {
				best = v
			}
		}
	}
	return best, nil
}

func (s *fakeVersionStore) GetLatest(ctx context.Context, documentID string) (*types.DocumentVersion, error) {
	var best *types.DocumentVersion
	for _, v := range s.versions {
		if v.DocumentID == documentID {
			if best == nil || v.Version > best.Version {
				best = v
			}
		}
	}
	return best, nil
}

type fakeChunkStore struct {
	fakeTable
	chunks       []*types.Chunk
	batchCreates int
}

func (s *fakeChunkStore) BatchCreate(ctx context.Context, data []*types.Chunk) error {
	s.batchCreates++
	for _, c := range data {
		exists := false
		for _, have := range s.chunks {
			if have.ChunkUID == c.ChunkUID {
				exists = true
				break
			}
		}
		if !exists {
			s.chunks = append(s.chunks, c)
		}
	}
	return nil
}

func (s *fakeChunkStore) ListByVersion(ctx context.Context, documentVersionID string) ([]types.Chunk, error) {
	var res []types.Chunk
	for _, c := range s.chunks {
		if c.DocumentVersionID == documentVersionID {
			res = append(res, *c)
		}
	}
	return res, nil
}

func (s *fakeChunkStore) ListByChunkUIDs(ctx context.Context, chunkUIDs []string) ([]types.Chunk, error) {
	var res []types.Chunk
	for _, c := range s.chunks {
		for _, uid := range chunkUIDs {
			if c.ChunkUID == uid {
				res = append(res, *c)
			}
		}
	}
	return res, nil
}

func (s *fakeChunkStore) DeleteOldVersions(ctx context.Context, documentID string, keepVersion int) error {
	return nil
}

func (s *fakeChunkStore) DeleteByDocument(ctx context.Context, documentID string) error { return nil }

type fakeTaskStore struct {
	fakeTable
	tasks map[string]*types.Task
}

func (s *fakeTaskStore) Create(ctx context.Context, data types.Task) error {
	s.tasks[data.ID] = &data
	return nil
}

func (s *fakeTaskStore) Get(ctx context.Context, id string) (*types.Task, error) {
	if t, ok := s.tasks[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeTaskStore) GetByIdempotencyKey(ctx context.Context, key string) (*types.Task, error) {
	for _, t := range s.tasks {
		if t.IdempotencyKey == key {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeTaskStore) GetLatestByDocument(ctx context.Context, documentID string) (*types.Task, error) {
	return nil, nil
}

func (s *fakeTaskStore) UpdateStatus(ctx context.Context, id, status string) error {
	s.tasks[id].Status = status
	return nil
}

func (s *fakeTaskStore) SetQueueTaskID(ctx context.Context, id, queueTaskID string) error {
	s.tasks[id].QueueTaskID = queueTaskID
	return nil
}

func (s *fakeTaskStore) MarkRunning(ctx context.Context, id string) error {
	s.tasks[id].Status = types.TASK_STATUS_RUNNING
	s.tasks[id].Attempts++
	return nil
}

func (s *fakeTaskStore) AdvanceStage(ctx context.Context, id, stage string, progress float64) error {
	s.tasks[id].Stage = stage
	s.tasks[id].Progress = progress
	return nil
}

func (s *fakeTaskStore) Finish(ctx context.Context, id, status string, result, taskErr []byte) error {
	t := s.tasks[id]
	t.Status = status
	if status == types.TASK_STATUS_SUCCEEDED {
		t.Progress = types.TASK_PROGRESS_DONE
	}
	if result != nil {
		t.Result = result
	}
	if taskErr != nil {
		t.Error = taskErr
	}
	return nil
}

func (s *fakeTaskStore) ResetForRetry(ctx context.Context, id string, input []byte) error {
	t := s.tasks[id]
	t.Status = types.TASK_STATUS_PENDING
	t.Stage = ""
	t.Progress = 0
	t.Attempts = 0
	t.Input = input
	return nil
}

func (s *fakeTaskStore) ListByStatus(ctx context.Context, status string, updatedBefore int64, page, pageSize uint64) ([]types.Task, error) {
	return nil, nil
}

type fakeTx struct{}

func (fakeTx) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeVectorIndex struct {
	upserts       map[string][]types.VectorPoint
	deletedBefore map[string]int
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{
		upserts:       make(map[string][]types.VectorPoint),
		deletedBefore: make(map[string]int),
	}
}

func (f *fakeVectorIndex) EnsureCollection(ctx context.Context, collection string, vectorSize int) error {
	return nil
}

func (f *fakeVectorIndex) EnsureAlias(ctx context.Context, alias, collection string) error {
	return nil
}

func (f *fakeVectorIndex) DeleteCollection(ctx context.Context, collection string) error { return nil }

func (f *fakeVectorIndex) Upsert(ctx context.Context, collection string, points []types.VectorPoint) error {
	byID := make(map[string]types.VectorPoint)
	for _, p := range f.upserts[collection] {
		byID[p.ID] = p
	}
	for _, p := range points {
		byID[p.ID] = p
	}
	merged := make([]types.VectorPoint, 0, len(byID))
	for _, p := range byID {
		merged = append(merged, p)
	}
	f.upserts[collection] = merged
	return nil
}

func (f *fakeVectorIndex) Search(ctx context.Context, collection string, vector []float32, topK int) ([]types.VectorMatch, error) {
	return nil, nil
}

func (f *fakeVectorIndex) DeleteOldVersions(ctx context.Context, collection, documentID string, keepVersion int) error {
	f.deletedBefore[documentID] = keepVersion
	return nil
}

type fakeEmbedder struct {
	calls int
	fail  bool
}

func (f *fakeEmbedder) Embedding(ctx context.Context, content []string) ([][]float32, error) {
	f.calls++
	if f.fail {
		return nil, fmt.Errorf("embedding backend unavailable")
	}
	res := make([][]float32, len(content))
	for i := range content {
		res[i] = []float32{float32(len(content[i])), 1}
	}
	return res, nil
}

type indexerFixture struct {
	indexer    *DocumentIndexer
	workspaces *fakeWorkspaceStore
	documents  *fakeDocumentStore
	versions   *fakeVersionStore
	chunks     *fakeChunkStore
	tasks      *fakeTaskStore
	vector     *fakeVectorIndex
	embedder   *fakeEmbedder
	files      map[string][]byte
}

func newIndexerFixture() *indexerFixture {
	f := &indexerFixture{
		workspaces: &fakeWorkspaceStore{workspaces: map[string]*types.Workspace{}},
		documents:  &fakeDocumentStore{documents: map[string]*types.Document{}},
		versions:   &fakeVersionStore{},
		chunks:     &fakeChunkStore{},
		tasks:      &fakeTaskStore{tasks: map[string]*types.Task{}},
		vector:     newFakeVectorIndex(),
		embedder:   &fakeEmbedder{},
		files:      map[string][]byte{},
	}
	f.indexer = &DocumentIndexer{
		Workspaces: f.workspaces,
		Documents:  f.documents,
		Versions:   f.versions,
		Chunks:     f.chunks,
		Tasks:      f.tasks,
		Tx:         fakeTx{},
		Vector:     f.vector,
		Embedder:   f.embedder,
		Chunking:   chunker.DefaultConfig(),
		ReadFile: func(path string) ([]byte, error) {
			raw, ok := f.files[path]
			if !ok {
				return nil, fmt.Errorf("no such file: %s", path)
			}
			return raw, nil
		},
	}
	return f
}

func (f *indexerFixture) seed(content string) *types.Task {
	f.workspaces.workspaces["ws1"] = &types.Workspace{
		ID:              "ws1",
		Collection:      "ws_ws1_v1",
		CollectionAlias: "ws_ws1",
	}
	f.documents.documents["doc1"] = &types.Document{
		ID:          "doc1",
		WorkspaceID: "ws1",
		Status:      types.DOCUMENT_STATUS_ACTIVE,
	}
	f.files["/tmp/doc1.md"] = []byte(content)

	input, _ := json.Marshal(types.TaskInput{
		DocumentID:  "doc1",
		ContentHash: "hash-v1",
		StorageURI:  "/tmp/doc1.md",
		IsMarkdown:  true,
	})
	task := &types.Task{
		ID:          "task1",
		WorkspaceID: "ws1",
		DocumentID:  "doc1",
		TaskType:    types.TASK_TYPE_DOCUMENT_INDEX,
		Status:      types.TASK_STATUS_RUNNING,
		Input:       input,
		MaxAttempts: 3,
	}
	f.tasks.tasks[task.ID] = task
	return task
}

const sampleMarkdown = `# Guide

## Install

Run the installer and follow the prompts. The installer places binaries under /usr/local/bin.

## Configure

Edit the configuration file before the first start. Every option has a sane default.
`

func TestDocumentIndexerFullRun(t *testing.T) {
	f := newIndexerFixture()
	task := f.seed(sampleMarkdown)

	err := f.indexer.Run(context.Background(), task)
	require.NoError(t, err)

	final := f.tasks.tasks["task1"]
	assert.Equal(t, types.TASK_STATUS_SUCCEEDED, final.Status)
	assert.Equal(t, types.TASK_PROGRESS_DONE, final.Progress)

	var result types.TaskResult
	require.NoError(t, json.Unmarshal(final.Result, &result))
	assert.Empty(t, result.Skipped)
	assert.Equal(t, 1, result.Version)
	assert.Equal(t, len(f.chunks.chunks), result.ChunkCount)
	require.NotZero(t, result.ChunkCount)

	// 片段行与向量点位一一对应
	points := f.vector.upserts["ws_ws1_v1"]
	assert.Len(t, points, len(f.chunks.chunks))
	assert.Equal(t, 1, f.vector.deletedBefore["doc1"])

	require.Len(t, f.versions.versions, 1)
	assert.Equal(t, "hash-v1", f.versions.versions[0].ContentHash)
}

func TestDocumentIndexerShortCircuitSameHash(t *testing.T) {
	f := newIndexerFixture()
	task := f.seed(sampleMarkdown)
	f.versions.versions = append(f.versions.versions, &types.DocumentVersion{
		ID:          "ver1",
		DocumentID:  "doc1",
		Version:     4,
		ContentHash: "hash-v1",
	})

	err := f.indexer.Run(context.Background(), task)
	require.NoError(t, err)

	final := f.tasks.tasks["task1"]
	assert.Equal(t, types.TASK_STATUS_SUCCEEDED, final.Status)

	var result types.TaskResult
	require.NoError(t, json.Unmarshal(final.Result, &result))
	assert.Equal(t, "same_content_hash", result.Skipped)
	assert.Equal(t, 4, result.Version)

	assert.Zero(t, f.embedder.calls)
	assert.Empty(t, f.vector.upserts)
}

func TestDocumentIndexerResumeFromEmbedding(t *testing.T) {
	f := newIndexerFixture()
	task := f.seed(sampleMarkdown)

	// 模拟前两个阶段已经完成后的断点
	f.versions.versions = append(f.versions.versions, &types.DocumentVersion{
		ID:          "ver1",
		DocumentID:  "doc1",
		Version:     2,
		ContentHash: "hash-v1",
	})
	f.chunks.chunks = append(f.chunks.chunks, &types.Chunk{
		ID:                "c1",
		DocumentVersionID: "ver1",
		ChunkIndex:        0,
		ChunkUID:          types.GenChunkUID("doc1", 2, 0),
		Content:           "Run the installer and follow the prompts.",
	})
	task.Stage = types.TASK_STAGE_EMBEDDING_UPSERT
	f.tasks.tasks["task1"].Stage = types.TASK_STAGE_EMBEDDING_UPSERT

	err := f.indexer.Run(context.Background(), task)
	require.NoError(t, err)

	assert.Zero(t, f.chunks.batchCreates)
	assert.Equal(t, 1, f.embedder.calls)
	assert.Len(t, f.vector.upserts["ws_ws1_v1"], 1)
	assert.Equal(t, 2, f.vector.deletedBefore["doc1"])

	final := f.tasks.tasks["task1"]
	assert.Equal(t, types.TASK_STATUS_SUCCEEDED, final.Status)
}

func TestDocumentIndexerNoChunksProduced(t *testing.T) {
	f := newIndexerFixture()
	task := f.seed("")

	err := f.indexer.Run(context.Background(), task)
	require.Error(t, err)

	pe, ok := err.(*permanentError)
	require.True(t, ok, "expected a permanent error, got %T", err)
	assert.Equal(t, TASK_ERR_NO_CHUNKS, pe.code)
}

func TestDocumentIndexerCooperativeCancel(t *testing.T) {
	f := newIndexerFixture()
	task := f.seed(sampleMarkdown)
	f.tasks.tasks["task1"].Status = types.TASK_STATUS_CANCELED

	err := f.indexer.Run(context.Background(), task)
	assert.Equal(t, errCanceled, err)

	assert.Zero(t, f.embedder.calls)
	assert.Empty(t, f.versions.versions)
}

func TestDocumentIndexerTransientEmbeddingError(t *testing.T) {
	f := newIndexerFixture()
	task := f.seed(sampleMarkdown)
	f.embedder.fail = true

	err := f.indexer.Run(context.Background(), task)
	require.Error(t, err)

	te, ok := err.(*transientError)
	require.True(t, ok, "expected a transient error, got %T", err)
	assert.Equal(t, TASK_ERR_EMBEDDING_FAILED, te.code)

	// 断点停在向量化阶段,重试会从这里继续
	assert.Equal(t, types.TASK_STAGE_EMBEDDING_UPSERT, f.tasks.tasks["task1"].Stage)
}
