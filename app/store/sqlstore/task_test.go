package sqlstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docgraph-ai/docgraph/pkg/testutils"
	"github.com/docgraph-ai/docgraph/pkg/types"
	"github.com/docgraph-ai/docgraph/pkg/utils"
)

type PGConfig struct {
	DSN string `toml:"dsn"`
}

func (m *PGConfig) FromENV() {
	m.DSN = os.Getenv("DOCGRAPH_TEST_POSTGRESQL_DSN")
}

func (m PGConfig) FormatDSN() string {
	return m.DSN
}

func setupTestProvider(t *testing.T) *Provider {
	testutils.SkipWithoutEnv(t, "DOCGRAPH_TEST_POSTGRESQL_DSN")

	cfg := PGConfig{}
	cfg.FromENV()
	p := MustSetup(cfg)()
	require.NoError(t, p.Install())
	utils.SetupIDWorker(1)
	return p
}

func TestTaskLifecycle(t *testing.T) {
	p := setupTestProvider(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*20)
	defer cancel()

	task := types.Task{
		ID:             utils.GenRandomID(),
		WorkspaceID:    "ws-test",
		DocumentID:     "doc-test",
		TaskType:       types.TASK_TYPE_DOCUMENT_INDEX,
		IdempotencyKey: utils.GenRandomID(),
		MaxAttempts:    3,
	}
	require.NoError(t, p.stores.TaskStore.Create(ctx, task))

	got, err := p.stores.TaskStore.GetByIdempotencyKey(ctx, task.IdempotencyKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, types.TASK_STATUS_PENDING, got.Status)

	require.NoError(t, p.stores.TaskStore.MarkRunning(ctx, task.ID))
	require.NoError(t, p.stores.TaskStore.AdvanceStage(ctx, task.ID, types.TASK_STAGE_CHUNK, types.TASK_PROGRESS_PERSIST_META))

	got, err = p.stores.TaskStore.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, types.TASK_STATUS_RUNNING, got.Status)
	require.Equal(t, types.TASK_STAGE_CHUNK, got.Stage)
	require.Equal(t, 1, got.Attempts)

	require.NoError(t, p.stores.TaskStore.Finish(ctx, task.ID, types.TASK_STATUS_SUCCEEDED, []byte(`{"chunk_count":3}`), nil))
	got, err = p.stores.TaskStore.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, types.TASK_STATUS_SUCCEEDED, got.Status)
	require.Equal(t, types.TASK_PROGRESS_DONE, got.Progress)
	require.True(t, got.IsTerminal())
}

func TestMemorySummaryMonotonicUpsert(t *testing.T) {
	p := setupTestProvider(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*20)
	defer cancel()

	convoID := utils.GenRandomID()
	require.NoError(t, p.stores.MemorySummaryStore.Upsert(ctx, types.MemorySummary{
		ConversationID: convoID,
		Summary:        "first",
		LastMessageID:  100,
	}))

	// stale writer loses
	require.NoError(t, p.stores.MemorySummaryStore.Upsert(ctx, types.MemorySummary{
		ConversationID: convoID,
		Summary:        "stale",
		LastMessageID:  50,
	}))

	got, err := p.stores.MemorySummaryStore.Get(ctx, convoID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "first", got.Summary)
	require.EqualValues(t, 100, got.LastMessageID)
}
