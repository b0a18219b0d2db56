package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docgraph-ai/docgraph/app/core"
	"github.com/docgraph-ai/docgraph/pkg/ai"
	"github.com/docgraph-ai/docgraph/pkg/errors"
	"github.com/docgraph-ai/docgraph/pkg/types"
	"github.com/docgraph-ai/docgraph/pkg/types/protocol"
	"github.com/docgraph-ai/docgraph/pkg/utils"
)

func TestMain(m *testing.M) {
	utils.SetupIDWorker(1)
	m.Run()
}

type fakeTable struct{}

func (fakeTable) GetTable(...interface{}) string { return "fake" }

type fakeConversationStore struct {
	fakeTable
	conversations map[string]*types.Conversation
}

func (s *fakeConversationStore) Create(ctx context.Context, data types.Conversation) error {
	s.conversations[data.ID] = &data
	return nil
}

func (s *fakeConversationStore) Get(ctx context.Context, id string) (*types.Conversation, error) {
	return s.conversations[id], nil
}

func (s *fakeConversationStore) List(ctx context.Context, workspaceID string, page, pageSize uint64) ([]types.Conversation, error) {
	return nil, nil
}

func (s *fakeConversationStore) UpdateTitle(ctx context.Context, id, title string) error {
	if c, ok := s.conversations[id]; ok {
		c.Title = title
	}
	return nil
}

func (s *fakeConversationStore) Touch(ctx context.Context, id string) error { return nil }

type fakeMessageStore struct {
	fakeTable
	messages []types.Message
}

func (s *fakeMessageStore) Create(ctx context.Context, data types.Message) error {
	s.messages = append(s.messages, data)
	return nil
}

func (s *fakeMessageStore) List(ctx context.Context, conversationID string, page, pageSize uint64) ([]types.Message, error) {
	return s.messages, nil
}

func (s *fakeMessageStore) ListRecent(ctx context.Context, conversationID string, limit uint64) ([]types.Message, error) {
	var res []types.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			res = append(res, m)
		}
	}
	if uint64(len(res)) > limit {
		res = res[uint64(len(res))-limit:]
	}
	return res, nil
}

func (s *fakeMessageStore) ListAfter(ctx context.Context, conversationID string, afterID int64, limit uint64) ([]types.Message, error) {
	return nil, nil
}

type fakeSummaryStore struct {
	fakeTable
	summaries map[string]*types.MemorySummary
	getErr    error
}

func (s *fakeSummaryStore) Get(ctx context.Context, conversationID string) (*types.MemorySummary, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.summaries[conversationID], nil
}

func (s *fakeSummaryStore) Upsert(ctx context.Context, data types.MemorySummary) error {
	if have, ok := s.summaries[data.ConversationID]; ok && have.LastMessageID > data.LastMessageID {
		return nil
	}
	s.summaries[data.ConversationID] = &data
	return nil
}

type fakeChunkStore struct {
	fakeTable
	chunks map[string]types.Chunk
}

func (s *fakeChunkStore) BatchCreate(ctx context.Context, data []*types.Chunk) error { return nil }

func (s *fakeChunkStore) ListByVersion(ctx context.Context, documentVersionID string) ([]types.Chunk, error) {
	return nil, nil
}

func (s *fakeChunkStore) ListByChunkUIDs(ctx context.Context, chunkUIDs []string) ([]types.Chunk, error) {
	var res []types.Chunk
	for _, uid := range chunkUIDs {
		if c, ok := s.chunks[uid]; ok {
			res = append(res, c)
		}
	}
	return res, nil
}

func (s *fakeChunkStore) DeleteOldVersions(ctx context.Context, documentID string, keepVersion int) error {
	return nil
}

func (s *fakeChunkStore) DeleteByDocument(ctx context.Context, documentID string) error { return nil }

type fakeCache struct {
	kv    map[string]string
	lists map[string][]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{kv: map[string]string{}, lists: map[string][]string{}}
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, error) {
	return c.kv[key], nil
}

func (c *fakeCache) SetEx(ctx context.Context, key, value string, expiresAt time.Duration) error {
	c.kv[key] = value
	return nil
}

func (c *fakeCache) SetNX(ctx context.Context, key, value string, expiresAt time.Duration) (bool, error) {
	if _, ok := c.kv[key]; ok {
		return false, nil
	}
	c.kv[key] = value
	return true, nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	delete(c.kv, key)
	delete(c.lists, key)
	return nil
}

func (c *fakeCache) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}

func (c *fakeCache) RPush(ctx context.Context, key string, values ...string) error {
	c.lists[key] = append(c.lists[key], values...)
	return nil
}

func (c *fakeCache) LTrim(ctx context.Context, key string, start, stop int64) error {
	list := c.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if start < 0 {
		start = 0
	}
	if stop < 0 {
		stop += n
	}
	if start > stop || start >= n {
		c.lists[key] = nil
		return nil
	}
	if stop >= n {
		stop = n - 1
	}
	c.lists[key] = list[start : stop+1]
	return nil
}

func (c *fakeCache) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	list := c.lists[key]
	n := int64(len(list))
	if n == 0 {
		return nil, nil
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	return list[start : stop+1], nil
}

type fakeVector struct {
	matches []types.VectorMatch
	err     error
}

func (f *fakeVector) EnsureCollection(ctx context.Context, collection string, vectorSize int) error {
	return nil
}

func (f *fakeVector) EnsureAlias(ctx context.Context, alias, collection string) error { return nil }
func (f *fakeVector) DeleteCollection(ctx context.Context, collection string) error   { return nil }

func (f *fakeVector) Upsert(ctx context.Context, collection string, points []types.VectorPoint) error {
	return nil
}

func (f *fakeVector) Search(ctx context.Context, collection string, vector []float32, topK int) ([]types.VectorMatch, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.matches) > topK {
		return f.matches[:topK], nil
	}
	return f.matches, nil
}

func (f *fakeVector) DeleteOldVersions(ctx context.Context, collection, documentID string, keepVersion int) error {
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embedding(ctx context.Context, content []string) ([][]float32, error) {
	res := make([][]float32, len(content))
	for i := range content {
		res[i] = []float32{1, 0}
	}
	return res, nil
}

type fakeGenerator struct {
	responses []string
	calls     [][]ai.Message
}

func (g *fakeGenerator) Generate(ctx context.Context, messages []ai.Message) (string, error) {
	g.calls = append(g.calls, messages)
	if len(g.responses) == 0 {
		return "", fmt.Errorf("no response scripted")
	}
	next := g.responses[0]
	g.responses = g.responses[1:]
	return next, nil
}

// lenCounter 以字符数估算 token,测试里预算好算
type lenCounter struct{}

func (lenCounter) NumTokens(text string) int { return len(text) }

type turnFixture struct {
	engine        *TurnEngine
	conversations *fakeConversationStore
	messages      *fakeMessageStore
	summaries     *fakeSummaryStore
	chunks        *fakeChunkStore
	cache         *fakeCache
	vector        *fakeVector
	generator     *fakeGenerator
	workspace     *types.Workspace
	conversation  *types.Conversation
}

func newTurnFixture(cfg core.ChatConfig) *turnFixture {
	f := &turnFixture{
		conversations: &fakeConversationStore{conversations: map[string]*types.Conversation{}},
		messages:      &fakeMessageStore{},
		summaries:     &fakeSummaryStore{summaries: map[string]*types.MemorySummary{}},
		chunks:        &fakeChunkStore{chunks: map[string]types.Chunk{}},
		cache:         newFakeCache(),
		vector:        &fakeVector{},
		generator:     &fakeGenerator{},
	}
	f.workspace = &types.Workspace{ID: "ws1", Collection: "ws_ws1_v1", CollectionAlias: "ws_ws1"}
	f.conversation = &types.Conversation{ID: "convo1", WorkspaceID: "ws1", Title: "t"}
	f.conversations.conversations["convo1"] = f.conversation

	f.engine = &TurnEngine{
		Conversations: f.conversations,
		Messages:      f.messages,
		Summaries:     f.summaries,
		Chunks:        f.chunks,
		Cache:         f.cache,
		Vector:        f.vector,
		Embedder:      fakeEmbedder{},
		Generator:     f.generator,
		Counter:       lenCounter{},
		Cfg:           cfg,
		Prompt:        core.Prompt{Base: "sys", ChatSummary: "sum"},
	}
	return f
}

func defaultChatConfig() core.ChatConfig {
	return core.ChatConfig{
		MaxContextTokens:       10000,
		ReservedOutputTokens:   100,
		ReservedEvidenceTokens: 1000,
		TopK:                   5,
		LockTTLSeconds:         10,
		RecentCacheMax:         50,
		CacheTTLHours:          1,
		SummarizeDropThreshold: 3,
	}
}

func TestTurnHappyPathWithEvidence(t *testing.T) {
	f := newTurnFixture(defaultChatConfig())
	f.vector.matches = []types.VectorMatch{
		{ChunkUID: "chunk_doc1_1_0", DocumentID: "doc1", Score: 0.9},
		{ChunkUID: "chunk_doc1_1_1", DocumentID: "doc1", Score: 0.5},
	}
	// 第二个命中在事实库中不存在,应当被静默跳过
	f.chunks.chunks["chunk_doc1_1_0"] = types.Chunk{
		ChunkUID: "chunk_doc1_1_0",
		Content:  "The installer places binaries under /usr/local/bin.",
	}
	f.generator.responses = []string{"Binaries land in /usr/local/bin, see [1].\n\nReferences:\n[1] chunk"}

	result, err := f.engine.Turn(context.Background(), f.workspace, f.conversation, "where do binaries go?")
	require.NoError(t, err)

	assert.Equal(t, "Binaries land in /usr/local/bin, see [1].", result.Answer)
	require.Len(t, result.Citations, 1)
	assert.Equal(t, "chunk_doc1_1_0", result.Citations[0].ChunkUID)

	// user + assistant 两条消息落库
	require.Len(t, f.messages.messages, 2)
	assert.Equal(t, types.MESSAGE_ROLE_USER, f.messages.messages[0].Role)
	assert.Equal(t, types.MESSAGE_ROLE_ASSISTANT, f.messages.messages[1].Role)

	var metadata types.MessageMetadata
	require.NoError(t, json.Unmarshal(f.messages.messages[1].Metadata, &metadata))
	require.Len(t, metadata.Citations, 1)

	// 轮次结束后锁必须已经释放
	_, held := f.cache.kv[protocol.GenConversationLockKey("convo1")]
	assert.False(t, held)

	// 检索走的是别名
	require.Len(t, f.generator.calls, 1)
}

func TestTurnLockConflict(t *testing.T) {
	f := newTurnFixture(defaultChatConfig())
	f.cache.kv[protocol.GenConversationLockKey("convo1")] = "someone-else"

	_, err := f.engine.Turn(context.Background(), f.workspace, f.conversation, "hello?")
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	// 冲突的轮次不得落任何消息,也不得动别人的锁
	assert.Empty(t, f.messages.messages)
	assert.Equal(t, "someone-else", f.cache.kv[protocol.GenConversationLockKey("convo1")])
}

func TestTurnSummarizesDroppedHistory(t *testing.T) {
	cfg := defaultChatConfig()
	cfg.MaxContextTokens = 230
	cfg.ReservedOutputTokens = 100
	cfg.ReservedEvidenceTokens = 100
	cfg.SummarizeDropThreshold = 2
	f := newTurnFixture(cfg)

	for i := 1; i <= 4; i++ {
		f.messages.messages = append(f.messages.messages, types.Message{
			ID:             int64(i),
			ConversationID: "convo1",
			Role:           types.MESSAGE_ROLE_USER,
			Content:        fmt.Sprintf("an older message number %d", i),
		})
	}
	f.generator.responses = []string{"they talked about numbers", "ok"}

	_, err := f.engine.Turn(context.Background(), f.workspace, f.conversation, "q")
	require.NoError(t, err)

	// 第一次生成调用是摘要,第二次才是回答
	require.Len(t, f.generator.calls, 2)
	assert.Equal(t, "sum", f.generator.calls[0][0].Content)

	stored := f.summaries.summaries["convo1"]
	require.NotNil(t, stored)
	assert.Equal(t, "they talked about numbers", stored.Summary)
	assert.Equal(t, int64(4), stored.LastMessageID)
}

func TestTurnKeepsUserMessageWhenContextLoadFails(t *testing.T) {
	f := newTurnFixture(defaultChatConfig())
	f.summaries.getErr = fmt.Errorf("store down")

	_, err := f.engine.Turn(context.Background(), f.workspace, f.conversation, "hello?")
	require.Error(t, err)

	// 轮次失败也不能丢用户消息
	require.Len(t, f.messages.messages, 1)
	assert.Equal(t, types.MESSAGE_ROLE_USER, f.messages.messages[0].Role)
	assert.Equal(t, "hello?", f.messages.messages[0].Content)

	// 锁照常释放
	_, held := f.cache.kv[protocol.GenConversationLockKey("convo1")]
	assert.False(t, held)
}

func TestTurnColdCachePrimesFromStore(t *testing.T) {
	f := newTurnFixture(defaultChatConfig())
	f.messages.messages = append(f.messages.messages, types.Message{
		ID:             1,
		ConversationID: "convo1",
		Role:           types.MESSAGE_ROLE_USER,
		Content:        "an earlier question",
	})
	f.generator.responses = []string{"answer"}

	_, err := f.engine.Turn(context.Background(), f.workspace, f.conversation, "follow-up?")
	require.NoError(t, err)

	// 回答调用要能看到回源加载的旧历史
	require.Len(t, f.generator.calls, 1)
	var sawEarlier, duplicatedCurrent int
	for _, m := range f.generator.calls[0] {
		if m.Content == "an earlier question" {
			sawEarlier++
		}
		if m.Content == "follow-up?" {
			duplicatedCurrent++
		}
	}
	assert.Equal(t, 1, sawEarlier)
	// 当前消息只作为问题出现一次,不得同时混进历史
	assert.Equal(t, 1, duplicatedCurrent)

	// 预热后的缓存包含旧历史与当前轮的两条消息,且没有重复
	rows, _ := f.cache.LRange(context.Background(), protocol.GenConversationMessagesKey("convo1"), 0, -1)
	assert.Len(t, rows, 3)
}

func TestTurnEvidenceRespectsReservation(t *testing.T) {
	cfg := defaultChatConfig()
	cfg.ReservedEvidenceTokens = 10
	f := newTurnFixture(cfg)

	f.vector.matches = []types.VectorMatch{{ChunkUID: "chunk_doc1_1_0", DocumentID: "doc1", Score: 0.9}}
	big := make([]byte, 1000)
	for i := range big {
		big[i] = 'x'
	}
	f.chunks.chunks["chunk_doc1_1_0"] = types.Chunk{ChunkUID: "chunk_doc1_1_0", Content: string(big)}
	f.generator.responses = []string{"cannot tell from the evidence"}

	result, err := f.engine.Turn(context.Background(), f.workspace, f.conversation, "anything?")
	require.NoError(t, err)

	// 单个片段超出证据额度时宁可不带证据,也不能冲破 token 上限
	assert.Empty(t, result.Citations)
	require.Len(t, f.generator.calls, 1)
	for _, m := range f.generator.calls[0] {
		assert.NotContains(t, m.Content, "xxxx")
	}
}

func TestTurnNegativeBudgetSummarizesAndProceeds(t *testing.T) {
	cfg := defaultChatConfig()
	cfg.MaxContextTokens = 220
	cfg.ReservedOutputTokens = 100
	cfg.ReservedEvidenceTokens = 100
	f := newTurnFixture(cfg)

	f.messages.messages = append(f.messages.messages, types.Message{
		ID:             1,
		ConversationID: "convo1",
		Role:           types.MESSAGE_ROLE_USER,
		Content:        "an older message",
	})
	f.generator.responses = []string{"earlier they asked one thing", "fine"}

	question := make([]byte, 300)
	for i := range question {
		question[i] = 'q'
	}

	result, err := f.engine.Turn(context.Background(), f.workspace, f.conversation, string(question))
	require.NoError(t, err)
	assert.Equal(t, "fine", result.Answer)

	// 预算为负时全部历史被裁掉,即使条数不到阈值也要摘要
	require.Len(t, f.generator.calls, 2)
	assert.Equal(t, "sum", f.generator.calls[0][0].Content)
	stored := f.summaries.summaries["convo1"]
	require.NotNil(t, stored)
	assert.Equal(t, int64(1), stored.LastMessageID)

	// 回答调用里不携带任何历史消息,只有系统提示、摘要和问题
	for _, m := range f.generator.calls[1] {
		assert.NotEqual(t, "an older message", m.Content)
	}
}

func TestComputeHistoryBudget(t *testing.T) {
	cfg := core.ChatConfig{
		MaxContextTokens:       1000,
		ReservedOutputTokens:   200,
		ReservedEvidenceTokens: 300,
	}
	counter := lenCounter{}

	// 1000 - 200 - 300 - (3+8) - (5+8) = 476
	got := ComputeHistoryBudget(cfg, counter, "sys", "", "hello")
	assert.Equal(t, 476, got)

	// 摘要占用会进一步压缩预算
	withSummary := ComputeHistoryBudget(cfg, counter, "sys", "summary", "hello")
	assert.Equal(t, 476-(7+8), withSummary)
}

func TestTrimHistoryToBudget(t *testing.T) {
	counter := lenCounter{}
	history := []types.Message{
		{ID: 1, Content: "aaaaaaaaaa"}, // 10+8
		{ID: 2, Content: "bbbbbbbbbb"}, // 10+8
		{ID: 3, Content: "cccccccccc"}, // 10+8
	}

	kept, dropped := TrimHistoryToBudget(counter, history, 40)
	require.Len(t, kept, 2)
	require.Len(t, dropped, 1)
	assert.Equal(t, int64(2), kept[0].ID)
	assert.Equal(t, int64(3), kept[1].ID)
	assert.Equal(t, int64(1), dropped[0].ID)

	kept, dropped = TrimHistoryToBudget(counter, history, 0)
	assert.Empty(t, kept)
	assert.Len(t, dropped, 3)

	kept, dropped = TrimHistoryToBudget(counter, history, 1000)
	assert.Len(t, kept, 3)
	assert.Empty(t, dropped)
}

func TestStripTrailingReferences(t *testing.T) {
	assert.Equal(t, "The answer is 42.",
		StripTrailingReferences("The answer is 42.\n\nReferences:\n[1] some doc"))
	assert.Equal(t, "See the sources: they disagree.",
		StripTrailingReferences("See the sources: they disagree."))
	assert.Equal(t, "plain answer", StripTrailingReferences("plain answer"))
}
