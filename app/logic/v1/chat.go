package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/docgraph-ai/docgraph/app/core"
	"github.com/docgraph-ai/docgraph/app/core/srv"
	"github.com/docgraph-ai/docgraph/app/store"
	"github.com/docgraph-ai/docgraph/pkg/ai"
	"github.com/docgraph-ai/docgraph/pkg/errors"
	"github.com/docgraph-ai/docgraph/pkg/i18n"
	"github.com/docgraph-ai/docgraph/pkg/types"
	"github.com/docgraph-ai/docgraph/pkg/types/protocol"
	"github.com/docgraph-ai/docgraph/pkg/utils"
)

const DEFAULT_BASE_PROMPT = `You are a knowledge base assistant. Answer the user's question using only the evidence snippets provided below. Each snippet is labeled like [1], [2]. Cite the snippets you rely on inline, e.g. "... as described in [2]". If the evidence does not contain the answer, say you do not know. Do not append a references or sources section at the end of your answer.`

const DEFAULT_SUMMARY_PROMPT = `Condense the following conversation fragment into a short factual summary. Keep names, decisions and open questions. Merge it with the previous summary when one is given. Reply with the summary text only.`

type ChatLogic struct {
	ctx  context.Context
	core *core.Core
}

func NewChatLogic(ctx context.Context, core *core.Core) *ChatLogic {
	return &ChatLogic{
		ctx:  ctx,
		core: core,
	}
}

// Turn 执行一次完整的对话轮次,会话标识为空时创建新会话
func (l *ChatLogic) Turn(workspaceID, conversationID, question string) (*types.TurnResult, error) {
	workspace, err := NewWorkspaceLogic(l.ctx, l.core).GetWorkspace(workspaceID)
	if err != nil {
		return nil, errors.Trace("ChatLogic.Turn", err)
	}

	var conversation *types.Conversation
	if conversationID == "" {
		if conversation, err = NewConversationLogic(l.ctx, l.core).CreateConversation(workspaceID, ""); err != nil {
			return nil, errors.Trace("ChatLogic.Turn", err)
		}
	} else {
		if conversation, err = NewConversationLogic(l.ctx, l.core).GetConversation(conversationID); err != nil {
			return nil, errors.Trace("ChatLogic.Turn", err)
		}
		if conversation.WorkspaceID != workspace.ID {
			return nil, errors.New("ChatLogic.Turn.WorkspaceMismatch", i18n.ERROR_CONVERSATION_NOT_FOUND, nil).
				Code(http.StatusNotFound)
		}
	}

	engine := &TurnEngine{
		Conversations: l.core.Store().ConversationStore(),
		Messages:      l.core.Store().MessageStore(),
		Summaries:     l.core.Store().MemorySummaryStore(),
		Chunks:        l.core.Store().ChunkStore(),
		Cache:         l.core.Cache(),
		Vector:        l.core.Srv().Vector(),
		Embedder:      l.core.Srv().AI().Embedder(),
		Generator:     l.core.Srv().AI().Generator(),
		Counter:       l.core.Srv().AI().Tokens(),
		Cfg:           l.core.Cfg().Chat,
		Prompt:        l.core.Cfg().Prompt,
		Metrics:       l.core.Metrics(),
	}
	return engine.Turn(l.ctx, workspace, conversation, question)
}

// TurnEngine 承载一次对话轮次需要的全部依赖
type TurnEngine struct {
	Conversations store.ConversationStore
	Messages      store.MessageStore
	Summaries     store.MemorySummaryStore
	Chunks        store.ChunkStore
	Cache         types.Cache
	Vector        srv.VectorIndex
	Embedder      ai.Embedder
	Generator     ai.Generator
	Counter       ai.Counter
	Cfg           core.ChatConfig
	Prompt        core.Prompt
	Metrics       *core.Metrics
}

func (e *TurnEngine) basePrompt() string {
	if e.Prompt.Base != "" {
		return e.Prompt.Base
	}
	return DEFAULT_BASE_PROMPT
}

func (e *TurnEngine) summaryPrompt() string {
	if e.Prompt.ChatSummary != "" {
		return e.Prompt.ChatSummary
	}
	return DEFAULT_SUMMARY_PROMPT
}

func (e *TurnEngine) cacheTTL() time.Duration {
	return time.Duration(e.Cfg.CacheTTLHours) * time.Hour
}

func (e *TurnEngine) stepTimer(step string) func() {
	if e.Metrics == nil {
		return func() {}
	}
	timer := e.Metrics.TurnStepTimer(step)
	return func() { timer.ObserveDuration() }
}

func (e *TurnEngine) observeModel(target string) func(err error) {
	if e.Metrics == nil {
		return func(error) {}
	}
	timer := e.Metrics.ModelRequestTimer(target)
	return func(err error) {
		timer.ObserveDuration()
		if err != nil {
			e.Metrics.ModelErrorInc(target)
		}
	}
}

// Turn 串行化执行一次轮次,同一会话同一时间只允许一个轮次在途
func (e *TurnEngine) Turn(ctx context.Context, workspace *types.Workspace, conversation *types.Conversation, question string) (*types.TurnResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("TurnEngine.Turn.EmptyQuestion", i18n.ERROR_INVALIDARGUMENT, nil).
			Code(http.StatusBadRequest).Kind(errors.KindValidation)
	}

	unlock, err := e.acquireLock(ctx, conversation.ID)
	if err != nil {
		return nil, errors.Trace("TurnEngine.Turn", err)
	}
	defer unlock()

	// 当前消息最先落库,之后任何一步失败历史都不丢
	userMessage := types.Message{
		ID:             utils.GenUniqID(),
		ConversationID: conversation.ID,
		Role:           types.MESSAGE_ROLE_USER,
		Content:        question,
		CreatedAt:      time.Now().Unix(),
	}
	if err = e.Messages.Create(ctx, userMessage); err != nil {
		return nil, errors.New("TurnEngine.Turn.MessageStore.Create", i18n.ERROR_INTERNAL, err)
	}

	summary, err := e.loadSummary(ctx, conversation.ID)
	if err != nil {
		return nil, errors.Trace("TurnEngine.Turn", err)
	}

	// 历史按 id 排除当前消息,冷缓存回源预热时会连同它一起写入
	history, cachedCurrent, err := e.loadHistory(ctx, conversation.ID, summary.LastMessageID, userMessage.ID)
	if err != nil {
		return nil, errors.Trace("TurnEngine.Turn", err)
	}
	if !cachedCurrent {
		e.appendMessageCache(ctx, conversation.ID, userMessage)
	}

	budget := ComputeHistoryBudget(e.Cfg, e.Counter, e.basePrompt(), summary.Summary, question)
	kept, dropped := TrimHistoryToBudget(e.Counter, history, budget)

	// 预算为负时历史会被整体裁掉,同样并入摘要,后续轮次靠摘要续上上下文
	if len(dropped) > 0 && (len(dropped) >= e.Cfg.SummarizeDropThreshold || budget < 0) {
		// 摘要失败不阻塞本轮,下一轮会重新尝试
		if updated, serr := e.summarizeDropped(ctx, conversation.ID, summary, dropped); serr != nil {
			slog.Warn("conversation summarize failed",
				slog.String("conversation_id", conversation.ID), slog.Any("error", serr))
		} else {
			summary = updated
		}
	}

	stopRetrieve := e.stepTimer("retrieve")
	evidence, citations, err := e.retrieveEvidence(ctx, workspace, question)
	stopRetrieve()
	if err != nil {
		return nil, errors.Trace("TurnEngine.Turn", err)
	}

	stopGenerate := e.stepTimer("generate")
	answer, err := e.generateAnswer(ctx, summary.Summary, kept, question, evidence)
	stopGenerate()
	if err != nil {
		return nil, errors.Trace("TurnEngine.Turn", err)
	}
	answer = StripTrailingReferences(answer)

	metadata, _ := json.Marshal(types.MessageMetadata{Citations: citations})
	assistantMessage := types.Message{
		ID:             utils.GenUniqID(),
		ConversationID: conversation.ID,
		Role:           types.MESSAGE_ROLE_ASSISTANT,
		Content:        answer,
		Metadata:       metadata,
		CreatedAt:      time.Now().Unix(),
	}
	if err = e.Messages.Create(ctx, assistantMessage); err != nil {
		return nil, errors.New("TurnEngine.Turn.MessageStore.CreateAnswer", i18n.ERROR_INTERNAL, err)
	}
	e.appendMessageCache(ctx, conversation.ID, assistantMessage)

	if err = e.Conversations.Touch(ctx, conversation.ID); err != nil {
		slog.Warn("conversation touch failed", slog.String("conversation_id", conversation.ID), slog.Any("error", err))
	}
	if conversation.Title == "" {
		if err = e.Conversations.UpdateTitle(ctx, conversation.ID, buildTitle(question)); err != nil {
			slog.Warn("conversation title update failed", slog.String("conversation_id", conversation.ID), slog.Any("error", err))
		}
	}

	return &types.TurnResult{
		ConversationID: conversation.ID,
		MessageID:      assistantMessage.ID,
		Answer:         answer,
		Citations:      citations,
	}, nil
}

// acquireLock 通过 SET NX 获取会话锁,释放时校验持有者令牌
func (e *TurnEngine) acquireLock(ctx context.Context, conversationID string) (func(), error) {
	key := protocol.GenConversationLockKey(conversationID)
	token := utils.GenRandomID()
	ttl := time.Duration(e.Cfg.LockTTLSeconds) * time.Second

	ok, err := e.Cache.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, errors.New("TurnEngine.acquireLock.SetNX", i18n.ERROR_INTERNAL, err).Kind(errors.KindTransient)
	}
	if !ok {
		if e.Metrics != nil {
			e.Metrics.LockContentionInc()
		}
		return nil, errors.New("TurnEngine.acquireLock.Busy", i18n.ERROR_CONVERSATION_BUSY, nil).
			Code(http.StatusConflict).Kind(errors.KindConflict)
	}

	return func() {
		current, err := e.Cache.Get(ctx, key)
		if err != nil || current != token {
			// 锁已过期或被他人持有,不能删除
			return
		}
		if err = e.Cache.Del(ctx, key); err != nil {
			slog.Warn("conversation lock release failed", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

type cachedSummary struct {
	Summary       string `json:"summary"`
	LastMessageID int64  `json:"last_message_id"`
}

func (e *TurnEngine) loadSummary(ctx context.Context, conversationID string) (types.MemorySummary, error) {
	key := protocol.GenConversationSummaryKey(conversationID)
	if raw, err := e.Cache.Get(ctx, key); err == nil && raw != "" {
		var cached cachedSummary
		if json.Unmarshal([]byte(raw), &cached) == nil {
			return types.MemorySummary{
				ConversationID: conversationID,
				Summary:        cached.Summary,
				LastMessageID:  cached.LastMessageID,
			}, nil
		}
	}

	summary, err := e.Summaries.Get(ctx, conversationID)
	if err != nil {
		return types.MemorySummary{}, errors.New("TurnEngine.loadSummary.MemorySummaryStore.Get", i18n.ERROR_INTERNAL, err)
	}
	if summary == nil {
		return types.MemorySummary{ConversationID: conversationID}, nil
	}
	e.cacheSummary(ctx, *summary)
	return *summary, nil
}

func (e *TurnEngine) cacheSummary(ctx context.Context, summary types.MemorySummary) {
	raw, _ := json.Marshal(cachedSummary{Summary: summary.Summary, LastMessageID: summary.LastMessageID})
	if err := e.Cache.SetEx(ctx, protocol.GenConversationSummaryKey(summary.ConversationID), string(raw), e.cacheTTL()); err != nil {
		slog.Warn("summary cache write failed", slog.String("conversation_id", summary.ConversationID), slog.Any("error", err))
	}
}

// loadHistory 读取摘要覆盖点之后的历史,优先走缓存,未命中回源并预热
// excludeID 指向本轮刚落库的消息,返回值指明它是否已经进了缓存
func (e *TurnEngine) loadHistory(ctx context.Context, conversationID string, afterID, excludeID int64) ([]types.Message, bool, error) {
	key := protocol.GenConversationMessagesKey(conversationID)

	var history []types.Message
	if rows, err := e.Cache.LRange(ctx, key, 0, -1); err == nil && len(rows) > 0 {
		for _, row := range rows {
			var msg types.Message
			if json.Unmarshal([]byte(row), &msg) != nil {
				history = nil
				break
			}
			history = append(history, msg)
		}
	}

	if len(history) == 0 {
		rows, err := e.Messages.ListRecent(ctx, conversationID, uint64(e.Cfg.RecentCacheMax))
		if err != nil {
			return nil, false, errors.New("TurnEngine.loadHistory.MessageStore.ListRecent", i18n.ERROR_INTERNAL, err)
		}
		history = rows
		e.primeMessageCache(ctx, conversationID, rows)
	}

	cachedCurrent := false
	filtered := lo.Filter(history, func(m types.Message, _ int) bool {
		if m.ID == excludeID {
			cachedCurrent = true
			return false
		}
		return m.ID > afterID
	})
	return filtered, cachedCurrent, nil
}

func (e *TurnEngine) primeMessageCache(ctx context.Context, conversationID string, messages []types.Message) {
	if len(messages) == 0 {
		return
	}
	key := protocol.GenConversationMessagesKey(conversationID)
	values := lo.Map(messages, func(m types.Message, _ int) string {
		raw, _ := json.Marshal(m)
		return string(raw)
	})
	if err := e.Cache.Del(ctx, key); err != nil {
		return
	}
	if err := e.Cache.RPush(ctx, key, values...); err != nil {
		slog.Warn("message cache prime failed", slog.String("conversation_id", conversationID), slog.Any("error", err))
		return
	}
	_ = e.Cache.Expire(ctx, key, e.cacheTTL())
}

func (e *TurnEngine) appendMessageCache(ctx context.Context, conversationID string, message types.Message) {
	key := protocol.GenConversationMessagesKey(conversationID)
	raw, _ := json.Marshal(message)
	if err := e.Cache.RPush(ctx, key, string(raw)); err != nil {
		slog.Warn("message cache append failed", slog.String("conversation_id", conversationID), slog.Any("error", err))
		return
	}
	_ = e.Cache.LTrim(ctx, key, int64(-e.Cfg.RecentCacheMax), -1)
	_ = e.Cache.Expire(ctx, key, e.cacheTTL())
}

// summarizeDropped 将被裁剪的历史并入滚动摘要,覆盖点只会前移
func (e *TurnEngine) summarizeDropped(ctx context.Context, conversationID string, current types.MemorySummary, dropped []types.Message) (types.MemorySummary, error) {
	var sb strings.Builder
	if current.Summary != "" {
		sb.WriteString("Previous summary:\n")
		sb.WriteString(current.Summary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Conversation fragment:\n")
	for _, m := range dropped {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}

	text, err := e.Generator.Generate(ctx, []ai.Message{
		{Role: types.MESSAGE_ROLE_SYSTEM, Content: e.summaryPrompt()},
		{Role: types.MESSAGE_ROLE_USER, Content: sb.String()},
	})
	if err != nil {
		return current, errors.New("TurnEngine.summarizeDropped.Generate", i18n.ERROR_AI_GENERATE_FAILED, err).
			Kind(errors.KindGeneration)
	}

	lastID := current.LastMessageID
	for _, m := range dropped {
		if m.ID > lastID {
			lastID = m.ID
		}
	}
	updated := types.MemorySummary{
		ConversationID: conversationID,
		Summary:        strings.TrimSpace(text),
		LastMessageID:  lastID,
		UpdatedAt:      time.Now().Unix(),
	}
	if err = e.Summaries.Upsert(ctx, updated); err != nil {
		return current, errors.New("TurnEngine.summarizeDropped.MemorySummaryStore.Upsert", i18n.ERROR_INTERNAL, err)
	}
	e.cacheSummary(ctx, updated)
	return updated, nil
}

// retrieveEvidence 向量检索并回源事实库补全片段内容,缺失的片段静默跳过
func (e *TurnEngine) retrieveEvidence(ctx context.Context, workspace *types.Workspace, question string) (string, []types.Citation, error) {
	observe := e.observeModel("embedding")
	vectors, err := e.Embedder.Embedding(ctx, []string{question})
	observe(err)
	if err != nil || len(vectors) == 0 {
		return "", nil, errors.New("TurnEngine.retrieveEvidence.Embedding", i18n.ERROR_AI_EMBEDDING_FAILED, err).
			Code(http.StatusBadGateway).Kind(errors.KindTransient)
	}

	collection := workspace.CollectionAlias
	if collection == "" {
		collection = workspace.Collection
	}
	matches, err := e.Vector.Search(ctx, collection, vectors[0], e.Cfg.TopK)
	if err != nil {
		return "", nil, errors.New("TurnEngine.retrieveEvidence.Search", i18n.ERROR_VECTOR_INDEX_UNAVAILABLE, err).
			Code(http.StatusBadGateway).Kind(errors.KindTransient)
	}
	if len(matches) == 0 {
		return "", nil, nil
	}

	uids := lo.Map(matches, func(m types.VectorMatch, _ int) string { return m.ChunkUID })
	chunks, err := e.Chunks.ListByChunkUIDs(ctx, uids)
	if err != nil {
		return "", nil, errors.New("TurnEngine.retrieveEvidence.ChunkStore.ListByChunkUIDs", i18n.ERROR_INTERNAL, err)
	}
	byUID := lo.SliceToMap(chunks, func(c types.Chunk) (string, types.Chunk) { return c.ChunkUID, c })

	var (
		sb        strings.Builder
		citations []types.Citation
		used      int
	)
	for _, match := range matches {
		chunk, ok := byUID[match.ChunkUID]
		if !ok {
			// 向量索引允许短暂滞后,事实库查不到的片段直接跳过
			continue
		}
		// 证据总量不得超出预留额度,放不下的片段直接舍弃
		cost := e.Counter.NumTokens(chunk.Content) + ai.MESSAGE_OVERHEAD_TOKENS
		if used+cost > e.Cfg.ReservedEvidenceTokens {
			continue
		}
		used += cost
		citations = append(citations, types.Citation{
			ChunkUID:   match.ChunkUID,
			DocumentID: match.DocumentID,
			Score:      match.Score,
		})
		fmt.Fprintf(&sb, "[%d] %s\n\n", len(citations), chunk.Content)
	}
	return sb.String(), citations, nil
}

func (e *TurnEngine) generateAnswer(ctx context.Context, summary string, history []types.Message, question, evidence string) (string, error) {
	messages := []ai.Message{{Role: types.MESSAGE_ROLE_SYSTEM, Content: e.basePrompt()}}
	if summary != "" {
		messages = append(messages, ai.Message{
			Role:    types.MESSAGE_ROLE_SYSTEM,
			Content: "Summary of the earlier conversation:\n" + summary,
		})
	}
	for _, m := range history {
		messages = append(messages, ai.Message{Role: m.Role, Content: m.Content})
	}
	if evidence != "" {
		messages = append(messages, ai.Message{
			Role:    types.MESSAGE_ROLE_SYSTEM,
			Content: "Evidence snippets:\n" + evidence,
		})
	}
	messages = append(messages, ai.Message{Role: types.MESSAGE_ROLE_USER, Content: question})

	observe := e.observeModel("chat")
	answer, err := e.Generator.Generate(ctx, messages)
	observe(err)
	if err != nil {
		return "", errors.New("TurnEngine.generateAnswer.Generate", i18n.ERROR_AI_GENERATE_FAILED, err).
			Code(http.StatusBadGateway).Kind(errors.KindGeneration)
	}
	return answer, nil
}

// ComputeHistoryBudget 计算本轮可分配给历史消息的 token 预算
// 为负表示连问题本身都放不下
func ComputeHistoryBudget(cfg core.ChatConfig, counter ai.Counter, systemPrompt, summary, question string) int {
	budget := cfg.MaxContextTokens - cfg.ReservedOutputTokens - cfg.ReservedEvidenceTokens
	budget -= counter.NumTokens(systemPrompt) + ai.MESSAGE_OVERHEAD_TOKENS
	if summary != "" {
		budget -= counter.NumTokens(summary) + ai.MESSAGE_OVERHEAD_TOKENS
	}
	budget -= counter.NumTokens(question) + ai.MESSAGE_OVERHEAD_TOKENS
	return budget
}

// TrimHistoryToBudget 从最新往最旧装入历史,放不下的整条丢弃
// 返回的 kept 保持时间正序,dropped 为被裁掉的旧消息
func TrimHistoryToBudget(counter ai.Counter, history []types.Message, budget int) (kept, dropped []types.Message) {
	if budget <= 0 {
		return nil, history
	}
	used := 0
	cut := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := counter.NumTokens(history[i].Content) + ai.MESSAGE_OVERHEAD_TOKENS
		if used+cost > budget {
			cut = i + 1
			break
		}
		used += cost
	}
	return history[cut:], history[:cut]
}

// StripTrailingReferences 去掉模型习惯性追加在结尾的引用清单
func StripTrailingReferences(answer string) string {
	trimmed := strings.TrimSpace(answer)
	lower := strings.ToLower(trimmed)
	for _, marker := range []string{"\nreferences:", "\nsources:", "\n参考文献:", "\n引用:"} {
		if idx := strings.LastIndex(lower, marker); idx >= 0 {
			// 只剥离确实位于结尾的清单块,正文中部的提及不动
			tail := trimmed[idx:]
			if len(tail) <= 512 {
				return strings.TrimSpace(trimmed[:idx])
			}
		}
	}
	return trimmed
}

func buildTitle(question string) string {
	title := strings.TrimSpace(question)
	runes := []rune(title)
	if len(runes) > 60 {
		return string(runes[:60])
	}
	return title
}
