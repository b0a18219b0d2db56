package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/docgraph-ai/docgraph/app/core"
	"github.com/docgraph-ai/docgraph/pkg/errors"
	"github.com/docgraph-ai/docgraph/pkg/i18n"
	"github.com/docgraph-ai/docgraph/pkg/types"
	"github.com/docgraph-ai/docgraph/pkg/utils"
)

type ConversationLogic struct {
	ctx  context.Context
	core *core.Core
}

func NewConversationLogic(ctx context.Context, core *core.Core) *ConversationLogic {
	return &ConversationLogic{
		ctx:  ctx,
		core: core,
	}
}

// CreateConversation 在指定工作区下创建新的会话
func (l *ConversationLogic) CreateConversation(workspaceID, title string) (*types.Conversation, error) {
	if _, err := NewWorkspaceLogic(l.ctx, l.core).GetWorkspace(workspaceID); err != nil {
		return nil, errors.Trace("ConversationLogic.CreateConversation", err)
	}

	now := time.Now().Unix()
	conversation := types.Conversation{
		ID:          utils.GenRandomID(),
		WorkspaceID: workspaceID,
		Title:       title,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.core.Store().ConversationStore().Create(l.ctx, conversation); err != nil {
		return nil, errors.New("ConversationLogic.CreateConversation.ConversationStore.Create", i18n.ERROR_INTERNAL, err)
	}
	return &conversation, nil
}

func (l *ConversationLogic) GetConversation(conversationID string) (*types.Conversation, error) {
	conversation, err := l.core.Store().ConversationStore().Get(l.ctx, conversationID)
	if err != nil {
		return nil, errors.New("ConversationLogic.GetConversation.ConversationStore.Get", i18n.ERROR_INTERNAL, err)
	}
	if conversation == nil {
		return nil, errors.New("ConversationLogic.GetConversation.NotFound", i18n.ERROR_CONVERSATION_NOT_FOUND, nil).
			Code(http.StatusNotFound)
	}
	return conversation, nil
}

func (l *ConversationLogic) ListConversations(workspaceID string, page, pageSize uint64) ([]types.Conversation, error) {
	list, err := l.core.Store().ConversationStore().List(l.ctx, workspaceID, page, pageSize)
	if err != nil {
		return nil, errors.New("ConversationLogic.ListConversations.ConversationStore.List", i18n.ERROR_INTERNAL, err)
	}
	return list, nil
}

func (l *ConversationLogic) ListMessages(conversationID string, page, pageSize uint64) ([]types.Message, error) {
	if _, err := l.GetConversation(conversationID); err != nil {
		return nil, errors.Trace("ConversationLogic.ListMessages", err)
	}
	list, err := l.core.Store().MessageStore().List(l.ctx, conversationID, page, pageSize)
	if err != nil {
		return nil, errors.New("ConversationLogic.ListMessages.MessageStore.List", i18n.ERROR_INTERNAL, err)
	}
	return list, nil
}
