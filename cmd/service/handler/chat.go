package handler

import (
	"github.com/gin-gonic/gin"

	v1 "github.com/docgraph-ai/docgraph/app/logic/v1"
	"github.com/docgraph-ai/docgraph/app/response"
	"github.com/docgraph-ai/docgraph/pkg/types"
	"github.com/docgraph-ai/docgraph/pkg/utils"
)

type CreateConversationRequest struct {
	Title string `json:"title" binding:"max=255"`
}

func (s *HttpSrv) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	workspaceID, _ := c.Params.Get("workspaceid")
	conversation, err := v1.NewConversationLogic(c, s.Core).CreateConversation(workspaceID, req.Title)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, conversation)
}

type ListConversationsRequest struct {
	Page     uint64 `json:"page" form:"page"`
	PageSize uint64 `json:"pagesize" form:"pagesize"`
}

func (s *HttpSrv) ListConversations(c *gin.Context) {
	var req ListConversationsRequest
	if err := utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = types.DEFAULT_PAGE_SIZE
	}

	workspaceID, _ := c.Params.Get("workspaceid")
	list, err := v1.NewConversationLogic(c, s.Core).ListConversations(workspaceID, req.Page, req.PageSize)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, list)
}

type ListMessagesRequest struct {
	Page     uint64 `json:"page" form:"page"`
	PageSize uint64 `json:"pagesize" form:"pagesize"`
}

func (s *HttpSrv) ListMessages(c *gin.Context) {
	var req ListMessagesRequest
	if err := utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = types.DEFAULT_PAGE_SIZE
	}

	conversationID, _ := c.Params.Get("conversationid")
	list, err := v1.NewConversationLogic(c, s.Core).ListMessages(conversationID, req.Page, req.PageSize)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, list)
}

type ChatTurnRequest struct {
	ConversationID string `json:"conversation_id"`
	Question       string `json:"question" binding:"required"`
}

// ChatTurn 执行一次对话轮次,同一会话的并发请求会拿到 409
// 不带会话标识时自动创建新会话,返回结果里携带会话标识
func (s *HttpSrv) ChatTurn(c *gin.Context) {
	var req ChatTurnRequest
	if err := utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	workspaceID, _ := c.Params.Get("workspaceid")
	conversationID, _ := c.Params.Get("conversationid")
	if conversationID == "" {
		conversationID = req.ConversationID
	}

	result, err := v1.NewChatLogic(c, s.Core).Turn(workspaceID, conversationID, req.Question)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, result)
}
