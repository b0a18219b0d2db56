package handler

import (
	"github.com/gin-gonic/gin"

	v1 "github.com/docgraph-ai/docgraph/app/logic/v1"
	"github.com/docgraph-ai/docgraph/app/response"
	"github.com/docgraph-ai/docgraph/pkg/types"
	"github.com/docgraph-ai/docgraph/pkg/utils"
)

type CreateWorkspaceRequest struct {
	Name string `json:"name" binding:"required,max=128"`
}

func (s *HttpSrv) CreateWorkspace(c *gin.Context) {
	var req CreateWorkspaceRequest
	if err := utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	workspace, err := v1.NewWorkspaceLogic(c, s.Core).CreateWorkspace(req.Name)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, workspace)
}

func (s *HttpSrv) GetWorkspace(c *gin.Context) {
	workspaceID, _ := c.Params.Get("workspaceid")
	workspace, err := v1.NewWorkspaceLogic(c, s.Core).GetWorkspace(workspaceID)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, workspace)
}

type ListWorkspacesRequest struct {
	Page     uint64 `json:"page" form:"page"`
	PageSize uint64 `json:"pagesize" form:"pagesize"`
}

func (s *HttpSrv) ListWorkspaces(c *gin.Context) {
	var req ListWorkspacesRequest
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

	list, err := v1.NewWorkspaceLogic(c, s.Core).ListWorkspaces(req.Page, req.PageSize)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, list)
}

func (s *HttpSrv) DeleteWorkspace(c *gin.Context) {
	workspaceID, _ := c.Params.Get("workspaceid")
	if err := v1.NewWorkspaceLogic(c, s.Core).DeleteWorkspace(workspaceID); err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, nil)
}
