package handler

import (
	"github.com/gin-gonic/gin"

	v1 "github.com/docgraph-ai/docgraph/app/logic/v1"
	"github.com/docgraph-ai/docgraph/app/response"
)

func (s *HttpSrv) GetTaskStatus(c *gin.Context) {
	taskID, _ := c.Params.Get("taskid")

	result, err := v1.NewTaskLogic(c, s.Core).GetTaskStatus(taskID)
	if err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, result)
}

func (s *HttpSrv) CancelTask(c *gin.Context) {
	taskID, _ := c.Params.Get("taskid")

	if err := v1.NewTaskLogic(c, s.Core).CancelTask(taskID); err != nil {
		response.APIError(c, err)
		return
	}
	response.APISuccess(c, nil)
}
