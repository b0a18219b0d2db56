package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/docgraph-ai/docgraph/app/core"
)

type HttpSrv struct {
	Core   *core.Core
	Engine *gin.Engine
}
