package service

import (
	"github.com/docgraph-ai/docgraph/app/core"
	"github.com/docgraph-ai/docgraph/app/response"
	"github.com/docgraph-ai/docgraph/cmd/service/handler"
	"github.com/docgraph-ai/docgraph/cmd/service/middleware"
	"github.com/docgraph-ai/docgraph/pkg/metrics"
)

func serve(core *core.Core) {
	httpSrv := &handler.HttpSrv{
		Core:   core,
		Engine: core.HttpEngine(),
	}
	setupHttpRouter(httpSrv)

	core.HttpEngine().Run(core.Cfg().Addr)
}

func setupHttpRouter(s *handler.HttpSrv) {
	s.Engine.Use(middleware.I18n(), response.NewResponse())
	s.Engine.Use(middleware.Cors)
	s.Engine.Use(middleware.Recovery())
	s.Engine.Use(middleware.Observe(s.Core))
	s.Engine.Use(middleware.RateLimit(s.Core.Cfg().RateLimit.PerSecond, s.Core.Cfg().RateLimit.Burst))

	s.Engine.GET("/metrics", metrics.DefaultExportHandler())

	apiV1 := s.Engine.Group("/api/v1")
	{
		workspaces := apiV1.Group("/workspaces")
		{
			workspaces.POST("", s.CreateWorkspace)
			workspaces.GET("", s.ListWorkspaces)
			workspaces.GET("/:workspaceid", s.GetWorkspace)
			workspaces.DELETE("/:workspaceid", s.DeleteWorkspace)

			documents := workspaces.Group("/:workspaceid/documents")
			{
				documents.POST("", s.UploadDocument)
				documents.GET("", s.ListDocuments)
				documents.GET("/:documentid", s.GetDocument)
				documents.DELETE("/:documentid", s.DeleteDocument)
			}

			conversations := workspaces.Group("/:workspaceid/conversations")
			{
				conversations.POST("", s.CreateConversation)
				conversations.GET("", s.ListConversations)
				conversations.GET("/:conversationid/messages", s.ListMessages)
				conversations.POST("/:conversationid/turn", s.ChatTurn)
			}

			workspaces.POST("/:workspaceid/turn", s.ChatTurn)
		}

		tasks := apiV1.Group("/tasks")
		{
			tasks.GET("/:taskid", s.GetTaskStatus)
			tasks.POST("/:taskid/cancel", s.CancelTask)
		}
	}
}
