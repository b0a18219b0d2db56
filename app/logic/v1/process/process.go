package process

import (
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"

	"github.com/docgraph-ai/docgraph/app/core"
	"github.com/docgraph-ai/docgraph/pkg/queue"
	"github.com/docgraph-ai/docgraph/pkg/register"
)

type Process struct {
	cron        *cron.Cron
	core        *core.Core
	asynqClient *asynq.Client
	asynqServer *asynq.Server
	asynqMux    *asynq.ServeMux
	indexQueue  *queue.IndexQueue
}

var p *Process

type ProcessKey struct{}

func NewProcess(core *core.Core) *Process {
	p = &Process{
		cron: cron.New(),
		core: core,
	}

	cfg := core.Cfg().Redis
	redisOpt := asynq.RedisClientOpt{
		Network:  "tcp",
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	p.asynqClient = asynq.NewClient(redisOpt)

	concurrency := core.Cfg().Task.QueueConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	p.asynqServer = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    concurrency,
		StrictPriority: false,
		Queues: map[string]int{
			queue.IndexQueueName: 1,
		},
	})
	p.asynqMux = asynq.NewServeMux()

	p.indexQueue = queue.NewIndexQueueWithClient(p.asynqClient, core.Cfg().Task.MaxAttempts)
	core.SetTaskQueue(p.indexQueue)

	for _, h := range register.ResolveFuncHandlers[*Process](ProcessKey{}) {
		h(p)
	}

	return p
}

func (p *Process) Cron() *cron.Cron {
	return p.cron
}

func (p *Process) Core() *core.Core {
	return p.core
}

func (p *Process) AsynqClient() *asynq.Client {
	return p.asynqClient
}

func (p *Process) AsynqServerMux() *asynq.ServeMux {
	return p.asynqMux
}

func (p *Process) IndexQueue() *queue.IndexQueue {
	return p.indexQueue
}

func (p *Process) Start() {
	p.cron.Start()
	go func() {
		if err := p.asynqServer.Run(p.asynqMux); err != nil {
			slog.Error("asynq server stopped", slog.String("error", err.Error()))
		}
	}()
}

func (p *Process) Stop() {
	if p.cron != nil {
		ctx := p.cron.Stop()
		<-ctx.Done()
	}

	if p.asynqServer != nil {
		p.asynqServer.Shutdown()
	}
	if p.indexQueue != nil {
		p.indexQueue.Shutdown()
	}
}
