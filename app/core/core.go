package core

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/docgraph-ai/docgraph/app/core/srv"
	"github.com/docgraph-ai/docgraph/app/store/sqlstore"
	"github.com/docgraph-ai/docgraph/pkg/types"
	"github.com/docgraph-ai/docgraph/pkg/utils"
)

// TaskQueue 异步任务入队接口,由队列侧在启动时注入
type TaskQueue interface {
	EnqueueDocumentIndex(ctx context.Context, taskID string) (string, error)
}

type Core struct {
	cfg CoreConfig
	srv *srv.Srv

	stores      func() *sqlstore.Provider
	redisClient *redis.Client
	cache       types.Cache
	httpClient  *http.Client
	httpEngine  *gin.Engine
	taskQueue   TaskQueue

	metrics *Metrics
}

func MustSetupCore(cfg CoreConfig) *Core {
	{
		var writer io.Writer = os.Stdout
		if cfg.Log.Path != "" {
			writer = &lumberjack.Logger{
				Filename:   cfg.Log.Path,
				MaxSize:    500, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			}
		}
		l := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level: cfg.Log.SlogLevel(),
		}))
		slog.SetDefault(l)
	}

	utils.SetupIDWorker(1)

	core := &Core{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Second * 3},
		metrics:    NewMetrics("docgraph", "core"),
		httpEngine: gin.New(),
	}

	setupSqlStore(core)

	core.redisClient = newRedisClient(cfg.Redis)
	core.cache = NewRedisCache(core.redisClient)

	core.srv = srv.SetupSrvs(
		srv.ApplyAI(cfg.AI),
		srv.ApplyVector(cfg.Qdrant),
	)

	return core
}

func setupSqlStore(core *Core) {
	core.stores = sqlstore.MustSetup(core.cfg.Postgres)
	if err := core.stores().Install(); err != nil {
		panic(err)
	}
	slog.Info("setupSqlStore done")
}

func (s *Core) Cfg() CoreConfig {
	return s.cfg
}

func (s *Core) HttpEngine() *gin.Engine {
	return s.httpEngine
}

func (s *Core) Metrics() *Metrics {
	return s.metrics
}

func (s *Core) Store() *sqlstore.Provider {
	return s.stores()
}

func (s *Core) Srv() *srv.Srv {
	return s.srv
}

func (s *Core) Cache() types.Cache {
	return s.cache
}

func (s *Core) RedisClient() *redis.Client {
	return s.redisClient
}

func (s *Core) SetTaskQueue(q TaskQueue) {
	s.taskQueue = q
}

func (s *Core) TaskQueue() TaskQueue {
	return s.taskQueue
}
