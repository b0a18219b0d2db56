package middleware

import (
	"net/http"
	"runtime/debug"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/docgraph-ai/docgraph/app/core"
	"github.com/docgraph-ai/docgraph/app/response"
	"github.com/docgraph-ai/docgraph/pkg/errors"
	"github.com/docgraph-ai/docgraph/pkg/i18n"
)

func I18n() gin.HandlerFunc {
	var allowList []string
	for k := range i18n.ALLOW_LANG {
		allowList = append(allowList, k)
	}
	l := i18n.NewLocalizer(allowList...)

	return response.ProvideResponseLocalizer(l)
}

func Cors(c *gin.Context) {
	method := c.Request.Method
	origin := c.Request.Header.Get("Origin")
	if origin != "" {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, UPDATE")
		c.Header("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Expose-Headers", "Content-Length, Access-Control-Allow-Origin, Access-Control-Allow-Headers, Cache-Control, Content-Language, Content-Type")
		c.Header("Access-Control-Allow-Credentials", "true")
	}
	if method == "OPTIONS" {
		c.AbortWithStatus(http.StatusNoContent)
	}
	c.Next()
}

// Recovery 捕获处理器 panic,统一走错误响应
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		debug.PrintStack()
		response.APIError(c, errors.New("middleware.Recovery", i18n.ERROR_INTERNAL, nil).Code(http.StatusInternalServerError))
	})
}

const rateLimitMaxKeys = 10000

// RateLimit 按客户端地址限流,超出额度的请求直接返回 429
func RateLimit(perSecond, burst int) gin.HandlerFunc {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)

	return func(c *gin.Context) {
		key := c.ClientIP()

		mu.Lock()
		limiter, ok := limiters[key]
		if !ok {
			// 记录数触顶时整体重建,限流窗口允许丢失
			if len(limiters) >= rateLimitMaxKeys {
				limiters = make(map[string]*rate.Limiter)
			}
			limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
			limiters[key] = limiter
		}
		mu.Unlock()

		if !limiter.Allow() {
			response.APIError(c, errors.New("middleware.RateLimit", i18n.ERROR_TOO_MANY_REQUESTS, nil).
				Code(http.StatusTooManyRequests))
			return
		}
		c.Next()
	}
}

// Observe 记录每个接口的响应耗时与错误计数
func Observe(core *core.Core) gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := core.Metrics().ApiResponseTimer(c.FullPath())
		c.Next()
		timer.ObserveDuration()

		if status := c.Writer.Status(); status >= http.StatusBadRequest {
			core.Metrics().ApiErrorInc(c.Request.Method, c.FullPath(), status)
		}
	}
}
