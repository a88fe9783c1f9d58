package server

import (
	"github.com/AyushSriv06/codesync2/internal/config"
	"github.com/AyushSriv06/codesync2/internal/metrics"
	"github.com/AyushSriv06/codesync2/internal/mw"
	"github.com/AyushSriv06/codesync2/internal/room"
	"github.com/AyushSriv06/codesync2/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// SetupRouter 统一初始化 Gin 中间件、只读 REST 接口以及 WebSocket 端点。
// 返回的限速器需要在停服时 Stop。
func SetupRouter(cfg config.Config, store *room.Store, hub *ws.Hub, d ws.Dispatcher) (*gin.Engine, *mw.RL) {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.AllowedOrigins))
	limit, rl := mw.RateLimit(rate.Limit(cfg.HTTPRequestsPerSecond), cfg.HTTPBurst, "/healthz", "/metrics")
	r.Use(limit)

	h := NewHandler(store, hub)
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.GET("/rooms", h.ListRooms)
	api.GET("/rooms/:key", h.GetRoom)

	r.GET("/ws", ws.Serve(hub, d, cfg))
	return r, rl
}
