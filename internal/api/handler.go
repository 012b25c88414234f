package api

import (
	"net/http"
	"time"

	"dexcore/internal/engine"
	"dexcore/internal/events"
	"dexcore/internal/monitor"
	"dexcore/internal/rpc"
	"dexcore/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the execution core.
type Server struct {
	Router  *gin.Engine
	Bus     *events.Bus
	Engine  *engine.Engine
	RPC     *rpc.Router
	Metrics *monitor.SystemMetrics
	Journal *db.Queries
	Meta    SystemMeta
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	ChainID     int
	Assets      []string
	UseMockFeed bool
	Version     string
}

func NewServer(bus *events.Bus, eng *engine.Engine, router *rpc.Router, metrics *monitor.SystemMetrics, journal *db.Queries, meta SystemMeta) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware(20, 50))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:  r,
		Bus:     bus,
		Engine:  eng,
		RPC:     router,
		Metrics: metrics,
		Journal: journal,
		Meta:    meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/rpc/metrics", s.getRPCMetrics)

		api.POST("/orders", s.createOrder)
		api.GET("/orders", s.listOrders)
		api.GET("/orders/:id", s.getOrder)
		api.DELETE("/orders/:id", s.cancelOrder)

		api.GET("/journal/orders", s.listOrderJournal)
		api.GET("/journal/nodes", s.listNodeJournal)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
