// Package httpapi exposes the engine over REST and websocket.
//
// Prices cross this boundary as decimal strings and are converted to
// integer ticks on the way in. Quantities are plain integers.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"matchd/api/ws"
	"matchd/infra/metrics"
	"matchd/infra/ticker"
	"matchd/service"
)

// Server carries the service and all HTTP wiring.
type Server struct {
	log    *zap.Logger
	svc    *service.OrderService
	hub    *ws.Hub
	ticker *ticker.Store // nil when redis is disabled
	step   decimal.Decimal
	engine *gin.Engine
}

// NewServer builds the router. tickSize is the price step one tick
// represents, e.g. "0.01".
func NewServer(
	log *zap.Logger,
	svc *service.OrderService,
	hub *ws.Hub,
	tick *ticker.Store,
	tickSize decimal.Decimal,
) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		log:    log.Named("http"),
		svc:    svc,
		hub:    hub,
		ticker: tick,
		step:   tickSize,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(ginzap.Ginzap(s.log, time.RFC3339, true))
	engine.Use(ginzap.RecoveryWithZap(s.log, true))
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))
	engine.Use(requestID())
	engine.Use(observe())

	v1 := engine.Group("/v1")
	{
		v1.POST("/orders", s.placeOrder)
		v1.DELETE("/orders/:id", s.cancelOrder)
		v1.PATCH("/orders/:id", s.modifyOrder)

		v1.GET("/book", s.getBook)
		v1.GET("/book/midprice", s.getMidprice)
		v1.GET("/trades", s.getTrades)
		v1.GET("/ticker", s.getTicker)
	}

	engine.GET("/healthz", s.health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/ws", func(c *gin.Context) {
		s.hub.Serve(c.Writer, c.Request)
	})

	s.engine = engine
	return s
}

// Handler returns the router for an http.Server or a test.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ---- middleware ----

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
