package observer

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"github.com/dotpanel/dotpanel/internal/broker"
	"github.com/dotpanel/dotpanel/internal/observability"
)

// Server accepts observer websocket sessions and serves the service
// endpoints around them.
type Server struct {
	addr     string
	origins  []string
	broker   *broker.Broker
	router   *gin.Engine
	appeared time.Time
}

func NewServer(addr string, corsOrigins []string, b *broker.Broker) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		addr:     addr,
		origins:  normalizeOrigins(corsOrigins),
		broker:   b,
		router:   r,
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(s.appeared).String(),
			"sessions": s.broker.Sessions(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ws", s.handleObserver)
}

// handleObserver upgrades the request and hands the connection to the
// broker. The handler blocks until the session's read loop ends so the
// request context stays alive for the session's lifetime.
func (s *Server) handleObserver(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.origins),
	})
	if err != nil {
		log.Warn().Err(err).Msg("websocket accept failed")
		return
	}

	client := newWSClient(conn, log.Logger)
	if _, err := s.broker.Join(c.Request.Context(), client); err != nil {
		log.Error().Err(err).Msg("observer join failed")
		client.Close()
		return
	}
	<-client.Done()
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Serve runs the HTTP listener until it fails.
func (s *Server) Serve() error {
	log.Info().Str("addr", s.addr).Msg("observer server listening")
	return s.router.Run(s.addr)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

// originPatterns strips schemes for the websocket origin check, which
// matches against host patterns rather than full origins.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "http://")
		o = strings.TrimPrefix(o, "https://")
		patterns = append(patterns, o)
	}
	return patterns
}
