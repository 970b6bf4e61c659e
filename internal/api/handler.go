// Package api exposes the HTTP surface: signal ingress, credential
// management, trade queries and the websocket event feed.
package api

import (
	"net/http"
	"time"

	"tradepilot/internal/credentials"
	"tradepilot/internal/events"
	"tradepilot/internal/signal"
	"tradepilot/internal/trade"
	"tradepilot/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the stores and event bus.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	DB        *db.Database
	Signals   *signal.Store
	Trades    *trade.Store
	Resolver  *credentials.Resolver
	JWTSecret string
}

func NewServer(bus *events.Bus, database *db.Database, signals *signal.Store, trades *trade.Store, resolver *credentials.Resolver, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       bus,
		DB:        database,
		Signals:   signals,
		Trades:    trades,
		Resolver:  resolver,
		JWTSecret: jwtSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/signals", s.ingestSignal)
			protected.GET("/signals/:symbol", s.getLatestSignal)

			protected.GET("/trades", s.listTrades)
			protected.GET("/trades/open", s.listOpenTrades)
			protected.GET("/trades/report", s.tradeReport)

			protected.GET("/credentials", s.listCredentials)
			protected.POST("/credentials", s.saveCredential)
			protected.DELETE("/credentials", s.deleteCredential)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
