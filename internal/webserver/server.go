// Package webserver hosts the HTTP surface: admin API, provider
// webhooks, landing pages and the dashboard websocket.
package webserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ArvalTIKS/evolution-assistant/config"
	"github.com/ArvalTIKS/evolution-assistant/internal/bot"
	"github.com/ArvalTIKS/evolution-assistant/internal/notify"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Context keys handlers read through GetDB and GetEngine.
const (
	ContextDBKey     = "app_db"
	ContextEngineKey = "app_engine"
)

type WebServer struct {
	root       *echo.Echo
	api        *echo.Group
	cfg        *config.AppConfig
	db         *gorm.DB
	engine     *bot.Engine
	dispatcher *bot.Dispatcher
	hub        *notify.Hub
}

var server *WebServer

// Init builds the package server. Call before any route registration.
func Init(cfg *config.AppConfig, db *gorm.DB, engine *bot.Engine, dispatcher *bot.Dispatcher, hub *notify.Hub) {
	server = &WebServer{
		root:       echo.New(),
		cfg:        cfg,
		db:         db,
		engine:     engine,
		dispatcher: dispatcher,
		hub:        hub,
	}
	server.initRouter()
}

func Instance() *WebServer {
	return server
}

func (s *WebServer) initRouter() {
	s.root.HideBanner = true
	s.root.Use(middleware.Recover())
	s.root.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zap.L().Debug("http request",
				zap.String("namespace", "web"),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))
	s.root.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(ContextDBKey, s.db)
			c.Set(ContextEngineKey, s.engine)
			return next(c)
		}
	})

	// provider webhook and public tenant pages live outside the
	// authenticated group
	s.root.POST("/api/client/:id/webhook", s.handleWebhook)
	s.root.GET("/client/:slug/landing", s.handleLanding)
	s.root.GET("/client/:slug/qr", s.handleQR)
	s.root.GET("/client/:slug/status", s.handleStatus)
	s.root.GET("/ws", s.handleWebsocket)
	s.root.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"status": "ok"})
	})

	s.api = s.root.Group("/api", s.tokenAuth)
}

// tokenAuth guards admin routes with the shared web secret.
func (s *WebServer) tokenAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.Request().Header.Get("X-API-Key")
		if token == "" {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			token = strings.TrimPrefix(auth, "Bearer ")
		}
		if token == "" || token != s.cfg.Web.Secret {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid api token")
		}
		return next(c)
	}
}

// Listen blocks serving HTTP until Shutdown.
func Listen() error {
	addr := fmt.Sprintf("%s:%d", server.cfg.Web.Host, server.cfg.Web.Port)
	zap.L().Info("web server starting",
		zap.String("namespace", "web"),
		zap.String("listen", addr))
	err := server.root.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func Shutdown(ctx context.Context) error {
	if server == nil {
		return nil
	}
	return server.root.Shutdown(ctx)
}

// Route registration helpers used by adminapi.

func ApiGET(path string, h echo.HandlerFunc) {
	server.api.GET(path, h)
}

func ApiPOST(path string, h echo.HandlerFunc) {
	server.api.POST(path, h)
}

func ApiPUT(path string, h echo.HandlerFunc) {
	server.api.PUT(path, h)
}

func ApiDELETE(path string, h echo.HandlerFunc) {
	server.api.DELETE(path, h)
}
