package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ghostpair/ghostpair/internal/adapters"
	"github.com/ghostpair/ghostpair/internal/app"
	"github.com/ghostpair/ghostpair/internal/config"
	"github.com/ghostpair/ghostpair/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ClientTokenMiddleware tags the browser with an opaque cookie used only to
// correlate log lines across reconnects. It carries no identity semantics;
// pairing is anonymous and per-socket.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, broker *app.Broker) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("GhostSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	api := r.Group("/api")

	// Plain-text caller address, fetched once by the client during init.
	api.GET("/ip", func(c *gin.Context) {
		c.String(http.StatusOK, clientIP(c))
	})

	api.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"connections": broker.Registry.Count()})
	})

	r.GET("/ws", func(c *gin.Context) {
		handleWS(ctx, cfg, broker, c)
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}

// clientIP prefers the Cloudflare header when present; behind the proxy the
// socket address is Cloudflare's, not the caller's.
func clientIP(c *gin.Context) string {
	if ip := c.GetHeader("CF-Connecting-IP"); ip != "" {
		return ip
	}
	return c.ClientIP()
}

func handleWS(ctx context.Context, cfg *config.Config, broker *app.Broker, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(cfg.ReadLimit)

	id := domain.ConnID(uuid.NewString())
	log.Info().Str("module", "adapters.http").
		Str("id", string(id)).
		Str("client_token", c.GetString("client_token")).
		Msg("new ws connection")

	conn := adapters.NewWSConnection(id, ws)
	broker.Registry.Register(id, conn, c.Request.RemoteAddr, c.Request.UserAgent())

	// The connected event must be queued before the read loop can enqueue
	// any frame, so pairing notices precede any routed chat.
	conn.StartWriteLoop(ctx)
	broker.Connected(id)
	conn.StartReadLoop(ctx, broker)
}
