package http

import (
	"context"
	"net/http"

	"github.com/dkeye/walkie/internal/adapters/signal"
	"github.com/dkeye/walkie/internal/app"
	"github.com/dkeye/walkie/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware pins a browser to a stable token for log correlation.
// Participant ids are per socket and do not depend on it.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get("ct").(string)
		if token == "" {
			token = genClientToken()
			sess.Set("ct", token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client token")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, relay *app.Relay, issue signal.Issuer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Relay.Secret))
	r.Use(sessions.Sessions("WalkieSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.Relay.StaticPath != "" {
		r.Static("/static", cfg.Relay.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.Relay.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.Relay.StaticPath).Msg("router setup")

	ctrl := signal.NewSignalWSController(relay, cfg.Relay, issue)
	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})
	api.GET("/room", func(c *gin.Context) {
		c.JSON(http.StatusOK, relay.RoomState())
	})
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, relay.Rooms.List())
	})
	api.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sockets": relay.Registry.Count()})
	})

	return r
}
