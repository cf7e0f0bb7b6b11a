package http

import (
	"github.com/gin-gonic/gin"
	"github.com/kiririmode/redmine-burndown/internal/config"
	"github.com/rs/zerolog"
)

func NewRouter(cfg config.Config, log zerolog.Logger, store Store) *gin.Engine {
	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Next()
		log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
	})

	h := NewHandlers(cfg, log, store)

	r.GET("/healthz", h.Healthz)
	r.GET("/api/burndown", h.Burndown)
	r.GET("/api/burndown/assignees", h.BurndownAssignees)
	r.GET("/api/last-sync", h.LastSync)

	return r
}
