/* Copyright (c) 2025 Ivan Bondarenko
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "github.com/gin-gonic/gin"
    "github.com/rs/zerolog"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/config"
)

func NewRouter(cfg config.Config, log zerolog.Logger, h *Handlers) *gin.Engine {
    if cfg.AppEnv != "dev" { gin.SetMode(gin.ReleaseMode) }
    r := gin.New()
    r.Use(gin.Recovery())
    r.Use(func(c *gin.Context) {
        c.Next()
        log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
    })

    r.GET("/healthz", h.Healthz)

    r.POST("/admin/sync/:dept", h.SyncNow)
    r.GET("/admin/last-run/:dept", h.LastRun)
    r.GET("/departments/:dept/conflicts", h.Conflicts)
    r.GET("/departments/:dept/sprints", h.Sprints)
    r.GET("/departments/:dept/sprints/current", h.CurrentSprint)

    r.POST("/sprints", h.CreateSprint)
    r.POST("/sprints/:id/start", h.StartSprint)
    r.POST("/sprints/:id/complete", h.CompleteSprint)
    r.POST("/sprints/:id/carry-over", h.CarryOver)
    r.PUT("/sprints/:id/tasks/:task", h.PlanTask)
    r.DELETE("/sprints/:id/tasks/:task", h.UnplanTask)

    return r
}
