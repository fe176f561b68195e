/* Copyright (c) 2025 Ivan Bondarenko
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "context"
    "errors"
    "net/http"

    "github.com/gin-gonic/gin"
    "github.com/jackc/pgx/v5"
    "github.com/rs/zerolog"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/config"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/recon"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/sprint"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/store"
)

type syncService interface {
    Run(ctx context.Context, departmentID string) (*recon.SyncReport, error)
}

type sprintService interface {
    CreateSprint(ctx context.Context, departmentID, goal string) (domain.Sprint, error)
    StartSprint(ctx context.Context, sprintID string) (domain.Sprint, error)
    CompleteSprint(ctx context.Context, sprintID string) (*sprint.SprintReport, error)
    CarryOver(ctx context.Context, fromID, toID string) (domain.Sprint, error)
    PlanTask(ctx context.Context, sprintID, taskID string) (domain.Sprint, error)
    UnplanTask(ctx context.Context, sprintID, taskID string) (domain.Sprint, error)
    ActiveSprint(ctx context.Context, departmentID string) (domain.Sprint, bool, error)
}

type queryStore interface {
    GetLastRun(ctx context.Context, departmentID string) (*store.LastRun, error)
    ConflictsByDepartment(ctx context.Context, departmentID string, limit int) ([]domain.Conflict, error)
    SprintsByDepartment(ctx context.Context, departmentID string) ([]domain.Sprint, error)
}

type Handlers struct {
    cfg     config.Config
    log     zerolog.Logger
    sync    syncService
    sprints sprintService
    store   queryStore
}

func NewHandlers(cfg config.Config, log zerolog.Logger, sync syncService, sprints sprintService, st queryStore) *Handlers {
    return &Handlers{cfg: cfg, log: log, sync: sync, sprints: sprints, store: st}
}

func (h *Handlers) Healthz(c *gin.Context) {
    c.JSON(http.StatusOK, gin.H{"ok": true})
}

// SyncNow runs a full reconciliation pass synchronously so operators see the
// outcome in the response. 200 means a clean pass, 409 means the pass landed
// but left blocking conflicts behind, 423 means another pass holds the
// department, 422 means malformed data aborted before staging.
func (h *Handlers) SyncNow(c *gin.Context) {
    report, err := h.sync.Run(c.Request.Context(), c.Param("dept"))
    if err != nil {
        var verr *domain.ValidationError
        switch {
        case errors.Is(err, domain.ErrSyncInProgress):
            c.JSON(http.StatusLocked, gin.H{"error": err.Error()})
        case errors.As(err, &verr):
            c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Error(), "report": report})
        default:
            c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
        }
        return
    }
    if report.Blocking > 0 {
        c.JSON(http.StatusConflict, report)
        return
    }
    c.JSON(http.StatusOK, report)
}

func (h *Handlers) LastRun(c *gin.Context) {
    lr, err := h.store.GetLastRun(c.Request.Context(), c.Param("dept"))
    if err != nil {
        if errors.Is(err, pgx.ErrNoRows) {
            c.JSON(http.StatusNotFound, gin.H{"error": "no runs yet"})
            return
        }
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, lr)
}

func (h *Handlers) Conflicts(c *gin.Context) {
    cs, err := h.store.ConflictsByDepartment(c.Request.Context(), c.Param("dept"), 200)
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, gin.H{"conflicts": cs})
}

func (h *Handlers) Sprints(c *gin.Context) {
    sps, err := h.store.SprintsByDepartment(c.Request.Context(), c.Param("dept"))
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, gin.H{"sprints": sps})
}

func (h *Handlers) CurrentSprint(c *gin.Context) {
    sp, ok, err := h.sprints.ActiveSprint(c.Request.Context(), c.Param("dept"))
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    if !ok {
        c.JSON(http.StatusNotFound, gin.H{"error": "no open sprint"})
        return
    }
    c.JSON(http.StatusOK, sp)
}

func (h *Handlers) CreateSprint(c *gin.Context) {
    var req struct {
        DepartmentID string `json:"department_id" binding:"required"`
        Goal         string `json:"goal"`
    }
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    sp, err := h.sprints.CreateSprint(c.Request.Context(), req.DepartmentID, req.Goal)
    if err != nil { h.sprintError(c, err); return }
    c.JSON(http.StatusCreated, sp)
}

func (h *Handlers) StartSprint(c *gin.Context) {
    sp, err := h.sprints.StartSprint(c.Request.Context(), c.Param("id"))
    if err != nil { h.sprintError(c, err); return }
    c.JSON(http.StatusOK, sp)
}

func (h *Handlers) CompleteSprint(c *gin.Context) {
    report, err := h.sprints.CompleteSprint(c.Request.Context(), c.Param("id"))
    if err != nil { h.sprintError(c, err); return }
    c.JSON(http.StatusOK, report)
}

func (h *Handlers) CarryOver(c *gin.Context) {
    var req struct {
        To string `json:"to" binding:"required"`
    }
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    sp, err := h.sprints.CarryOver(c.Request.Context(), c.Param("id"), req.To)
    if err != nil { h.sprintError(c, err); return }
    c.JSON(http.StatusOK, sp)
}

func (h *Handlers) PlanTask(c *gin.Context) {
    sp, err := h.sprints.PlanTask(c.Request.Context(), c.Param("id"), c.Param("task"))
    if err != nil { h.sprintError(c, err); return }
    c.JSON(http.StatusOK, sp)
}

func (h *Handlers) UnplanTask(c *gin.Context) {
    sp, err := h.sprints.UnplanTask(c.Request.Context(), c.Param("id"), c.Param("task"))
    if err != nil { h.sprintError(c, err); return }
    c.JSON(http.StatusOK, sp)
}

func (h *Handlers) sprintError(c *gin.Context, err error) {
    switch {
    case errors.Is(err, domain.ErrInvalidState):
        c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
    case errors.Is(err, domain.ErrSyncInProgress):
        c.JSON(http.StatusLocked, gin.H{"error": err.Error()})
    case errors.Is(err, pgx.ErrNoRows):
        c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
    default:
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
    }
}
