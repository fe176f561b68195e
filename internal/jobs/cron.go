package jobs

import (
    "context"
    "errors"
    "time"

    "github.com/robfig/cron/v3"
    "github.com/rs/zerolog"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/config"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/recon"
)

type syncService interface {
    Run(ctx context.Context, departmentID string) (*recon.SyncReport, error)
}

type notifier interface {
    Notify(ctx context.Context, text string)
}

// Cron schedules one reconciliation pass per department and delivers the
// digest afterwards.
type Cron struct {
    cfg  config.Config
    team *config.Team
    log  zerolog.Logger
    sync syncService
    tg   notifier
    c    *cron.Cron
}

func NewCron(cfg config.Config, team *config.Team, log zerolog.Logger, sync syncService, tg notifier) *Cron {
    loc, err := time.LoadLocation(cfg.TZ)
    if err != nil { loc = time.UTC }
    c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
    cr := &Cron{cfg: cfg, team: team, log: log, sync: sync, tg: tg, c: c}
    _, _ = c.AddFunc(cfg.SyncCron, cr.syncAll)
    return cr
}

func (cr *Cron) Start() { cr.c.Start() }
func (cr *Cron) Stop()  { cr.c.Stop() }

func (cr *Cron) syncAll() {
    for _, dept := range cr.team.Departments {
        cr.syncOne(dept.ID)
    }
}

func (cr *Cron) syncOne(departmentID string) {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute); defer cancel()
    report, err := cr.sync.Run(ctx, departmentID)
    if err != nil {
        if errors.Is(err, domain.ErrSyncInProgress) {
            cr.log.Info().Str("department", departmentID).Msg("cron: pass already running, skipped")
            return
        }
        cr.log.Error().Err(err).Str("department", departmentID).Msg("cron: sync failed")
        if report != nil { cr.tg.Notify(ctx, report.Render()) }
        return
    }
    cr.tg.Notify(ctx, report.Render())
}
