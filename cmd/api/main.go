/* Copyright (c) 2025 Ivan Bondarenko
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
    "context"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/adapters/fileimport"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/adapters/jira"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/adapters/notion"
    aiclient "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/adapters/openai"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/adapters/telegram"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/config"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/dedup"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/identity"
    httpapi "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/http"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/jobs"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/logger"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/merge"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/recon"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/source"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/sprint"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/store"
)

// reconStore narrows *store.Store to the reconciliation surface.
type reconStore struct{ *store.Store }

func (s reconStore) Begin(ctx context.Context) (recon.StageTx, error) { return s.Store.Begin(ctx) }

func main() {
    cfg := config.Load()
    log := logger.New(cfg)

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    db := store.MustOpen(ctx, cfg, log)
    defer db.Close()
    st := store.New(db, log)
    if err := st.EnsureSchema(ctx); err != nil {
        log.Fatal().Err(err).Msg("schema init failed")
    }

    team, err := config.LoadTeam(cfg)
    if err != nil { log.Fatal().Err(err).Msg("team load failed") }

    // Sources. Only adapters with working credentials/paths join the pass.
    var adapters []source.Adapter
    if cfg.JiraBaseURL != "" {
        adapters = append(adapters, jira.NewClient(cfg, team, log))
    }
    if cfg.NotionToken != "" {
        adapters = append(adapters, notion.NewClient(cfg, team, log))
    }
    if cfg.ImportDir != "" {
        adapters = append(adapters, fileimport.NewCSV(cfg, team, log))
        if cfg.OpenAIKey != "" {
            llm := aiclient.NewClient(cfg, log)
            adapters = append(adapters, fileimport.NewChat(cfg, team, llm, log))
        }
    }
    if len(adapters) == 0 {
        log.Warn().Msg("no source adapters configured; passes will only revalidate stored tasks")
    }

    precedence := domain.ParseSources(cfg.SourcePrecedence)
    resolver := identity.NewResolver(cfg.FuzzyThreshold, cfg.DueToleranceDays)
    engine := merge.NewEngine(precedence)
    dd := dedup.New(resolver, engine, cfg.DedupNaiveLimit)

    locks := recon.NewKeyed()
    retry := source.RetryPolicy{
        Attempts: uint64(cfg.RetryAttempts),
        BaseWait: cfg.RetryBaseWait,
        Timeout:  cfg.FetchTimeout,
    }
    tx := recon.NewTransaction(reconStore{st}, adapters, team, dd, locks, retry, log)
    sprints := sprint.NewManager(st, team, locks, log)
    tg := telegram.NewClient(cfg, log)

    handlers := httpapi.NewHandlers(cfg, log, tx, sprints, st)
    router := httpapi.NewRouter(cfg, log, handlers)

    cr := jobs.NewCron(cfg, team, log, tx, tg)
    cr.Start()
    defer cr.Stop()

    errCh := make(chan error, 1)
    go func() { errCh <- router.Run(cfg.HTTPAddr) }()

    sigCh := make(chan os.Signal, 1)
    signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

    select {
    case <-sigCh:
        log.Info().Msg("shutting down...")
    case err := <-errCh:
        if err != nil { log.Error().Err(err).Msg("http server error") }
    }

    time.Sleep(500 * time.Millisecond)
}
