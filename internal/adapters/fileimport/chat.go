/* Copyright (c) 2025 Ivan Bondarenko
 * SPDX-License-Identifier: BSD-3-Clause */
package fileimport

import (
    "context"
    "fmt"
    "os"
    "path/filepath"
    "time"

    "github.com/rs/zerolog"

    aiclient "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/adapters/openai"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/config"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/source"
)

// Extractor turns free-form chat text into candidate action items.
type Extractor interface {
    ExtractTasks(ctx context.Context, text string) ([]aiclient.ExtractedTask, error)
}

// Chat imports team chat exports dropped as <department>*.txt files. The text
// is scrubbed of PII, then an extraction model pulls out committed action
// items as low-precedence task records.
type Chat struct {
    dir  string
    team *config.Team
    llm  Extractor
    log  zerolog.Logger
}

func NewChat(cfg config.Config, team *config.Team, llm Extractor, log zerolog.Logger) *Chat {
    return &Chat{dir: cfg.ImportDir, team: team, llm: llm, log: log}
}

func (c *Chat) Name() domain.Source { return domain.SourceChat }

func (c *Chat) Fetch(ctx context.Context, scope source.Scope) ([]domain.Task, error) {
    files, err := importFiles(c.dir, scope.DepartmentID, ".txt", ".log")
    if err != nil {
        return nil, &domain.SourceError{Source: domain.SourceChat, Err: err}
    }
    var out []domain.Task
    for _, f := range files {
        if err := ctx.Err(); err != nil { return nil, err }
        data, err := os.ReadFile(f)
        if err != nil {
            return nil, &domain.SourceError{Source: domain.SourceChat, Err: err}
        }
        extracted, err := c.llm.ExtractTasks(ctx, Redact(string(data)))
        if err != nil {
            // extraction API errors are transient; a later pass retries
            return nil, &domain.SourceError{Source: domain.SourceChat, Transient: true,
                Err: fmt.Errorf("%s: %w", filepath.Base(f), err)}
        }
        now := time.Now().UTC()
        for _, e := range extracted {
            t := domain.Task{
                Title:        e.Title,
                Description:  e.Description,
                Status:       parseStatus(e.Status),
                Priority:     parsePriority(e.Priority),
                DepartmentID: scope.DepartmentID,
                UpdatedAt:    now,
                Origin:       domain.SourceChat,
            }
            if e.Assignee != "" {
                if u, ok := userByEmailOrName(c.team, e.Assignee); ok { t.AssigneeID = u.ID }
            }
            if e.DueDate != "" {
                if d, err := time.Parse("2006-01-02", e.DueDate); err == nil { t.DueAt = &d }
            }
            out = append(out, t)
        }
    }
    return out, nil
}
