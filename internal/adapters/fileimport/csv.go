/* Copyright (c) 2025 Ivan Bondarenko
 * SPDX-License-Identifier: BSD-3-Clause */
package fileimport

import (
    "context"
    "encoding/csv"
    "fmt"
    "os"
    "path/filepath"
    "strconv"
    "strings"
    "time"

    "github.com/rs/zerolog"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/config"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/source"
)

// CSV imports task lists dropped as <department>*.csv or *.tsv files into the
// import directory. Columns are matched by header name, order free.
type CSV struct {
    dir  string
    team *config.Team
    log  zerolog.Logger
}

func NewCSV(cfg config.Config, team *config.Team, log zerolog.Logger) *CSV {
    return &CSV{dir: cfg.ImportDir, team: team, log: log}
}

func (c *CSV) Name() domain.Source { return domain.SourceCSV }

func (c *CSV) Fetch(ctx context.Context, scope source.Scope) ([]domain.Task, error) {
    files, err := importFiles(c.dir, scope.DepartmentID, ".csv", ".tsv")
    if err != nil {
        return nil, &domain.SourceError{Source: domain.SourceCSV, Err: err}
    }
    var out []domain.Task
    for _, f := range files {
        if err := ctx.Err(); err != nil { return nil, err }
        tasks, err := c.parseFile(f, scope.DepartmentID)
        if err != nil {
            return nil, &domain.SourceError{Source: domain.SourceCSV, Err: fmt.Errorf("%s: %w", filepath.Base(f), err)}
        }
        out = append(out, tasks...)
    }
    return out, nil
}

func (c *CSV) parseFile(path, departmentID string) ([]domain.Task, error) {
    f, err := os.Open(path)
    if err != nil { return nil, err }
    defer f.Close()

    r := csv.NewReader(f)
    if strings.HasSuffix(path, ".tsv") { r.Comma = '\t' }
    r.TrimLeadingSpace = true
    r.FieldsPerRecord = -1

    rows, err := r.ReadAll()
    if err != nil { return nil, err }
    if len(rows) < 2 { return nil, nil }

    col := map[string]int{}
    for i, h := range rows[0] {
        col[normalizeHeader(h)] = i
    }
    if _, ok := col["title"]; !ok { return nil, fmt.Errorf("missing title column") }

    get := func(row []string, name string) string {
        i, ok := col[name]
        if !ok || i >= len(row) { return "" }
        return strings.TrimSpace(row[i])
    }

    info, _ := f.Stat()
    modTime := time.Now().UTC()
    if info != nil { modTime = info.ModTime().UTC() }

    var out []domain.Task
    for _, row := range rows[1:] {
        title := get(row, "title")
        if title == "" { continue }
        t := domain.Task{
            Title:        title,
            Description:  get(row, "description"),
            Status:       parseStatus(get(row, "status")),
            Priority:     parsePriority(get(row, "priority")),
            Type:         parseType(get(row, "type")),
            DepartmentID: departmentID,
            UpdatedAt:    modTime,
            Origin:       domain.SourceCSV,
        }
        if email := get(row, "assignee"); email != "" {
            if u, ok := userByEmailOrName(c.team, email); ok { t.AssigneeID = u.ID }
        }
        if due := get(row, "due"); due != "" {
            if d, err := time.Parse("2006-01-02", due); err == nil { t.DueAt = &d }
        }
        if pts := get(row, "points"); pts != "" {
            if p, err := strconv.ParseFloat(pts, 64); err == nil { t.StoryPoints = &p }
        }
        if labels := get(row, "labels"); labels != "" {
            for _, l := range strings.Split(labels, ";") {
                if l = strings.TrimSpace(l); l != "" { t.Labels = append(t.Labels, l) }
            }
        }
        if key := get(row, "jirakey"); key != "" {
            t.Linkage = map[domain.Source]string{domain.SourceJira: key}
        }
        out = append(out, t)
    }
    return out, nil
}

func normalizeHeader(h string) string {
    h = strings.ToLower(strings.TrimSpace(h))
    h = strings.ReplaceAll(h, " ", "")
    h = strings.ReplaceAll(h, "_", "")
    switch h {
    case "name", "summary": return "title"
    case "duedate": return "due"
    case "storypoints", "estimate": return "points"
    case "tags": return "labels"
    case "assignedto", "owner": return "assignee"
    case "issuetype": return "type"
    }
    return h
}

func parseStatus(s string) domain.Status {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "backlog": return domain.StatusBacklog
    case "to do", "todo": return domain.StatusTodo
    case "in progress", "doing": return domain.StatusInProgress
    case "review", "in review": return domain.StatusReview
    case "done", "complete": return domain.StatusDone
    default: return ""
    }
}

func parsePriority(s string) domain.Priority {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "critical", "urgent": return domain.PriorityCritical
    case "high": return domain.PriorityHigh
    case "medium": return domain.PriorityMedium
    case "low": return domain.PriorityLow
    default: return ""
    }
}

func parseType(s string) domain.TaskType {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "story": return domain.TypeStory
    case "task": return domain.TypeTask
    case "bug": return domain.TypeBug
    case "epic": return domain.TypeEpic
    case "subtask", "sub-task": return domain.TypeSubtask
    default: return ""
    }
}

// importFiles lists department files by prefix, sorted for determinism.
func importFiles(dir, departmentID string, exts ...string) ([]string, error) {
    if dir == "" { return nil, nil }
    entries, err := os.ReadDir(dir)
    if err != nil {
        if os.IsNotExist(err) { return nil, nil }
        return nil, err
    }
    var out []string
    for _, e := range entries {
        if e.IsDir() { continue }
        name := e.Name()
        if !strings.HasPrefix(name, departmentID) { continue }
        for _, ext := range exts {
            if strings.HasSuffix(name, ext) {
                out = append(out, filepath.Join(dir, name))
                break
            }
        }
    }
    return out, nil
}

func userByEmailOrName(team *config.Team, ref string) (domain.User, bool) {
    ref = strings.ToLower(strings.TrimSpace(ref))
    for _, u := range team.Users {
        if strings.ToLower(u.Email) == ref { return u, true }
    }
    for _, u := range team.Users {
        if strings.ToLower(u.DisplayName()) == ref || strings.ToLower(u.FullName) == ref { return u, true }
    }
    return domain.User{}, false
}
