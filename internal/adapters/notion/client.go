/* Copyright (c) 2025 Ivan Bondarenko
 * SPDX-License-Identifier: BSD-3-Clause */
package notion

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "strings"
    "time"

    "github.com/rs/zerolog"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/config"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/source"
)

const baseURL = "https://api.notion.com/v1"

type Client struct {
    token   string
    version string
    http    *http.Client
    log     zerolog.Logger
    team    *config.Team
}

func NewClient(cfg config.Config, team *config.Team, log zerolog.Logger) *Client {
    version := cfg.NotionVersion
    if version == "" { version = "2022-06-28" }
    return &Client{
        token:   cfg.NotionToken,
        version: version,
        http:    &http.Client{Timeout: cfg.HTTPTimeout},
        log:     log,
        team:    team,
    }
}

func (c *Client) Name() domain.Source { return domain.SourceNotion }

// Fetch queries the department's task database page by page.
func (c *Client) Fetch(ctx context.Context, scope source.Scope) ([]domain.Task, error) {
    dept, ok := c.team.Department(scope.DepartmentID)
    if !ok || dept.NotionDatabaseID == "" {
        return nil, &domain.SourceError{Source: domain.SourceNotion, Err: fmt.Errorf("no notion database for department %s", scope.DepartmentID)}
    }

    var out []domain.Task
    cursor := ""
    for {
        page, err := c.queryDatabase(ctx, dept.NotionDatabaseID, scope.Since, cursor)
        if err != nil { return nil, err }
        for _, pg := range page.Results {
            out = append(out, c.mapPage(dept, pg))
        }
        if !page.HasMore || page.NextCursor == "" { break }
        cursor = page.NextCursor
    }
    return out, nil
}

type queryResult struct {
    Results    []page `json:"results"`
    HasMore    bool   `json:"has_more"`
    NextCursor string `json:"next_cursor"`
}

type page struct {
    ID             string                     `json:"id"`
    CreatedTime    time.Time                  `json:"created_time"`
    LastEditedTime time.Time                  `json:"last_edited_time"`
    Properties     map[string]json.RawMessage `json:"properties"`
}

func (c *Client) queryDatabase(ctx context.Context, databaseID string, since time.Time, cursor string) (*queryResult, error) {
    if c.token == "" {
        return nil, &domain.SourceError{Source: domain.SourceNotion, Err: errors.New("missing token")}
    }
    body := map[string]any{"page_size": 100}
    if cursor != "" { body["start_cursor"] = cursor }
    if !since.IsZero() {
        body["filter"] = map[string]any{
            "timestamp":        "last_edited_time",
            "last_edited_time": map[string]any{"on_or_after": since.Format(time.RFC3339)},
        }
    }
    b, err := json.Marshal(body)
    if err != nil { return nil, err }

    u := baseURL + "/databases/" + databaseID + "/query"
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
    if err != nil { return nil, err }
    req.Header.Set("Authorization", "Bearer "+c.token)
    req.Header.Set("Notion-Version", c.version)
    req.Header.Set("Content-Type", "application/json")

    resp, err := c.http.Do(req)
    if err != nil {
        return nil, &domain.SourceError{Source: domain.SourceNotion, Transient: true, Err: err}
    }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 {
        rb, _ := io.ReadAll(resp.Body)
        err := fmt.Errorf("notion api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(rb)))
        transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
        if resp.StatusCode == http.StatusTooManyRequests {
            // Retry-After is honored by sleeping here so the caller's backoff
            // does not hammer the API again too early.
            if wait := retryAfter(resp); wait > 0 {
                select {
                case <-time.After(wait):
                case <-ctx.Done():
                }
            }
        }
        return nil, &domain.SourceError{Source: domain.SourceNotion, Transient: transient, Err: err}
    }
    var out queryResult
    if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
        return nil, &domain.SourceError{Source: domain.SourceNotion, Err: err}
    }
    return &out, nil
}

func retryAfter(resp *http.Response) time.Duration {
    v := resp.Header.Get("Retry-After")
    if v == "" { return 0 }
    var secs float64
    if _, err := fmt.Sscanf(v, "%f", &secs); err != nil { return 0 }
    return time.Duration(secs * float64(time.Second))
}

func (c *Client) mapPage(dept domain.Department, pg page) domain.Task {
    props := pg.Properties
    t := domain.Task{
        Title:        titleProp(props, "Name", "Title"),
        Description:  richTextProp(props, "Description"),
        Status:       mapStatus(selectProp(props, "Status")),
        Priority:     mapPriority(selectProp(props, "Priority")),
        Type:         mapType(selectProp(props, "Type")),
        DepartmentID: dept.ID,
        ExternalKeys: map[domain.Source]string{domain.SourceNotion: pg.ID},
        CreatedAt:    pg.CreatedTime,
        UpdatedAt:    pg.LastEditedTime,
        StoryPoints:  numberProp(props, "Story Points", "Points"),
        Labels:       multiSelectProp(props, "Labels", "Tags"),
        Origin:       domain.SourceNotion,
    }
    if key := richTextProp(props, "Jira Key"); key != "" {
        t.Linkage = map[domain.Source]string{domain.SourceJira: key}
    }
    if uid := peopleProp(props, "Assignee"); uid != "" {
        if u, ok := c.team.UserByExternal(domain.SourceNotion, uid); ok { t.AssigneeID = u.ID }
    }
    if due := dateProp(props, "Due", "Due Date"); due != nil { t.DueAt = due }
    return t
}

func mapStatus(name string) domain.Status {
    switch strings.ToLower(strings.TrimSpace(name)) {
    case "backlog": return domain.StatusBacklog
    case "to do", "todo", "not started": return domain.StatusTodo
    case "in progress", "doing": return domain.StatusInProgress
    case "review", "in review": return domain.StatusReview
    case "done", "complete", "completed": return domain.StatusDone
    case "": return ""
    default: return domain.StatusTodo
    }
}

func mapPriority(name string) domain.Priority {
    switch strings.ToLower(strings.TrimSpace(name)) {
    case "critical", "urgent": return domain.PriorityCritical
    case "high": return domain.PriorityHigh
    case "medium": return domain.PriorityMedium
    case "low": return domain.PriorityLow
    default: return ""
    }
}

func mapType(name string) domain.TaskType {
    switch strings.ToLower(strings.TrimSpace(name)) {
    case "story": return domain.TypeStory
    case "bug": return domain.TypeBug
    case "epic": return domain.TypeEpic
    case "subtask", "sub-task": return domain.TypeSubtask
    case "task": return domain.TypeTask
    default: return ""
    }
}

// Property extraction. Notion property payloads vary by type; each helper
// unmarshals just the shape it needs and returns a zero value on mismatch.

func titleProp(props map[string]json.RawMessage, names ...string) string {
    var v struct {
        Title []struct {
            PlainText string `json:"plain_text"`
        } `json:"title"`
    }
    for _, name := range names {
        raw, ok := props[name]
        if !ok { continue }
        if err := json.Unmarshal(raw, &v); err != nil { continue }
        var b strings.Builder
        for _, part := range v.Title { b.WriteString(part.PlainText) }
        if b.Len() > 0 { return b.String() }
    }
    return ""
}

func richTextProp(props map[string]json.RawMessage, names ...string) string {
    var v struct {
        RichText []struct {
            PlainText string `json:"plain_text"`
        } `json:"rich_text"`
    }
    for _, name := range names {
        raw, ok := props[name]
        if !ok { continue }
        if err := json.Unmarshal(raw, &v); err != nil { continue }
        var b strings.Builder
        for _, part := range v.RichText { b.WriteString(part.PlainText) }
        if b.Len() > 0 { return b.String() }
    }
    return ""
}

func selectProp(props map[string]json.RawMessage, names ...string) string {
    var v struct {
        Select *struct {
            Name string `json:"name"`
        } `json:"select"`
        Status *struct {
            Name string `json:"name"`
        } `json:"status"`
    }
    for _, name := range names {
        raw, ok := props[name]
        if !ok { continue }
        if err := json.Unmarshal(raw, &v); err != nil { continue }
        if v.Status != nil && v.Status.Name != "" { return v.Status.Name }
        if v.Select != nil && v.Select.Name != "" { return v.Select.Name }
    }
    return ""
}

func multiSelectProp(props map[string]json.RawMessage, names ...string) []string {
    var v struct {
        MultiSelect []struct {
            Name string `json:"name"`
        } `json:"multi_select"`
    }
    for _, name := range names {
        raw, ok := props[name]
        if !ok { continue }
        if err := json.Unmarshal(raw, &v); err != nil { continue }
        if len(v.MultiSelect) == 0 { continue }
        out := make([]string, 0, len(v.MultiSelect))
        for _, m := range v.MultiSelect { out = append(out, m.Name) }
        return out
    }
    return nil
}

func peopleProp(props map[string]json.RawMessage, names ...string) string {
    var v struct {
        People []struct {
            ID string `json:"id"`
        } `json:"people"`
    }
    for _, name := range names {
        raw, ok := props[name]
        if !ok { continue }
        if err := json.Unmarshal(raw, &v); err != nil { continue }
        if len(v.People) > 0 { return v.People[0].ID }
    }
    return ""
}

func numberProp(props map[string]json.RawMessage, names ...string) *float64 {
    var v struct {
        Number *float64 `json:"number"`
    }
    for _, name := range names {
        raw, ok := props[name]
        if !ok { continue }
        if err := json.Unmarshal(raw, &v); err != nil { continue }
        if v.Number != nil { return v.Number }
    }
    return nil
}

func dateProp(props map[string]json.RawMessage, names ...string) *time.Time {
    var v struct {
        Date *struct {
            Start string `json:"start"`
        } `json:"date"`
    }
    for _, name := range names {
        raw, ok := props[name]
        if !ok { continue }
        if err := json.Unmarshal(raw, &v); err != nil { continue }
        if v.Date == nil || v.Date.Start == "" { continue }
        if ts, err := time.Parse(time.RFC3339, v.Date.Start); err == nil { return &ts }
        if d, err := time.Parse("2006-01-02", v.Date.Start); err == nil { return &d }
    }
    return nil
}
