/* Copyright (c) 2025 Ivan Bondarenko
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strings"
    "time"

    "github.com/rs/zerolog"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/config"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/source"
)

type Client struct {
    baseURL string
    token   string
    user    string
    pass    string
    http    *http.Client
    log     zerolog.Logger
    apiVer  string
    team    *config.Team
}

func NewClient(cfg config.Config, team *config.Team, log zerolog.Logger) *Client {
    return &Client{
        baseURL: cfg.JiraBaseURL,
        token:   cfg.JiraPAT,
        user:    cfg.JiraUsername,
        pass:    cfg.JiraPassword,
        http:    &http.Client{Timeout: cfg.HTTPTimeout},
        log:     log,
        apiVer:  cfg.JiraAPIVersion,
        team:    team,
    }
}

func (c *Client) Name() domain.Source { return domain.SourceJira }

// Fetch pulls the department project's issues and maps them to task records.
func (c *Client) Fetch(ctx context.Context, scope source.Scope) ([]domain.Task, error) {
    dept, ok := c.team.Department(scope.DepartmentID)
    if !ok || dept.JiraProjectKey == "" {
        return nil, &domain.SourceError{Source: domain.SourceJira, Err: fmt.Errorf("no jira project for department %s", scope.DepartmentID)}
    }
    jql := fmt.Sprintf("project = %q ORDER BY updated DESC", dept.JiraProjectKey)
    if !scope.Since.IsZero() {
        jql = fmt.Sprintf("project = %q AND updated >= %q ORDER BY updated DESC",
            dept.JiraProjectKey, scope.Since.Format("2006-01-02 15:04"))
    }

    var out []domain.Task
    startAt := 0
    for {
        page, err := c.search(ctx, jql, startAt, 100)
        if err != nil { return nil, err }
        for _, is := range page.Issues {
            out = append(out, c.mapIssue(dept, is))
        }
        startAt += len(page.Issues)
        if len(page.Issues) == 0 || startAt >= page.Total { break }
    }
    return out, nil
}

type searchPage struct {
    StartAt int     `json:"startAt"`
    Total   int     `json:"total"`
    Issues  []issue `json:"issues"`
}

type issue struct {
    Key    string `json:"key"`
    Fields struct {
        Summary     string `json:"summary"`
        Description any    `json:"description"`
        IssueType   struct {
            Name string `json:"name"`
        } `json:"issuetype"`
        Priority struct {
            Name string `json:"name"`
        } `json:"priority"`
        Status struct {
            Name string `json:"name"`
        } `json:"status"`
        Assignee struct {
            AccountID string `json:"accountId"`
            Name      string `json:"name"`
        } `json:"assignee"`
        Labels  []string `json:"labels"`
        Created string   `json:"created"`
        Updated string   `json:"updated"`
        DueDate string   `json:"duedate"`
        Points  *float64 `json:"customfield_10016"`
    } `json:"fields"`
}

// statusMapping follows the board columns used across projects; unknown Jira
// statuses fall through to a heuristic.
func mapStatus(name string) domain.Status {
    switch strings.ToLower(strings.TrimSpace(name)) {
    case "backlog": return domain.StatusBacklog
    case "to do", "todo", "open", "selected for development": return domain.StatusTodo
    case "in progress", "doing": return domain.StatusInProgress
    case "review", "in review", "under review", "code review": return domain.StatusReview
    case "done", "closed", "resolved": return domain.StatusDone
    }
    s := strings.ToLower(name)
    switch {
    case strings.Contains(s, "review"): return domain.StatusReview
    case strings.Contains(s, "progress"): return domain.StatusInProgress
    case strings.Contains(s, "done") || strings.Contains(s, "resolve"): return domain.StatusDone
    default: return domain.StatusTodo
    }
}

func mapPriority(name string) domain.Priority {
    switch strings.ToLower(strings.TrimSpace(name)) {
    case "highest", "critical", "blocker": return domain.PriorityCritical
    case "high", "major": return domain.PriorityHigh
    case "low", "lowest", "minor", "trivial": return domain.PriorityLow
    case "": return ""
    default: return domain.PriorityMedium
    }
}

func mapType(name string) domain.TaskType {
    switch strings.ToLower(strings.TrimSpace(name)) {
    case "story": return domain.TypeStory
    case "bug": return domain.TypeBug
    case "epic": return domain.TypeEpic
    case "sub-task", "subtask": return domain.TypeSubtask
    case "": return ""
    default: return domain.TypeTask
    }
}

func (c *Client) mapIssue(dept domain.Department, is issue) domain.Task {
    t := domain.Task{
        Title:        is.Fields.Summary,
        Description:  renderDescription(is.Fields.Description),
        Type:         mapType(is.Fields.IssueType.Name),
        Priority:     mapPriority(is.Fields.Priority.Name),
        Status:       mapStatus(is.Fields.Status.Name),
        DepartmentID: dept.ID,
        ExternalKeys: map[domain.Source]string{domain.SourceJira: is.Key},
        Labels:       is.Fields.Labels,
        StoryPoints:  is.Fields.Points,
        Origin:       domain.SourceJira,
    }
    account := is.Fields.Assignee.AccountID
    if account == "" { account = is.Fields.Assignee.Name }
    if u, ok := c.team.UserByExternal(domain.SourceJira, account); ok { t.AssigneeID = u.ID }
    if ts, err := parseJiraTime(is.Fields.Created); err == nil { t.CreatedAt = ts }
    if ts, err := parseJiraTime(is.Fields.Updated); err == nil { t.UpdatedAt = ts }
    if is.Fields.DueDate != "" {
        if d, err := time.Parse("2006-01-02", is.Fields.DueDate); err == nil { t.DueAt = &d }
    }
    return t
}

func parseJiraTime(s string) (time.Time, error) {
    if s == "" { return time.Time{}, errors.New("empty") }
    return time.Parse("2006-01-02T15:04:05.000-0700", s)
}

// renderDescription flattens a v3 ADF document to plain text; v2 returns a
// plain string already.
func renderDescription(v any) string {
    switch d := v.(type) {
    case string:
        return d
    case map[string]any:
        var b strings.Builder
        flattenADF(d, &b)
        return strings.TrimSpace(b.String())
    default:
        return ""
    }
}

func flattenADF(node map[string]any, b *strings.Builder) {
    if txt, ok := node["text"].(string); ok { b.WriteString(txt) }
    if typ, _ := node["type"].(string); typ == "paragraph" && b.Len() > 0 { b.WriteString("\n") }
    if content, ok := node["content"].([]any); ok {
        for _, child := range content {
            if m, ok := child.(map[string]any); ok { flattenADF(m, b) }
        }
    }
}

func (c *Client) search(ctx context.Context, jql string, startAt, max int) (*searchPage, error) {
    if c.baseURL == "" {
        return nil, &domain.SourceError{Source: domain.SourceJira, Err: errors.New("empty baseURL")}
    }
    var u string
    var body io.Reader
    method := http.MethodPost
    if c.apiVer == "2" {
        q := url.Values{}
        q.Set("jql", jql)
        q.Set("startAt", fmt.Sprint(startAt))
        q.Set("maxResults", fmt.Sprint(max))
        u = c.apiURL("/rest/api/2/search", q)
        method = http.MethodGet
    } else {
        payload := map[string]any{"jql": jql, "startAt": startAt, "maxResults": max}
        b, err := json.Marshal(payload)
        if err != nil { return nil, err }
        body = strings.NewReader(string(b))
        u = c.apiURL("/rest/api/3/search", nil)
    }

    req, err := http.NewRequestWithContext(ctx, method, u, body)
    if err != nil { return nil, err }
    if body != nil { req.Header.Set("Content-Type", "application/json") }
    if c.token != "" {
        req.Header.Set("Authorization", "Bearer "+c.token)
    } else if c.user != "" && c.pass != "" {
        req.SetBasicAuth(c.user, c.pass)
    }
    resp, err := c.http.Do(req)
    if err != nil {
        return nil, &domain.SourceError{Source: domain.SourceJira, Transient: true, Err: err}
    }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 {
        b, _ := io.ReadAll(resp.Body)
        err := fmt.Errorf("jira api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
        transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
        return nil, &domain.SourceError{Source: domain.SourceJira, Transient: transient, Err: err}
    }
    var page searchPage
    if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
        return nil, &domain.SourceError{Source: domain.SourceJira, Err: err}
    }
    return &page, nil
}

func (c *Client) apiURL(path string, q url.Values) string {
    base := strings.TrimRight(c.baseURL, "/")
    if !strings.HasPrefix(path, "/") { path = "/" + path }
    u := base + path
    if len(q) > 0 { u = u + "?" + q.Encode() }
    return u
}
