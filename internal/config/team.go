package config

import (
    "encoding/json"
    "fmt"
    "net/mail"
    "os"
    "strings"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
)

// Team is the read-only reference data for a process run: who works where and
// how each department runs its sprints. Loaded once at startup, immutable
// during sync passes.
type Team struct {
    Users       []domain.User       `json:"users"`
    Departments []domain.Department `json:"departments"`
}

func (t *Team) Department(id string) (domain.Department, bool) {
    for _, d := range t.Departments { if d.ID == id { return d, true } }
    return domain.Department{}, false
}

func (t *Team) UserByExternal(src domain.Source, accountID string) (domain.User, bool) {
    if accountID == "" { return domain.User{}, false }
    for _, u := range t.Users {
        switch src {
        case domain.SourceJira:
            if u.JiraAccountID == accountID { return u, true }
        case domain.SourceNotion:
            if u.NotionUserID == accountID { return u, true }
        }
    }
    return domain.User{}, false
}

// LoadTeam reads the team file and validates it. Defaults from cfg fill in
// missing per-department sprint settings.
func LoadTeam(cfg Config) (*Team, error) {
    data, err := os.ReadFile(cfg.TeamFile)
    if err != nil { return nil, fmt.Errorf("team file: %w", err) }
    var t Team
    if err := json.Unmarshal(data, &t); err != nil { return nil, fmt.Errorf("team file: %w", err) }

    seen := map[string]struct{}{}
    for i, u := range t.Users {
        if strings.TrimSpace(u.ID) == "" { return nil, fmt.Errorf("team file: user %d has empty id", i) }
        if _, dup := seen[u.ID]; dup { return nil, fmt.Errorf("team file: duplicate user id %s", u.ID) }
        seen[u.ID] = struct{}{}
        if _, err := mail.ParseAddress(u.Email); err != nil {
            return nil, fmt.Errorf("team file: user %s: bad email %q", u.ID, u.Email)
        }
    }
    deptSeen := map[string]struct{}{}
    for i := range t.Departments {
        d := &t.Departments[i]
        if strings.TrimSpace(d.ID) == "" { return nil, fmt.Errorf("team file: department %d has empty id", i) }
        if _, dup := deptSeen[d.ID]; dup { return nil, fmt.Errorf("team file: duplicate department id %s", d.ID) }
        deptSeen[d.ID] = struct{}{}
        if d.SprintLengthDays <= 0 { d.SprintLengthDays = cfg.SprintLengthDays }
        if d.SprintStartDay == "" { d.SprintStartDay = cfg.SprintStartDay }
        if len(d.Workflow) == 0 {
            d.Workflow = []string{"Backlog", "To Do", "In Progress", "Review", "Done"}
        }
        for _, m := range d.Members {
            if _, ok := seen[m]; !ok { return nil, fmt.Errorf("team file: department %s: unknown member %s", d.ID, m) }
        }
    }
    return &t, nil
}
