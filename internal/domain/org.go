package domain

import "time"

// User is read-only reference data loaded once per process run.
type User struct {
    ID         string `json:"id"`
    Name       string `json:"name"`
    FullName   string `json:"full_name"`
    Email      string `json:"email"`
    Department string `json:"department"`
    Role       string `json:"role"`

    JiraAccountID string `json:"jira_account_id"`
    NotionUserID  string `json:"notion_user_id"`

    Active bool `json:"active"`
}

func (u User) DisplayName() string { if u.Name != "" { return u.Name }; return u.FullName }

// Department owns a board/database pair and the sprint cadence for its team.
type Department struct {
    ID          string `json:"id"`
    Name        string `json:"name"`
    Description string `json:"description"`

    JiraProjectKey   string `json:"jira_project_key"`
    JiraBoardID      int64  `json:"jira_board_id"`
    NotionDatabaseID string `json:"notion_database_id"`

    Members  []string `json:"members"`
    Workflow []string `json:"workflow"`

    SprintLengthDays int    `json:"sprint_length_days"`
    SprintStartDay   string `json:"sprint_start_day"`
}

type SprintStatus string

const (
    SprintPlanning  SprintStatus = "Planning"
    SprintActive    SprintStatus = "Active"
    SprintCompleted SprintStatus = "Completed"
)

// Sprint is a fixed-length iteration. Mutated only through the sprint
// manager's state-machine operations; never deleted, only completed.
type Sprint struct {
    ID           string
    DepartmentID string
    Goal         string

    StartDate time.Time
    EndDate   time.Time
    Status    SprintStatus

    ExternalRef string
    TaskIDs     []string

    TotalPoints     float64
    CompletedPoints float64

    CreatedAt time.Time
    UpdatedAt time.Time
}

func (s Sprint) Terminal() bool { return s.Status == SprintCompleted }

func (s *Sprint) HasTask(id string) bool {
    for _, t := range s.TaskIDs { if t == id { return true } }
    return false
}

func (s *Sprint) AddTask(id string) {
    if !s.HasTask(id) { s.TaskIDs = append(s.TaskIDs, id) }
}

func (s *Sprint) RemoveTask(id string) {
    for i, t := range s.TaskIDs {
        if t == id { s.TaskIDs = append(s.TaskIDs[:i], s.TaskIDs[i+1:]...); return }
    }
}
