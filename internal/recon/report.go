package recon

import (
    "fmt"
    "strings"
    "time"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
)

// SourceOutcome records how one adapter fared during a pass.
type SourceOutcome struct {
    Source  domain.Source `json:"source"`
    Fetched int           `json:"fetched"`
    Skipped bool          `json:"skipped"`
    Error   string        `json:"error,omitempty"`
}

// SyncReport summarizes one reconciliation pass for operators.
type SyncReport struct {
    DepartmentID string          `json:"department_id"`
    StartedAt    time.Time       `json:"started_at"`
    FinishedAt   time.Time       `json:"finished_at"`
    Sources      []SourceOutcome `json:"sources"`

    Created   int `json:"created"`
    Updated   int `json:"updated"`
    Unchanged int `json:"unchanged"`
    Merged    int `json:"merged"`
    Resolved  int `json:"resolved"`
    Blocking  int `json:"blocking"`

    Conflicts []domain.Conflict `json:"conflicts,omitempty"`
    Failure   string            `json:"failure,omitempty"`
}

func (r *SyncReport) Degraded() bool {
    for _, s := range r.Sources { if s.Skipped { return true } }
    return false
}

// Render formats the report as a short plain-text digest for chat delivery.
func (r *SyncReport) Render() string {
    var b strings.Builder
    fmt.Fprintf(&b, "Sync %s: %d created, %d updated, %d unchanged\n",
        r.DepartmentID, r.Created, r.Updated, r.Unchanged)
    if r.Merged > 0 {
        fmt.Fprintf(&b, "Merged %d duplicate records\n", r.Merged)
    }
    if r.Resolved > 0 || r.Blocking > 0 {
        fmt.Fprintf(&b, "Conflicts: %d auto-resolved, %d blocking\n", r.Resolved, r.Blocking)
    }
    for _, s := range r.Sources {
        if s.Skipped {
            fmt.Fprintf(&b, "Source %s skipped: %s\n", s.Source, s.Error)
        }
    }
    if r.Failure != "" { fmt.Fprintf(&b, "FAILED: %s\n", r.Failure) }
    fmt.Fprintf(&b, "Took %s", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
    return b.String()
}
