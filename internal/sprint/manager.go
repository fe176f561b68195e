/* Copyright (c) 2025 Ivan Bondarenko
 * SPDX-License-Identifier: BSD-3-Clause */
package sprint

import (
    "context"
    "fmt"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/config"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
)

// Store is the persistence surface the sprint state machine needs.
type Store interface {
    GetSprint(ctx context.Context, id string) (domain.Sprint, error)
    SaveSprint(ctx context.Context, sp domain.Sprint) error
    SprintsByDepartment(ctx context.Context, departmentID string) ([]domain.Sprint, error)
    GetTask(ctx context.Context, id string) (domain.Task, error)
    SetTaskSprint(ctx context.Context, taskID, sprintID string) error
    TasksBySprint(ctx context.Context, sprintID string) ([]domain.Task, error)
}

// Locker serializes sprint mutations per department against concurrent sync
// passes and other sprint calls.
type Locker interface {
    TryLock(key string) bool
    Unlock(key string)
}

// Manager drives the sprint lifecycle Planning -> Active -> Completed.
// Sprints are never deleted; a finished sprint stays queryable forever.
type Manager struct {
    store Store
    team  *config.Team
    locks Locker
    log   zerolog.Logger

    now func() time.Time
}

func NewManager(st Store, team *config.Team, locks Locker, log zerolog.Logger) *Manager {
    return &Manager{store: st, team: team, locks: locks, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// CreateSprint opens a new Planning sprint for the department. At most one
// non-terminal sprint per department may exist at a time.
func (m *Manager) CreateSprint(ctx context.Context, departmentID, goal string) (domain.Sprint, error) {
    dept, ok := m.team.Department(departmentID)
    if !ok { return domain.Sprint{}, fmt.Errorf("unknown department %s", departmentID) }
    if !m.locks.TryLock(departmentID) { return domain.Sprint{}, domain.ErrSyncInProgress }
    defer m.locks.Unlock(departmentID)

    existing, err := m.store.SprintsByDepartment(ctx, departmentID)
    if err != nil { return domain.Sprint{}, err }
    for _, sp := range existing {
        if !sp.Terminal() {
            return domain.Sprint{}, fmt.Errorf("%w: department %s already has sprint %s in %s",
                domain.ErrInvalidState, departmentID, sp.ID, sp.Status)
        }
    }

    now := m.now()
    start := nextWeekday(now, parseWeekday(dept.SprintStartDay))
    sp := domain.Sprint{
        ID:           uuid.NewString(),
        DepartmentID: departmentID,
        Goal:         goal,
        StartDate:    start,
        EndDate:      start.AddDate(0, 0, dept.SprintLengthDays),
        Status:       domain.SprintPlanning,
        CreatedAt:    now,
        UpdatedAt:    now,
    }
    if err := m.store.SaveSprint(ctx, sp); err != nil { return domain.Sprint{}, err }
    m.log.Info().Str("sprint", sp.ID).Str("department", departmentID).
        Time("start", sp.StartDate).Time("end", sp.EndDate).Msg("sprint created")
    return sp, nil
}

// StartSprint moves a Planning sprint to Active.
func (m *Manager) StartSprint(ctx context.Context, sprintID string) (domain.Sprint, error) {
    sp, err := m.store.GetSprint(ctx, sprintID)
    if err != nil { return domain.Sprint{}, err }
    if !m.locks.TryLock(sp.DepartmentID) { return domain.Sprint{}, domain.ErrSyncInProgress }
    defer m.locks.Unlock(sp.DepartmentID)

    sp, err = m.store.GetSprint(ctx, sprintID)
    if err != nil { return domain.Sprint{}, err }
    if sp.Status != domain.SprintPlanning {
        return domain.Sprint{}, fmt.Errorf("%w: cannot start sprint in %s", domain.ErrInvalidState, sp.Status)
    }
    sp.Status = domain.SprintActive
    sp.UpdatedAt = m.now()
    if err := m.store.SaveSprint(ctx, sp); err != nil { return domain.Sprint{}, err }
    m.log.Info().Str("sprint", sp.ID).Str("department", sp.DepartmentID).Msg("sprint started")
    return sp, nil
}

// PlanTask adds a task to a Planning or Active sprint and updates the
// committed point total.
func (m *Manager) PlanTask(ctx context.Context, sprintID, taskID string) (domain.Sprint, error) {
    return m.mutateMembership(ctx, sprintID, taskID, true)
}

// UnplanTask removes a task from a Planning or Active sprint.
func (m *Manager) UnplanTask(ctx context.Context, sprintID, taskID string) (domain.Sprint, error) {
    return m.mutateMembership(ctx, sprintID, taskID, false)
}

func (m *Manager) mutateMembership(ctx context.Context, sprintID, taskID string, add bool) (domain.Sprint, error) {
    sp, err := m.store.GetSprint(ctx, sprintID)
    if err != nil { return domain.Sprint{}, err }
    if !m.locks.TryLock(sp.DepartmentID) { return domain.Sprint{}, domain.ErrSyncInProgress }
    defer m.locks.Unlock(sp.DepartmentID)

    sp, err = m.store.GetSprint(ctx, sprintID)
    if err != nil { return domain.Sprint{}, err }
    if sp.Terminal() {
        return domain.Sprint{}, fmt.Errorf("%w: sprint %s is completed", domain.ErrInvalidState, sprintID)
    }
    task, err := m.store.GetTask(ctx, taskID)
    if err != nil { return domain.Sprint{}, err }
    if task.DepartmentID != sp.DepartmentID {
        return domain.Sprint{}, fmt.Errorf("%w: task %s belongs to department %s",
            domain.ErrInvalidState, taskID, task.DepartmentID)
    }

    if add {
        if sp.HasTask(taskID) { return sp, nil }
        sp.AddTask(taskID)
        sp.TotalPoints += task.Points()
        if err := m.store.SetTaskSprint(ctx, taskID, sp.ID); err != nil { return domain.Sprint{}, err }
    } else {
        if !sp.HasTask(taskID) { return sp, nil }
        sp.RemoveTask(taskID)
        sp.TotalPoints -= task.Points()
        if sp.TotalPoints < 0 { sp.TotalPoints = 0 }
        if err := m.store.SetTaskSprint(ctx, taskID, ""); err != nil { return domain.Sprint{}, err }
    }
    sp.UpdatedAt = m.now()
    if err := m.store.SaveSprint(ctx, sp); err != nil { return domain.Sprint{}, err }
    return sp, nil
}

// SprintReport is the closing summary of a completed sprint.
type SprintReport struct {
    Sprint          domain.Sprint `json:"sprint"`
    TotalTasks      int           `json:"total_tasks"`
    DoneTasks       int           `json:"done_tasks"`
    TotalPoints     float64       `json:"total_points"`
    CompletedPoints float64       `json:"completed_points"`
    CompletionPct   float64       `json:"completion_pct"`
    IncompleteIDs   []string      `json:"incomplete_ids,omitempty"`
}

// CompleteSprint moves an Active sprint to Completed and computes the closing
// report. An empty sprint completes at 100 percent; a sprint with committed
// points but nothing done completes at 0.
func (m *Manager) CompleteSprint(ctx context.Context, sprintID string) (*SprintReport, error) {
    sp, err := m.store.GetSprint(ctx, sprintID)
    if err != nil { return nil, err }
    if !m.locks.TryLock(sp.DepartmentID) { return nil, domain.ErrSyncInProgress }
    defer m.locks.Unlock(sp.DepartmentID)

    sp, err = m.store.GetSprint(ctx, sprintID)
    if err != nil { return nil, err }
    if sp.Status != domain.SprintActive {
        return nil, fmt.Errorf("%w: cannot complete sprint in %s", domain.ErrInvalidState, sp.Status)
    }

    tasks, err := m.store.TasksBySprint(ctx, sprintID)
    if err != nil { return nil, err }
    report := &SprintReport{TotalTasks: len(tasks)}
    for _, t := range tasks {
        report.TotalPoints += t.Points()
        if t.IsDone() {
            report.DoneTasks++
            report.CompletedPoints += t.Points()
        } else {
            report.IncompleteIDs = append(report.IncompleteIDs, t.ID)
        }
    }
    switch {
    case report.TotalPoints > 0:
        report.CompletionPct = 100 * report.CompletedPoints / report.TotalPoints
    case len(tasks) > 0:
        report.CompletionPct = 100 * float64(report.DoneTasks) / float64(len(tasks))
    default:
        report.CompletionPct = 100
    }

    sp.Status = domain.SprintCompleted
    sp.TotalPoints = report.TotalPoints
    sp.CompletedPoints = report.CompletedPoints
    sp.UpdatedAt = m.now()
    if err := m.store.SaveSprint(ctx, sp); err != nil { return nil, err }
    report.Sprint = sp
    m.log.Info().Str("sprint", sp.ID).Str("department", sp.DepartmentID).
        Float64("completion_pct", report.CompletionPct).Int("incomplete", len(report.IncompleteIDs)).
        Msg("sprint completed")
    return report, nil
}

// CarryOver moves the incomplete tasks of a Completed sprint into a Planning
// sprint of the same department.
func (m *Manager) CarryOver(ctx context.Context, fromID, toID string) (domain.Sprint, error) {
    from, err := m.store.GetSprint(ctx, fromID)
    if err != nil { return domain.Sprint{}, err }
    if !m.locks.TryLock(from.DepartmentID) { return domain.Sprint{}, domain.ErrSyncInProgress }
    defer m.locks.Unlock(from.DepartmentID)

    from, err = m.store.GetSprint(ctx, fromID)
    if err != nil { return domain.Sprint{}, err }
    to, err := m.store.GetSprint(ctx, toID)
    if err != nil { return domain.Sprint{}, err }
    if from.Status != domain.SprintCompleted {
        return domain.Sprint{}, fmt.Errorf("%w: carry-over source in %s", domain.ErrInvalidState, from.Status)
    }
    if to.Status != domain.SprintPlanning {
        return domain.Sprint{}, fmt.Errorf("%w: carry-over target in %s", domain.ErrInvalidState, to.Status)
    }
    if from.DepartmentID != to.DepartmentID {
        return domain.Sprint{}, fmt.Errorf("%w: carry-over across departments", domain.ErrInvalidState)
    }

    tasks, err := m.store.TasksBySprint(ctx, fromID)
    if err != nil { return domain.Sprint{}, err }
    moved := 0
    for _, t := range tasks {
        if t.IsDone() { continue }
        if to.HasTask(t.ID) { continue }
        to.AddTask(t.ID)
        to.TotalPoints += t.Points()
        if err := m.store.SetTaskSprint(ctx, t.ID, to.ID); err != nil { return domain.Sprint{}, err }
        moved++
    }
    to.UpdatedAt = m.now()
    if err := m.store.SaveSprint(ctx, to); err != nil { return domain.Sprint{}, err }
    m.log.Info().Str("from", fromID).Str("to", toID).Int("moved", moved).Msg("carry-over done")
    return to, nil
}

// ActiveSprint returns the department's single non-terminal sprint, if any.
func (m *Manager) ActiveSprint(ctx context.Context, departmentID string) (domain.Sprint, bool, error) {
    sprints, err := m.store.SprintsByDepartment(ctx, departmentID)
    if err != nil { return domain.Sprint{}, false, err }
    for _, sp := range sprints {
        if !sp.Terminal() { return sp, true, nil }
    }
    return domain.Sprint{}, false, nil
}

func parseWeekday(name string) time.Weekday {
    switch strings.ToLower(strings.TrimSpace(name)) {
    case "sunday": return time.Sunday
    case "tuesday": return time.Tuesday
    case "wednesday": return time.Wednesday
    case "thursday": return time.Thursday
    case "friday": return time.Friday
    case "saturday": return time.Saturday
    default: return time.Monday
    }
}

// nextWeekday returns the next occurrence of wd strictly after now's date,
// at midnight UTC. A sprint created on its start weekday begins the week
// after, never retroactively today.
func nextWeekday(now time.Time, wd time.Weekday) time.Time {
    d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
    days := (int(wd) - int(d.Weekday()) + 7) % 7
    if days == 0 { days = 7 }
    return d.AddDate(0, 0, days)
}
