/* Copyright (c) 2025 Ivan Bondarenko
 * SPDX-License-Identifier: BSD-3-Clause */
package recon

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/config"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/dedup"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/source"
)

// StageTx buffers the writes of one pass until Commit.
type StageTx interface {
    UpsertTasks(ctx context.Context, tasks []domain.Task) error
    DeleteTasks(ctx context.Context, ids []string) error
    SaveConflicts(ctx context.Context, cs []domain.Conflict) error
    Commit(ctx context.Context) error
    Rollback(ctx context.Context) error
}

// Store is the persistence surface one pass needs.
type Store interface {
    TryAdvisoryLock(ctx context.Context, departmentID string) (bool, error)
    AdvisoryUnlock(ctx context.Context, departmentID string) error
    LoadCanonical(ctx context.Context, departmentID string) ([]domain.Task, error)
    SprintsByDepartment(ctx context.Context, departmentID string) ([]domain.Sprint, error)
    ConflictsByDepartment(ctx context.Context, departmentID string, limit int) ([]domain.Conflict, error)
    Begin(ctx context.Context) (StageTx, error)
    StartRun(ctx context.Context, departmentID string) (int64, error)
    FinishRun(ctx context.Context, id int64, created, updated, unchanged, resolved, blocking int, success bool, errStr string) error
}

// Transaction runs full reconciliation passes: fetch, dedupe, validate, stage,
// commit. At most one pass per department runs at a time; everything else
// observes either the pre-pass or the post-pass state, never a partial one.
type Transaction struct {
    store    Store
    adapters []source.Adapter
    team     *config.Team
    dd       *dedup.Deduplicator
    locks    *Keyed
    retry    source.RetryPolicy
    log      zerolog.Logger
}

func NewTransaction(st Store, adapters []source.Adapter, team *config.Team, dd *dedup.Deduplicator,
    locks *Keyed, retry source.RetryPolicy, log zerolog.Logger) *Transaction {
    return &Transaction{store: st, adapters: adapters, team: team, dd: dd, locks: locks, retry: retry, log: log}
}

// Run executes one pass for departmentID. It returns ErrSyncInProgress when a
// pass already holds the department, a *ValidationError when malformed data
// aborted the pass before staging, and wraps storage failures otherwise. The
// report is non-nil whenever a pass actually ran.
func (t *Transaction) Run(ctx context.Context, departmentID string) (*SyncReport, error) {
    dept, ok := t.team.Department(departmentID)
    if !ok { return nil, fmt.Errorf("unknown department %s", departmentID) }

    if !t.locks.TryLock(departmentID) { return nil, domain.ErrSyncInProgress }
    defer t.locks.Unlock(departmentID)

    locked, err := t.store.TryAdvisoryLock(ctx, departmentID)
    if err != nil { return nil, fmt.Errorf("advisory lock: %w", err) }
    if !locked { return nil, domain.ErrSyncInProgress }
    defer func() {
        if err := t.store.AdvisoryUnlock(context.WithoutCancel(ctx), departmentID); err != nil {
            t.log.Error().Err(err).Str("department", departmentID).Msg("advisory unlock failed")
        }
    }()

    runID, err := t.store.StartRun(ctx, departmentID)
    if err != nil { return nil, fmt.Errorf("start run: %w", err) }

    report := &SyncReport{DepartmentID: departmentID, StartedAt: time.Now().UTC()}
    err = t.pass(ctx, dept, report)
    report.FinishedAt = time.Now().UTC()

    errStr := ""
    if err != nil { errStr = err.Error(); report.Failure = errStr }
    if ferr := t.store.FinishRun(context.WithoutCancel(ctx), runID, report.Created, report.Updated,
        report.Unchanged, report.Resolved, report.Blocking, err == nil, errStr); ferr != nil {
        t.log.Error().Err(ferr).Int64("run", runID).Msg("finish run failed")
    }
    if err != nil { return report, err }

    t.log.Info().Str("department", departmentID).
        Int("created", report.Created).Int("updated", report.Updated).Int("unchanged", report.Unchanged).
        Int("resolved", report.Resolved).Int("blocking", report.Blocking).
        Bool("degraded", report.Degraded()).Msg("sync pass done")
    return report, nil
}

func (t *Transaction) pass(ctx context.Context, dept domain.Department, report *SyncReport) error {
    fetched, outcomes := t.fetchAll(ctx, dept)
    report.Sources = outcomes
    anyOK := false
    for _, o := range outcomes { if !o.Skipped { anyOK = true } }
    if len(t.adapters) > 0 && !anyOK {
        return fmt.Errorf("all sources failed for department %s", dept.ID)
    }

    canonical, err := t.store.LoadCanonical(ctx, dept.ID)
    if err != nil { return fmt.Errorf("load canonical: %w", err) }
    before := make(map[string]domain.Task, len(canonical))
    for _, c := range canonical { before[c.ID] = c }

    input := make([]domain.Task, 0, len(canonical)+len(fetched))
    input = append(input, canonical...)
    input = append(input, fetched...)

    out, conflicts := t.dd.Reconcile(input)
    for i := range out {
        if out[i].ID == "" { out[i].ID = uuid.NewString() }
        if out[i].DepartmentID == "" { out[i].DepartmentID = dept.ID }
    }

    // Conflicts detected before ids were assigned carry a src:key reference;
    // point them at the canonical task so they survive key-based dedupe and
    // join back to tasks for readers.
    keyToID := map[string]string{}
    for _, o := range out {
        for src, k := range o.ExternalKeys {
            if k != "" { keyToID[string(src)+":"+k] = o.ID }
        }
    }
    for i := range conflicts {
        if id, ok := keyToID[conflicts[i].TaskID]; ok { conflicts[i].TaskID = id }
    }

    if err := t.validate(ctx, dept, out); err != nil { return err }

    for _, o := range out {
        prev, existed := o, false
        if p, ok := before[o.ID]; ok { prev, existed = p, true }
        switch {
        case !existed:
            report.Created++
        case taskChanged(prev, o):
            report.Updated++
        default:
            report.Unchanged++
        }
    }
    for _, c := range conflicts {
        if c.Blocking() { report.Blocking++ } else if c.Kind == domain.ConflictAutoResolved { report.Resolved++ }
    }
    report.Conflicts = conflicts

    // Canonical rows folded into another task this pass are deleted, not left
    // behind as stale duplicates.
    outIDs := make(map[string]bool, len(out))
    for _, o := range out { outIDs[o.ID] = true }
    var absorbed []string
    for id := range before {
        if !outIDs[id] { absorbed = append(absorbed, id) }
    }
    sort.Strings(absorbed)
    report.Merged = len(absorbed)

    // A disagreement already persisted and still unresolved is not recorded
    // again; steady-state data must not grow the conflicts table.
    open, err := t.store.ConflictsByDepartment(ctx, dept.ID, 0)
    if err != nil { return fmt.Errorf("load conflicts: %w", err) }
    known := make(map[string]bool, len(open))
    for _, c := range open { known[conflictKey(c)] = true }
    var fresh []domain.Conflict
    for _, c := range conflicts {
        if !known[conflictKey(c)] { fresh = append(fresh, c) }
    }

    tx, err := t.store.Begin(ctx)
    if err != nil { return fmt.Errorf("begin: %w", err) }
    if err := tx.UpsertTasks(ctx, out); err != nil {
        _ = tx.Rollback(ctx)
        return fmt.Errorf("stage tasks: %w", err)
    }
    if err := tx.DeleteTasks(ctx, absorbed); err != nil {
        _ = tx.Rollback(ctx)
        return fmt.Errorf("stage deletes: %w", err)
    }
    if err := tx.SaveConflicts(ctx, fresh); err != nil {
        _ = tx.Rollback(ctx)
        return fmt.Errorf("stage conflicts: %w", err)
    }
    if err := tx.Commit(ctx); err != nil {
        _ = tx.Rollback(ctx)
        return fmt.Errorf("commit: %w", err)
    }
    return nil
}

// fetchAll pulls every configured source concurrently. A source that still
// fails after retries is skipped and the pass degrades to the rest.
func (t *Transaction) fetchAll(ctx context.Context, dept domain.Department) ([]domain.Task, []SourceOutcome) {
    scope := source.Scope{DepartmentID: dept.ID}
    results := make([][]domain.Task, len(t.adapters))
    outcomes := make([]SourceOutcome, len(t.adapters))
    var wg sync.WaitGroup
    for i, a := range t.adapters {
        wg.Add(1)
        go func(i int, a source.Adapter) {
            defer wg.Done()
            tasks, err := source.FetchWithRetry(ctx, a, scope, t.retry, t.log)
            if err != nil {
                t.log.Warn().Err(err).Str("source", string(a.Name())).Str("department", dept.ID).
                    Msg("source skipped for this pass")
                outcomes[i] = SourceOutcome{Source: a.Name(), Skipped: true, Error: err.Error()}
                return
            }
            for j := range tasks {
                if tasks[j].Origin == "" { tasks[j].Origin = a.Name() }
                if tasks[j].DepartmentID == "" { tasks[j].DepartmentID = dept.ID }
            }
            results[i] = tasks
            outcomes[i] = SourceOutcome{Source: a.Name(), Fetched: len(tasks)}
        }(i, a)
    }
    wg.Wait()
    var all []domain.Task
    for _, r := range results { all = append(all, r...) }
    return all, outcomes
}

// validate rejects malformed output before anything is staged. A single bad
// record aborts the whole pass.
func (t *Transaction) validate(ctx context.Context, dept domain.Department, out []domain.Task) error {
    sprints, err := t.store.SprintsByDepartment(ctx, dept.ID)
    if err != nil { return fmt.Errorf("load sprints: %w", err) }
    open := map[string]bool{}
    for _, sp := range sprints { open[sp.ID] = !sp.Terminal() }

    keys := map[string]string{}
    for _, o := range out {
        if o.Title == "" {
            return &domain.ValidationError{TaskID: o.ID, Field: "title", Reason: "empty"}
        }
        if o.DepartmentID != dept.ID {
            return &domain.ValidationError{TaskID: o.ID, Field: "department", Reason: "foreign department " + o.DepartmentID}
        }
        if o.Status != "" && !domain.ValidStatus(o.Status) {
            return &domain.ValidationError{TaskID: o.ID, Field: "status", Reason: "unknown status " + string(o.Status)}
        }
        for src, k := range o.ExternalKeys {
            if k == "" { continue }
            ref := string(src) + ":" + k
            if prev, dup := keys[ref]; dup && prev != o.ID {
                return &domain.ValidationError{TaskID: o.ID, Field: "external_key", Reason: ref + " also on task " + prev}
            }
            keys[ref] = o.ID
        }
        if o.SprintID != "" {
            isOpen, known := open[o.SprintID]
            if !known {
                return &domain.ValidationError{TaskID: o.ID, Field: "sprint", Reason: "unknown sprint " + o.SprintID}
            }
            if !isOpen {
                return &domain.ValidationError{TaskID: o.ID, Field: "sprint", Reason: "sprint " + o.SprintID + " is completed"}
            }
        }
    }
    return nil
}

// conflictKey identifies a disagreement independent of when it was detected.
func conflictKey(c domain.Conflict) string {
    var b strings.Builder
    b.WriteString(c.TaskID)
    b.WriteByte('|')
    b.WriteString(c.Field)
    b.WriteByte('|')
    b.WriteString(string(c.Kind))
    for _, v := range c.Values {
        b.WriteByte('|')
        b.WriteString(string(v.Source))
        b.WriteByte('=')
        b.WriteString(v.Value)
    }
    return b.String()
}

// taskChanged compares everything except UpdatedAt, which moves forward on
// every observation of an otherwise identical record.
func taskChanged(a, b domain.Task) bool {
    a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
    if a.DueAt != nil && b.DueAt != nil && a.DueAt.Equal(*b.DueAt) {
        a.DueAt, b.DueAt = nil, nil
    }
    if a.StoryPoints != nil && b.StoryPoints != nil && *a.StoryPoints == *b.StoryPoints {
        a.StoryPoints, b.StoryPoints = nil, nil
    }
    aj, _ := json.Marshal(a)
    bj, _ := json.Marshal(b)
    return !bytes.Equal(aj, bj)
}
