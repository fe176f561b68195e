package recon

import (
    "context"
    "errors"
    "testing"
    "time"

    "github.com/rs/zerolog"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/config"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/dedup"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/identity"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/merge"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/source"
)

// fakeStore keeps everything in memory and only applies staged writes at
// Commit, mirroring the transactional contract of the real store.
type fakeStore struct {
    tasks     map[string]domain.Task
    sprints   map[string]domain.Sprint
    conflicts []domain.Conflict
    locked    map[string]bool
    runs      int
    finished  int
    lastOK    bool

    failUpsert bool
    failCommit bool
}

func newFakeStore() *fakeStore {
    return &fakeStore{tasks: map[string]domain.Task{}, sprints: map[string]domain.Sprint{}, locked: map[string]bool{}}
}

func (f *fakeStore) TryAdvisoryLock(_ context.Context, dept string) (bool, error) {
    if f.locked[dept] { return false, nil }
    f.locked[dept] = true
    return true, nil
}

func (f *fakeStore) AdvisoryUnlock(_ context.Context, dept string) error {
    f.locked[dept] = false
    return nil
}

func (f *fakeStore) LoadCanonical(_ context.Context, dept string) ([]domain.Task, error) {
    var out []domain.Task
    for _, t := range f.tasks {
        if t.DepartmentID == dept { out = append(out, t.Clone()) }
    }
    return out, nil
}

func (f *fakeStore) SprintsByDepartment(_ context.Context, dept string) ([]domain.Sprint, error) {
    var out []domain.Sprint
    for _, sp := range f.sprints {
        if sp.DepartmentID == dept { out = append(out, sp) }
    }
    return out, nil
}

func (f *fakeStore) ConflictsByDepartment(_ context.Context, _ string, _ int) ([]domain.Conflict, error) {
    return append([]domain.Conflict(nil), f.conflicts...), nil
}

func (f *fakeStore) Begin(context.Context) (StageTx, error) {
    return &fakeTx{store: f}, nil
}

func (f *fakeStore) StartRun(context.Context, string) (int64, error) {
    f.runs++
    return int64(f.runs), nil
}

func (f *fakeStore) FinishRun(_ context.Context, _ int64, _, _, _, _, _ int, success bool, _ string) error {
    f.finished++
    f.lastOK = success
    return nil
}

type fakeTx struct {
    store     *fakeStore
    tasks     []domain.Task
    deletes   []string
    conflicts []domain.Conflict
    done      bool
}

func (t *fakeTx) UpsertTasks(_ context.Context, tasks []domain.Task) error {
    if t.store.failUpsert { return errors.New("induced upsert failure") }
    t.tasks = append(t.tasks, tasks...)
    return nil
}

func (t *fakeTx) DeleteTasks(_ context.Context, ids []string) error {
    t.deletes = append(t.deletes, ids...)
    return nil
}

func (t *fakeTx) SaveConflicts(_ context.Context, cs []domain.Conflict) error {
    t.conflicts = append(t.conflicts, cs...)
    return nil
}

func (t *fakeTx) Commit(context.Context) error {
    if t.store.failCommit { return errors.New("induced commit failure") }
    for _, task := range t.tasks { t.store.tasks[task.ID] = task }
    for _, id := range t.deletes { delete(t.store.tasks, id) }
    t.store.conflicts = append(t.store.conflicts, t.conflicts...)
    t.done = true
    return nil
}

func (t *fakeTx) Rollback(context.Context) error { t.done = true; return nil }

type fakeAdapter struct {
    name  domain.Source
    tasks []domain.Task
    err   error
}

func (a *fakeAdapter) Name() domain.Source { return a.name }

func (a *fakeAdapter) Fetch(context.Context, source.Scope) ([]domain.Task, error) {
    if a.err != nil { return nil, a.err }
    out := make([]domain.Task, len(a.tasks))
    for i, t := range a.tasks { out[i] = t.Clone() }
    return out, nil
}

func testTeam() *config.Team {
    return &config.Team{
        Departments: []domain.Department{{ID: "eng", Name: "Engineering", SprintLengthDays: 7, SprintStartDay: "monday"}},
    }
}

func newTx(st Store, adapters ...source.Adapter) *Transaction {
    dd := dedup.New(identity.NewResolver(0.85, 1), merge.NewEngine(domain.DefaultPrecedence), 0)
    retry := source.RetryPolicy{Attempts: 1, BaseWait: time.Millisecond, Timeout: time.Second}
    return NewTransaction(st, adapters, testTeam(), dd, NewKeyed(), retry, zerolog.Nop())
}

func jiraTask(key, title string) domain.Task {
    return domain.Task{
        Title: title, Status: domain.StatusTodo, DepartmentID: "eng",
        ExternalKeys: map[domain.Source]string{domain.SourceJira: key},
        Origin:       domain.SourceJira,
    }
}

func TestRun_CleanPassCreatesTasks(t *testing.T) {
    st := newFakeStore()
    tx := newTx(st, &fakeAdapter{name: domain.SourceJira, tasks: []domain.Task{jiraTask("PROJ-1", "Fix login bug"), jiraTask("PROJ-2", "Add audit log")}})

    report, err := tx.Run(context.Background(), "eng")
    if err != nil { t.Fatalf("run failed: %v", err) }
    if report.Created != 2 || report.Updated != 0 {
        t.Fatalf("report = %+v", report)
    }
    if len(st.tasks) != 2 { t.Fatalf("store has %d tasks", len(st.tasks)) }
    for _, task := range st.tasks {
        if task.ID == "" { t.Fatal("canonical task must have an id") }
    }
    if !st.lastOK { t.Fatal("run must be recorded as successful") }
}

func TestRun_SecondIdenticalPassIsUnchanged(t *testing.T) {
    st := newFakeStore()
    ad := &fakeAdapter{name: domain.SourceJira, tasks: []domain.Task{jiraTask("PROJ-1", "Fix login bug")}}
    tx := newTx(st, ad)

    if _, err := tx.Run(context.Background(), "eng"); err != nil { t.Fatalf("first run: %v", err) }
    report, err := tx.Run(context.Background(), "eng")
    if err != nil { t.Fatalf("second run: %v", err) }
    if report.Created != 0 || report.Updated != 0 || report.Unchanged != 1 {
        t.Fatalf("second pass must be a no-op, report = %+v", report)
    }
    if len(st.tasks) != 1 { t.Fatalf("store has %d tasks", len(st.tasks)) }
}

func TestRun_InProcessLockRejectsConcurrentPass(t *testing.T) {
    st := newFakeStore()
    tx := newTx(st, &fakeAdapter{name: domain.SourceJira})
    locks := tx.locks
    if !locks.TryLock("eng") { t.Fatal("setup lock failed") }
    defer locks.Unlock("eng")

    _, err := tx.Run(context.Background(), "eng")
    if !errors.Is(err, domain.ErrSyncInProgress) {
        t.Fatalf("err = %v, want ErrSyncInProgress", err)
    }
    if st.runs != 0 { t.Fatal("no run must be recorded while locked") }
}

func TestRun_AdvisoryLockRejectsOtherProcess(t *testing.T) {
    st := newFakeStore()
    st.locked["eng"] = true
    tx := newTx(st, &fakeAdapter{name: domain.SourceJira})

    _, err := tx.Run(context.Background(), "eng")
    if !errors.Is(err, domain.ErrSyncInProgress) {
        t.Fatalf("err = %v, want ErrSyncInProgress", err)
    }
}

func TestRun_FailedSourceDegradesPass(t *testing.T) {
    st := newFakeStore()
    good := &fakeAdapter{name: domain.SourceJira, tasks: []domain.Task{jiraTask("PROJ-1", "Fix login bug")}}
    bad := &fakeAdapter{name: domain.SourceNotion, err: &domain.SourceError{Source: domain.SourceNotion, Transient: true, Err: errors.New("boom")}}
    tx := newTx(st, good, bad)

    report, err := tx.Run(context.Background(), "eng")
    if err != nil { t.Fatalf("degraded pass must still land: %v", err) }
    if !report.Degraded() { t.Fatal("report must mark the pass degraded") }
    if report.Created != 1 { t.Fatalf("created = %d", report.Created) }
}

func TestRun_AllSourcesFailedAbortsPass(t *testing.T) {
    st := newFakeStore()
    bad := &fakeAdapter{name: domain.SourceJira, err: &domain.SourceError{Source: domain.SourceJira, Err: errors.New("auth")}}
    tx := newTx(st, bad)

    _, err := tx.Run(context.Background(), "eng")
    if err == nil { t.Fatal("expected failure when every source failed") }
    if len(st.tasks) != 0 { t.Fatal("nothing may be written") }
    if st.lastOK { t.Fatal("run must be recorded as failed") }
}

func TestRun_ValidationAbortsBeforeStaging(t *testing.T) {
    st := newFakeStore()
    broken := jiraTask("PROJ-1", "")
    tx := newTx(st, &fakeAdapter{name: domain.SourceJira, tasks: []domain.Task{broken}})

    _, err := tx.Run(context.Background(), "eng")
    var verr *domain.ValidationError
    if !errors.As(err, &verr) { t.Fatalf("err = %v, want ValidationError", err) }
    if verr.Field != "title" { t.Fatalf("field = %q", verr.Field) }
    if len(st.tasks) != 0 { t.Fatal("validation failure must not write anything") }
}

func TestRun_StagingFailureLeavesStoreUntouched(t *testing.T) {
    st := newFakeStore()
    st.failUpsert = true
    tx := newTx(st, &fakeAdapter{name: domain.SourceJira, tasks: []domain.Task{jiraTask("PROJ-1", "Fix login bug")}})

    _, err := tx.Run(context.Background(), "eng")
    if err == nil { t.Fatal("expected staging error") }
    if len(st.tasks) != 0 { t.Fatal("failed pass must leave the store untouched") }
    if st.lastOK { t.Fatal("run must be recorded as failed") }
}

func TestRun_CommitFailureLeavesStoreUntouched(t *testing.T) {
    st := newFakeStore()
    st.failCommit = true
    tx := newTx(st, &fakeAdapter{name: domain.SourceJira, tasks: []domain.Task{jiraTask("PROJ-1", "Fix login bug")}})

    _, err := tx.Run(context.Background(), "eng")
    if err == nil { t.Fatal("expected commit error") }
    if len(st.tasks) != 0 { t.Fatal("failed commit must leave the store untouched") }
}

func TestRun_TaskReferencingCompletedSprintRejected(t *testing.T) {
    st := newFakeStore()
    st.sprints["s1"] = domain.Sprint{ID: "s1", DepartmentID: "eng", Status: domain.SprintCompleted}
    task := jiraTask("PROJ-1", "Fix login bug")
    task.SprintID = "s1"
    tx := newTx(st, &fakeAdapter{name: domain.SourceJira, tasks: []domain.Task{task}})

    _, err := tx.Run(context.Background(), "eng")
    var verr *domain.ValidationError
    if !errors.As(err, &verr) { t.Fatalf("err = %v, want ValidationError", err) }
    if verr.Field != "sprint" { t.Fatalf("field = %q", verr.Field) }
}

func TestRun_DuplicateCanonicalRowsCollapse(t *testing.T) {
    st := newFakeStore()
    a := jiraTask("PROJ-1", "Fix login bug")
    a.ID = "T1"
    b := jiraTask("PROJ-1", "Fix login bug")
    b.ID = "T2"
    st.tasks["T1"], st.tasks["T2"] = a, b
    tx := newTx(st)

    report, err := tx.Run(context.Background(), "eng")
    if err != nil { t.Fatalf("run failed: %v", err) }
    if report.Merged != 1 { t.Fatalf("merged = %d", report.Merged) }
    if len(st.tasks) != 1 { t.Fatalf("stale duplicate left behind, store has %d tasks", len(st.tasks)) }
    if _, ok := st.tasks["T1"]; !ok { t.Fatalf("surviving task = %v", st.tasks) }
}

func TestRun_StandingConflictPersistedOnce(t *testing.T) {
    st := newFakeStore()
    t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
    jt := jiraTask("PROJ-1", "Fix login bug")
    jt.UpdatedAt = t0
    nt := domain.Task{
        Title: "Fix login form", Status: domain.StatusTodo, DepartmentID: "eng", UpdatedAt: t0,
        ExternalKeys: map[domain.Source]string{domain.SourceNotion: "page-1"},
        Linkage:      map[domain.Source]string{domain.SourceJira: "PROJ-1"},
        Origin:       domain.SourceNotion,
    }
    tx := newTx(st,
        &fakeAdapter{name: domain.SourceJira, tasks: []domain.Task{jt}},
        &fakeAdapter{name: domain.SourceNotion, tasks: []domain.Task{nt}})

    if _, err := tx.Run(context.Background(), "eng"); err != nil { t.Fatalf("first run: %v", err) }
    if len(st.conflicts) != 1 { t.Fatalf("first run persisted %d conflicts", len(st.conflicts)) }

    if _, err := tx.Run(context.Background(), "eng"); err != nil { t.Fatalf("second run: %v", err) }
    if len(st.conflicts) != 1 {
        t.Fatalf("standing disagreement re-persisted, %d conflicts", len(st.conflicts))
    }
    var taskID string
    for id := range st.tasks { taskID = id }
    if st.conflicts[0].TaskID != taskID {
        t.Fatalf("conflict points at %q, task is %q", st.conflicts[0].TaskID, taskID)
    }
}

func TestRun_LockReleasedAfterPass(t *testing.T) {
    st := newFakeStore()
    tx := newTx(st, &fakeAdapter{name: domain.SourceJira, tasks: []domain.Task{jiraTask("PROJ-1", "x")}})

    if _, err := tx.Run(context.Background(), "eng"); err != nil { t.Fatalf("first run: %v", err) }
    if _, err := tx.Run(context.Background(), "eng"); err != nil {
        t.Fatalf("locks must be released between passes: %v", err)
    }
    if st.locked["eng"] { t.Fatal("advisory lock must be released") }
}
