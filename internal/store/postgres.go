/* Copyright (c) 2025 Ivan Bondarenko
 * SPDX-License-Identifier: BSD-3-Clause */
package store

import (
    "context"
    "encoding/json"
    "errors"
    "hash/fnv"
    "time"

    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/rs/zerolog"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/config"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
)

type DB struct {
    Pool *pgxpool.Pool
    log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
    pool, err := pgxpool.New(ctx, cfg.DBDSN)
    if err != nil { log.Fatal().Err(err).Msg("db connect failed") }
    ctx2, cancel := context.WithTimeout(ctx, 10*time.Second); defer cancel()
    if err := pool.Ping(ctx2); err != nil { log.Fatal().Err(err).Msg("db ping failed") }
    return &DB{Pool: pool, log: log}
}

func (d *DB) Close() { d.Pool.Close() }

// Store persists canonical tasks, conflicts, sprints and sync runs.
type Store struct {
    db  *DB
    log zerolog.Logger
}

func New(d *DB, log zerolog.Logger) *Store { return &Store{db: d, log: log} }

// EnsureSchema creates the tables on first boot. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
    stmts := []string{
        `CREATE TABLE IF NOT EXISTS tasks(
            id            text PRIMARY KEY,
            title         text NOT NULL,
            description   text NOT NULL DEFAULT '',
            type          text NOT NULL DEFAULT '',
            priority      text NOT NULL DEFAULT '',
            status        text NOT NULL,
            assignee_id   text NOT NULL DEFAULT '',
            department_id text NOT NULL,
            ext_keys      jsonb NOT NULL DEFAULT '{}',
            linkage       jsonb NOT NULL DEFAULT '{}',
            sprint_id     text NOT NULL DEFAULT '',
            story_points  double precision,
            created_at    timestamptz,
            updated_at    timestamptz,
            due_at        timestamptz,
            labels        text[] NOT NULL DEFAULT '{}',
            origin        text NOT NULL DEFAULT '',
            field_origins jsonb NOT NULL DEFAULT '{}'
        )`,
        `CREATE INDEX IF NOT EXISTS tasks_department_idx ON tasks(department_id)`,
        `CREATE INDEX IF NOT EXISTS tasks_sprint_idx ON tasks(sprint_id) WHERE sprint_id <> ''`,
        `CREATE TABLE IF NOT EXISTS conflicts(
            id          bigserial PRIMARY KEY,
            task_id     text NOT NULL,
            field       text NOT NULL,
            kind        text NOT NULL,
            vals        jsonb NOT NULL,
            detected_at timestamptz NOT NULL,
            resolved_at timestamptz
        )`,
        `CREATE INDEX IF NOT EXISTS conflicts_task_idx ON conflicts(task_id)`,
        `CREATE TABLE IF NOT EXISTS sprints(
            id               text PRIMARY KEY,
            department_id    text NOT NULL,
            goal             text NOT NULL DEFAULT '',
            start_date       timestamptz NOT NULL,
            end_date         timestamptz NOT NULL,
            status           text NOT NULL,
            external_ref     text NOT NULL DEFAULT '',
            task_ids         text[] NOT NULL DEFAULT '{}',
            total_points     double precision NOT NULL DEFAULT 0,
            completed_points double precision NOT NULL DEFAULT 0,
            created_at       timestamptz NOT NULL,
            updated_at       timestamptz NOT NULL
        )`,
        `CREATE INDEX IF NOT EXISTS sprints_department_idx ON sprints(department_id)`,
        `CREATE TABLE IF NOT EXISTS sync_runs(
            id            bigserial PRIMARY KEY,
            department_id text NOT NULL,
            started_at    timestamptz NOT NULL DEFAULT now(),
            finished_at   timestamptz,
            created       int NOT NULL DEFAULT 0,
            updated       int NOT NULL DEFAULT 0,
            unchanged     int NOT NULL DEFAULT 0,
            resolved      int NOT NULL DEFAULT 0,
            blocking      int NOT NULL DEFAULT 0,
            success       bool NOT NULL DEFAULT false,
            error         text NOT NULL DEFAULT ''
        )`,
    }
    for _, q := range stmts {
        if _, err := s.db.Pool.Exec(ctx, q); err != nil { return err }
    }
    return nil
}

// deptLockKey maps a department id onto the advisory-lock keyspace.
func deptLockKey(departmentID string) int64 {
    h := fnv.New64a()
    h.Write([]byte("sync:" + departmentID))
    return int64(h.Sum64())
}

func (s *Store) TryAdvisoryLock(ctx context.Context, departmentID string) (bool, error) {
    var ok bool
    err := s.db.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", deptLockKey(departmentID)).Scan(&ok)
    return ok, err
}

func (s *Store) AdvisoryUnlock(ctx context.Context, departmentID string) error {
    var ok bool
    err := s.db.Pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", deptLockKey(departmentID)).Scan(&ok)
    if !ok && err == nil { return errors.New("advisory unlock returned false") }
    return err
}

const taskCols = `id, title, description, type, priority, status, assignee_id, department_id,
        ext_keys, linkage, sprint_id, story_points, created_at, updated_at, due_at,
        labels, origin, field_origins`

func scanTask(row pgx.Row) (domain.Task, error) {
    var t domain.Task
    var extKeys, linkage, origins []byte
    var created, updated, due *time.Time
    err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Type, &t.Priority, &t.Status,
        &t.AssigneeID, &t.DepartmentID, &extKeys, &linkage, &t.SprintID, &t.StoryPoints,
        &created, &updated, &due, &t.Labels, &t.Origin, &origins)
    if err != nil { return domain.Task{}, err }
    if err := json.Unmarshal(extKeys, &t.ExternalKeys); err != nil { return domain.Task{}, err }
    if err := json.Unmarshal(linkage, &t.Linkage); err != nil { return domain.Task{}, err }
    if err := json.Unmarshal(origins, &t.FieldOrigins); err != nil { return domain.Task{}, err }
    if created != nil { t.CreatedAt = *created }
    if updated != nil { t.UpdatedAt = *updated }
    t.DueAt = due
    return t, nil
}

// LoadCanonical returns every stored task of one department.
func (s *Store) LoadCanonical(ctx context.Context, departmentID string) ([]domain.Task, error) {
    rows, err := s.db.Pool.Query(ctx, `SELECT `+taskCols+` FROM tasks WHERE department_id=$1 ORDER BY id`, departmentID)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []domain.Task
    for rows.Next() {
        t, err := scanTask(rows)
        if err != nil { return nil, err }
        out = append(out, t)
    }
    return out, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, id string) (domain.Task, error) {
    row := s.db.Pool.QueryRow(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=$1`, id)
    return scanTask(row)
}

func (s *Store) TasksBySprint(ctx context.Context, sprintID string) ([]domain.Task, error) {
    rows, err := s.db.Pool.Query(ctx, `SELECT `+taskCols+` FROM tasks WHERE sprint_id=$1 ORDER BY id`, sprintID)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []domain.Task
    for rows.Next() {
        t, err := scanTask(rows)
        if err != nil { return nil, err }
        out = append(out, t)
    }
    return out, rows.Err()
}

func (s *Store) SetTaskSprint(ctx context.Context, taskID, sprintID string) error {
    ct, err := s.db.Pool.Exec(ctx, `UPDATE tasks SET sprint_id=$2 WHERE id=$1`, taskID, sprintID)
    if err != nil { return err }
    if ct.RowsAffected() == 0 { return pgx.ErrNoRows }
    return nil
}

// Tx stages one reconciliation pass. All writes land together at Commit or
// not at all.
type Tx struct {
    tx pgx.Tx
}

func (s *Store) Begin(ctx context.Context) (*Tx, error) {
    tx, err := s.db.Pool.Begin(ctx)
    if err != nil { return nil, err }
    return &Tx{tx: tx}, nil
}

func (t *Tx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *Tx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (t *Tx) UpsertTasks(ctx context.Context, tasks []domain.Task) error {
    if len(tasks) == 0 { return nil }
    batch := &pgx.Batch{}
    const q = `
        INSERT INTO tasks(` + taskCols + `)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
        ON CONFLICT(id) DO UPDATE SET
            title=EXCLUDED.title,
            description=EXCLUDED.description,
            type=EXCLUDED.type,
            priority=EXCLUDED.priority,
            status=EXCLUDED.status,
            assignee_id=EXCLUDED.assignee_id,
            department_id=EXCLUDED.department_id,
            ext_keys=EXCLUDED.ext_keys,
            linkage=EXCLUDED.linkage,
            sprint_id=EXCLUDED.sprint_id,
            story_points=EXCLUDED.story_points,
            created_at=EXCLUDED.created_at,
            updated_at=EXCLUDED.updated_at,
            due_at=EXCLUDED.due_at,
            labels=EXCLUDED.labels,
            origin=EXCLUDED.origin,
            field_origins=EXCLUDED.field_origins`
    for _, tk := range tasks {
        extKeys, err := json.Marshal(orEmptyKeys(tk.ExternalKeys))
        if err != nil { return err }
        linkage, err := json.Marshal(orEmptyKeys(tk.Linkage))
        if err != nil { return err }
        origins, err := json.Marshal(orEmptyOrigins(tk.FieldOrigins))
        if err != nil { return err }
        labels := tk.Labels
        if labels == nil { labels = []string{} }
        batch.Queue(q, tk.ID, tk.Title, tk.Description, tk.Type, tk.Priority, tk.Status,
            tk.AssigneeID, tk.DepartmentID, extKeys, linkage, tk.SprintID, tk.StoryPoints,
            nilIfZero(tk.CreatedAt), nilIfZero(tk.UpdatedAt), tk.DueAt, labels, tk.Origin, origins)
    }
    br := t.tx.SendBatch(ctx, batch)
    defer br.Close()
    for range tasks { if _, err := br.Exec(); err != nil { return err } }
    return nil
}

// DeleteTasks removes canonical rows whose ids were absorbed into another
// task during the pass being staged.
func (t *Tx) DeleteTasks(ctx context.Context, ids []string) error {
    if len(ids) == 0 { return nil }
    _, err := t.tx.Exec(ctx, `DELETE FROM tasks WHERE id = ANY($1)`, ids)
    return err
}

func (t *Tx) SaveConflicts(ctx context.Context, cs []domain.Conflict) error {
    if len(cs) == 0 { return nil }
    batch := &pgx.Batch{}
    const q = `INSERT INTO conflicts(task_id, field, kind, vals, detected_at) VALUES($1,$2,$3,$4,$5)`
    for _, c := range cs {
        vals, err := json.Marshal(c.Values)
        if err != nil { return err }
        batch.Queue(q, c.TaskID, c.Field, c.Kind, vals, c.DetectedAt)
    }
    br := t.tx.SendBatch(ctx, batch)
    defer br.Close()
    for range cs { if _, err := br.Exec(); err != nil { return err } }
    return nil
}

func (s *Store) ConflictsByDepartment(ctx context.Context, departmentID string, limit int) ([]domain.Conflict, error) {
    if limit <= 0 { limit = 10000 }
    rows, err := s.db.Pool.Query(ctx, `
        SELECT c.task_id, c.field, c.kind, c.vals, c.detected_at
        FROM conflicts c JOIN tasks t ON t.id = c.task_id
        WHERE t.department_id=$1 AND c.resolved_at IS NULL
        ORDER BY c.id DESC LIMIT $2`, departmentID, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []domain.Conflict
    for rows.Next() {
        var c domain.Conflict
        var vals []byte
        if err := rows.Scan(&c.TaskID, &c.Field, &c.Kind, &vals, &c.DetectedAt); err != nil { return nil, err }
        if err := json.Unmarshal(vals, &c.Values); err != nil { return nil, err }
        out = append(out, c)
    }
    return out, rows.Err()
}

const sprintCols = `id, department_id, goal, start_date, end_date, status, external_ref,
        task_ids, total_points, completed_points, created_at, updated_at`

func scanSprint(row pgx.Row) (domain.Sprint, error) {
    var sp domain.Sprint
    err := row.Scan(&sp.ID, &sp.DepartmentID, &sp.Goal, &sp.StartDate, &sp.EndDate, &sp.Status,
        &sp.ExternalRef, &sp.TaskIDs, &sp.TotalPoints, &sp.CompletedPoints, &sp.CreatedAt, &sp.UpdatedAt)
    return sp, err
}

func (s *Store) GetSprint(ctx context.Context, id string) (domain.Sprint, error) {
    row := s.db.Pool.QueryRow(ctx, `SELECT `+sprintCols+` FROM sprints WHERE id=$1`, id)
    return scanSprint(row)
}

func (s *Store) SprintsByDepartment(ctx context.Context, departmentID string) ([]domain.Sprint, error) {
    rows, err := s.db.Pool.Query(ctx, `SELECT `+sprintCols+` FROM sprints WHERE department_id=$1 ORDER BY start_date`, departmentID)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []domain.Sprint
    for rows.Next() {
        sp, err := scanSprint(rows)
        if err != nil { return nil, err }
        out = append(out, sp)
    }
    return out, rows.Err()
}

func (s *Store) SaveSprint(ctx context.Context, sp domain.Sprint) error {
    taskIDs := sp.TaskIDs
    if taskIDs == nil { taskIDs = []string{} }
    const q = `
        INSERT INTO sprints(` + sprintCols + `)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT(id) DO UPDATE SET
            goal=EXCLUDED.goal,
            start_date=EXCLUDED.start_date,
            end_date=EXCLUDED.end_date,
            status=EXCLUDED.status,
            external_ref=EXCLUDED.external_ref,
            task_ids=EXCLUDED.task_ids,
            total_points=EXCLUDED.total_points,
            completed_points=EXCLUDED.completed_points,
            updated_at=EXCLUDED.updated_at`
    _, err := s.db.Pool.Exec(ctx, q, sp.ID, sp.DepartmentID, sp.Goal, sp.StartDate, sp.EndDate,
        sp.Status, sp.ExternalRef, taskIDs, sp.TotalPoints, sp.CompletedPoints, sp.CreatedAt, sp.UpdatedAt)
    return err
}

// Sync runs

func (s *Store) StartRun(ctx context.Context, departmentID string) (int64, error) {
    const q = `INSERT INTO sync_runs(department_id, started_at, success) VALUES($1, now(), false) RETURNING id`
    var id int64
    if err := s.db.Pool.QueryRow(ctx, q, departmentID).Scan(&id); err != nil { return 0, err }
    return id, nil
}

func (s *Store) FinishRun(ctx context.Context, id int64, created, updated, unchanged, resolved, blocking int, success bool, errStr string) error {
    const q = `UPDATE sync_runs SET finished_at=now(), created=$2, updated=$3, unchanged=$4,
        resolved=$5, blocking=$6, success=$7, error=$8 WHERE id=$1`
    _, err := s.db.Pool.Exec(ctx, q, id, created, updated, unchanged, resolved, blocking, success, errStr)
    return err
}

type LastRun struct {
    DepartmentID string     `json:"department_id"`
    StartedAt    time.Time  `json:"started_at"`
    FinishedAt   *time.Time `json:"finished_at"`
    Created      int        `json:"created"`
    Updated      int        `json:"updated"`
    Unchanged    int        `json:"unchanged"`
    Resolved     int        `json:"resolved"`
    Blocking     int        `json:"blocking"`
    Success      bool       `json:"success"`
    Error        string     `json:"error"`
}

func (s *Store) GetLastRun(ctx context.Context, departmentID string) (*LastRun, error) {
    const q = `SELECT department_id, started_at, finished_at,
        created, updated, unchanged, resolved, blocking, success, error
        FROM sync_runs WHERE department_id=$1 ORDER BY id DESC LIMIT 1`
    row := s.db.Pool.QueryRow(ctx, q, departmentID)
    lr := &LastRun{}
    if err := row.Scan(&lr.DepartmentID, &lr.StartedAt, &lr.FinishedAt, &lr.Created, &lr.Updated,
        &lr.Unchanged, &lr.Resolved, &lr.Blocking, &lr.Success, &lr.Error); err != nil {
        return nil, err
    }
    return lr, nil
}

func nilIfZero(t time.Time) any { if t.IsZero() { return nil }; return t }

func orEmptyKeys(m map[domain.Source]string) map[domain.Source]string {
    if m == nil { return map[domain.Source]string{} }
    return m
}

func orEmptyOrigins(m map[string]domain.Source) map[string]domain.Source {
    if m == nil { return map[string]domain.Source{} }
    return m
}
