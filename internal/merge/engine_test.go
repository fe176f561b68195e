package merge

import (
    "testing"
    "time"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
)

func newEngine() *Engine { return NewEngine(domain.DefaultPrecedence) }

func TestMerge_HigherPrecedenceWinsScalars(t *testing.T) {
    e := newEngine()
    existing := domain.Task{
        ID: "t1", Title: "Fix login bug (urgent!)", Priority: domain.PriorityMedium,
        Origin: domain.SourceNotion,
        ExternalKeys: map[domain.Source]string{domain.SourceNotion: "page-1"},
    }
    incoming := domain.Task{
        Title: "Fix login bug", Priority: domain.PriorityHigh,
        Origin: domain.SourceJira,
        ExternalKeys: map[domain.Source]string{domain.SourceJira: "PROJ-1"},
    }
    out, conflicts := e.Merge(existing, incoming)

    if out.Title != "Fix login bug" { t.Fatalf("title = %q, want jira value", out.Title) }
    if out.Priority != domain.PriorityHigh { t.Fatalf("priority = %q", out.Priority) }
    if out.ExternalKeys[domain.SourceJira] != "PROJ-1" || out.ExternalKeys[domain.SourceNotion] != "page-1" {
        t.Fatalf("external keys not unioned: %v", out.ExternalKeys)
    }
    for _, c := range conflicts {
        if c.Blocking() { t.Fatalf("expected only auto-resolved conflicts, got %+v", c) }
    }
    if len(conflicts) == 0 { t.Fatal("expected audit conflicts for overwritten fields") }
}

func TestMerge_EmptyNeverBeatsNonEmpty(t *testing.T) {
    e := newEngine()
    existing := domain.Task{ID: "t1", Title: "Fix login bug", Description: "steps to reproduce...", Origin: domain.SourceCSV}
    incoming := domain.Task{Title: "Fix login bug", Origin: domain.SourceJira}
    out, conflicts := e.Merge(existing, incoming)
    if out.Description != "steps to reproduce..." {
        t.Fatalf("non-empty description lost: %q", out.Description)
    }
    if len(conflicts) != 0 { t.Fatalf("no disagreement expected, got %v", conflicts) }
}

func TestMerge_LabelsUnionAndTimestamps(t *testing.T) {
    e := newEngine()
    early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
    late := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
    existing := domain.Task{ID: "t1", Title: "x", Labels: []string{"auth", "bug"}, CreatedAt: late, UpdatedAt: early, Origin: domain.SourceJira}
    incoming := domain.Task{Title: "x", Labels: []string{"bug", "urgent"}, CreatedAt: early, UpdatedAt: late, Origin: domain.SourceNotion}
    out, _ := e.Merge(existing, incoming)
    want := []string{"auth", "bug", "urgent"}
    if len(out.Labels) != len(want) { t.Fatalf("labels = %v", out.Labels) }
    for i := range want {
        if out.Labels[i] != want[i] { t.Fatalf("labels = %v, want %v", out.Labels, want) }
    }
    if !out.CreatedAt.Equal(early) { t.Fatalf("created = %v, want earliest", out.CreatedAt) }
    if !out.UpdatedAt.Equal(late) { t.Fatalf("updated = %v, want latest", out.UpdatedAt) }
}

func TestMerge_StatusNeverMovesBackward(t *testing.T) {
    e := newEngine()
    existing := domain.Task{ID: "t1", Title: "x", Status: domain.StatusDone, Origin: domain.SourceNotion}
    incoming := domain.Task{Title: "x", Status: domain.StatusInProgress, Origin: domain.SourceJira}
    out, conflicts := e.Merge(existing, incoming)
    if out.Status != domain.StatusDone {
        t.Fatalf("status moved backward to %q", out.Status)
    }
    var sawBlocking bool
    for _, c := range conflicts {
        if c.Field == "status" && c.Blocking() { sawBlocking = true }
    }
    if !sawBlocking { t.Fatalf("expected blocking status conflict, got %v", conflicts) }
}

func TestMerge_ReopenAllowsBackwardStatus(t *testing.T) {
    e := newEngine()
    existing := domain.Task{ID: "t1", Title: "x", Status: domain.StatusDone, Origin: domain.SourceNotion}
    incoming := domain.Task{Title: "x", Status: domain.StatusTodo, Origin: domain.SourceJira, Reopened: true}
    out, _ := e.Merge(existing, incoming)
    if out.Status != domain.StatusTodo {
        t.Fatalf("explicit reopen must apply, status = %q", out.Status)
    }
    if out.Reopened { t.Fatal("reopen flag must be consumed") }
}

func TestMerge_ForwardStatusApplies(t *testing.T) {
    e := newEngine()
    existing := domain.Task{ID: "t1", Title: "x", Status: domain.StatusInProgress, Origin: domain.SourceNotion}
    incoming := domain.Task{Title: "x", Status: domain.StatusDone, Origin: domain.SourceJira}
    out, conflicts := e.Merge(existing, incoming)
    if out.Status != domain.StatusDone { t.Fatalf("status = %q", out.Status) }
    for _, c := range conflicts {
        if c.Field == "status" && c.Blocking() { t.Fatalf("forward move should auto-resolve: %+v", c) }
    }
}

func TestMerge_EqualPrecedenceBlocks(t *testing.T) {
    // csv and chat are both outside this precedence list, so they tie for
    // last rank while still being distinct sources.
    e := NewEngine([]domain.Source{domain.SourceJira})
    existing := domain.Task{ID: "t1", Title: "Fix login page", Origin: domain.SourceCSV}
    incoming := domain.Task{Title: "Fix login form", Origin: domain.SourceChat}
    out, conflicts := e.Merge(existing, incoming)
    if out.Title != "Fix login page" {
        t.Fatalf("equal rank must keep existing, got %q", out.Title)
    }
    if len(conflicts) != 1 || !conflicts[0].Blocking() {
        t.Fatalf("expected one blocking conflict, got %v", conflicts)
    }
}

func TestMerge_SameSourceRefreshApplies(t *testing.T) {
    e := newEngine()
    t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
    existing := domain.Task{
        ID: "t1", Title: "Write report", Status: domain.StatusInProgress,
        Origin: domain.SourceJira, UpdatedAt: t0,
        ExternalKeys: map[domain.Source]string{domain.SourceJira: "PROJ-1"},
    }
    incoming := domain.Task{
        Title: "Write quarterly report", Status: domain.StatusDone,
        Origin: domain.SourceJira, UpdatedAt: t0.AddDate(0, 0, 1),
        ExternalKeys: map[domain.Source]string{domain.SourceJira: "PROJ-1"},
    }
    out, conflicts := e.Merge(existing, incoming)
    if out.Title != "Write quarterly report" {
        t.Fatalf("a source must be able to rename its own record, title = %q", out.Title)
    }
    if out.Status != domain.StatusDone {
        t.Fatalf("a source must be able to advance its own record, status = %q", out.Status)
    }
    if len(conflicts) != 0 {
        t.Fatalf("a same-source refresh is not a disagreement, got %v", conflicts)
    }
}

func TestMerge_SameSourceStaleRecordIgnored(t *testing.T) {
    e := newEngine()
    t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
    existing := domain.Task{ID: "t1", Title: "Write quarterly report", Origin: domain.SourceJira, UpdatedAt: t0}
    incoming := domain.Task{Title: "Write report", Origin: domain.SourceJira, UpdatedAt: t0.AddDate(0, 0, -3)}
    out, conflicts := e.Merge(existing, incoming)
    if out.Title != "Write quarterly report" {
        t.Fatalf("stale same-source record must not win, title = %q", out.Title)
    }
    if len(conflicts) != 0 { t.Fatalf("no conflict expected, got %v", conflicts) }
}

func TestMerge_SameSourceBackwardStatusStillGuarded(t *testing.T) {
    e := newEngine()
    t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
    existing := domain.Task{ID: "t1", Title: "x", Status: domain.StatusDone, Origin: domain.SourceJira, UpdatedAt: t0}
    incoming := domain.Task{Title: "x", Status: domain.StatusInProgress, Origin: domain.SourceJira, UpdatedAt: t0.AddDate(0, 0, 1)}
    out, conflicts := e.Merge(existing, incoming)
    if out.Status != domain.StatusDone {
        t.Fatalf("backward move without reopen must not apply, status = %q", out.Status)
    }
    var sawBlocking bool
    for _, c := range conflicts {
        if c.Field == "status" && c.Blocking() { sawBlocking = true }
    }
    if !sawBlocking { t.Fatalf("expected blocking status conflict, got %v", conflicts) }
}

func TestMerge_SameSourceDifferentKeysBlock(t *testing.T) {
    e := newEngine()
    existing := domain.Task{ID: "t1", Title: "x", Origin: domain.SourceJira,
        ExternalKeys: map[domain.Source]string{domain.SourceJira: "PROJ-1"}}
    incoming := domain.Task{Title: "x", Origin: domain.SourceNotion,
        ExternalKeys: map[domain.Source]string{domain.SourceJira: "PROJ-2"}}
    out, conflicts := e.Merge(existing, incoming)
    if out.ExternalKeys[domain.SourceJira] != "PROJ-1" {
        t.Fatalf("existing key must be kept, got %q", out.ExternalKeys[domain.SourceJira])
    }
    var sawBlocking bool
    for _, c := range conflicts {
        if c.Kind == domain.ConflictBlocking && c.Field == "external_key:jira" { sawBlocking = true }
    }
    if !sawBlocking { t.Fatalf("expected blocking key conflict, got %v", conflicts) }
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
    e := newEngine()
    existing := domain.Task{ID: "t1", Title: "x", Labels: []string{"a"}, Origin: domain.SourceJira,
        ExternalKeys: map[domain.Source]string{domain.SourceJira: "PROJ-1"}}
    incoming := domain.Task{Title: "x", Labels: []string{"b"}, Origin: domain.SourceNotion,
        ExternalKeys: map[domain.Source]string{domain.SourceNotion: "page-1"}}
    _, _ = e.Merge(existing, incoming)
    if len(existing.ExternalKeys) != 1 || len(existing.Labels) != 1 {
        t.Fatalf("existing mutated: %+v", existing)
    }
    if len(incoming.ExternalKeys) != 1 { t.Fatalf("incoming mutated: %+v", incoming) }
}

func TestMerge_PointsAndDuePrecedence(t *testing.T) {
    e := newEngine()
    p3, p5 := 3.0, 5.0
    d1 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
    d2 := d1.AddDate(0, 0, 1)
    existing := domain.Task{ID: "t1", Title: "x", StoryPoints: &p3, DueAt: &d1, Origin: domain.SourceNotion}
    incoming := domain.Task{Title: "x", StoryPoints: &p5, DueAt: &d2, Origin: domain.SourceJira}
    out, conflicts := e.Merge(existing, incoming)
    if out.Points() != 5 { t.Fatalf("points = %v", out.Points()) }
    if !out.DueAt.Equal(d2) { t.Fatalf("due = %v", out.DueAt) }
    if len(conflicts) != 2 { t.Fatalf("expected two audit conflicts, got %v", conflicts) }
}

func TestMerge_FieldOriginsTracked(t *testing.T) {
    e := newEngine()
    existing := domain.Task{ID: "t1", Origin: domain.SourceChat}
    incoming := domain.Task{Title: "Set up CI", Origin: domain.SourceCSV}
    out, _ := e.Merge(existing, incoming)
    if out.FieldOrigins["title"] != domain.SourceCSV {
        t.Fatalf("field origin = %q", out.FieldOrigins["title"])
    }
}
