package domain

import (
    "sort"
    "time"
)

// Source identifies which system produced a task record.
type Source string

const (
    SourceJira   Source = "jira"
    SourceNotion Source = "notion"
    SourceCSV    Source = "csv"
    SourceChat   Source = "chat"
    SourceManual Source = "manual"
)

// DefaultPrecedence orders sources from most to least authoritative.
var DefaultPrecedence = []Source{SourceJira, SourceNotion, SourceCSV, SourceChat, SourceManual}

func ParseSources(names []string) []Source {
    out := make([]Source, 0, len(names))
    for _, n := range names { if n != "" { out = append(out, Source(n)) } }
    if len(out) == 0 { return DefaultPrecedence }
    return out
}

// Status is a workflow stage. The order of statusOrder is the workflow order;
// a merge may never move status backward unless the incoming record is an
// explicit reopen.
type Status string

const (
    StatusBacklog    Status = "Backlog"
    StatusTodo       Status = "To Do"
    StatusInProgress Status = "In Progress"
    StatusReview     Status = "Review"
    StatusDone       Status = "Done"
)

var statusOrder = []Status{StatusBacklog, StatusTodo, StatusInProgress, StatusReview, StatusDone}

// StatusRank returns the workflow position of s, or -1 for an unknown status.
func StatusRank(s Status) int {
    for i, st := range statusOrder { if st == s { return i } }
    return -1
}

func ValidStatus(s Status) bool { return StatusRank(s) >= 0 }

type Priority string

const (
    PriorityCritical Priority = "critical"
    PriorityHigh     Priority = "high"
    PriorityMedium   Priority = "medium"
    PriorityLow      Priority = "low"
)

type TaskType string

const (
    TypeStory   TaskType = "story"
    TypeTask    TaskType = "task"
    TypeBug     TaskType = "bug"
    TypeEpic    TaskType = "epic"
    TypeSubtask TaskType = "subtask"
)

// Task is the canonical unit of work reconciled across sources.
type Task struct {
    ID           string
    Title        string
    Description  string
    Type         TaskType
    Priority     Priority
    Status       Status
    AssigneeID   string
    DepartmentID string

    // ExternalKeys holds at most one identifier per source (issue key, page id).
    ExternalKeys map[Source]string
    // Linkage holds cross-source references a record carries about *another*
    // source, e.g. a Notion page recording the Jira key it was created from.
    Linkage map[Source]string

    SprintID    string
    StoryPoints *float64

    CreatedAt time.Time
    UpdatedAt time.Time
    DueAt     *time.Time
    Labels    []string

    // Origin is the source that produced this record. FieldOrigins records,
    // per contested field, which source last supplied the committed value.
    Origin       Source
    FieldOrigins map[string]Source

    // Reopened marks an explicit reopen action; only then may a merge move
    // status backward in workflow order.
    Reopened bool
}

func (t Task) ExternalKey(s Source) string {
    if t.ExternalKeys == nil { return "" }
    return t.ExternalKeys[s]
}

func (t Task) IsDone() bool { return t.Status == StatusDone }

func (t Task) Points() float64 { if t.StoryPoints == nil { return 0 }; return *t.StoryPoints }

// Clone returns a deep copy so merge stays free of shared-map aliasing.
func (t Task) Clone() Task {
    out := t
    if t.ExternalKeys != nil {
        out.ExternalKeys = make(map[Source]string, len(t.ExternalKeys))
        for k, v := range t.ExternalKeys { out.ExternalKeys[k] = v }
    }
    if t.Linkage != nil {
        out.Linkage = make(map[Source]string, len(t.Linkage))
        for k, v := range t.Linkage { out.Linkage[k] = v }
    }
    if t.FieldOrigins != nil {
        out.FieldOrigins = make(map[string]Source, len(t.FieldOrigins))
        for k, v := range t.FieldOrigins { out.FieldOrigins[k] = v }
    }
    if t.Labels != nil { out.Labels = append([]string(nil), t.Labels...) }
    if t.StoryPoints != nil { p := *t.StoryPoints; out.StoryPoints = &p }
    if t.DueAt != nil { d := *t.DueAt; out.DueAt = &d }
    return out
}

// UnionLabels merges two label sets into a sorted, de-duplicated slice.
func UnionLabels(a, b []string) []string {
    if len(a) == 0 && len(b) == 0 { return nil }
    set := map[string]struct{}{}
    for _, l := range a { if l != "" { set[l] = struct{}{} } }
    for _, l := range b { if l != "" { set[l] = struct{}{} } }
    out := make([]string, 0, len(set))
    for l := range set { out = append(out, l) }
    sort.Strings(out)
    return out
}

// ConflictKind distinguishes audit records from disagreements that block a
// field update.
type ConflictKind string

const (
    // ConflictAutoResolved records a disagreement precedence resolved; kept
    // for audit only.
    ConflictAutoResolved ConflictKind = "auto_resolved"
    // ConflictBlocking means no precedence rule applied; the field keeps its
    // prior committed value for this pass.
    ConflictBlocking ConflictKind = "blocking"
    // ConflictAmbiguousGroup flags an identity group formed by transitive
    // closure where not every pair matched directly.
    ConflictAmbiguousGroup ConflictKind = "ambiguous_group"
)

type ConflictValue struct {
    Value  string `json:"value"`
    Source Source `json:"source"`
}

// Conflict is a field-level disagreement between two merge inputs.
type Conflict struct {
    TaskID     string
    Field      string
    Kind       ConflictKind
    Values     []ConflictValue
    DetectedAt time.Time
}

func (c Conflict) Blocking() bool { return c.Kind == ConflictBlocking }
