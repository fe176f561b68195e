/* Copyright (c) 2025 Ivan Bondarenko
 * SPDX-License-Identifier: BSD-3-Clause */
package merge

import (
    "fmt"
    "time"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
)

// Engine combines two records known to denote the same task under a
// source-precedence policy. Merge is pure: it never touches storage and never
// mutates its inputs.
type Engine struct {
    rank map[domain.Source]int
}

func NewEngine(precedence []domain.Source) *Engine {
    if len(precedence) == 0 { precedence = domain.DefaultPrecedence }
    rank := make(map[domain.Source]int, len(precedence))
    for i, s := range precedence { rank[s] = i }
    return &Engine{rank: rank}
}

// Rank returns the precedence position of src; unknown sources rank last.
func (e *Engine) Rank(src domain.Source) int {
    if r, ok := e.rank[src]; ok { return r }
    return len(e.rank)
}

// Merge folds incoming into existing. existing is the currently canonical
// record (possibly brand new); incoming is a freshly observed record matched
// to it by the identity resolver. Returned conflicts include auto-resolved
// ones (audit trail) as well as blocking ones, where the field keeps
// existing's value for this pass.
func (e *Engine) Merge(existing, incoming domain.Task) (domain.Task, []domain.Conflict) {
    out := existing.Clone()
    now := time.Now().UTC()
    var conflicts []domain.Conflict

    if out.ID == "" { out.ID = incoming.ID }
    if out.DepartmentID == "" { out.DepartmentID = incoming.DepartmentID }
    if out.Origin == "" { out.Origin = incoming.Origin }

    conflictID := out.ID
    if conflictID == "" { conflictID = firstKey(existing, incoming) }

    add := func(field string, kind domain.ConflictKind, exVal, inVal string, exSrc, inSrc domain.Source) {
        conflicts = append(conflicts, domain.Conflict{
            TaskID: conflictID,
            Field:  field,
            Kind:   kind,
            Values: []domain.ConflictValue{
                {Value: exVal, Source: exSrc},
                {Value: inVal, Source: inSrc},
            },
            DetectedAt: now,
        })
    }

    // External keys union: a task can exist in several sources at once. A
    // *different* key for the same source cannot be merged automatically.
    for src, k := range incoming.ExternalKeys {
        if k == "" { continue }
        if out.ExternalKeys == nil { out.ExternalKeys = map[domain.Source]string{} }
        cur := out.ExternalKeys[src]
        switch {
        case cur == "":
            out.ExternalKeys[src] = k
        case cur != k:
            add("external_key:"+string(src), domain.ConflictBlocking, cur, k, existing.Origin, incoming.Origin)
        }
    }
    for src, l := range incoming.Linkage {
        if l == "" { continue }
        if out.Linkage == nil { out.Linkage = map[domain.Source]string{} }
        if out.Linkage[src] == "" { out.Linkage[src] = l }
    }

    out.Labels = domain.UnionLabels(existing.Labels, incoming.Labels)

    // Timestamps: earliest known creation, latest known update.
    if !incoming.CreatedAt.IsZero() && (out.CreatedAt.IsZero() || incoming.CreatedAt.Before(out.CreatedAt)) {
        out.CreatedAt = incoming.CreatedAt
    }
    if incoming.UpdatedAt.After(out.UpdatedAt) { out.UpdatedAt = incoming.UpdatedAt }

    e.mergeStatus(&out, existing, incoming, add)

    // Scalar descriptive fields: non-empty wins; both non-empty and different
    // resolves by precedence with an audit conflict; equal precedence blocks.
    e.mergeScalar(&out, "title", existing, incoming,
        func(t domain.Task) string { return t.Title },
        func(t *domain.Task, v string) { t.Title = v }, add)
    e.mergeScalar(&out, "description", existing, incoming,
        func(t domain.Task) string { return t.Description },
        func(t *domain.Task, v string) { t.Description = v }, add)
    e.mergeScalar(&out, "priority", existing, incoming,
        func(t domain.Task) string { return string(t.Priority) },
        func(t *domain.Task, v string) { t.Priority = domain.Priority(v) }, add)
    e.mergeScalar(&out, "type", existing, incoming,
        func(t domain.Task) string { return string(t.Type) },
        func(t *domain.Task, v string) { t.Type = domain.TaskType(v) }, add)
    e.mergeScalar(&out, "assignee", existing, incoming,
        func(t domain.Task) string { return t.AssigneeID },
        func(t *domain.Task, v string) { t.AssigneeID = v }, add)
    e.mergeScalar(&out, "sprint", existing, incoming,
        func(t domain.Task) string { return t.SprintID },
        func(t *domain.Task, v string) { t.SprintID = v }, add)

    e.mergePoints(&out, existing, incoming, add)
    e.mergeDue(&out, existing, incoming, add)

    out.Reopened = false
    return out, conflicts
}

type addFn func(field string, kind domain.ConflictKind, exVal, inVal string, exSrc, inSrc domain.Source)

// fieldSource is the source competing for a field on the existing side: the
// recorded per-field provenance when present, else the record's origin.
func fieldSource(t domain.Task, field string) domain.Source {
    if t.FieldOrigins != nil {
        if s, ok := t.FieldOrigins[field]; ok && s != "" { return s }
    }
    return t.Origin
}

func setOrigin(t *domain.Task, field string, src domain.Source) {
    if t.FieldOrigins == nil { t.FieldOrigins = map[string]domain.Source{} }
    t.FieldOrigins[field] = src
}

func (e *Engine) mergeScalar(out *domain.Task, field string, existing, incoming domain.Task,
    get func(domain.Task) string, set func(*domain.Task, string), add addFn) {

    exVal := get(existing)
    inVal := get(incoming)
    switch {
    case inVal == "":
        return
    case exVal == "":
        set(out, inVal)
        setOrigin(out, field, incoming.Origin)
    case exVal == inVal:
        return
    default:
        exSrc := fieldSource(existing, field)
        inSrc := incoming.Origin
        if exSrc == inSrc {
            // a source refreshing its own field is an update, not a dispute
            if !incoming.UpdatedAt.Before(existing.UpdatedAt) {
                set(out, inVal)
                setOrigin(out, field, inSrc)
            }
            return
        }
        exRank, inRank := e.Rank(exSrc), e.Rank(inSrc)
        switch {
        case inRank < exRank:
            set(out, inVal)
            setOrigin(out, field, inSrc)
            add(field, domain.ConflictAutoResolved, exVal, inVal, exSrc, inSrc)
        case exRank < inRank:
            add(field, domain.ConflictAutoResolved, exVal, inVal, exSrc, inSrc)
        default:
            // equal claimed precedence across distinct sources: nobody wins
            add(field, domain.ConflictBlocking, exVal, inVal, exSrc, inSrc)
        }
    }
}

// mergeStatus applies precedence like any scalar, except that a winning value
// may not move status backward in workflow order unless the incoming record
// is an explicit reopen. An illegal backward move becomes a blocking conflict
// and existing's status is retained.
func (e *Engine) mergeStatus(out *domain.Task, existing, incoming domain.Task, add addFn) {
    exVal, inVal := existing.Status, incoming.Status
    switch {
    case inVal == "":
        return
    case exVal == "":
        out.Status = inVal
        setOrigin(out, "status", incoming.Origin)
        return
    case exVal == inVal:
        return
    }
    exSrc := fieldSource(existing, "status")
    inSrc := incoming.Origin
    if exSrc == inSrc {
        // the source's own current state, applied unless stale; the backward
        // guard still holds without an explicit reopen
        if incoming.UpdatedAt.Before(existing.UpdatedAt) { return }
        if domain.StatusRank(inVal) < domain.StatusRank(exVal) && !incoming.Reopened {
            add("status", domain.ConflictBlocking, string(exVal), string(inVal), exSrc, inSrc)
            return
        }
        out.Status = inVal
        setOrigin(out, "status", inSrc)
        return
    }
    exRank, inRank := e.Rank(exSrc), e.Rank(inSrc)
    if exRank == inRank {
        add("status", domain.ConflictBlocking, string(exVal), string(inVal), exSrc, inSrc)
        return
    }
    if inRank < exRank {
        backward := domain.StatusRank(inVal) < domain.StatusRank(exVal)
        if backward && !incoming.Reopened {
            add("status", domain.ConflictBlocking, string(exVal), string(inVal), exSrc, inSrc)
            return
        }
        out.Status = inVal
        setOrigin(out, "status", inSrc)
    }
    add("status", domain.ConflictAutoResolved, string(exVal), string(inVal), exSrc, inSrc)
}

func (e *Engine) mergePoints(out *domain.Task, existing, incoming domain.Task, add addFn) {
    exP, inP := existing.StoryPoints, incoming.StoryPoints
    switch {
    case inP == nil:
        return
    case exP == nil:
        p := *inP
        out.StoryPoints = &p
        setOrigin(out, "story_points", incoming.Origin)
    case *exP == *inP:
        return
    default:
        exSrc := fieldSource(existing, "story_points")
        inSrc := incoming.Origin
        if exSrc == inSrc {
            if !incoming.UpdatedAt.Before(existing.UpdatedAt) {
                p := *inP
                out.StoryPoints = &p
                setOrigin(out, "story_points", inSrc)
            }
            return
        }
        exRank, inRank := e.Rank(exSrc), e.Rank(inSrc)
        exVal := fmt.Sprintf("%g", *exP)
        inVal := fmt.Sprintf("%g", *inP)
        switch {
        case inRank < exRank:
            p := *inP
            out.StoryPoints = &p
            setOrigin(out, "story_points", inSrc)
            add("story_points", domain.ConflictAutoResolved, exVal, inVal, exSrc, inSrc)
        case exRank < inRank:
            add("story_points", domain.ConflictAutoResolved, exVal, inVal, exSrc, inSrc)
        default:
            add("story_points", domain.ConflictBlocking, exVal, inVal, exSrc, inSrc)
        }
    }
}

func (e *Engine) mergeDue(out *domain.Task, existing, incoming domain.Task, add addFn) {
    exD, inD := existing.DueAt, incoming.DueAt
    switch {
    case inD == nil:
        return
    case exD == nil:
        d := *inD
        out.DueAt = &d
        setOrigin(out, "due_date", incoming.Origin)
    case exD.Equal(*inD):
        return
    default:
        exSrc := fieldSource(existing, "due_date")
        inSrc := incoming.Origin
        if exSrc == inSrc {
            if !incoming.UpdatedAt.Before(existing.UpdatedAt) {
                d := *inD
                out.DueAt = &d
                setOrigin(out, "due_date", inSrc)
            }
            return
        }
        exRank, inRank := e.Rank(exSrc), e.Rank(inSrc)
        exVal := exD.Format(time.RFC3339)
        inVal := inD.Format(time.RFC3339)
        switch {
        case inRank < exRank:
            d := *inD
            out.DueAt = &d
            setOrigin(out, "due_date", inSrc)
            add("due_date", domain.ConflictAutoResolved, exVal, inVal, exSrc, inSrc)
        case exRank < inRank:
            add("due_date", domain.ConflictAutoResolved, exVal, inVal, exSrc, inSrc)
        default:
            add("due_date", domain.ConflictBlocking, exVal, inVal, exSrc, inSrc)
        }
    }
}

func firstKey(a, b domain.Task) string {
    for _, t := range []domain.Task{a, b} {
        for _, src := range domain.DefaultPrecedence {
            if k := t.ExternalKey(src); k != "" { return string(src) + ":" + k }
        }
    }
    return ""
}
