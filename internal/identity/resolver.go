/* Copyright (c) 2025 Ivan Bondarenko
 * SPDX-License-Identifier: BSD-3-Clause */
package identity

import (
    "time"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
)

// Resolver decides whether two task records denote the same logical task.
// Match is deterministic and symmetric; the rules are applied in order and
// the first hit wins.
type Resolver struct {
    threshold    float64
    dueTolerance time.Duration
}

func NewResolver(threshold float64, dueToleranceDays int) *Resolver {
    if threshold <= 0 || threshold > 1 { threshold = 0.85 }
    if dueToleranceDays < 0 { dueToleranceDays = 1 }
    return &Resolver{threshold: threshold, dueTolerance: time.Duration(dueToleranceDays) * 24 * time.Hour}
}

func (r *Resolver) Match(a, b domain.Task) bool {
    if keysMatch(a, b) { return true }
    if linkageMatch(a, b) || linkageMatch(b, a) { return true }
    // Fuzzy matching applies only when the records share no external key for
    // any common source, i.e. typically freshly parsed file/chat records.
    if keysOverlap(a, b) { return false }
    return r.fuzzyMatch(a, b)
}

// keysMatch reports whether both records carry the same populated external
// key for the same source.
func keysMatch(a, b domain.Task) bool {
    for src, ka := range a.ExternalKeys {
        if ka == "" { continue }
        if kb := b.ExternalKey(src); kb != "" && ka == kb { return true }
    }
    return false
}

// linkageMatch reports whether one record's external key equals a linkage
// value stored on the other, e.g. a Notion page recording its Jira key.
func linkageMatch(a, b domain.Task) bool {
    for src, link := range b.Linkage {
        if link == "" { continue }
        if ka := a.ExternalKey(src); ka != "" && ka == link { return true }
    }
    return false
}

// keysOverlap reports whether both records carry a populated key for any
// common source (necessarily different keys, or keysMatch would have hit).
func keysOverlap(a, b domain.Task) bool {
    for src, ka := range a.ExternalKeys {
        if ka == "" { continue }
        if b.ExternalKey(src) != "" { return true }
    }
    return false
}

func (r *Resolver) fuzzyMatch(a, b domain.Task) bool {
    if a.Title == "" || b.Title == "" { return false }
    if a.DepartmentID == "" || a.DepartmentID != b.DepartmentID { return false }
    if TitleSimilarity(a.Title, b.Title) < r.threshold { return false }
    if !dueWithin(a.DueAt, b.DueAt, r.dueTolerance) { return false }
    // same assignee, or one side unset
    if a.AssigneeID != "" && b.AssigneeID != "" && a.AssigneeID != b.AssigneeID { return false }
    return true
}

// dueWithin treats a missing due date on either side as compatible, same as
// an unset assignee: incomplete records should not be blocked from matching.
func dueWithin(a, b *time.Time, tol time.Duration) bool {
    if a == nil || b == nil { return true }
    d := a.Sub(*b)
    if d < 0 { d = -d }
    return d <= tol
}
