package identity

import (
    "testing"
    "time"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
)

func TestTitleSimilarity_HandlesTyposAndReorderings(t *testing.T) {
    cases := []struct {
        a, b string
        min  float64
    }{
        {"Fix login bug", "Fix login bug", 1.0},
        {"Fix login bgu", "Fix login bug", 0.85},
        {"weekly report generation", "generation weekly report", 0.85},
        {"Fix  Login   Bug", "fix login bug", 1.0},
    }
    for _, c := range cases {
        if got := TitleSimilarity(c.a, c.b); got < c.min {
            t.Fatalf("TitleSimilarity(%q, %q) = %v, want >= %v", c.a, c.b, got, c.min)
        }
    }
}

func TestTitleSimilarity_UnrelatedTitlesScoreLow(t *testing.T) {
    if got := TitleSimilarity("Fix login bug", "Quarterly budget planning"); got >= 0.5 {
        t.Fatalf("unrelated titles scored %v", got)
    }
    if got := TitleSimilarity("", "anything"); got != 0 {
        t.Fatalf("empty title scored %v", got)
    }
}

func TestMatch_SameExternalKey(t *testing.T) {
    r := NewResolver(0.85, 1)
    a := domain.Task{Title: "completely different", ExternalKeys: map[domain.Source]string{domain.SourceJira: "PROJ-1"}}
    b := domain.Task{Title: "something else entirely", ExternalKeys: map[domain.Source]string{domain.SourceJira: "PROJ-1"}}
    if !r.Match(a, b) { t.Fatal("same jira key must match regardless of titles") }
}

func TestMatch_LinkageReference(t *testing.T) {
    r := NewResolver(0.85, 1)
    jiraTask := domain.Task{Title: "Implement export", ExternalKeys: map[domain.Source]string{domain.SourceJira: "PROJ-7"}}
    notionPage := domain.Task{
        Title:        "Export feature",
        ExternalKeys: map[domain.Source]string{domain.SourceNotion: "page-123"},
        Linkage:      map[domain.Source]string{domain.SourceJira: "PROJ-7"},
    }
    if !r.Match(jiraTask, notionPage) { t.Fatal("linkage to jira key must match") }
    if !r.Match(notionPage, jiraTask) { t.Fatal("linkage match must be symmetric") }
}

func TestMatch_DifferentKeysSameSourceNeverMatch(t *testing.T) {
    r := NewResolver(0.85, 1)
    a := domain.Task{Title: "Fix login bug", DepartmentID: "eng", ExternalKeys: map[domain.Source]string{domain.SourceJira: "PROJ-1"}}
    b := domain.Task{Title: "Fix login bug", DepartmentID: "eng", ExternalKeys: map[domain.Source]string{domain.SourceJira: "PROJ-2"}}
    if r.Match(a, b) { t.Fatal("distinct keys in the same source must not match even with identical titles") }
}

func TestMatch_FuzzyRequiresDepartmentAndAssigneeAgreement(t *testing.T) {
    r := NewResolver(0.85, 1)
    due := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
    a := domain.Task{Title: "Prepare release notes", DepartmentID: "eng", AssigneeID: "u1", DueAt: &due}
    b := domain.Task{Title: "Prepare release notes", DepartmentID: "eng", AssigneeID: "u1", DueAt: &due}
    if !r.Match(a, b) { t.Fatal("identical fuzzy records must match") }

    b2 := b
    b2.DepartmentID = "design"
    if r.Match(a, b2) { t.Fatal("different departments must not fuzzy-match") }

    b3 := b
    b3.AssigneeID = "u2"
    if r.Match(a, b3) { t.Fatal("different assignees must not fuzzy-match") }

    b4 := b
    b4.AssigneeID = ""
    if !r.Match(a, b4) { t.Fatal("unset assignee must be compatible") }
}

func TestMatch_DueDateTolerance(t *testing.T) {
    r := NewResolver(0.85, 1)
    d1 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
    d2 := d1.Add(24 * time.Hour)
    d3 := d1.Add(72 * time.Hour)
    a := domain.Task{Title: "Prepare release notes", DepartmentID: "eng", DueAt: &d1}
    b := domain.Task{Title: "Prepare release notes", DepartmentID: "eng", DueAt: &d2}
    if !r.Match(a, b) { t.Fatal("one day apart is within tolerance") }
    b.DueAt = &d3
    if r.Match(a, b) { t.Fatal("three days apart exceeds tolerance") }
    b.DueAt = nil
    if !r.Match(a, b) { t.Fatal("missing due date must be compatible") }
}

func TestMatch_BelowThresholdDoesNotMatch(t *testing.T) {
    r := NewResolver(0.85, 1)
    a := domain.Task{Title: "Fix login bug", DepartmentID: "eng"}
    b := domain.Task{Title: "Add dashboard widget", DepartmentID: "eng"}
    if r.Match(a, b) { t.Fatal("dissimilar titles must not match") }
}
