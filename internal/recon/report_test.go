package recon

import (
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
)

func TestReport_Render(t *testing.T) {
    start := time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC)
    r := &SyncReport{
        DepartmentID: "eng",
        StartedAt:    start,
        FinishedAt:   start.Add(1200 * time.Millisecond),
        Created:      2,
        Updated:      1,
        Unchanged:    5,
        Resolved:     3,
        Blocking:     1,
        Sources: []SourceOutcome{
            {Source: domain.SourceJira, Fetched: 8},
            {Source: domain.SourceNotion, Skipped: true, Error: "status=503"},
        },
    }
    out := r.Render()
    require.Contains(t, out, "Sync eng: 2 created, 1 updated, 5 unchanged")
    require.Contains(t, out, "3 auto-resolved, 1 blocking")
    require.Contains(t, out, "Source notion skipped: status=503")
    require.Contains(t, out, "Took 1.2s")
    require.NotContains(t, out, "jira skipped")
}

func TestReport_RenderFailure(t *testing.T) {
    r := &SyncReport{DepartmentID: "eng", Failure: "all sources failed for department eng"}
    require.Contains(t, r.Render(), "FAILED: all sources failed")
}

func TestReport_Degraded(t *testing.T) {
    r := &SyncReport{Sources: []SourceOutcome{{Source: domain.SourceJira}}}
    require.False(t, r.Degraded())
    r.Sources = append(r.Sources, SourceOutcome{Source: domain.SourceCSV, Skipped: true})
    require.True(t, r.Degraded())
}
