/* Copyright (c) 2025 Ivan Bondarenko
 * SPDX-License-Identifier: BSD-3-Clause */
package dedup

import (
    "sort"
    "strings"
    "time"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/identity"
    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/merge"
)

// Deduplicator collapses a mixed batch of task records into one canonical
// record per logical task. Grouping is the transitive closure of pairwise
// identity matches; folding inside a group is delegated to the merge engine.
type Deduplicator struct {
    res        *identity.Resolver
    eng        *merge.Engine
    naiveLimit int
}

// DefaultNaiveLimit is the batch size up to which all pairs are compared
// directly instead of going through blocking buckets.
const DefaultNaiveLimit = 64

func New(res *identity.Resolver, eng *merge.Engine, naiveLimit int) *Deduplicator {
    if naiveLimit <= 0 { naiveLimit = DefaultNaiveLimit }
    return &Deduplicator{res: res, eng: eng, naiveLimit: naiveLimit}
}

// Reconcile returns the canonical records for the batch plus every conflict
// detected while folding. Output order is deterministic for identical input
// multisets regardless of input order.
func (d *Deduplicator) Reconcile(records []domain.Task) ([]domain.Task, []domain.Conflict) {
    if len(records) == 0 { return nil, nil }

    // Deterministic working order so union-find roots and fold order do not
    // depend on how the caller happened to concatenate source batches.
    work := make([]domain.Task, len(records))
    copy(work, records)
    sort.SliceStable(work, func(i, j int) bool { return lessRecord(d.eng, work[i], work[j]) })

    uf := newUnionFind(len(work))
    if len(work) <= d.naiveLimit {
        for i := 0; i < len(work); i++ {
            for j := i + 1; j < len(work); j++ {
                if d.res.Match(work[i], work[j]) { uf.union(i, j) }
            }
        }
    } else {
        d.blockAndMatch(work, uf)
    }

    groups := map[int][]int{}
    for i := range work {
        r := uf.find(i)
        groups[r] = append(groups[r], i)
    }
    roots := make([]int, 0, len(groups))
    for r := range groups { roots = append(roots, r) }
    sort.Ints(roots)

    var out []domain.Task
    var conflicts []domain.Conflict
    for _, r := range roots {
        members := groups[r]
        canon, cs := d.fold(work, members)
        out = append(out, canon)
        conflicts = append(conflicts, cs...)
        if len(members) >= 3 {
            if c, ambiguous := d.ambiguity(work, members, canon); ambiguous {
                conflicts = append(conflicts, c)
            }
        }
    }
    return out, conflicts
}

// fold merges a group's members into one record, seeded by the member from
// the most authoritative source so precedence sees it as "existing". Rank
// ties go to a member carrying an internal ID: that is the committed
// canonical record, and a blocking conflict must retain its value.
func (d *Deduplicator) fold(work []domain.Task, members []int) (domain.Task, []domain.Conflict) {
    seed := members[0]
    for _, m := range members[1:] {
        rm, rs := d.eng.Rank(work[m].Origin), d.eng.Rank(work[seed].Origin)
        switch {
        case rm < rs:
            seed = m
        case rm == rs && work[m].ID != "" && work[seed].ID == "":
            seed = m
        }
    }
    canon := work[seed].Clone()
    var conflicts []domain.Conflict
    for _, m := range members {
        if m == seed { continue }
        var cs []domain.Conflict
        canon, cs = d.eng.Merge(canon, work[m])
        conflicts = append(conflicts, cs...)
    }
    return canon, conflicts
}

// ambiguity flags groups held together only by transitive chains: if some
// pair of members does not match directly, the group is surfaced for human
// review rather than silently trusted.
func (d *Deduplicator) ambiguity(work []domain.Task, members []int, canon domain.Task) (domain.Conflict, bool) {
    for i := 0; i < len(members); i++ {
        for j := i + 1; j < len(members); j++ {
            if !d.res.Match(work[members[i]], work[members[j]]) {
                values := make([]domain.ConflictValue, 0, len(members))
                for _, m := range members {
                    values = append(values, domain.ConflictValue{Value: work[m].Title, Source: work[m].Origin})
                }
                return domain.Conflict{
                    TaskID:     canon.ID,
                    Field:      "identity",
                    Kind:       domain.ConflictAmbiguousGroup,
                    Values:     values,
                    DetectedAt: time.Now().UTC(),
                }, true
            }
        }
    }
    return domain.Conflict{}, false
}

// blockAndMatch avoids the full O(n^2) comparison for large batches by only
// comparing records that share a candidate bucket: an external key value, a
// linkage value, or a department plus normalized title prefix. Records that
// could plausibly match always share at least one bucket, so no true match
// is lost relative to the naive pass.
func (d *Deduplicator) blockAndMatch(work []domain.Task, uf *unionFind) {
    buckets := map[string][]int{}
    put := func(key string, i int) {
        if key != "" { buckets[key] = append(buckets[key], i) }
    }
    for i, t := range work {
        for src, k := range t.ExternalKeys {
            put("k:"+string(src)+":"+k, i)
        }
        for src, l := range t.Linkage {
            put("k:"+string(src)+":"+l, i)
        }
        put("t:"+t.DepartmentID+":"+titlePrefix(t.Title), i)
    }
    for _, idx := range buckets {
        for a := 0; a < len(idx); a++ {
            for b := a + 1; b < len(idx); b++ {
                i, j := idx[a], idx[b]
                if uf.find(i) == uf.find(j) { continue }
                if d.res.Match(work[i], work[j]) { uf.union(i, j) }
            }
        }
    }
}

// titlePrefix buckets fuzzy candidates by the first normalized token. Titles
// differing in their first word can still meet through a key or linkage
// bucket; pure fuzzy pairs with different leading tokens are rare enough to
// accept as the blocking trade-off.
func titlePrefix(title string) string {
    fields := strings.Fields(strings.ToLower(title))
    if len(fields) == 0 { return "" }
    tok := fields[0]
    if len(tok) > 6 { tok = tok[:6] }
    return tok
}

func lessRecord(eng *merge.Engine, a, b domain.Task) bool {
    ra, rb := eng.Rank(a.Origin), eng.Rank(b.Origin)
    if ra != rb { return ra < rb }
    ka, kb := primaryKey(a), primaryKey(b)
    if ka != kb { return ka < kb }
    if a.Title != b.Title { return a.Title < b.Title }
    return a.ID < b.ID
}

func primaryKey(t domain.Task) string {
    for _, src := range domain.DefaultPrecedence {
        if k := t.ExternalKey(src); k != "" { return string(src) + ":" + k }
    }
    return ""
}

type unionFind struct {
    parent []int
}

func newUnionFind(n int) *unionFind {
    p := make([]int, n)
    for i := range p { p[i] = i }
    return &unionFind{parent: p}
}

func (u *unionFind) find(i int) int {
    for u.parent[i] != i {
        u.parent[i] = u.parent[u.parent[i]]
        i = u.parent[i]
    }
    return i
}

// union keeps the smaller index as root so group roots are stable under the
// deterministic pre-sort.
func (u *unionFind) union(i, j int) {
    ri, rj := u.find(i), u.find(j)
    if ri == rj { return }
    if ri > rj { ri, rj = rj, ri }
    u.parent[rj] = ri
}
