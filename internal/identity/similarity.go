package identity

import "strings"

// TitleSimilarity scores two task titles in [0,1]. It takes the better of a
// normalized edit-distance score and a token-overlap score, so both small
// typos ("Fix bgu") and reorderings ("report weekly" vs "weekly report")
// land above a sane threshold. Empty titles score 0.
func TitleSimilarity(a, b string) float64 {
    a = normalizeTitle(a)
    b = normalizeTitle(b)
    if a == "" || b == "" { return 0 }
    if a == b { return 1 }
    lev := levenshteinScore(a, b)
    tok := tokenOverlap(a, b)
    if tok > lev { return tok }
    return lev
}

func normalizeTitle(s string) string {
    s = strings.ToLower(strings.TrimSpace(s))
    return strings.Join(strings.Fields(s), " ")
}

func levenshteinScore(a, b string) float64 {
    ra, rb := []rune(a), []rune(b)
    la, lb := len(ra), len(rb)
    longest := la
    if lb > longest { longest = lb }
    if longest == 0 { return 0 }
    // single-row DP
    prev := make([]int, lb+1)
    cur := make([]int, lb+1)
    for j := 0; j <= lb; j++ { prev[j] = j }
    for i := 1; i <= la; i++ {
        cur[0] = i
        for j := 1; j <= lb; j++ {
            cost := 1
            if ra[i-1] == rb[j-1] { cost = 0 }
            m := prev[j] + 1
            if cur[j-1]+1 < m { m = cur[j-1] + 1 }
            if prev[j-1]+cost < m { m = prev[j-1] + cost }
            cur[j] = m
        }
        prev, cur = cur, prev
    }
    return 1 - float64(prev[lb])/float64(longest)
}

func tokenOverlap(a, b string) float64 {
    ta := strings.Fields(a)
    tb := strings.Fields(b)
    if len(ta) == 0 || len(tb) == 0 { return 0 }
    set := map[string]struct{}{}
    for _, t := range ta { set[t] = struct{}{} }
    common := 0
    seen := map[string]struct{}{}
    for _, t := range tb {
        if _, dup := seen[t]; dup { continue }
        seen[t] = struct{}{}
        if _, ok := set[t]; ok { common++ }
    }
    union := len(set)
    for t := range seen { if _, ok := set[t]; !ok { union++ } }
    return float64(common) / float64(union)
}
