package source

import (
    "context"
    "time"

    "github.com/cenkalti/backoff/v4"
    "github.com/rs/zerolog"

    "github.com/IvanBondarenkoIT/jira-notion-syncron/internal/domain"
)

// Scope narrows a fetch to one department's records.
type Scope struct {
    DepartmentID string
    Since        time.Time
}

// Adapter pulls task records from one external system. Fetch must be
// read-only against the remote and safe to call concurrently for different
// scopes. Failures should be wrapped in *domain.SourceError so the caller
// can tell transient from permanent.
type Adapter interface {
    Name() domain.Source
    Fetch(ctx context.Context, scope Scope) ([]domain.Task, error)
}

// RetryPolicy bounds FetchWithRetry.
type RetryPolicy struct {
    Attempts uint64
    BaseWait time.Duration
    Timeout  time.Duration
}

// FetchWithRetry runs one adapter fetch under a per-attempt timeout, retrying
// transient failures with exponential backoff. Permanent failures return
// immediately.
func FetchWithRetry(ctx context.Context, a Adapter, scope Scope, pol RetryPolicy, log zerolog.Logger) ([]domain.Task, error) {
    if pol.Attempts == 0 { pol.Attempts = 3 }
    if pol.BaseWait <= 0 { pol.BaseWait = 2 * time.Second }
    if pol.Timeout <= 0 { pol.Timeout = 30 * time.Second }

    bo := backoff.NewExponentialBackOff()
    bo.InitialInterval = pol.BaseWait

    var tasks []domain.Task
    attempt := 0
    op := func() error {
        attempt++
        fctx, cancel := context.WithTimeout(ctx, pol.Timeout)
        defer cancel()
        out, err := a.Fetch(fctx, scope)
        if err != nil {
            if !domain.IsTransient(err) { return backoff.Permanent(err) }
            log.Warn().Err(err).Str("source", string(a.Name())).Str("department", scope.DepartmentID).
                Int("attempt", attempt).Msg("source fetch failed, will retry")
            return err
        }
        tasks = out
        return nil
    }
    err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, pol.Attempts-1), ctx))
    if err != nil { return nil, err }
    return tasks, nil
}
