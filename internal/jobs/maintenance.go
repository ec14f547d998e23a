package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// StaleExecutionMessage is recorded on executions failed by the sweep.
const StaleExecutionMessage = "execution timed out"

type ExecutionSweeper interface {
	FailStaleExecutions(ctx context.Context, cutoff time.Time, message string) (int64, error)
}

type Reindexer interface {
	ReindexAllFromPG(ctx context.Context) error
}

// StaleExecutions fails executions that have been pending or running for
// longer than timeout.
func StaleExecutions(store ExecutionSweeper, timeout time.Duration, now func() time.Time, logger *zap.Logger) Job {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return Job{
		Name: "stale-executions",
		Spec: "@every 1m",
		Run: func(ctx context.Context) error {
			cutoff := now().UTC().Add(-timeout)
			n, err := store.FailStaleExecutions(ctx, cutoff, StaleExecutionMessage)
			if err != nil {
				return fmt.Errorf("fail stale executions: %w", err)
			}
			if n > 0 {
				logger.Warn("failed stale workflow executions", zap.Int64("count", n), zap.Time("cutoff", cutoff))
			}
			return nil
		},
	}
}

// SearchReindex rebuilds the search indexes from Postgres.
func SearchReindex(r Reindexer) Job {
	return Job{
		Name: "search-reindex",
		Spec: "@every 30m",
		Run:  r.ReindexAllFromPG,
	}
}
