package replay

import (
	"context"

	"ladder-tracker/internal/domain"
)

// JobResult is the terminal outcome of a background replay.
type JobResult struct {
	Result *Result
	Err    error
}

// Job is a replay running off the caller's goroutine. Progress delivers
// coarse updates and is closed when the run ends; Done delivers exactly one
// JobResult. Cancel abandons the computation, which has no persisted side
// effects since persistence happens only after a full replay completes.
type Job struct {
	Progress <-chan Progress
	Done     <-chan JobResult

	cancel context.CancelFunc
}

func (j *Job) Cancel() {
	j.cancel()
}

// Start launches Replay on its own goroutine. A slow Progress consumer never
// stalls the computation: stale reports are dropped in favor of newer ones.
func (e *Engine) Start(ctx context.Context, playerIDs []int64, matches []domain.Match, seasonID, startSeq int64) *Job {
	ctx, cancel := context.WithCancel(ctx)

	progress := make(chan Progress, 1)
	done := make(chan JobResult, 1)

	go func() {
		defer close(done)
		defer close(progress)
		defer cancel()

		result, err := e.Replay(ctx, playerIDs, matches, seasonID, startSeq, func(p Progress) {
			for {
				select {
				case progress <- p:
					return
				default:
				}
				// Channel full: evict the stale report.
				select {
				case <-progress:
				default:
				}
			}
		})
		done <- JobResult{Result: result, Err: err}
	}()

	return &Job{Progress: progress, Done: done, cancel: cancel}
}
