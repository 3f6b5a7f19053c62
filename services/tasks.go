package services

import (
	"context"
	"sync"
	"time"

	"go.pilab.hu/idp/internal/metrics"
	"go.pilab.hu/idp/log"
)

// BestEffort runs side tasks whose outcome never reaches the caller. Failures
// are logged and counted.
type BestEffort struct {
	wg      sync.WaitGroup
	logger  log.Logger
	timeout time.Duration
}

func NewBestEffort(logger log.Logger, timeout time.Duration) *BestEffort {
	return &BestEffort{logger: logger, timeout: timeout}
}

// Go dispatches fn without waiting for it. fn gets a context that keeps ctx's
// values but not its cancellation, bounded by the task timeout.
func (b *BestEffort) Go(ctx context.Context, name string, fields log.Fields, fn func(ctx context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer cancel()

		if err := fn(taskCtx); err != nil {
			metrics.BestEffortFailuresTotal.WithLabelValues(name).Inc()
			b.logger.Warn(taskCtx, "Best-effort task failed", mergeFields(fields, log.Fields{
				"task":  name,
				"error": err.Error(),
			}))
			return
		}
		b.logger.Debug(taskCtx, "Best-effort task done", mergeFields(fields, log.Fields{"task": name}))
	}()
}

// Wait blocks until every dispatched task has finished.
func (b *BestEffort) Wait() {
	b.wg.Wait()
}

func mergeFields(a, b log.Fields) log.Fields {
	out := make(log.Fields, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
