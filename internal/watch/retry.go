package watch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds how often one check retries the renderer. The delay
// before attempt n+1 is Base * 2^n.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
}

// DefaultRetryPolicy makes two attempts with a two second pause between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 2, Base: time.Second}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.Base * time.Duration(1<<uint(attempt))
}

// ErrorBackoff spaces out checks after consecutive failures: Step per
// failure, capped at Max. It never gives up.
type ErrorBackoff struct {
	Step time.Duration
	Max  time.Duration
}

// DefaultErrorBackoff waits 5s per consecutive error, at most one minute.
func DefaultErrorBackoff() ErrorBackoff {
	return ErrorBackoff{Step: 5 * time.Second, Max: 60 * time.Second}
}

// Delay returns min(Max, Step*consecutive).
func (b ErrorBackoff) Delay(consecutive int) time.Duration {
	if consecutive < 1 {
		consecutive = 1
	}
	d := b.Step * time.Duration(consecutive)
	if b.Max > 0 && (d > b.Max || d < 0) {
		return b.Max
	}
	return d
}

// IdleDelay returns base plus a jitter in [0, jitterMax], drawn with randN
// which must return a value in [0, n).
func IdleDelay(base, jitterMax time.Duration, randN func(n int64) int64) time.Duration {
	if jitterMax <= 0 || randN == nil {
		return base
	}
	return base + time.Duration(randN(int64(jitterMax)+1))
}

// fetchResilient calls the renderer up to p.Attempts times and wraps the
// last failure in ErrFetchFailed.
func (w *Watcher) fetchResilient(ctx context.Context, log *zap.Logger) (string, error) {
	p := w.cfg.Retry
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		log.Info("render attempt", zap.Int("attempt", attempt), zap.Int("attempts", attempts))
		html, err := w.renderer.Render(ctx, w.cfg.URL)
		if err == nil {
			return html, nil
		}
		lastErr = err
		log.Warn("render attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		if attempt == attempts {
			break
		}
		if err := w.sleep(ctx, p.Delay(attempt)); err != nil {
			return "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
		}
	}
	return "", fmt.Errorf("%w after %d attempts: %w", ErrFetchFailed, attempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
