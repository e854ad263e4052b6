package watch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/clock/system"
	"github.com/JakeFAU/pagewatch/internal/hash/sha256"
	"github.com/JakeFAU/pagewatch/internal/id/uuid"
	"github.com/JakeFAU/pagewatch/internal/metrics"
	"github.com/JakeFAU/pagewatch/internal/normalize"
)

// Outcome classifies a completed check.
type Outcome string

// Check outcomes, also used as metric labels.
const (
	OutcomeFirstRun  Outcome = "first_run"
	OutcomeChanged   Outcome = "changed"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeError     Outcome = "error"
)

// Config controls the watch loop.
type Config struct {
	URL       string
	Interval  time.Duration
	JitterMax time.Duration
	Retry     RetryPolicy
	Backoff   ErrorBackoff
}

// Result describes one successful check. Message is empty when nothing
// should be sent.
type Result struct {
	CheckID     string
	Outcome     Outcome
	Fingerprint string
	Message     string
}

// Stats is a point-in-time snapshot of the loop.
type Stats struct {
	URL               string    `json:"url"`
	State             string    `json:"state"`
	Checks            int       `json:"checks"`
	Changes           int       `json:"changes"`
	Errors            int       `json:"errors"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastOutcome       Outcome   `json:"last_outcome,omitempty"`
	LastFingerprint   string    `json:"last_fingerprint,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
	LastCheckAt       time.Time `json:"last_check_at,omitzero"`
	NextCheckAt       time.Time `json:"next_check_at,omitzero"`
}

// Loop states reported by Stats.
const (
	StateStartup  = "startup"
	StateChecking = "checking"
	StateIdle     = "idle"
	StateError    = "error"
	StateStopped  = "stopped"
)

// Watcher runs the periodic check loop for a single URL.
type Watcher struct {
	cfg        Config
	renderer   Renderer
	normalizer Normalizer
	hasher     Fingerprinter
	store      StateStore
	notifier   Notifier
	clock      Clock
	ids        IDGenerator
	logger     *zap.Logger
	site       string

	sleep func(ctx context.Context, d time.Duration) error
	randN func(n int64) int64

	mu    sync.RWMutex
	stats Stats
}

// New wires a Watcher. Nil normalizer, hasher, clock or ids fall back to the
// production implementations.
func New(
	cfg Config,
	renderer Renderer,
	normalizer Normalizer,
	hasher Fingerprinter,
	store StateStore,
	notifier Notifier,
	clock Clock,
	ids IDGenerator,
	logger *zap.Logger,
) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if normalizer == nil {
		normalizer = normalize.New()
	}
	if hasher == nil {
		hasher = sha256.New()
	}
	if clock == nil {
		clock = system.New()
	}
	if ids == nil {
		ids = uuid.New()
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Backoff.Step == 0 {
		cfg.Backoff = DefaultErrorBackoff()
	}
	return &Watcher{
		cfg:        cfg,
		renderer:   renderer,
		normalizer: normalizer,
		hasher:     hasher,
		store:      store,
		notifier:   notifier,
		clock:      clock,
		ids:        ids,
		logger:     logger.With(zap.String("url", cfg.URL)),
		site:       metrics.SanitizeSite(cfg.URL),
		sleep:      sleepContext,
		randN:      rand.Int64N,
		stats:      Stats{URL: cfg.URL, State: StateStartup},
	}
}

// Stats returns a copy of the current loop statistics.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// CheckOnce performs one full cycle: render with bounded retry, normalize,
// fingerprint, compare and persist. The returned message is empty when the
// content did not change. The state file is only written when the
// fingerprint differs from the stored one.
func (w *Watcher) CheckOnce(ctx context.Context) (Result, error) {
	checkID, err := w.ids.NewID()
	if err != nil {
		w.logger.Warn("check id generation failed", zap.Error(err))
	}
	log := w.logger.With(zap.String("check_id", checkID))
	log.Info("checking page")

	html, err := w.fetchResilient(ctx, log)
	if err != nil {
		return Result{CheckID: checkID, Outcome: OutcomeError}, err
	}

	canonical := w.normalizer.Normalize(html)
	fingerprint := w.hasher.Fingerprint(canonical)
	log.Debug("page fingerprinted",
		zap.Int("html_bytes", len(html)),
		zap.Int("text_chars", len(canonical)),
		zap.String("fingerprint", fingerprint),
	)

	previous, found, err := w.store.Load(ctx)
	if err != nil {
		return Result{CheckID: checkID, Outcome: OutcomeError}, fmt.Errorf("load state: %w", err)
	}

	res := Result{CheckID: checkID, Fingerprint: fingerprint}
	switch {
	case !found:
		res.Outcome = OutcomeFirstRun
		res.Message = InitializedMessage(w.cfg.URL, w.clock.Now())
	case previous != fingerprint:
		res.Outcome = OutcomeChanged
		res.Message = ChangedMessage(w.cfg.URL, w.clock.Now())
	default:
		res.Outcome = OutcomeUnchanged
		log.Info("no change detected")
		return res, nil
	}

	if err := w.store.Save(ctx, fingerprint); err != nil {
		return Result{CheckID: checkID, Outcome: OutcomeError}, fmt.Errorf("save state: %w", err)
	}
	if res.Outcome == OutcomeChanged {
		log.Info("change detected", zap.String("previous", previous), zap.String("fingerprint", fingerprint))
	} else {
		log.Info("initial fingerprint recorded", zap.String("fingerprint", fingerprint))
	}
	return res, nil
}

// Run announces startup and then checks forever until ctx is cancelled.
// Check failures never end the loop; they only stretch the next delay.
// It returns ctx.Err() once cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watch starting",
		zap.Duration("interval", w.cfg.Interval),
		zap.Duration("jitter_max", w.cfg.JitterMax),
	)
	w.notifier.Notify(ctx, StartedMessage(w.cfg.URL))

	consecutive := 0
	for {
		w.setState(StateChecking)
		res, err := w.CheckOnce(ctx)
		if ctx.Err() != nil {
			break
		}

		var delay time.Duration
		if err != nil {
			consecutive++
			delay = w.cfg.Backoff.Delay(consecutive)
			w.logger.Error("check failed",
				zap.String("check_id", res.CheckID),
				zap.Int("consecutive_errors", consecutive),
				zap.Duration("retry_in", delay),
				zap.Error(err),
			)
		} else {
			consecutive = 0
			if res.Message != "" {
				w.notifier.Notify(ctx, res.Message)
			}
			delay = IdleDelay(w.cfg.Interval, w.cfg.JitterMax, w.randN)
			w.logger.Info("next check scheduled",
				zap.String("check_id", res.CheckID),
				zap.String("outcome", string(res.Outcome)),
				zap.Duration("delay", delay),
			)
		}
		w.record(res, err, consecutive, delay)

		if err := w.sleep(ctx, delay); err != nil {
			break
		}
	}

	w.setState(StateStopped)
	w.logger.Info("watch stopped")
	return ctx.Err()
}

func (w *Watcher) record(res Result, err error, consecutive int, delay time.Duration) {
	outcome := res.Outcome
	if err != nil {
		outcome = OutcomeError
	}
	metrics.ObserveCheck(w.site, string(outcome))
	metrics.SetConsecutiveErrors(consecutive)
	metrics.SetNextCheckDelay(delay)

	now := w.clock.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Checks++
	w.stats.ConsecutiveErrors = consecutive
	w.stats.LastOutcome = outcome
	w.stats.LastCheckAt = now
	w.stats.NextCheckAt = now.Add(delay)
	if err != nil {
		w.stats.Errors++
		w.stats.LastError = err.Error()
		w.stats.State = StateError
		return
	}
	w.stats.LastError = ""
	w.stats.LastFingerprint = res.Fingerprint
	if res.Outcome == OutcomeChanged {
		w.stats.Changes++
	}
	w.stats.State = StateIdle
}

func (w *Watcher) setState(state string) {
	w.mu.Lock()
	w.stats.State = state
	w.mu.Unlock()
}
