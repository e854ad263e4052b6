package watch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/pagewatch/internal/storage/memory"
)

const (
	pageURL        = "https://www.example.com/visa/rdv/"
	helloWorldHTML = "<html><body><h1>Hello World</h1></body></html>"
	helloWorldSum  = "a591a6d40bf420404a011733cfb7b190d62c65bf0bcda32b57b277d9ad9f146e"
)

var errRender = errors.New("net::ERR_CONNECTION_RESET")

type renderStep struct {
	html string
	err  error
}

type scriptedRenderer struct {
	mu    sync.Mutex
	steps []renderStep
	calls int
	urls  []string
}

func (r *scriptedRenderer) Render(_ context.Context, url string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
	step := r.steps[min(r.calls, len(r.steps)-1)]
	r.calls++
	return step.html, step.err
}

func (r *scriptedRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

type failingStore struct {
	loadErr error
	saveErr error
}

func (s failingStore) Load(context.Context) (string, bool, error) {
	return "", false, s.loadErr
}

func (s failingStore) Save(context.Context, string) error {
	return s.saveErr
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeIDGen struct {
	mu   sync.Mutex
	next int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return "check-" + strings.Repeat("x", g.next), nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	// cancel is invoked once len(delays) reaches stopAfter.
	stopAfter int
	cancel    context.CancelFunc
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	stop := s.stopAfter > 0 && len(s.delays) >= s.stopAfter
	s.mu.Unlock()
	if stop && s.cancel != nil {
		s.cancel()
	}
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

var checkTime = time.Date(2025, time.March, 4, 5, 6, 7, 0, time.FixedZone("CET", 3600))

func newTestWatcher(
	t *testing.T,
	renderer Renderer,
	store StateStore,
	notifier Notifier,
	logger *zap.Logger,
) (*Watcher, *sleepRecorder) {
	t.Helper()
	w := New(
		Config{URL: pageURL, Interval: 10 * time.Minute, JitterMax: 3 * time.Minute},
		renderer,
		nil,
		nil,
		store,
		notifier,
		fakeClock{now: checkTime},
		&fakeIDGen{},
		logger,
	)
	rec := &sleepRecorder{}
	w.sleep = rec.sleep
	w.randN = func(n int64) int64 { return n - 1 }
	return w, rec
}

func TestCheckOnceFirstRun(t *testing.T) {
	t.Parallel()

	renderer := &scriptedRenderer{steps: []renderStep{{html: helloWorldHTML}}}
	store := memory.NewStateStore()
	w, rec := newTestWatcher(t, renderer, store, &recordingNotifier{}, nil)

	res, err := w.CheckOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeFirstRun, res.Outcome)
	require.Equal(t, helloWorldSum, res.Fingerprint)
	require.Contains(t, res.Message, "Watch initialized")
	require.Contains(t, res.Message, `<a href="https://www.example.com/visa/rdv/">www.example.com/visa/rdv</a>`)
	require.Contains(t, res.Message, "2025-03-04 04:06:07Z UTC")
	require.NotEmpty(t, res.CheckID)

	stored, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, helloWorldSum, stored)
	require.Equal(t, 1, store.Saves())
	require.Empty(t, rec.recorded())
	require.Equal(t, []string{pageURL}, renderer.urls)
}

func TestCheckOnceUnchangedDoesNotWrite(t *testing.T) {
	t.Parallel()

	renderer := &scriptedRenderer{steps: []renderStep{{html: helloWorldHTML}}}
	store := memory.NewStateStoreWith(helloWorldSum)
	w, _ := newTestWatcher(t, renderer, store, &recordingNotifier{}, nil)

	res, err := w.CheckOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeUnchanged, res.Outcome)
	require.Empty(t, res.Message)
	require.Zero(t, store.Saves())
}

func TestCheckOnceChanged(t *testing.T) {
	t.Parallel()

	renderer := &scriptedRenderer{steps: []renderStep{{html: "<body><p>Slots open on Monday</p></body>"}}}
	store := memory.NewStateStoreWith(helloWorldSum)
	w, _ := newTestWatcher(t, renderer, store, &recordingNotifier{}, nil)

	res, err := w.CheckOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeChanged, res.Outcome)
	require.Contains(t, res.Message, "CHANGE DETECTED")
	require.NotEqual(t, helloWorldSum, res.Fingerprint)

	stored, _, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, res.Fingerprint, stored)
}

func TestCheckOnceIgnoresIncidentalMarkup(t *testing.T) {
	t.Parallel()

	noisy := `<html><head><script>var nonce = "1f2e";</script><style>h1{color:red}</style></head>` +
		"<body>\n  <h1 class=\"x\">Hello\n\n   World</h1><noscript>enable js</noscript></body></html>"
	renderer := &scriptedRenderer{steps: []renderStep{{html: noisy}}}
	store := memory.NewStateStoreWith(helloWorldSum)
	w, _ := newTestWatcher(t, renderer, store, &recordingNotifier{}, nil)

	res, err := w.CheckOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeUnchanged, res.Outcome)
}

func TestCheckOnceRetriesOnce(t *testing.T) {
	t.Parallel()

	renderer := &scriptedRenderer{steps: []renderStep{{err: errRender}, {html: helloWorldHTML}}}
	w, rec := newTestWatcher(t, renderer, memory.NewStateStore(), &recordingNotifier{}, nil)

	res, err := w.CheckOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeFirstRun, res.Outcome)
	require.Equal(t, 2, renderer.count())
	require.Equal(t, []time.Duration{2 * time.Second}, rec.recorded())
}

func TestCheckOnceFetchFailedAfterTwoAttempts(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	renderer := &scriptedRenderer{steps: []renderStep{{err: errRender}}}
	store := memory.NewStateStoreWith(helloWorldSum)
	w, rec := newTestWatcher(t, renderer, store, &recordingNotifier{}, zap.New(core))

	res, err := w.CheckOnce(context.Background())
	require.ErrorIs(t, err, ErrFetchFailed)
	require.ErrorIs(t, err, errRender)
	require.Equal(t, OutcomeError, res.Outcome)
	require.Equal(t, 2, renderer.count())
	require.Equal(t, []time.Duration{2 * time.Second}, rec.recorded())
	require.Zero(t, store.Saves())
	require.Equal(t, 2, logs.FilterMessage("render attempt failed").Len())
}

func TestCheckOnceStateErrors(t *testing.T) {
	t.Parallel()

	errDisk := errors.New("disk full")
	tests := []struct {
		name  string
		store failingStore
	}{
		{name: "load", store: failingStore{loadErr: errDisk}},
		{name: "save", store: failingStore{saveErr: errDisk}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			renderer := &scriptedRenderer{steps: []renderStep{{html: helloWorldHTML}}}
			w, _ := newTestWatcher(t, renderer, tt.store, &recordingNotifier{}, nil)

			res, err := w.CheckOnce(context.Background())
			require.ErrorIs(t, err, errDisk)
			require.NotErrorIs(t, err, ErrFetchFailed)
			require.Contains(t, err.Error(), tt.name+" state")
			require.Equal(t, OutcomeError, res.Outcome)
			require.Empty(t, res.Message)
		})
	}
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	renderer := &scriptedRenderer{steps: []renderStep{
		{html: helloWorldHTML},
		{err: errRender}, {err: errRender},
		{err: errRender}, {err: errRender},
		{html: helloWorldHTML},
		{html: "<p>Booking opened</p>"},
	}}
	store := memory.NewStateStore()
	notifier := &recordingNotifier{}
	w, rec := newTestWatcher(t, renderer, store, notifier, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec.cancel = cancel
	rec.stopAfter = 7

	err := w.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	idle := 13 * time.Minute
	require.Equal(t, []time.Duration{
		idle,            // first run
		2 * time.Second, // retry inside check 2
		5 * time.Second, // first consecutive error
		2 * time.Second, // retry inside check 3
		10 * time.Second,
		idle, // unchanged
		idle, // changed
	}, rec.recorded())

	msgs := notifier.sent()
	require.Len(t, msgs, 3)
	require.Contains(t, msgs[0], "Watch started")
	require.Contains(t, msgs[1], "Watch initialized")
	require.Contains(t, msgs[2], "CHANGE DETECTED")

	stats := w.Stats()
	require.Equal(t, StateStopped, stats.State)
	require.Equal(t, 5, stats.Checks)
	require.Equal(t, 1, stats.Changes)
	require.Equal(t, 2, stats.Errors)
	require.Zero(t, stats.ConsecutiveErrors)
	require.Equal(t, OutcomeChanged, stats.LastOutcome)
	require.Empty(t, stats.LastError)
	require.Equal(t, checkTime.Add(idle), stats.NextCheckAt)
	require.Equal(t, 2, store.Saves())
}

func TestRunErrorBackoffCaps(t *testing.T) {
	t.Parallel()

	renderer := &scriptedRenderer{steps: []renderStep{{err: errRender}}}
	w, rec := newTestWatcher(t, renderer, memory.NewStateStore(), &recordingNotifier{}, nil)
	w.cfg.Retry = RetryPolicy{Attempts: 1, Base: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec.cancel = cancel
	rec.stopAfter = 14

	require.ErrorIs(t, w.Run(ctx), context.Canceled)

	delays := rec.recorded()
	require.Len(t, delays, 14)
	for i, d := range delays {
		want := min(60*time.Second, time.Duration(i+1)*5*time.Second)
		require.Equal(t, want, d, "error #%d", i+1)
	}
	require.Equal(t, 14, w.Stats().ConsecutiveErrors)
	require.Contains(t, w.Stats().LastError, ErrFetchFailed.Error())
}

func TestRunStopsWhenCancelledMidCheck(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	renderer := &cancellingRenderer{cancel: cancel}
	notifier := &recordingNotifier{}
	w, rec := newTestWatcher(t, renderer, memory.NewStateStore(), notifier, nil)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	require.Len(t, notifier.sent(), 1)
	require.Zero(t, w.Stats().Checks)
	require.LessOrEqual(t, len(rec.recorded()), 1)
}

type cancellingRenderer struct {
	cancel context.CancelFunc
}

func (r *cancellingRenderer) Render(ctx context.Context, _ string) (string, error) {
	r.cancel()
	return "", ctx.Err()
}

func TestSleepContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	require.ErrorIs(t, sleepContext(ctx, 0), context.Canceled)
}
