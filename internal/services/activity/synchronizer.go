package activity

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/activity"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/wallet"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/metrics"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/storage"
	"github.com/Dumoney00/dumoney-invesment-sub000/pkg/logger"
)

// State is the synchronizer's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	// StateSubscribed: push channel active, slow baseline poll as safety net.
	StateSubscribed State = "subscribed"
	// StateDegraded: push abandoned, fast poll substitutes.
	StateDegraded State = "degraded"
	// StateRetrying: a fetch failed and bounded backoff attempts are running.
	StateRetrying State = "retrying"
	// StateExhausted: retry cap reached; last-known-good data is served and
	// the slow poll continues.
	StateExhausted State = "exhausted"
)

// Fetcher reads the most recent transaction rows, newest first. An empty
// accountID selects all accounts.
type Fetcher interface {
	FetchRecent(ctx context.Context, accountID string, limit int) ([]wallet.TransactionRecord, error)
}

// StoreFetcher adapts a TransactionStore to the Fetcher interface.
type StoreFetcher struct {
	Txs storage.TransactionStore
}

// FetchRecent implements Fetcher.
func (f StoreFetcher) FetchRecent(ctx context.Context, accountID string, limit int) ([]wallet.TransactionRecord, error) {
	return f.Txs.ListTransactions(ctx, accountID, limit)
}

// Options tune the synchronizer's timing and retry policy.
type Options struct {
	// AccountID scopes the feed to one account; empty follows all accounts.
	AccountID string
	// Limit caps the fetched window.
	Limit int
	// Table is the change-feed table to subscribe to.
	Table string

	SlowPollInterval time.Duration
	FastPollInterval time.Duration
	// MinRefreshDelay coalesces bursts of triggers into a single fetch.
	MinRefreshDelay time.Duration
	// NotifyCooldown suppresses repeated new-activity callbacks.
	NotifyCooldown time.Duration

	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// OnNewActivity is invoked (subject to the cooldown) with entries whose
	// ids were not previously known. The initial fetch primes the known set
	// without firing it.
	OnNewActivity func(fresh []activity.Event)
}

func (o *Options) fillDefaults() {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Table == "" {
		o.Table = "transactions"
	}
	if o.SlowPollInterval <= 0 {
		o.SlowPollInterval = time.Minute
	}
	if o.FastPollInterval <= 0 {
		o.FastPollInterval = 5 * time.Second
	}
	if o.MinRefreshDelay <= 0 {
		o.MinRefreshDelay = 500 * time.Millisecond
	}
	if o.NotifyCooldown <= 0 {
		o.NotifyCooldown = 10 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 200 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	if o.BackoffMultiplier <= 1 {
		o.BackoffMultiplier = 2
	}
}

// Synchronizer blends push delivery with adaptive polling to keep an
// eventually consistent activity feed. All timers live on one run loop
// goroutine; Close stops the loop, the push subscription and every timer
// deterministically.
type Synchronizer struct {
	fetcher Fetcher
	feed    storage.ChangeFeed
	names   NameResolver
	opts    Options
	log     *logger.Logger

	mu         sync.Mutex
	state      State
	events     []activity.Event
	known      map[string]struct{}
	primed     bool
	lastErr    error
	lastFetch  time.Time
	lastNotify time.Time

	triggers  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	sub       storage.Subscription
}

// NewSynchronizer creates a synchronizer. feed may be nil, in which case it
// starts directly in degraded (poll-only) mode.
func NewSynchronizer(fetcher Fetcher, feed storage.ChangeFeed, names NameResolver, opts Options, log *logger.Logger) *Synchronizer {
	opts.fillDefaults()
	if log == nil {
		log = logger.NewDefault("activity-sync")
	}
	metrics.MoveSyncState("", string(StateDisconnected))
	return &Synchronizer{
		fetcher:  fetcher,
		feed:     feed,
		names:    names,
		opts:     opts,
		log:      log,
		state:    StateDisconnected,
		known:    make(map[string]struct{}),
		triggers: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start connects the push channel (when available), performs the initial
// fetch and launches the run loop.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.setState(StateConnecting)

	var pushDone <-chan struct{}
	if s.feed != nil {
		sub, err := s.feed.Subscribe(ctx, s.opts.Table, func(storage.ChangeEvent) {
			s.Refresh()
		})
		if err != nil {
			s.log.WithError(err).Warn("push subscription failed; polling only")
			s.setState(StateDegraded)
		} else {
			s.sub = sub
			pushDone = sub.Done()
			s.setState(StateSubscribed)
		}
	} else {
		s.setState(StateDegraded)
	}

	s.fetchWithRetry(ctx)

	s.wg.Add(1)
	go s.run(ctx, pushDone)
	return nil
}

// Refresh requests a fetch. Bursts within the refresh delay coalesce into a
// single fetch.
func (s *Synchronizer) Refresh() {
	select {
	case s.triggers <- struct{}{}:
	default:
	}
}

// Snapshot returns the current feed, the synchronizer state and the last
// fetch error (nil unless degraded data is being served).
func (s *Synchronizer) Snapshot() ([]activity.Event, State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]activity.Event, len(s.events))
	copy(out, s.events)
	if s.state == StateExhausted {
		return out, s.state, s.lastErr
	}
	return out, s.state, nil
}

// State returns the current connection state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close tears the synchronizer down: push subscription released, run loop
// stopped, all timers drained. Idempotent.
func (s *Synchronizer) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	if s.sub != nil {
		_ = s.sub.Close()
	}
	s.wg.Wait()
	s.setState(StateDisconnected)
	return nil
}

func (s *Synchronizer) run(ctx context.Context, pushDone <-chan struct{}) {
	defer s.wg.Done()

	poll := time.NewTimer(s.pollInterval())
	defer poll.Stop()

	// throttle fires a pending coalesced fetch; idle between bursts.
	throttle := time.NewTimer(0)
	if !throttle.Stop() {
		<-throttle.C
	}
	defer throttle.Stop()
	throttlePending := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return

		case <-pushDone:
			pushDone = nil
			s.log.Warn("push channel lost; switching to fast polling")
			s.setState(StateDegraded)
			resetTimer(poll, s.pollInterval())

		case <-s.triggers:
			if throttlePending {
				continue
			}
			throttlePending = true
			resetTimer(throttle, s.refreshDelay())

		case <-throttle.C:
			throttlePending = false
			s.fetchWithRetry(ctx)
			resetTimer(poll, s.pollInterval())

		case <-poll.C:
			s.fetchWithRetry(ctx)
			poll.Reset(s.pollInterval())
		}
	}
}

// pollInterval selects the baseline cadence for the current state: fast in
// degraded mode, slow otherwise (subscribed safety net and exhausted mode).
func (s *Synchronizer) pollInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDegraded || s.state == StateRetrying {
		return s.opts.FastPollInterval
	}
	return s.opts.SlowPollInterval
}

func (s *Synchronizer) refreshDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := time.Since(s.lastFetch)
	if elapsed >= s.opts.MinRefreshDelay {
		return 0
	}
	return s.opts.MinRefreshDelay - elapsed
}

// fetchWithRetry performs one fetch, retrying transient failures with
// bounded, increasing backoff. The retry timer is scoped to this call and
// cleared on success, cancellation or exhaustion. After the cap the
// synchronizer keeps serving the last successful snapshot and surfaces the
// error through Snapshot.
func (s *Synchronizer) fetchWithRetry(ctx context.Context) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			s.setState(StateRetrying)
			timer := time.NewTimer(s.backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.done:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		recs, err := s.fetcher.FetchRecent(ctx, s.opts.AccountID, s.opts.Limit)
		if err != nil {
			lastErr = err
			metrics.ObserveSyncFetch("error")
			s.log.WithError(err).Warnf("activity fetch failed (attempt %d/%d)", attempt+1, s.opts.MaxRetries+1)
			continue
		}

		s.applyFetch(recs)
		metrics.ObserveSyncFetch("ok")
		return
	}

	s.mu.Lock()
	s.lastErr = lastErr
	s.mu.Unlock()
	s.setState(StateExhausted)
	metrics.ObserveSyncFetch("exhausted")
}

func (s *Synchronizer) backoff(attempt int) time.Duration {
	d := float64(s.opts.InitialBackoff) * math.Pow(s.opts.BackoffMultiplier, float64(attempt-1))
	if d > float64(s.opts.MaxBackoff) {
		d = float64(s.opts.MaxBackoff)
	}
	return time.Duration(d)
}

// applyFetch projects the fetched rows, flags entries whose ids were not
// previously known and restores the healthy state for the transport in use.
func (s *Synchronizer) applyFetch(recs []wallet.TransactionRecord) {
	events := Project(recs, s.names)

	s.mu.Lock()
	var fresh []activity.Event
	for _, e := range events {
		if _, ok := s.known[e.ID]; !ok {
			s.known[e.ID] = struct{}{}
			fresh = append(fresh, e)
		}
	}
	s.events = events
	s.lastFetch = time.Now()
	s.lastErr = nil

	notify := s.primed && len(fresh) > 0 && time.Since(s.lastNotify) >= s.opts.NotifyCooldown
	if notify {
		s.lastNotify = time.Now()
	}
	s.primed = true

	prev := s.state
	if s.pushAlive() {
		s.state = StateSubscribed
	} else {
		s.state = StateDegraded
	}
	state := s.state
	s.mu.Unlock()

	metrics.MoveSyncState(string(prev), string(state))
	if notify && s.opts.OnNewActivity != nil {
		s.opts.OnNewActivity(fresh)
	}
}

func (s *Synchronizer) pushAlive() bool {
	if s.sub == nil {
		return false
	}
	select {
	case <-s.sub.Done():
		return false
	default:
		return true
	}
}

func (s *Synchronizer) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	metrics.MoveSyncState(string(prev), string(state))
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
