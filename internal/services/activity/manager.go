package activity

import (
	"context"
	"sync"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/activity"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/storage"
	"github.com/Dumoney00/dumoney-invesment-sub000/pkg/logger"
)

// Manager lazily starts one Synchronizer per account and tears them all
// down on Close.
type Manager struct {
	fetcher Fetcher
	feed    storage.ChangeFeed
	names   NameResolver
	base    Options
	log     *logger.Logger

	// runCtx outlives request contexts so synchronizers keep running
	// between calls.
	runCtx context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	syncs map[string]*Synchronizer
}

// NewManager creates a manager. base carries the shared tuning; AccountID is
// set per synchronizer.
func NewManager(fetcher Fetcher, feed storage.ChangeFeed, names NameResolver, base Options, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("activity")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		fetcher: fetcher,
		feed:    feed,
		names:   names,
		base:    base,
		log:     log,
		runCtx:  ctx,
		cancel:  cancel,
		syncs:   make(map[string]*Synchronizer),
	}
}

// Snapshot returns the feed for accountID, starting a synchronizer on first
// use.
func (m *Manager) Snapshot(accountID string) ([]activity.Event, State, error) {
	sync, err := m.synchronizer(accountID)
	if err != nil {
		return nil, StateDisconnected, err
	}
	events, state, lastErr := sync.Snapshot()
	return events, state, lastErr
}

// Refresh requests a throttled re-fetch for accountID's feed, if one is
// running.
func (m *Manager) Refresh(accountID string) {
	m.mu.Lock()
	sync, ok := m.syncs[accountID]
	m.mu.Unlock()
	if ok {
		sync.Refresh()
	}
}

func (m *Manager) synchronizer(accountID string) (*Synchronizer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sync, ok := m.syncs[accountID]; ok {
		return sync, nil
	}

	opts := m.base
	opts.AccountID = accountID
	sync := NewSynchronizer(m.fetcher, m.feed, m.names, opts, m.log.WithField("account_id", accountID))
	if err := sync.Start(m.runCtx); err != nil {
		return nil, err
	}
	m.syncs[accountID] = sync
	return sync, nil
}

// Close stops every running synchronizer.
func (m *Manager) Close() error {
	m.cancel()
	m.mu.Lock()
	syncs := make([]*Synchronizer, 0, len(m.syncs))
	for _, s := range m.syncs {
		syncs = append(syncs, s)
	}
	m.syncs = make(map[string]*Synchronizer)
	m.mu.Unlock()

	for _, s := range syncs {
		_ = s.Close()
	}
	return nil
}
