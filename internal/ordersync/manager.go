package ordersync

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"menulink/internal/realtime"
	"menulink/pkg/models"
)

// Manager keeps one synchronized view per active filter. A view is created
// on first use: it subscribes to the merchant's change channel, then loads a
// snapshot, so no event can fall between the two (duplicates are absorbed by
// the store's idempotent merge). Customer views share the merchant channel
// but only accept inserts for their own customer id.
type Manager struct {
	loader Loader
	bus    *realtime.Bus
	logger *logrus.Logger

	mu    sync.Mutex
	views map[string]*view
}

type view struct {
	store    *Store
	listener *Listener

	// ready is closed once the initial load finished; err carries its
	// outcome for callers that were waiting.
	ready chan struct{}
	err   error
}

func NewManager(loader Loader, bus *realtime.Bus, logger *logrus.Logger) *Manager {
	return &Manager{
		loader: loader,
		bus:    bus,
		logger: logger,
		views:  make(map[string]*view),
	}
}

// View returns the synchronized store for a filter, creating and loading it
// on first use. Concurrent callers for the same new filter share one view;
// whoever arrives while the initial load is in flight waits for it rather
// than observing an empty snapshot.
func (m *Manager) View(ctx context.Context, filter Filter) (*Store, error) {
	m.mu.Lock()
	key := filter.key()
	if v, ok := m.views[key]; ok {
		m.mu.Unlock()
		select {
		case <-v.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if v.err != nil {
			return nil, v.err
		}
		return v.store, nil
	}

	store := NewStore(m.loader, m.logger)
	listener := NewListener(m.bus, store, m.logger)
	if filter.CustomerID != "" {
		cid := filter.CustomerID
		listener.Accept = func(order *models.Order) bool {
			return order.CustomerID == cid
		}
	}
	v := &view{store: store, listener: listener, ready: make(chan struct{})}
	m.views[key] = v
	m.mu.Unlock()

	if err := listener.Watch(realtime.MerchantChannel(filter.MerchantPublicID)); err != nil {
		// Non-fatal: the view degrades to snapshot-only and reconciles on
		// the next load.
		m.logger.WithError(err).Warn("View created without realtime subscription")
	}

	if err := store.Load(ctx, filter); err != nil {
		m.mu.Lock()
		delete(m.views, key)
		m.mu.Unlock()
		listener.Close()
		v.err = err
		close(v.ready)
		return nil, err
	}
	close(v.ready)
	return store, nil
}

// Get returns the order from whichever active view tracks it.
func (m *Manager) Get(id string) (*models.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.views {
		if order, ok := v.store.Get(id); ok {
			return order, true
		}
	}
	return nil, false
}

// ApplyLocalUpdate records an optimistic patch in every view tracking the
// order.
func (m *Manager) ApplyLocalUpdate(id string, patch models.OrderPatch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.views {
		v.store.ApplyLocalUpdate(id, patch)
	}
}

// RollbackLocal discards optimistic patches for the order in every view.
func (m *Manager) RollbackLocal(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.views {
		v.store.RollbackLocal(id)
	}
}

// Close tears down every view's subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	views := make([]*view, 0, len(m.views))
	for key, v := range m.views {
		views = append(views, v)
		delete(m.views, key)
	}
	m.mu.Unlock()

	for _, v := range views {
		v.listener.Close()
	}
}

func (f Filter) key() string {
	if f.CustomerID != "" {
		return "customer:" + f.MerchantPublicID + ":" + f.CustomerID
	}
	return "merchant:" + f.MerchantPublicID
}
