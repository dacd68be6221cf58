// Package ordersync keeps a viewer's set of orders in step with the backend:
// a merchant dashboard sees every order for its merchant id, a customer sees
// their own orders for one merchant. Local optimistic updates are overlaid on
// the last authoritative server state and collapse once a remote update for
// the same order arrives.
package ordersync

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"menulink/pkg/models"
)

// Filter selects which orders a store tracks. CustomerID empty means the
// merchant view (all orders for the merchant).
type Filter struct {
	MerchantPublicID string
	CustomerID       string
}

// Loader is the snapshot query boundary, satisfied by the Postgres order
// repository.
type Loader interface {
	ListByMerchant(ctx context.Context, merchantPublicID string) ([]*models.Order, error)
	ListByCustomer(ctx context.Context, merchantPublicID, customerID string) ([]*models.Order, error)
}

type Store struct {
	loader Loader
	logger *logrus.Logger

	mu     sync.RWMutex
	ids    []string                     // newest first
	state  map[string]*models.Order     // last known server state
	local  map[string]models.OrderPatch // optimistic overlay, pending reconciliation
	filter Filter
	loaded bool
}

func NewStore(loader Loader, logger *logrus.Logger) *Store {
	return &Store{
		loader: loader,
		logger: logger,
		state:  make(map[string]*models.Order),
		local:  make(map[string]models.OrderPatch),
	}
}

// Load replaces the store contents with a fresh snapshot, newest first.
// Any optimistic overlay is discarded since the snapshot is authoritative.
// On failure the previous contents are kept so the view can keep showing
// them while surfacing a retry.
func (s *Store) Load(ctx context.Context, filter Filter) error {
	var (
		orders []*models.Order
		err    error
	)
	if filter.CustomerID != "" {
		orders, err = s.loader.ListByCustomer(ctx, filter.MerchantPublicID, filter.CustomerID)
	} else {
		orders, err = s.loader.ListByMerchant(ctx, filter.MerchantPublicID)
	}
	if err != nil {
		return errors.Wrap(err, "load orders snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ids = s.ids[:0]
	s.state = make(map[string]*models.Order, len(orders))
	s.local = make(map[string]models.OrderPatch)
	for _, order := range orders {
		s.ids = append(s.ids, order.ID)
		s.state[order.ID] = order
	}
	s.filter = filter
	s.loaded = true
	return nil
}

// Reload re-runs the last successful Load, used when the realtime stream
// had a gap and the snapshot must be brought back to authoritative state.
// A store that was never loaded has nothing to reconcile.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.RLock()
	filter, loaded := s.filter, s.loaded
	s.mu.RUnlock()

	if !loaded {
		return nil
	}
	return s.Load(ctx, filter)
}

// ApplyRemoteInsert prepends a newly observed order. Duplicate delivery of
// the same insert is a no-op.
func (s *Store) ApplyRemoteInsert(order *models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state[order.ID]; ok {
		return
	}
	s.ids = append([]string{order.ID}, s.ids...)
	s.state[order.ID] = order.Clone()
}

// ApplyRemoteUpdate merges a partial update into the matching order. The
// remote state is authoritative, so any optimistic overlay for that order is
// dropped. Unknown ids are ignored: the insert may not have been observed
// yet and the next Load will reconcile.
func (s *Store) ApplyRemoteUpdate(patch models.OrderPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.state[patch.ID]
	if !ok {
		s.logger.WithField("order_id", patch.ID).Debug("Remote update for unknown order, ignoring")
		return
	}
	order.Apply(patch)
	delete(s.local, patch.ID)
}

// ApplyLocalUpdate records an optimistic patch ahead of server confirmation.
// It is superseded by the next remote update for the same order.
func (s *Store) ApplyLocalUpdate(id string, patch models.OrderPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state[id]; !ok {
		return
	}
	merged := s.local[id]
	merged.ID = id
	if patch.Status != nil {
		merged.Status = patch.Status
	}
	if patch.ClearCancelledAt {
		merged.ClearCancelledAt = true
		merged.CancelledAt = nil
	} else if patch.CancelledAt != nil {
		merged.CancelledAt = patch.CancelledAt
		merged.ClearCancelledAt = false
	}
	s.local[id] = merged
}

// RollbackLocal discards the optimistic overlay for an order, restoring the
// last known server state. Called when persistence of a transition fails.
func (s *Store) RollbackLocal(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.local, id)
}

// Get returns the order as the viewer should see it: server state with the
// optimistic overlay applied.
func (s *Store) Get(id string) (*models.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view(id)
}

// Snapshot returns all tracked orders newest first, overlays applied.
func (s *Store) Snapshot() []*models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Order, 0, len(s.ids))
	for _, id := range s.ids {
		if order, ok := s.view(id); ok {
			out = append(out, order)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

func (s *Store) view(id string) (*models.Order, bool) {
	order, ok := s.state[id]
	if !ok {
		return nil, false
	}
	view := order.Clone()
	if patch, ok := s.local[id]; ok {
		view.Apply(patch)
	}
	return view, true
}
