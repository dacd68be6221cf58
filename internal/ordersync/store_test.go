package ordersync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"menulink/pkg/models"
)

type fakeLoader struct {
	orders []*models.Order
	err    error
	calls  int
}

func (f *fakeLoader) ListByMerchant(ctx context.Context, merchantPublicID string) ([]*models.Order, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.Order
	for _, o := range f.orders {
		if o.MerchantPublicID == merchantPublicID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeLoader) ListByCustomer(ctx context.Context, merchantPublicID, customerID string) ([]*models.Order, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.Order
	for _, o := range f.orders {
		if o.MerchantPublicID == merchantPublicID && o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	return out, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func pendingOrder(id, merchant, customer string) *models.Order {
	return &models.Order{
		ID:               id,
		MerchantPublicID: merchant,
		CustomerID:       customer,
		Status:           models.StatusPending,
		Items:            []models.OrderItem{{MenuItemID: "m1", Name: "Burger", Price: 9.5, Quantity: 1}},
		Total:            9.5,
		CreatedAt:        time.Now(),
	}
}

func TestLoadMerchantSnapshot(t *testing.T) {
	loader := &fakeLoader{orders: []*models.Order{
		pendingOrder("o2", "m1", "c2"),
		pendingOrder("o1", "m1", "c1"),
		pendingOrder("x1", "m2", "c9"),
	}}
	store := NewStore(loader, testLogger())

	require.NoError(t, store.Load(context.Background(), Filter{MerchantPublicID: "m1"}))

	snapshot := store.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "o2", snapshot[0].ID)
	assert.Equal(t, "o1", snapshot[1].ID)
}

func TestLoadFailureKeepsPreviousSnapshot(t *testing.T) {
	loader := &fakeLoader{orders: []*models.Order{pendingOrder("o1", "m1", "c1")}}
	store := NewStore(loader, testLogger())
	require.NoError(t, store.Load(context.Background(), Filter{MerchantPublicID: "m1"}))

	loader.err = errors.New("backend down")
	err := store.Load(context.Background(), Filter{MerchantPublicID: "m1"})
	require.Error(t, err)

	// The previous snapshot survives so the view can keep rendering while
	// the caller surfaces a retry.
	assert.Equal(t, 1, store.Len())
}

func TestApplyRemoteInsertIsIdempotent(t *testing.T) {
	store := NewStore(&fakeLoader{}, testLogger())

	order := pendingOrder("o1", "m1", "c1")
	store.ApplyRemoteInsert(order)
	store.ApplyRemoteInsert(order)

	assert.Equal(t, 1, store.Len())
}

func TestApplyRemoteInsertPrepends(t *testing.T) {
	store := NewStore(&fakeLoader{}, testLogger())

	store.ApplyRemoteInsert(pendingOrder("o1", "m1", "c1"))
	store.ApplyRemoteInsert(pendingOrder("o2", "m1", "c1"))

	snapshot := store.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "o2", snapshot[0].ID, "newest order first")
}

func TestApplyRemoteUpdateUnknownIDIsNoop(t *testing.T) {
	store := NewStore(&fakeLoader{}, testLogger())

	confirmed := models.StatusConfirmed
	store.ApplyRemoteUpdate(models.OrderPatch{ID: "ghost", Status: &confirmed})

	assert.Equal(t, 0, store.Len())
}

func TestDuplicateConfirmedUpdateLeavesOrderUnchanged(t *testing.T) {
	store := NewStore(&fakeLoader{}, testLogger())
	store.ApplyRemoteInsert(pendingOrder("o1", "m1", "c1"))

	confirmed := models.StatusConfirmed
	store.ApplyRemoteUpdate(models.OrderPatch{ID: "o1", Status: &confirmed})
	store.ApplyRemoteUpdate(models.OrderPatch{ID: "o1", Status: &confirmed})

	order, ok := store.Get("o1")
	require.True(t, ok)
	assert.Equal(t, models.StatusConfirmed, order.Status)
	assert.Nil(t, order.CancelledAt)
}

func TestOptimisticOverlayAndCollapse(t *testing.T) {
	store := NewStore(&fakeLoader{}, testLogger())
	store.ApplyRemoteInsert(pendingOrder("o1", "m1", "c1"))

	cancelled := models.StatusCancelled
	cancelledAt := time.Now()
	store.ApplyLocalUpdate("o1", models.OrderPatch{ID: "o1", Status: &cancelled, CancelledAt: &cancelledAt})

	// The view reflects intent immediately.
	order, ok := store.Get("o1")
	require.True(t, ok)
	assert.Equal(t, models.StatusCancelled, order.Status)
	require.NotNil(t, order.CancelledAt)

	// The authoritative remote update collapses the overlay.
	serverCancelledAt := cancelledAt.Add(50 * time.Millisecond)
	store.ApplyRemoteUpdate(models.OrderPatch{ID: "o1", Status: &cancelled, CancelledAt: &serverCancelledAt})

	order, ok = store.Get("o1")
	require.True(t, ok)
	assert.Equal(t, models.StatusCancelled, order.Status)
	assert.Equal(t, serverCancelledAt, *order.CancelledAt, "server timestamp wins over the optimistic one")
}

func TestRollbackLocalRestoresServerState(t *testing.T) {
	store := NewStore(&fakeLoader{}, testLogger())
	store.ApplyRemoteInsert(pendingOrder("o1", "m1", "c1"))

	confirmed := models.StatusConfirmed
	store.ApplyLocalUpdate("o1", models.OrderPatch{ID: "o1", Status: &confirmed})
	store.RollbackLocal("o1")

	order, ok := store.Get("o1")
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, order.Status)
}

func TestApplyLocalUpdateUnknownIDIsNoop(t *testing.T) {
	store := NewStore(&fakeLoader{}, testLogger())

	confirmed := models.StatusConfirmed
	store.ApplyLocalUpdate("ghost", models.OrderPatch{ID: "ghost", Status: &confirmed})

	_, ok := store.Get("ghost")
	assert.False(t, ok)
}

func TestSnapshotReturnsCopies(t *testing.T) {
	store := NewStore(&fakeLoader{}, testLogger())
	store.ApplyRemoteInsert(pendingOrder("o1", "m1", "c1"))

	snapshot := store.Snapshot()
	snapshot[0].Status = models.StatusConfirmed

	order, _ := store.Get("o1")
	assert.Equal(t, models.StatusPending, order.Status, "mutating a snapshot must not affect the store")
}
