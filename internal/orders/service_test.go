package orders

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"menulink/internal/realtime"
	"menulink/pkg/models"
)

type memOrderRepo struct {
	orders  map[string]*models.Order
	failure error
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[string]*models.Order)}
}

func (r *memOrderRepo) Insert(ctx context.Context, order *models.Order) error {
	if r.failure != nil {
		return r.failure
	}
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *memOrderRepo) Get(ctx context.Context, id string) (*models.Order, error) {
	order, ok := r.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (r *memOrderRepo) ListByMerchant(ctx context.Context, merchantPublicID string) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range r.orders {
		if o.MerchantPublicID == merchantPublicID {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (r *memOrderRepo) ListByCustomer(ctx context.Context, merchantPublicID, customerID string) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range r.orders {
		if o.MerchantPublicID == merchantPublicID && o.CustomerID == customerID {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (r *memOrderRepo) UpdateStatus(ctx context.Context, id string, status models.OrderStatus, cancelledAt *time.Time) (*models.Order, error) {
	order, ok := r.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	order.Status = status
	order.CancelledAt = cancelledAt
	return order.Clone(), nil
}

type memMenuRepo struct {
	items map[string]*models.MenuItem
}

func newMemMenuRepo(items ...*models.MenuItem) *memMenuRepo {
	r := &memMenuRepo{items: make(map[string]*models.MenuItem)}
	for _, item := range items {
		copied := *item
		r.items[item.ID] = &copied
	}
	return r
}

func (r *memMenuRepo) Insert(ctx context.Context, item *models.MenuItem) error {
	copied := *item
	r.items[item.ID] = &copied
	return nil
}

func (r *memMenuRepo) Update(ctx context.Context, item *models.MenuItem) error {
	if _, ok := r.items[item.ID]; !ok {
		return models.ErrMenuItemNotFound
	}
	copied := *item
	r.items[item.ID] = &copied
	return nil
}

func (r *memMenuRepo) Delete(ctx context.Context, id string) error {
	if _, ok := r.items[id]; !ok {
		return models.ErrMenuItemNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memMenuRepo) Get(ctx context.Context, id string) (*models.MenuItem, error) {
	item, ok := r.items[id]
	if !ok {
		return nil, models.ErrMenuItemNotFound
	}
	copied := *item
	return &copied, nil
}

func (r *memMenuRepo) ListByMerchant(ctx context.Context, merchantID string) ([]*models.MenuItem, error) {
	var out []*models.MenuItem
	for _, item := range r.items {
		if item.MerchantID == merchantID {
			copied := *item
			out = append(out, &copied)
		}
	}
	return out, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func burgerAndFries() *memMenuRepo {
	return newMemMenuRepo(
		&models.MenuItem{ID: "i-burger", MerchantID: "m1", Name: "Burger", Price: 9.5},
		&models.MenuItem{ID: "i-fries", MerchantID: "m1", Name: "Fries", Price: 3.25},
		&models.MenuItem{ID: "i-pizza", MerchantID: "m2", Name: "Pizza", Price: 12.0},
	)
}

func TestPlaceComputesTotalFromMenuPrices(t *testing.T) {
	svc := NewService(newMemOrderRepo(), burgerAndFries(), nil, nil, testLogger())

	order, err := svc.Place(context.Background(), "m1", PlacementInput{
		CustomerID: "c1",
		Items: []LineInput{
			{MenuItemID: "i-burger", Quantity: 2},
			{MenuItemID: "i-fries", Quantity: 1},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, order.Status)
	assert.Nil(t, order.CancelledAt)
	assert.InDelta(t, 22.25, order.Total, 0.001)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "Burger", order.Items[0].Name)
	assert.Equal(t, 9.5, order.Items[0].Price)
	assert.Equal(t, 2, order.Items[0].Quantity)
}

func TestPlaceDefaultsZeroQuantityToOne(t *testing.T) {
	svc := NewService(newMemOrderRepo(), burgerAndFries(), nil, nil, testLogger())

	order, err := svc.Place(context.Background(), "m1", PlacementInput{
		CustomerID: "c1",
		Items:      []LineInput{{MenuItemID: "i-fries"}},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, order.Items[0].Quantity)
	assert.InDelta(t, 3.25, order.Total, 0.001)
}

func TestPlaceRejectsEmptyOrder(t *testing.T) {
	svc := NewService(newMemOrderRepo(), burgerAndFries(), nil, nil, testLogger())

	_, err := svc.Place(context.Background(), "m1", PlacementInput{CustomerID: "c1"})
	assert.ErrorIs(t, err, models.ErrEmptyOrder)
}

func TestPlaceRejectsNegativeQuantity(t *testing.T) {
	svc := NewService(newMemOrderRepo(), burgerAndFries(), nil, nil, testLogger())

	_, err := svc.Place(context.Background(), "m1", PlacementInput{
		CustomerID: "c1",
		Items:      []LineInput{{MenuItemID: "i-burger", Quantity: -1}},
	})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestPlaceRejectsUnknownMenuItem(t *testing.T) {
	svc := NewService(newMemOrderRepo(), burgerAndFries(), nil, nil, testLogger())

	_, err := svc.Place(context.Background(), "m1", PlacementInput{
		CustomerID: "c1",
		Items:      []LineInput{{MenuItemID: "i-ghost", Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrUnknownMenuItem)
}

func TestPlaceRejectsItemFromAnotherMerchant(t *testing.T) {
	svc := NewService(newMemOrderRepo(), burgerAndFries(), nil, nil, testLogger())

	_, err := svc.Place(context.Background(), "m1", PlacementInput{
		CustomerID: "c1",
		Items:      []LineInput{{MenuItemID: "i-pizza", Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrMerchantMismatch)
}

func TestPlacedOrderSurvivesMenuEdits(t *testing.T) {
	menus := burgerAndFries()
	repo := newMemOrderRepo()
	svc := NewService(repo, menus, nil, nil, testLogger())

	order, err := svc.Place(context.Background(), "m1", PlacementInput{
		CustomerID: "c1",
		Items:      []LineInput{{MenuItemID: "i-burger", Quantity: 1}},
	})
	require.NoError(t, err)

	// Raise the price and rename after placement.
	item, err := menus.Get(context.Background(), "i-burger")
	require.NoError(t, err)
	item.Name = "Deluxe Burger"
	item.Price = 14.0
	require.NoError(t, menus.Update(context.Background(), item))

	stored, err := repo.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "Burger", stored.Items[0].Name)
	assert.Equal(t, 9.5, stored.Items[0].Price)
	assert.InDelta(t, 9.5, stored.Total, 0.001)
}

func TestPlacePublishesInsertOnRealtimeChannels(t *testing.T) {
	bus := realtime.NewBus(testLogger())
	defer bus.Close()
	svc := NewService(newMemOrderRepo(), burgerAndFries(), bus, nil, testLogger())

	sub, err := bus.Subscribe(realtime.MerchantChannel("m1"))
	require.NoError(t, err)

	order, err := svc.Place(context.Background(), "m1", PlacementInput{
		CustomerID: "c1",
		Items:      []LineInput{{MenuItemID: "i-burger", Quantity: 1}},
	})
	require.NoError(t, err)

	select {
	case event := <-sub.C:
		assert.Equal(t, realtime.ChangeInsert, event.Type)
		require.NotNil(t, event.Order)
		assert.Equal(t, order.ID, event.Order.ID)
	default:
		t.Fatal("expected an insert event on the merchant channel")
	}
}

func TestPlaceFailsWhenInsertFails(t *testing.T) {
	repo := newMemOrderRepo()
	repo.failure = errors.New("disk full")
	svc := NewService(repo, burgerAndFries(), nil, nil, testLogger())

	_, err := svc.Place(context.Background(), "m1", PlacementInput{
		CustomerID: "c1",
		Items:      []LineInput{{MenuItemID: "i-burger", Quantity: 1}},
	})
	assert.Error(t, err)
}

func TestDisplayCodeIsShortAndUppercase(t *testing.T) {
	svc := NewService(newMemOrderRepo(), burgerAndFries(), nil, nil, testLogger())

	order, err := svc.Place(context.Background(), "m1", PlacementInput{
		CustomerID: "c1",
		Items:      []LineInput{{MenuItemID: "i-burger", Quantity: 1}},
	})

	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]{6}$`), order.DisplayOrderID)
	assert.NotEqual(t, order.ID, order.DisplayOrderID)
}
