package realtime

import (
	"testing"

	"github.com/sirupsen/logrus"

	"menulink/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

func TestPublishReachesSubscribedChannelsOnly(t *testing.T) {
	bus := NewBus(testLogger())
	defer bus.Close()

	merchant, err := bus.Subscribe(MerchantChannel("m1"))
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	other, err := bus.Subscribe(MerchantChannel("m2"))
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	order := &models.Order{ID: "o1", MerchantPublicID: "m1"}
	bus.Publish(ChangeEvent{Type: ChangeInsert, Order: order}, MerchantChannel("m1"), OrderChannel("o1"))

	select {
	case event := <-merchant.C:
		if event.Type != ChangeInsert || event.Order.ID != "o1" {
			t.Errorf("unexpected event: %+v", event)
		}
	default:
		t.Fatal("expected event on merchant channel")
	}

	select {
	case event := <-other.C:
		t.Errorf("unexpected event on unrelated channel: %+v", event)
	default:
	}
}

func TestMultipleSubscribersPerKey(t *testing.T) {
	bus := NewBus(testLogger())
	defer bus.Close()

	first, _ := bus.Subscribe(OrderChannel("o1"))
	second, _ := bus.Subscribe(OrderChannel("o1"))

	if got := bus.SubscriberCount(OrderChannel("o1")); got != 2 {
		t.Fatalf("expected 2 subscribers, got %d", got)
	}

	bus.Publish(ChangeEvent{Type: ChangeUpdate, Patch: &models.OrderPatch{ID: "o1"}}, OrderChannel("o1"))

	for i, sub := range []*Subscription{first, second} {
		select {
		case <-sub.C:
		default:
			t.Errorf("subscriber %d did not receive the event", i)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(testLogger())
	defer bus.Close()

	sub, _ := bus.Subscribe(OrderChannel("o1"))
	sub.Close()

	if got := bus.SubscriberCount(OrderChannel("o1")); got != 0 {
		t.Fatalf("expected 0 subscribers after close, got %d", got)
	}

	// Channel is closed, not left dangling.
	if _, ok := <-sub.C; ok {
		t.Error("expected closed subscription channel")
	}

	// Publishing to the abandoned key is a no-op.
	bus.Publish(ChangeEvent{Type: ChangeUpdate, Patch: &models.OrderPatch{ID: "o1"}}, OrderChannel("o1"))
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	bus := NewBus(testLogger())
	defer bus.Close()

	sub, _ := bus.Subscribe(OrderChannel("o1"))
	sub.Close()
	sub.Close()
}

func TestPublishDetachesOverflowedSubscriber(t *testing.T) {
	bus := NewBus(testLogger())
	defer bus.Close()

	sub, _ := bus.Subscribe(OrderChannel("o1"))

	event := ChangeEvent{Type: ChangeUpdate, Patch: &models.OrderPatch{ID: "o1"}}
	for i := 0; i < cap(sub.C); i++ {
		bus.Publish(event, OrderChannel("o1"))
	}
	if sub.Overflowed() {
		t.Fatal("subscription must not be marked overflowed while the buffer still holds every event")
	}

	// One more than the buffer holds: the event is missed and the stream
	// can no longer be trusted, so the bus detaches the subscriber.
	bus.Publish(event, OrderChannel("o1"))

	if got := bus.SubscriberCount(OrderChannel("o1")); got != 0 {
		t.Fatalf("expected overflowed subscriber to be detached, got %d attached", got)
	}
	if !sub.Overflowed() {
		t.Error("expected subscription to be marked overflowed")
	}

	// The buffered events are still readable, then the channel closes so
	// the consumer's drain loop terminates and can reconcile.
	received := 0
	for range sub.C {
		received++
	}
	if received != cap(sub.C) {
		t.Errorf("expected %d buffered events before close, got %d", cap(sub.C), received)
	}
}

func TestPublishKeepsOtherSubscribersWhenOneOverflows(t *testing.T) {
	bus := NewBus(testLogger())
	defer bus.Close()

	slow, _ := bus.Subscribe(OrderChannel("o1"))
	healthy, _ := bus.Subscribe(OrderChannel("o1"))

	event := ChangeEvent{Type: ChangeUpdate, Patch: &models.OrderPatch{ID: "o1"}}
	for i := 0; i < cap(slow.C)+1; i++ {
		bus.Publish(event, OrderChannel("o1"))
		// The healthy subscriber keeps up.
		<-healthy.C
	}

	if got := bus.SubscriberCount(OrderChannel("o1")); got != 1 {
		t.Fatalf("expected only the healthy subscriber to remain, got %d", got)
	}
	if healthy.Overflowed() {
		t.Error("healthy subscriber must not be marked overflowed")
	}
	if !slow.Overflowed() {
		t.Error("slow subscriber should be marked overflowed")
	}
}

func TestClosedBusRejectsSubscribe(t *testing.T) {
	bus := NewBus(testLogger())
	sub, _ := bus.Subscribe(OrderChannel("o1"))
	bus.Close()

	if _, ok := <-sub.C; ok {
		t.Error("expected subscription channel closed by bus shutdown")
	}
	if _, err := bus.Subscribe(OrderChannel("o2")); err != ErrBusClosed {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
}
