package eventbus

import (
	"sync/atomic"
	"testing"
)

func TestPublishAsync_DeliveredBeforeStopReturns(t *testing.T) {
	bus := NewAsyncEventBus(2)
	bus.Start()

	var delivered atomic.Int32
	if err := bus.Subscribe(TopicLoginCompleted, func(n int) {
		delivered.Add(int32(n))
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for i := 0; i < 10; i++ {
		bus.PublishAsync(TopicLoginCompleted, 1)
	}
	bus.Stop()

	if delivered.Load() != 10 {
		t.Errorf("delivered = %d, Stop must drain queued events", delivered.Load())
	}
}

func TestPublish_IsSynchronous(t *testing.T) {
	bus := NewAsyncEventBus(1)

	var got []string
	_ = bus.Subscribe(TopicQREvent, func(s string) {
		got = append(got, s)
	})

	bus.Publish(TopicQREvent, "a")
	bus.Publish(TopicQREvent, "b")

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got = %v, sync publish must preserve order", got)
	}
}

func TestSubscriberPanicDoesNotKillWorkers(t *testing.T) {
	bus := NewAsyncEventBus(1)
	bus.Start()

	var survived atomic.Bool
	_ = bus.Subscribe(TopicLoginCompleted, func(n int) {
		if n == 0 {
			panic("bad subscriber")
		}
		survived.Store(true)
	})

	bus.PublishAsync(TopicLoginCompleted, 0)
	bus.PublishAsync(TopicLoginCompleted, 1)
	bus.Stop()

	if !survived.Load() {
		t.Error("event after a panicking delivery never arrived")
	}
}
