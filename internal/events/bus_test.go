package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	received := []Event{}

	unsub := bus.Subscribe(EventActionStarted, func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})
	defer unsub()

	// Publish event
	bus.Publish(EventActionStarted, map[string]interface{}{
		"action_index": 3,
		"kind":         "DISPENSE",
	})

	// Wait for async delivery
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}

	if received[0].Type != EventActionStarted {
		t.Errorf("expected type %s, got %s", EventActionStarted, received[0].Type)
	}

	if kind, ok := received[0].Data["kind"].(string); !ok || kind != "DISPENSE" {
		t.Errorf("expected kind DISPENSE, got %v", received[0].Data["kind"])
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu1, mu2 sync.Mutex
	received1 := []Event{}
	received2 := []Event{}

	unsub1 := bus.Subscribe(EventTemperatureUpdate, func(e Event) {
		mu1.Lock()
		received1 = append(received1, e)
		mu1.Unlock()
	})
	defer unsub1()

	unsub2 := bus.Subscribe(EventTemperatureUpdate, func(e Event) {
		mu2.Lock()
		received2 = append(received2, e)
		mu2.Unlock()
	})
	defer unsub2()

	bus.Publish(EventTemperatureUpdate, map[string]interface{}{
		"module_id": "temp_vials",
		"observed":  79.6,
	})

	time.Sleep(50 * time.Millisecond)

	mu1.Lock()
	count1 := len(received1)
	mu1.Unlock()

	mu2.Lock()
	count2 := len(received2)
	mu2.Unlock()

	if count1 != 1 {
		t.Errorf("subscriber 1 expected 1 event, got %d", count1)
	}
	if count2 != 1 {
		t.Errorf("subscriber 2 expected 1 event, got %d", count2)
	}
}

func TestBus_NonBlockingDropCounted(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	block := make(chan struct{})
	unsub := bus.Subscribe(EventTemperatureUpdate, func(e Event) {
		<-block
	})
	defer unsub()

	// First fills the goroutine, second fills the buffer, the rest drop.
	for i := 0; i < 5; i++ {
		bus.Publish(EventTemperatureUpdate, map[string]interface{}{"sample": i})
	}
	close(block)

	// Publish must never have blocked; at least one event was dropped.
	if bus.Dropped() == 0 {
		t.Error("expected dropped events to be counted")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	count := 0

	unsub := bus.Subscribe(EventCheckpoint, func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(EventCheckpoint, nil)
	time.Sleep(50 * time.Millisecond)

	unsub()
	bus.Publish(EventCheckpoint, nil)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected 1 event after unsubscribe, got %d", count)
	}
}

func TestBus_SubscriberPanicDoesNotDisruptOthers(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	unsubPanic := bus.Subscribe(EventRunFinished, func(e Event) {
		panic("subscriber bug")
	})
	defer unsubPanic()

	var mu sync.Mutex
	got := 0
	unsub := bus.Subscribe(EventRunFinished, func(e Event) {
		mu.Lock()
		got++
		mu.Unlock()
	})
	defer unsub()

	bus.Publish(EventRunFinished, map[string]interface{}{"status": "completed"})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if got != 1 {
		t.Errorf("healthy subscriber expected 1 event, got %d", got)
	}
}

func TestBus_CloseStopsDelivery(t *testing.T) {
	bus := NewBus(10)

	var mu sync.Mutex
	count := 0
	bus.Subscribe(EventRunStarted, func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(EventRunStarted, nil)
	time.Sleep(50 * time.Millisecond)
	bus.Close()

	// Publishing after close must not panic or deliver.
	bus.Publish(EventRunStarted, nil)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected 1 event, got %d", count)
	}
}
