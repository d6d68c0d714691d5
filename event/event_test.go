// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package event_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blinklabs-io/raffle/event"
)

func receiveEvent(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "event channel closed unexpectedly")
		return evt
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for event")
	}
	return event.Event{}
}

func TestEventBusSingleSubscriber(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Close()
	_, subCh := eb.Subscribe(event.EnteredEventType)
	eb.Publish(
		event.EnteredEventType,
		event.NewEvent(
			event.EnteredEventType,
			event.EnteredEvent{Participant: "alice", Amount: 10},
		),
	)
	evt := receiveEvent(t, subCh)
	data, ok := evt.Data.(event.EnteredEvent)
	require.True(t, ok, "event data was not of expected type, got %T", evt.Data)
	assert.Equal(t, "alice", data.Participant)
	assert.Equal(t, uint64(10), data.Amount)
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Close()
	_, sub1Ch := eb.Subscribe(event.WinnerPickedEventType)
	_, sub2Ch := eb.Subscribe(event.WinnerPickedEventType)
	eb.Publish(
		event.WinnerPickedEventType,
		event.NewEvent(
			event.WinnerPickedEventType,
			event.WinnerPickedEvent{Winner: "bob"},
		),
	)
	for _, ch := range []<-chan event.Event{sub1Ch, sub2Ch} {
		evt := receiveEvent(t, ch)
		assert.Equal(t, event.WinnerPickedEventType, evt.Type)
	}
}

func TestEventBusTypeIsolation(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Close()
	_, enteredCh := eb.Subscribe(event.EnteredEventType)
	eb.Publish(
		event.WinnerPickedEventType,
		event.NewEvent(event.WinnerPickedEventType, nil),
	)
	select {
	case evt := <-enteredCh:
		t.Fatalf("received unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Close()
	subId, subCh := eb.Subscribe(event.EnteredEventType)
	eb.Unsubscribe(event.EnteredEventType, subId)
	eb.Publish(
		event.EnteredEventType,
		event.NewEvent(event.EnteredEventType, nil),
	)
	select {
	case _, ok := <-subCh:
		assert.False(t, ok, "received unexpected event")
	case <-time.After(1 * time.Second):
		t.Fatalf("subscriber channel was not closed after Unsubscribe")
	}
}

func TestEventBusDropsWhenSubscriberFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	eb := event.NewEventBus(reg, nil)
	defer eb.Close()
	_, subCh := eb.Subscribe(event.EnteredEventType)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range event.EventQueueSize + 5 {
			eb.Publish(
				event.EnteredEventType,
				event.NewEvent(event.EnteredEventType, nil),
			)
		}
	}()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Publish blocked on full subscriber queue")
	}
	assert.Len(t, subCh, event.EventQueueSize)
	assert.Equal(
		t,
		float64(event.EventQueueSize+5),
		counterTotal(t, reg, "raffle_event_bus_events_total"),
	)
	assert.Equal(
		t,
		float64(5),
		counterTotal(t, reg, "raffle_event_bus_delivery_errors_total"),
	)
}

func counterTotal(
	t *testing.T,
	reg *prometheus.Registry,
	name string,
) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		total := 0.0
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestEventBusPublishAsync(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Close()
	_, subCh := eb.Subscribe(event.FinalizeRequestedEventType)
	ok := eb.PublishAsync(
		event.FinalizeRequestedEventType,
		event.NewEvent(
			event.FinalizeRequestedEventType,
			event.FinalizeRequestedEvent{RequestId: 7},
		),
	)
	require.True(t, ok)
	evt := receiveEvent(t, subCh)
	data, ok := evt.Data.(event.FinalizeRequestedEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(7), data.RequestId)
}

func TestEventBusStopAllowsReuse(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Close()
	_, subCh := eb.Subscribe(event.EnteredEventType)
	eb.Stop()
	select {
	case _, ok := <-subCh:
		assert.False(t, ok)
	case <-time.After(1 * time.Second):
		t.Fatal("subscriber channel was not closed by Stop")
	}
	_, subCh2 := eb.Subscribe(event.EnteredEventType)
	require.True(t, eb.PublishAsync(
		event.EnteredEventType,
		event.NewEvent(event.EnteredEventType, nil),
	))
	receiveEvent(t, subCh2)
}

func TestEventBusCloseRejectsAsync(t *testing.T) {
	defer goleak.VerifyNone(t)
	eb := event.NewEventBus(nil, nil)
	eb.Close()
	eb.Close()
	assert.False(t, eb.PublishAsync(
		event.EnteredEventType,
		event.NewEvent(event.EnteredEventType, nil),
	))
}

func TestSubscribeFuncPanicRecovery(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Close()
	var received atomic.Int32
	eb.SubscribeFunc(event.PayoutFailedEventType, func(evt event.Event) {
		if received.Add(1) == 1 {
			panic("intentional test panic")
		}
	})
	eb.Publish(
		event.PayoutFailedEventType,
		event.NewEvent(event.PayoutFailedEventType, "first"),
	)
	eb.Publish(
		event.PayoutFailedEventType,
		event.NewEvent(event.PayoutFailedEventType, "second"),
	)
	require.Eventually(t, func() bool {
		return received.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}
