package engine

import (
	"testing"
	"time"
)

func TestEventBusPublishSubscribe(t *testing.T) {
	eb := NewEventBus(16)
	ch, cancel := eb.Subscribe(EventFilter{})
	defer cancel()

	eb.Publish(EventData{Type: "sample", DeviceID: 1, TagID: 2, Payload: map[string]int{"v": 42}})

	select {
	case e := <-ch:
		if e.Type != "sample" || e.DeviceID != 1 || e.TagID != 2 {
			t.Fatalf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBusFilterByDevice(t *testing.T) {
	eb := NewEventBus(16)
	ch, cancel := eb.Subscribe(EventFilter{Devices: []int64{5}})
	defer cancel()

	eb.Publish(EventData{Type: "sample", DeviceID: 1, TagID: 1})
	eb.Publish(EventData{Type: "sample", DeviceID: 5, TagID: 1})

	select {
	case e := <-ch:
		if e.DeviceID != 5 {
			t.Fatalf("expected device 5, got %d", e.DeviceID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered event")
	}

	select {
	case e := <-ch:
		t.Fatalf("unexpected second event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBusReplaySince(t *testing.T) {
	eb := NewEventBus(16)
	eb.Publish(EventData{Type: "sample", DeviceID: 1, TagID: 1})
	eb.Publish(EventData{Type: "alarm_activated", DeviceID: 1, TagID: 1, AlarmConfigID: 9})

	all := eb.ReplaySince("", EventFilter{})
	if len(all) != 2 {
		t.Fatalf("expected 2 replayed events, got %d", len(all))
	}

	sinceFirst := eb.ReplaySince(all[0].ID, EventFilter{})
	if len(sinceFirst) != 1 || sinceFirst[0].Type != "alarm_activated" {
		t.Fatalf("expected 1 event after first id, got %+v", sinceFirst)
	}
}
