package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/metrics"
)

// Event is a single notable occurrence in the supervisor: a tag sample
// commit, an alarm activation/deactivation, a notification intent, or a
// write-request completion. In-process consumers receive events through
// EventBus (Subscribe/ReplaySince); the MQTT mirror does not, since the poll
// engine calls it directly for each committed sample.
type Event struct {
	ID            string
	Type          string // "sample", "alarm_activated", "alarm_deactivated", "notification_intent", "write_processed"
	Timestamp     string
	DeviceID      int64
	TagID         int64
	AlarmConfigID int64
	Data          json.RawMessage
}

// EventFilter narrows a Subscribe/ReplaySince call to events of interest.
// Zero-valued slices mean "no filter on this dimension".
type EventFilter struct {
	Types    []string
	Devices  []int64
	Tags     []int64
	Alarms   []int64
}

// EventBus provides pub-sub distribution of Events to in-process
// subscribers, with a ring buffer for replay on reconnect.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan Event
	filter EventFilter
}

// NewEventBus creates an event bus with the given ring buffer size.
func NewEventBus(ringSize int) *EventBus {
	return &EventBus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a new subscriber and returns a channel and cancel function.
func (eb *EventBus) Subscribe(filter EventFilter) (<-chan Event, func()) {
	eb.mu.Lock()
	id := eb.nextID
	eb.nextID++
	ch := make(chan Event, 64)
	eb.subscribers[id] = subscriber{ch: ch, filter: filter}
	eb.mu.Unlock()

	cancel := func() {
		eb.mu.Lock()
		delete(eb.subscribers, id)
		eb.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the current number of live subscribers, for the
// Prometheus collector.
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// ReplaySince returns buffered events since the given event ID.
func (eb *EventBus) ReplaySince(lastEventID string, filter EventFilter) []Event {
	eb.ringMu.RLock()
	defer eb.ringMu.RUnlock()

	var events []Event
	found := lastEventID == ""

	for i := 0; i < eb.ringSize; i++ {
		idx := (eb.ringHead + i) % eb.ringSize
		e := eb.ring[idx]
		if e.ID == "" {
			continue
		}
		if !found {
			if e.ID == lastEventID {
				found = true
			}
			continue
		}
		if matchesFilter(e, filter) {
			events = append(events, e)
		}
	}
	return events
}

// EventData holds all fields needed to publish an Event.
type EventData struct {
	Type          string
	DeviceID      int64
	TagID         int64
	AlarmConfigID int64
	Payload       any
}

// Publish sends an event to all matching subscribers and adds it to the
// ring buffer. Never blocks: a slow subscriber drops the event rather than
// stalling the poll engine that produced it.
func (eb *EventBus) Publish(e EventData) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return
	}

	seq := eb.seq.Add(1)
	event := Event{
		ID:            fmt.Sprintf("%d-%d", time.Now().UnixMilli(), seq),
		Type:          e.Type,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		DeviceID:      e.DeviceID,
		TagID:         e.TagID,
		AlarmConfigID: e.AlarmConfigID,
		Data:          data,
	}

	eb.ringMu.Lock()
	eb.ring[eb.ringHead] = event
	eb.ringHead = (eb.ringHead + 1) % eb.ringSize
	eb.ringMu.Unlock()

	metrics.EventsPublishedTotal.Inc()

	eb.mu.RLock()
	for _, sub := range eb.subscribers {
		if matchesFilter(event, sub.filter) {
			select {
			case sub.ch <- event:
			default:
				// Drop if subscriber is slow.
			}
		}
	}
	eb.mu.RUnlock()
}

func matchesFilter(e Event, f EventFilter) bool {
	if len(f.Types) > 0 {
		match := false
		for _, t := range f.Types {
			if t == e.Type {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if len(f.Devices) > 0 {
		match := false
		for _, d := range f.Devices {
			if d == e.DeviceID {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if len(f.Tags) > 0 {
		match := false
		for _, tg := range f.Tags {
			if tg == e.TagID {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if len(f.Alarms) > 0 && e.AlarmConfigID != 0 {
		match := false
		for _, a := range f.Alarms {
			if a == e.AlarmConfigID {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}
