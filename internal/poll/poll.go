// Package poll implements the Poll Engine: the central
// control loop that, per tick, drains pending writes and reads active tags
// for every device, handing samples to the Tag Cache, History Sampler, and
// Alarm Evaluator.
package poll

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/alarm"
	"github.com/KeppyMarbles/ModbusTiles/internal/cache"
	"github.com/KeppyMarbles/ModbusTiles/internal/codec"
	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/KeppyMarbles/ModbusTiles/internal/engine"
	"github.com/KeppyMarbles/ModbusTiles/internal/history"
	"github.com/KeppyMarbles/ModbusTiles/internal/metrics"
	"github.com/KeppyMarbles/ModbusTiles/internal/session"
	"github.com/KeppyMarbles/ModbusTiles/internal/simulator"
	"github.com/KeppyMarbles/ModbusTiles/internal/transport"
	"github.com/KeppyMarbles/ModbusTiles/internal/value"
	"github.com/rs/zerolog"
)

// dataStore is the subset of *database.DB the tick loop depends on,
// narrowed so tests can drive the engine against an in-memory fake instead
// of a live connection.
type dataStore interface {
	ListActiveDevices(ctx context.Context) ([]database.Device, error)
	ListActiveTagsByDevice(ctx context.Context, deviceID int64) ([]database.Tag, error)
	PendingWritesByDevice(ctx context.Context, deviceID int64) ([]database.WriteRequest, error)
	MarkWriteProcessed(ctx context.Context, id int64, writeErr error) error
	CommitSample(ctx context.Context, tagID int64, rawValue json.RawMessage, at time.Time) error
	CountPendingWrites(ctx context.Context) (int64, error)
}

// Stats tracks process-wide poll counters, scraped by the Prometheus
// collector. All fields are updated from the tick goroutine and read from
// the metrics scrape goroutine, so every field is an atomic.
type Stats struct {
	Ticks         atomic.Uint64
	DevicesPolled atomic.Uint64
	DevicesFailed atomic.Uint64
	TagsRead      atomic.Uint64
	TagsFailed    atomic.Uint64
	WritesDrained atomic.Uint64
}

// alarmEvaluator is the subset of *alarm.Evaluator the tick loop depends
// on, narrowed so tests can substitute a fake in place of a real evaluator.
type alarmEvaluator interface {
	Evaluate(ctx context.Context, tagID int64, sampled value.Value, now time.Time) error
}

// historySampler is the subset of *history.Sampler the tick loop depends
// on, narrowed so tests can substitute a fake in place of a real sampler.
type historySampler interface {
	Offer(tag database.Tag, raw json.RawMessage, now time.Time)
}

// Engine owns the tick loop. One Engine per process.
type Engine struct {
	db         dataStore
	cache      *cache.Cache
	history    historySampler
	alarms     alarmEvaluator
	sessions   *session.Registry
	bus        *engine.EventBus
	mqttMirror func(tagExternalID string, v value.Value)

	interval        time.Duration
	transportTimeout time.Duration
	minBackoff      time.Duration
	maxBackoff      time.Duration

	log   zerolog.Logger
	stats Stats
}

// Options configures an Engine. MQTTMirror is optional: when non-nil, it is
// called once per committed sample (the outbound MQTT
// mirror feature).
type Options struct {
	DB               *database.DB
	Cache            *cache.Cache
	History          *history.Sampler
	Alarms           *alarm.Evaluator
	Sessions         *session.Registry
	Bus              *engine.EventBus
	MQTTMirror       func(tagExternalID string, v value.Value)
	Interval         time.Duration
	TransportTimeout time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	Log              zerolog.Logger
}

func New(opts Options) *Engine {
	return &Engine{
		db:               opts.DB,
		cache:            opts.Cache,
		history:          opts.History,
		alarms:           opts.Alarms,
		sessions:         opts.Sessions,
		bus:              opts.Bus,
		mqttMirror:       opts.MQTTMirror,
		interval:         opts.Interval,
		transportTimeout: opts.TransportTimeout,
		minBackoff:       opts.MinBackoff,
		maxBackoff:       opts.MaxBackoff,
		log:              opts.Log.With().Str("component", "poll").Logger(),
	}
}

// Run blocks, ticking until ctx is cancelled. Each tick's work is run
// synchronously; if it overruns the interval, the next tick starts
// immediately rather than queuing up (a single global cadence).
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("poll engine stopping")
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	e.stats.Ticks.Add(1)

	devices, err := e.db.ListActiveDevices(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("failed to list active devices")
		return
	}

	for _, d := range devices {
		e.pollDevice(ctx, d)
	}
}

func (e *Engine) pollDevice(ctx context.Context, d database.Device) {
	sess := e.sessions.GetOrCreate(d.Alias, func() *session.Session {
		return session.New(d.Alias, e.newTransport(d), e.minBackoff, e.maxBackoff, e.log)
	})

	tags, err := e.db.ListActiveTagsByDevice(ctx, d.ID)
	if err != nil {
		e.log.Error().Err(err).Str("device", d.Alias).Msg("failed to list tags")
		return
	}

	aborted := false
	err = sess.WithTransport(ctx, func(tr transport.Transport) error {
		if err := e.drainWrites(ctx, tr, d, tags); err != nil {
			aborted = true
			return err
		}
		for _, t := range tags {
			if err := e.readTag(ctx, tr, d, t); err != nil {
				// A single transport error aborts the device for the rest
				// of this tick; a decode error only affects this tag.
				if isTransportErr(err) {
					aborted = true
					return err
				}
				e.stats.TagsFailed.Add(1)
				metrics.TagReadsTotal.WithLabelValues("decode_error").Inc()
			}
			if aborted {
				break
			}
		}
		return nil
	})
	if err != nil {
		e.stats.DevicesFailed.Add(1)
		metrics.TagReadsTotal.WithLabelValues("transport_error").Inc()
		e.log.Warn().Err(err).Str("device", d.Alias).Msg("device poll aborted")
		return
	}
	e.stats.DevicesPolled.Add(1)
}

func isTransportErr(err error) bool {
	_, ok := err.(*transport.Error)
	return ok
}

// drainWrites selects unprocessed WriteRequests for tags on this device,
// oldest first, and issues each via Transport. A single transport error
// aborts the device for the remainder of the tick.
func (e *Engine) drainWrites(ctx context.Context, tr transport.Transport, d database.Device, tags []database.Tag) error {
	writes, err := e.db.PendingWritesByDevice(ctx, d.ID)
	if err != nil {
		return err
	}
	tagByID := make(map[int64]database.Tag, len(tags))
	for _, t := range tags {
		tagByID[t.ID] = t
	}

	for _, w := range writes {
		tag, ok := tagByID[w.TagID]
		if !ok {
			// Tag deactivated/deleted since enqueue; mark processed with a
			// note rather than retrying forever.
			_ = e.db.MarkWriteProcessed(ctx, w.ID, errNotActive)
			continue
		}

		var raw any
		if err := json.Unmarshal(w.Value, &raw); err != nil {
			_ = e.db.MarkWriteProcessed(ctx, w.ID, err)
			continue
		}
		v := value.FromAny(raw)

		registers, bits, err := codec.Encode(tag.DataType, d.WordOrder, tag.Channel, v, tag.ReadAmount)
		if err != nil {
			_ = e.db.MarkWriteProcessed(ctx, w.ID, err)
			continue
		}

		writeCtx, cancel := context.WithTimeout(ctx, e.transportTimeout)
		var ioErr error
		if tag.Channel == codec.Coil {
			ioErr = tr.WriteCoils(writeCtx, tag.Address, bits, tag.UnitID)
		} else {
			ioErr = tr.WriteRegisters(writeCtx, tag.Address, registers, tag.UnitID)
		}
		cancel()

		if ioErr != nil {
			// Transport error: leave unprocessed for retry, abort the device.
			return ioErr
		}
		_ = e.db.MarkWriteProcessed(ctx, w.ID, nil)
		e.stats.WritesDrained.Add(1)
		metrics.WritesProcessedTotal.Inc()
		e.bus.Publish(engine.EventData{Type: "write_processed", DeviceID: d.ID, TagID: tag.ID})
	}
	return nil
}

var errNotActive = &database.ValidationError{Field: "tag", Reason: "tag no longer active"}

// readTag issues one read, decodes it, commits the sample, and hands it to
// History and Alarm.
func (e *Engine) readTag(ctx context.Context, tr transport.Transport, d database.Device, t database.Tag) error {
	readCtx, cancel := context.WithTimeout(ctx, e.transportTimeout)
	res, err := tr.Read(readCtx, t.Channel, t.Address, t.ReadWidth(), t.UnitID)
	cancel()
	if err != nil {
		return err
	}

	v, err := codec.Decode(t.DataType, d.WordOrder, t.Channel, res.Registers, res.Bits, t.ReadAmount)
	if err != nil {
		e.log.Warn().Err(err).Str("device", d.Alias).Int64("tag_id", t.ID).Msg("decode failed, keeping last value")
		return err
	}

	now := time.Now()
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}

	if err := e.db.CommitSample(ctx, t.ID, raw, now); err != nil {
		e.log.Error().Err(err).Int64("tag_id", t.ID).Msg("failed to commit sample")
		return err
	}
	e.cache.Set(t.ID, v, now)
	e.stats.TagsRead.Add(1)
	metrics.TagReadsTotal.WithLabelValues("ok").Inc()

	e.history.Offer(t, raw, now)

	if err := e.alarms.Evaluate(ctx, t.ID, v, now); err != nil {
		e.log.Error().Err(err).Int64("tag_id", t.ID).Msg("alarm evaluation failed")
	}

	e.bus.Publish(engine.EventData{Type: "sample", DeviceID: d.ID, TagID: t.ID, Payload: v})
	if e.mqttMirror != nil {
		e.mqttMirror(t.ExternalID.String(), v)
		metrics.MQTTMessagesPublishedTotal.Inc()
	}
	return nil
}

// newTransport returns a constructor building a fresh, unopened Transport
// for a device per its configured protocol. RTU devices are not reachable
// over the simple host:port dial used here; a deployment wiring a real
// serial driver supplies its own SerialDialer and constructs the session
// directly rather than through the poll engine's default factory.
func (e *Engine) newTransport(d database.Device) func() transport.Transport {
	return func() transport.Transport {
		switch d.Protocol {
		case transport.UDP:
			return transport.NewUDP(hostPort(d), e.transportTimeout)
		case transport.Sim:
			return simulator.New(d.Alias)
		default:
			return transport.NewTCP(hostPort(d), e.transportTimeout)
		}
	}
}

func hostPort(d database.Device) string {
	return d.Host + ":" + itoa(d.Port)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// StatsSnapshot is a point-in-time copy of Stats, safe to pass around and
// serialize.
type StatsSnapshot struct {
	Ticks         uint64
	DevicesPolled uint64
	DevicesFailed uint64
	TagsRead      uint64
	TagsFailed    uint64
	WritesDrained uint64
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() StatsSnapshot {
	return StatsSnapshot{
		Ticks:         e.stats.Ticks.Load(),
		DevicesPolled: e.stats.DevicesPolled.Load(),
		DevicesFailed: e.stats.DevicesFailed.Load(),
		TagsRead:      e.stats.TagsRead.Load(),
		TagsFailed:    e.stats.TagsFailed.Load(),
		WritesDrained: e.stats.WritesDrained.Load(),
	}
}

// Ticks implements api.PollStatusSource.
func (e *Engine) Ticks() uint64 { return e.stats.Ticks.Load() }

// DevicesPolled implements metrics.PollStats and api.PollStatusSource.
func (e *Engine) DevicesPolled() uint64 { return e.stats.DevicesPolled.Load() }

// DevicesFailed implements metrics.PollStats and api.PollStatusSource.
func (e *Engine) DevicesFailed() uint64 { return e.stats.DevicesFailed.Load() }

// TagsRead implements api.PollStatusSource.
func (e *Engine) TagsRead() uint64 { return e.stats.TagsRead.Load() }

// TagsFailed implements api.PollStatusSource.
func (e *Engine) TagsFailed() uint64 { return e.stats.TagsFailed.Load() }

// WritesDrained implements api.PollStatusSource.
func (e *Engine) WritesDrained() uint64 { return e.stats.WritesDrained.Load() }

// PendingWrites implements metrics.PollStats by querying the database for
// the current backlog across all devices.
func (e *Engine) PendingWrites() int {
	n, err := e.db.CountPendingWrites(context.Background())
	if err != nil {
		return 0
	}
	return int(n)
}

// EventSubscribers implements metrics.PollStats.
func (e *Engine) EventSubscribers() int { return e.bus.SubscriberCount() }
