package poll

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/alarm"
	"github.com/KeppyMarbles/ModbusTiles/internal/cache"
	"github.com/KeppyMarbles/ModbusTiles/internal/codec"
	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/KeppyMarbles/ModbusTiles/internal/engine"
	"github.com/KeppyMarbles/ModbusTiles/internal/history"
	"github.com/KeppyMarbles/ModbusTiles/internal/session"
	"github.com/KeppyMarbles/ModbusTiles/internal/transport"
	"github.com/KeppyMarbles/ModbusTiles/internal/value"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── fakes ────────────────────────────────────────────────────────────

// fakeTransport is a programmable transport.Transport: tests set readResult
// up front and inspect the write calls it records after a tick.
type fakeTransport struct {
	mu         sync.Mutex
	readResult transport.ReadResult
	readErr    error

	coilWrites     []coilWrite
	registerWrites []registerWrite
}

type coilWrite struct {
	address uint16
	bits    []bool
	unitID  byte
}

type registerWrite struct {
	address   uint16
	registers []uint16
	unitID    byte
}

func (f *fakeTransport) Open(ctx context.Context) error { return nil }
func (f *fakeTransport) Connected() bool                { return true }
func (f *fakeTransport) Close() error                   { return nil }

func (f *fakeTransport) Read(ctx context.Context, ch codec.Channel, addr uint16, count int, unit byte) (transport.ReadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return transport.ReadResult{}, f.readErr
	}
	return f.readResult, nil
}

func (f *fakeTransport) WriteCoils(ctx context.Context, addr uint16, bits []bool, unit byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coilWrites = append(f.coilWrites, coilWrite{addr, append([]bool(nil), bits...), unit})
	return nil
}

func (f *fakeTransport) WriteRegisters(ctx context.Context, addr uint16, regs []uint16, unit byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerWrites = append(f.registerWrites, registerWrite{addr, append([]uint16(nil), regs...), unit})
	return nil
}

// fakeDataStore is an in-memory stand-in for *database.DB, covering exactly
// the methods the tick loop calls.
type fakeDataStore struct {
	mu sync.Mutex

	devices       []database.Device
	tags          map[int64][]database.Tag // keyed by device id
	pendingWrites map[int64][]database.WriteRequest

	commits   []commitCall
	processed []processedCall
}

type commitCall struct {
	tagID int64
	raw   json.RawMessage
	at    time.Time
}

type processedCall struct {
	id  int64
	err error
}

func (f *fakeDataStore) ListActiveDevices(ctx context.Context) ([]database.Device, error) {
	return f.devices, nil
}

func (f *fakeDataStore) ListActiveTagsByDevice(ctx context.Context, deviceID int64) ([]database.Tag, error) {
	return f.tags[deviceID], nil
}

func (f *fakeDataStore) PendingWritesByDevice(ctx context.Context, deviceID int64) ([]database.WriteRequest, error) {
	return f.pendingWrites[deviceID], nil
}

func (f *fakeDataStore) MarkWriteProcessed(ctx context.Context, id int64, writeErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, processedCall{id, writeErr})
	return nil
}

func (f *fakeDataStore) CommitSample(ctx context.Context, tagID int64, rawValue json.RawMessage, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, commitCall{tagID, rawValue, at})
	return nil
}

func (f *fakeDataStore) CountPendingWrites(ctx context.Context) (int64, error) { return 0, nil }

// fakeAlarmStore backs a real alarm.Evaluator with in-memory state, so
// reconciliation/cooldown logic runs for real against fake storage.
type fakeAlarmStore struct {
	mu sync.Mutex

	configs        map[int64][]database.AlarmConfig // by tag id
	activeByConfig map[int64]database.ActivatedAlarm
	nextActivationID int64
}

func newFakeAlarmStore(tagID int64, configs ...database.AlarmConfig) *fakeAlarmStore {
	return &fakeAlarmStore{
		configs:        map[int64][]database.AlarmConfig{tagID: configs},
		activeByConfig: make(map[int64]database.ActivatedAlarm),
	}
}

func (s *fakeAlarmStore) ListEnabledAlarmConfigsByTag(ctx context.Context, tagID int64) ([]database.AlarmConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]database.AlarmConfig(nil), s.configs[tagID]...), nil
}

func (s *fakeAlarmStore) GetActiveAlarmForConfig(ctx context.Context, configID int64) (database.ActivatedAlarm, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activeByConfig[configID]
	return a, ok, nil
}

func (s *fakeAlarmStore) ActivateAlarm(ctx context.Context, configID int64, at time.Time) (database.ActivatedAlarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextActivationID++
	a := database.ActivatedAlarm{ID: s.nextActivationID, AlarmConfigID: configID, ActivatedAt: at, Active: true}
	s.activeByConfig[configID] = a
	return a, nil
}

func (s *fakeAlarmStore) DeactivateAlarm(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cfgID, a := range s.activeByConfig {
		if a.ID == id {
			delete(s.activeByConfig, cfgID)
		}
	}
	return nil
}

func (s *fakeAlarmStore) MarkAlarmNotified(ctx context.Context, configID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tagID, cfgs := range s.configs {
		for i := range cfgs {
			if cfgs[i].ID == configID {
				stamp := at
				s.configs[tagID][i].LastNotified = &stamp
			}
		}
	}
	return nil
}

func (s *fakeAlarmStore) ListSubscriptions(ctx context.Context, tagID int64) ([]database.Subscription, error) {
	return nil, nil
}

// fakeHistoryStore backs a real history.Sampler, capturing every flushed
// batch so the throttle property can be asserted on the batch contents.
type fakeHistoryStore struct {
	mu      sync.Mutex
	batches [][]database.HistorySample
}

func (s *fakeHistoryStore) InsertHistoryBatch(ctx context.Context, samples []database.HistorySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]database.HistorySample(nil), samples...)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *fakeHistoryStore) all() []database.HistorySample {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.HistorySample
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

type noopAlarms struct{}

func (noopAlarms) Evaluate(ctx context.Context, tagID int64, sampled value.Value, now time.Time) error {
	return nil
}

type noopHistory struct{}

func (noopHistory) Offer(tag database.Tag, raw json.RawMessage, now time.Time) {}

func newTestEngine(db dataStore, alarms alarmEvaluator, hist historySampler) *Engine {
	return &Engine{
		db:               db,
		cache:            cache.New(),
		history:          hist,
		alarms:           alarms,
		sessions:         session.NewRegistry(),
		bus:              engine.NewEventBus(16),
		interval:         time.Second,
		transportTimeout: time.Second,
		minBackoff:       time.Second,
		maxBackoff:       30 * time.Second,
		log:              zerolog.Nop(),
	}
}

func seedSession(e *Engine, alias string, tr transport.Transport) {
	e.sessions.GetOrCreate(alias, func() *session.Session {
		return session.New(alias, func() transport.Transport { return tr }, time.Second, 30*time.Second, zerolog.Nop())
	})
}

// ── scenario 1: read holding register int16 = 42 ───────────────────

func TestPollDeviceCommitsHoldingRegisterSample(t *testing.T) {
	device := database.Device{ID: 1, Alias: "dev1", Host: "localhost", Port: 502, Protocol: transport.TCP, WordOrder: codec.BigEndianWords, Active: true}
	tag := database.Tag{ID: 10, DeviceID: 1, Channel: codec.HoldingRegister, Address: 0, UnitID: 1, DataType: codec.Int16, ReadAmount: 1, Active: true}

	store := &fakeDataStore{
		devices:       []database.Device{device},
		tags:          map[int64][]database.Tag{1: {tag}},
		pendingWrites: map[int64][]database.WriteRequest{},
	}
	tr := &fakeTransport{readResult: transport.ReadResult{Registers: []uint16{0x002A}}}

	e := newTestEngine(store, noopAlarms{}, noopHistory{})
	seedSession(e, device.Alias, tr)

	e.pollDevice(context.Background(), device)

	require.Len(t, store.commits, 1)
	assert.Equal(t, int64(10), store.commits[0].tagID)
	var got int64
	require.NoError(t, json.Unmarshal(store.commits[0].raw, &got))
	assert.Equal(t, int64(42), got)

	entry, ok := e.cache.Get(10)
	require.True(t, ok)
	f, orderable := entry.Value.AsFloat()
	require.True(t, orderable)
	assert.Equal(t, float64(42), f)
	assert.WithinDuration(t, time.Now(), entry.LastUpdated, time.Second)
}

// ── scenario 2: write coil = true ───────────────────────────────────

func TestPollDeviceDrainsCoilWrite(t *testing.T) {
	device := database.Device{ID: 1, Alias: "dev1", Host: "localhost", Port: 502, Protocol: transport.TCP, WordOrder: codec.BigEndianWords, Active: true}
	tag := database.Tag{ID: 20, DeviceID: 1, Channel: codec.Coil, Address: 5, UnitID: 1, DataType: codec.Bool, ReadAmount: 1, Active: true}

	store := &fakeDataStore{
		devices: []database.Device{device},
		tags:    map[int64][]database.Tag{1: {tag}},
		pendingWrites: map[int64][]database.WriteRequest{
			1: {{ID: 100, TagID: 20, Value: json.RawMessage("true")}},
		},
	}
	tr := &fakeTransport{readResult: transport.ReadResult{Bits: []bool{true}}}

	e := newTestEngine(store, noopAlarms{}, noopHistory{})
	seedSession(e, device.Alias, tr)

	e.pollDevice(context.Background(), device)

	require.Len(t, tr.coilWrites, 1)
	assert.Equal(t, uint16(5), tr.coilWrites[0].address)
	assert.Equal(t, []bool{true}, tr.coilWrites[0].bits)

	require.Len(t, store.processed, 1)
	assert.Equal(t, int64(100), store.processed[0].id)
	assert.NoError(t, store.processed[0].err)
}

// ── scenario 3: float32 little-endian decode ────────────────────────

func TestPollDeviceDecodesFloat32LittleEndian(t *testing.T) {
	device := database.Device{ID: 1, Alias: "dev1", Host: "localhost", Port: 502, Protocol: transport.TCP, WordOrder: codec.LittleEndianWords, Active: true}
	tag := database.Tag{ID: 30, DeviceID: 1, Channel: codec.HoldingRegister, Address: 0, UnitID: 1, DataType: codec.Float32, ReadAmount: 1, Active: true}

	store := &fakeDataStore{
		devices:       []database.Device{device},
		tags:          map[int64][]database.Tag{1: {tag}},
		pendingWrites: map[int64][]database.WriteRequest{},
	}
	tr := &fakeTransport{readResult: transport.ReadResult{Registers: []uint16{0xF5C3, 0x4048}}}

	e := newTestEngine(store, noopAlarms{}, noopHistory{})
	seedSession(e, device.Alias, tr)

	e.pollDevice(context.Background(), device)

	entry, ok := e.cache.Get(30)
	require.True(t, ok)
	f, orderable := entry.Value.AsFloat()
	require.True(t, orderable)
	assert.InDelta(t, 3.14, f, 1e-6)
}

// ── scenario 4: alarm priority reconciliation ───────────────────────

func TestReadTagReconcilesAlarmPriority(t *testing.T) {
	device := database.Device{ID: 1, Alias: "dev1", Host: "localhost", Port: 502, Protocol: transport.TCP, WordOrder: codec.BigEndianWords, Active: true}
	tag := database.Tag{ID: 40, DeviceID: 1, Channel: codec.HoldingRegister, Address: 0, UnitID: 1, DataType: codec.Int16, ReadAmount: 1, Active: true}

	low := alarmCfg(1, database.ThreatLow, 8)
	high := alarmCfg(2, database.ThreatHigh, 9)
	critical := alarmCfg(3, database.ThreatCritical, 10)
	alarmStore := newFakeAlarmStore(40, low, high, critical)

	store := &fakeDataStore{devices: []database.Device{device}, tags: map[int64][]database.Tag{1: {tag}}, pendingWrites: map[int64][]database.WriteRequest{}}
	e := newTestEngine(store, alarm.New(alarmStore, engine.NewEventBus(16), time.Minute, zerolog.Nop()), noopHistory{})

	tr := &fakeTransport{readResult: transport.ReadResult{Registers: regOf(10)}}

	require.NoError(t, e.readTag(context.Background(), tr, device, tag))
	assertOneActive(t, alarmStore, critical.ID)

	tr.mu.Lock()
	tr.readResult = transport.ReadResult{Registers: regOf(9)}
	tr.mu.Unlock()
	require.NoError(t, e.readTag(context.Background(), tr, device, tag))
	assertOneActive(t, alarmStore, high.ID)

	tr.mu.Lock()
	tr.readResult = transport.ReadResult{Registers: regOf(0)}
	tr.mu.Unlock()
	require.NoError(t, e.readTag(context.Background(), tr, device, tag))
	assertOneActive(t, alarmStore)
}

func assertOneActive(t *testing.T, s *fakeAlarmStore, wantConfigID ...int64) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(wantConfigID) == 0 {
		assert.Empty(t, s.activeByConfig)
		return
	}
	require.Len(t, s.activeByConfig, 1)
	for cfgID := range s.activeByConfig {
		assert.Equal(t, wantConfigID[0], cfgID)
	}
}

// ── scenario 5: notification cooldown ───────────────────────────────

func TestAlarmEvaluatorRespectsCooldown(t *testing.T) {
	cooldown := 60 * time.Second
	cfg := alarmCfg(1, database.ThreatLow, 1)
	alarmStore := newFakeAlarmStore(50, cfg)

	bus := engine.NewEventBus(16)
	ch, cancel := bus.Subscribe(engine.EventFilter{Types: []string{"notification_intent"}})
	defer cancel()

	ev := alarm.New(alarmStore, bus, cooldown, zerolog.Nop())

	t0 := time.Now()
	require.NoError(t, ev.Evaluate(context.Background(), 50, value.I64(1), t0))
	require.Len(t, ch, 1)
	<-ch

	require.NoError(t, ev.Evaluate(context.Background(), 50, value.I64(1), t0.Add(10*time.Second)))
	assert.Len(t, ch, 0, "a second evaluation inside the cooldown window must not notify again")

	require.NoError(t, ev.Evaluate(context.Background(), 50, value.I64(1), t0.Add(61*time.Second)))
	require.Len(t, ch, 1)
}

// ── scenario 6: history throttle over a sampling window ─────────────
//
// The retention-prune half of this scenario (pruning rows past the tag's
// retention window) is a database-level delete exercised by Cleanup's own
// tests, not the poll loop's concern; this test covers the sampler-side
// half the poll tick actually drives — the throttle spacing.

func TestHistoryThrottleSpacingOverSamplingWindow(t *testing.T) {
	histStore := &fakeHistoryStore{}
	sampler := history.New(histStore, zerolog.Nop(), 1000, time.Hour)

	tag := database.Tag{ID: 60, HistoryInterval: 5 * time.Second, HistoryRetention: 30 * time.Second}
	start := time.Now()
	for elapsed := time.Duration(0); elapsed <= 2*time.Minute; elapsed += time.Second {
		sampler.Offer(tag, json.RawMessage("1"), start.Add(elapsed))
	}
	sampler.Stop()

	samples := histStore.all()
	require.NotEmpty(t, samples)
	for i := 1; i < len(samples); i++ {
		gap := samples[i].Timestamp.Sub(samples[i-1].Timestamp)
		assert.GreaterOrEqual(t, gap, tag.HistoryInterval)
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func alarmCfg(id int64, threat database.ThreatLevel, trigger int) database.AlarmConfig {
	raw, _ := json.Marshal(trigger)
	return database.AlarmConfig{ID: id, ThreatLevel: threat, Operator: database.OpEquals, TriggerValue: raw, Enabled: true, NotificationCooldown: time.Minute}
}

func regOf(i16 int16) []uint16 {
	return []uint16{uint16(i16)}
}
