// Package simulator provides a deterministic, connection-free Transport
// implementation used by devices configured with the "sim" protocol —
// useful for demos, integration tests, and dashboards with no physical
// field bus attached.
package simulator

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/KeppyMarbles/ModbusTiles/internal/codec"
	"github.com/KeppyMarbles/ModbusTiles/internal/transport"
)

// Transport is a transport.Transport that fabricates readings from a
// per-(address,unitID) deterministic pseudo-random sequence seeded by the
// device alias. Each register read advances the sequence, so repeated polls
// of the same tag return new values with no smoothing between them; bit
// reads return the same seed-derived bits every time.
type Transport struct {
	alias string

	mu     sync.Mutex
	state  map[uint32]uint64
	writes map[uint32][]uint16
	coils  map[uint32][]bool
}

func New(alias string) *Transport {
	return &Transport{
		alias:  alias,
		state:  make(map[uint32]uint64),
		writes: make(map[uint32][]uint16),
		coils:  make(map[uint32][]bool),
	}
}

func (t *Transport) Open(ctx context.Context) error  { return nil }
func (t *Transport) Connected() bool                 { return true }
func (t *Transport) Close() error                    { return nil }

func key(address uint16, unitID byte) uint32 {
	return uint32(unitID)<<16 | uint32(address)
}

func (t *Transport) Read(ctx context.Context, channel codec.Channel, address uint16, count int, unitID byte) (transport.ReadResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key(address, unitID)

	if channel.IsBitChannel() {
		if bits, ok := t.coils[k]; ok && channel == codec.Coil {
			out := make([]bool, count)
			copy(out, bits)
			return transport.ReadResult{Bits: out}, nil
		}
		return transport.ReadResult{Bits: walkBits(t.seed(k), count)}, nil
	}

	if regs, ok := t.writes[k]; ok {
		out := make([]uint16, count)
		copy(out, regs)
		return transport.ReadResult{Registers: out}, nil
	}
	return transport.ReadResult{Registers: walkRegisters(t.advance(k), count)}, nil
}

func (t *Transport) WriteCoils(ctx context.Context, address uint16, bits []bool, unitID byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.coils[key(address, unitID)] = append([]bool(nil), bits...)
	return nil
}

func (t *Transport) WriteRegisters(ctx context.Context, address uint16, registers []uint16, unitID byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes[key(address, unitID)] = append([]uint16(nil), registers...)
	return nil
}

// seed derives a stable starting point for a tag from the device alias and
// its Modbus key, so two simulated devices never coincidentally read alike.
func (t *Transport) seed(k uint32) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(t.alias))
	_, _ = h.Write([]byte{byte(k), byte(k >> 8), byte(k >> 16), byte(k >> 24)})
	return h.Sum64()
}

// advance mutates and returns the per-key walk counter, so consecutive
// reads of the same tag return new values rather than repeat.
func (t *Transport) advance(k uint32) uint64 {
	cur, ok := t.state[k]
	if !ok {
		cur = t.seed(k)
	}
	cur = cur*6364136223846793005 + 1442695040888963407 // LCG step
	t.state[k] = cur
	return cur
}

func walkRegisters(seed uint64, count int) []uint16 {
	out := make([]uint16, count)
	for i := range out {
		out[i] = uint16(seed >> (uint(i%4) * 16))
	}
	return out
}

func walkBits(seed uint64, count int) []bool {
	out := make([]bool, count)
	for i := range out {
		out[i] = (seed>>uint(i%64))&1 == 1
	}
	return out
}

// floatFromSeed is unused by Read directly but documents the intended
// scaling for float-typed tags exercised through the codec layer: callers
// decode the raw registers, so the simulator never needs to know a tag's
// DataType.
func floatFromSeed(seed uint64) float64 {
	return math.Mod(float64(seed%10000)/100.0, 100.0)
}
