package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/codec"
	"github.com/KeppyMarbles/ModbusTiles/internal/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	openErr  error
	opened   bool
	readErr  error
	closed   bool
}

func (f *fakeTransport) Open(ctx context.Context) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = true
	return nil
}
func (f *fakeTransport) Connected() bool { return f.opened }
func (f *fakeTransport) Close() error    { f.closed = true; return nil }
func (f *fakeTransport) Read(ctx context.Context, ch codec.Channel, addr uint16, count int, unit byte) (transport.ReadResult, error) {
	if f.readErr != nil {
		return transport.ReadResult{}, f.readErr
	}
	return transport.ReadResult{Registers: []uint16{1}}, nil
}
func (f *fakeTransport) WriteCoils(ctx context.Context, addr uint16, bits []bool, unit byte) error {
	return nil
}
func (f *fakeTransport) WriteRegisters(ctx context.Context, addr uint16, regs []uint16, unit byte) error {
	return nil
}

func TestSessionConnectsAndRunsWork(t *testing.T) {
	ft := &fakeTransport{}
	s := New("dev1", func() transport.Transport { return ft }, time.Second, 30*time.Second, zerolog.Nop())

	err := s.WithTransport(context.Background(), func(tr transport.Transport) error {
		_, err := tr.Read(context.Background(), codec.HoldingRegister, 0, 1, 1)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, s.ConsecutiveFailures())
}

func TestSessionBacksOffOnFailure(t *testing.T) {
	ft := &fakeTransport{readErr: errors.New("boom")}
	s := New("dev1", func() transport.Transport { return ft }, time.Second, 30*time.Second, zerolog.Nop())

	err := s.WithTransport(context.Background(), func(tr transport.Transport) error {
		_, err := tr.Read(context.Background(), codec.HoldingRegister, 0, 1, 1)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 1, s.ConsecutiveFailures())

	// Immediately retrying should be blocked by the backoff window.
	err = s.WithTransport(context.Background(), func(tr transport.Transport) error { return nil })
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestBackoffDurationDoublesAndCaps(t *testing.T) {
	min, max := time.Second, 30*time.Second
	assert.Equal(t, time.Second, backoffDuration(1, min, max))
	assert.Equal(t, 2*time.Second, backoffDuration(2, min, max))
	assert.Equal(t, 4*time.Second, backoffDuration(3, min, max))
	assert.Equal(t, max, backoffDuration(10, min, max))
}

func TestRegistryGetOrCreate(t *testing.T) {
	r := NewRegistry()
	built := 0
	build := func() *Session {
		built++
		return New("dev1", func() transport.Transport { return &fakeTransport{} }, time.Second, 30*time.Second, zerolog.Nop())
	}
	s1 := r.GetOrCreate("dev1", build)
	s2 := r.GetOrCreate("dev1", build)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, built)
}
