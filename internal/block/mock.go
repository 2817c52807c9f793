package block

import (
	"context"
	"math/rand"
	"time"

	"github.com/aikernel/core/internal/kerrors"
)

// MockConfig tunes the fault injection a MockDevice applies to every
// ReadSectors and WriteSectors call (§4.7 "Mock block and network
// devices"); Flush and the metadata accessors are not affected.
type MockConfig struct {
	FailureRate   float64       // probability in [0,1] that a read/write returns an error
	Delay         time.Duration // simulated latency added before every read/write
	rng           *rand.Rand
}

// MockDevice wraps a MemDevice, injecting configurable failures and
// delay ahead of every sector read and write, for exercising block-layer error paths in
// host tests without real hardware.
type MockDevice struct {
	*MemDevice
	cfg MockConfig
}

func NewMockDevice(name string, major, minor uint32, sectors uint64, cfg MockConfig) *MockDevice {
	if cfg.rng == nil {
		cfg.rng = rand.New(rand.NewSource(1))
	}
	return &MockDevice{MemDevice: NewMemDevice(name, major, minor, sectors, false), cfg: cfg}
}

func (m *MockDevice) inject(ctx context.Context) error {
	if m.cfg.Delay > 0 {
		select {
		case <-time.After(m.cfg.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.cfg.FailureRate > 0 && m.cfg.rng.Float64() < m.cfg.FailureRate {
		return kerrors.Unavailable(kerrors.NewRetryable("block: mock device injected failure"))
	}
	return nil
}

func (m *MockDevice) ReadSectors(ctx context.Context, lba uint64, buf []byte) error {
	if err := m.inject(ctx); err != nil {
		return err
	}
	return m.MemDevice.ReadSectors(ctx, lba, buf)
}

func (m *MockDevice) WriteSectors(ctx context.Context, lba uint64, buf []byte) error {
	if err := m.inject(ctx); err != nil {
		return err
	}
	return m.MemDevice.WriteSectors(ctx, lba, buf)
}
