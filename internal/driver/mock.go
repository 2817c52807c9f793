package driver

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/aikernel/core/internal/kerrors"
)

// MockNetworkConfig tunes the fault injection a MockNetwork applies
// (§4.7 "Mock block and network devices").
type MockNetworkConfig struct {
	LinkDown     bool
	PacketLoss   float64 // probability in [0,1] a Send is silently dropped
	Delay        time.Duration
	MTUBytes     int
}

// MockNetwork is a network driver used by host tests to exercise
// error/drop/link-down paths without real hardware.
type MockNetwork struct {
	mu    sync.Mutex
	cfg   MockNetworkConfig
	mac   [6]byte
	stats NetworkStats
	rng   *rand.Rand
	rxBuf [][]byte
}

func NewMockNetwork(mac [6]byte, cfg MockNetworkConfig) *MockNetwork {
	if cfg.MTUBytes == 0 {
		cfg.MTUBytes = 1500
	}
	return &MockNetwork{cfg: cfg, mac: mac, rng: rand.New(rand.NewSource(1))}
}

func (m *MockNetwork) Send(ctx context.Context, packet []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.Delay > 0 {
		time.Sleep(m.cfg.Delay)
	}
	if !m.cfg.LinkDown && m.rng.Float64() >= m.cfg.PacketLoss {
		m.rxBuf = append(m.rxBuf, append([]byte(nil), packet...))
	} else {
		m.stats.Dropped++
	}
	if m.cfg.LinkDown {
		m.stats.TxErrors++
		return kerrors.Unavailable(kerrors.New("driver: link down"))
	}
	m.stats.TxPackets++
	m.stats.TxBytes += uint64(len(packet))
	return nil
}

func (m *MockNetwork) Recv(ctx context.Context, buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rxBuf) == 0 {
		return 0, kerrors.Unavailable(kerrors.New("driver: no packet queued"))
	}
	pkt := m.rxBuf[0]
	m.rxBuf = m.rxBuf[1:]
	n := copy(buf, pkt)
	m.stats.RxPackets++
	m.stats.RxBytes += uint64(n)
	return n, nil
}

func (m *MockNetwork) MAC() [6]byte { return m.mac }
func (m *MockNetwork) MTU() int     { return m.cfg.MTUBytes }
func (m *MockNetwork) LinkUp() bool { return !m.cfg.LinkDown }
func (m *MockNetwork) Stats() NetworkStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
