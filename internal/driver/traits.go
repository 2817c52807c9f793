// Package driver defines the small set of device-driver contracts
// (§4.8) the kernel's subsystems program against, plus mock
// implementations for host testing and the PCIe/XHCI/AHCI bring-up
// sequence (§4.1, §4.8).
package driver

import "context"

// Block mirrors the block device contract the VFS/partition layer
// consumes (kept distinct from internal/block.Device so the driver
// layer can own its own lifecycle/bring-up concerns).
type Block interface {
	Name() string
	Read(ctx context.Context, blockNum uint64, buf []byte) error
	Write(ctx context.Context, blockNum uint64, buf []byte) error
	Flush(ctx context.Context) error
	BlockSize() uint32
	BlockCount() uint64
	IsReadOnly() bool
}

// NetworkStats are the counters every network driver exposes (§4.8).
type NetworkStats struct {
	RxPackets, TxPackets uint64
	RxBytes, TxBytes     uint64
	RxErrors, TxErrors   uint64
	Dropped              uint64
}

// Network is the network driver contract (§4.8).
type Network interface {
	Send(ctx context.Context, packet []byte) error
	Recv(ctx context.Context, buf []byte) (int, error)
	MAC() [6]byte
	MTU() int
	LinkUp() bool
	Stats() NetworkStats
}

// Char is the byte-oriented device contract (§4.8). Control carries an
// opaque device-specific request/argument pair (e.g. baud-rate change).
type Char interface {
	Read(ctx context.Context, buf []byte) (int, error)
	Write(ctx context.Context, buf []byte) (int, error)
	CanRead() bool
	CanWrite() bool
	Control(req uint32, arg uint64) (uint64, error)
}

// Timer is the timer driver contract (§4.8).
type Timer interface {
	Now() uint64 // current tick count
	Frequency() uint64
	OneShot(ticks uint64, fire func())
	Cancel()
}

// RTC reads wall-clock time from a real-time clock device.
type RTC interface {
	ReadUnixSeconds() (int64, error)
}

// RNG is a hardware random number source.
type RNG interface {
	Read(buf []byte) (int, error)
}

// InputEvent is one input-device event (key/button/axis).
type InputEvent struct {
	Type  uint32
	Code  uint32
	Value int32
}

// Input is the input driver contract.
type Input interface {
	Poll() ([]InputEvent, error)
}

// Display is the display driver contract: a linear framebuffer plus its
// geometry.
type Display interface {
	Framebuffer() []byte
	Width() int
	Height() int
	Stride() int
	Flush() error
}

// GPIO is the GPIO driver contract.
type GPIO interface {
	SetDirection(pin int, output bool) error
	Set(pin int, high bool) error
	Get(pin int) (bool, error)
}
