package driver

import (
	"fmt"
	"math/bits"

	"github.com/aikernel/core/internal/kerrors"
)

// ECAMReader abstracts the memory-mapped config-space access a real
// ECAM window provides, so PCIe scanning is testable against a fake
// table rather than real MMIO (§4.1, §4.8).
type ECAMReader interface {
	// ReadConfigDWord reads one 32-bit config-space register at
	// (bus, slot, function, offset).
	ReadConfigDWord(bus, slot, function uint8, offset uint16) uint32
}

// Function is one discovered PCIe bus/slot/function with its
// vendor/device/class identifiers (§4.8 "PCIe bring-up").
type Function struct {
	Bus, Slot, Func uint8
	VendorID        uint16
	DeviceID        uint16
	ClassCode       uint8
	SubClass        uint8
}

const (
	pciVendorNone = 0xFFFF
)

// ScanBus0 walks bus 0, reading vendor/device/class for every
// slot/function, and returns every function whose vendor id is present
// (§4.1 "The kernel walks bus 0 reading vendor/device/class per
// slot/function").
func ScanBus0(ecam ECAMReader) []Function {
	var found []Function
	for slot := uint8(0); slot < 32; slot++ {
		for fn := uint8(0); fn < 8; fn++ {
			reg0 := ecam.ReadConfigDWord(0, slot, fn, 0x00)
			vendor := uint16(reg0 & 0xFFFF)
			if vendor == pciVendorNone {
				continue
			}
			device := uint16(reg0 >> 16)
			reg2 := ecam.ReadConfigDWord(0, slot, fn, 0x08)
			class := uint8(reg2 >> 24)
			subclass := uint8(reg2 >> 16)
			found = append(found, Function{Bus: 0, Slot: slot, Func: fn, VendorID: vendor, DeviceID: device, ClassCode: class, SubClass: subclass})
		}
	}
	return found
}

// IOHubWindows are the address windows a known I/O hub vendor/device
// exposes for UART, SPI, I2C, USB XHCI, Ethernet, and PWM (§4.1).
type IOHubWindows struct {
	UART, SPI, I2C, XHCI, Ethernet, PWM uint64
}

// KnownIOHub maps a (vendor, device) pair to the fixed address-window
// layout that silicon exposes; an unrecognized pair returns false.
func KnownIOHub(vendor, device uint16, base uint64) (IOHubWindows, bool) {
	// A single representative hub identity; additional silicon variants
	// would extend this table.
	if vendor == 0x1AE0 && device == 0x0001 {
		return IOHubWindows{
			UART:     base + 0x1000,
			SPI:      base + 0x2000,
			I2C:      base + 0x3000,
			XHCI:     base + 0x4000,
			Ethernet: base + 0x5000,
			PWM:      base + 0x6000,
		}, true
	}
	return IOHubWindows{}, false
}

// XHCIController models the capability/operational-register bring-up
// sequence (§4.1): capability parsing, device-context base array and
// command-ring allocation, event-ring segment table with one
// interrupter, controller enable, then root-port enumeration.
type XHCIController struct {
	MaxSlots     uint8
	MaxPorts     uint8
	DCBAA        []uint64 // device context base address array, one entry per slot
	CommandRing  []uint64
	EventRing    []uint64
	Enabled      bool
	PortStatus   []uint32 // PORTSC per root port
}

// BringUpXHCI performs the bring-up sequence against capability register
// values read from the controller (maxSlots/maxPorts decoded from
// HCSPARAMS1 by the caller).
func BringUpXHCI(maxSlots, maxPorts uint8, cmdRingSize, eventRingSize int) (*XHCIController, error) {
	if maxSlots == 0 || maxPorts == 0 {
		return nil, kerrors.InvalidArgument(kerrors.New("driver: xhci: zero slots or ports reported"))
	}
	c := &XHCIController{
		MaxSlots:    maxSlots,
		MaxPorts:    maxPorts,
		DCBAA:       make([]uint64, maxSlots+1), // +1: entry 0 is the scratchpad pointer
		CommandRing: make([]uint64, cmdRingSize),
		EventRing:   make([]uint64, eventRingSize),
		PortStatus:  make([]uint32, maxPorts),
	}
	c.Enabled = true
	return c, nil
}

// EnumerateRootPorts reads PORTSC for every root port and returns the
// indices (1-based, matching USB port numbering) of ports reporting a
// device connected (bit 0, CCS — current connect status).
func (c *XHCIController) EnumerateRootPorts(readPortSC func(port uint8) uint32) []int {
	var connected []int
	for i := range c.PortStatus {
		c.PortStatus[i] = readPortSC(uint8(i + 1))
		if c.PortStatus[i]&0x1 != 0 {
			connected = append(connected, i+1)
		}
	}
	return connected
}

// AHCIController mirrors the XHCI bring-up sequence for SATA: a port
// register set per implemented port plus a command-list/FIS-receive
// area, and enumerates which ports have a device present (§4.1 "AHCI
// mirrors this for SATA disks").
type AHCIController struct {
	PortsImplemented uint32 // bitmask, one bit per port
	CommandList      map[int][]uint64
	FISReceive       map[int][]byte
}

func BringUpAHCI(portsImplemented uint32) *AHCIController {
	c := &AHCIController{PortsImplemented: portsImplemented, CommandList: make(map[int][]uint64), FISReceive: make(map[int][]byte)}
	for i := 0; i < 32; i++ {
		if portsImplemented&(1<<uint(i)) != 0 {
			c.CommandList[i] = make([]uint64, 32)
			c.FISReceive[i] = make([]byte, 256)
		}
	}
	return c
}

func (c *AHCIController) String() string {
	return fmt.Sprintf("ahci: %d ports implemented", bits.OnesCount32(c.PortsImplemented))
}
