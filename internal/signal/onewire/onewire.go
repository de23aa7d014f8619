// Package onewire implements the 1-Wire bus scan and per-device
// conversion cycle backing VSENSOR ONEWIRE mode (spec §2/§3): reset,
// presence check, parasite-power check, then SEARCH ROM enumeration at
// init, followed by a request-conversion/wait-driver-delay/read cycle per
// device thereafter. No 1-Wire transport library exists anywhere in the
// retrieved corpus (the closest analogues are I2C/SPI device packages
// such as bme280), so this package defines its own narrow Transport
// capability, the same way internal/signal/i2c.Chip captures the I2C
// device contract without binding to a concrete driver.
package onewire

import (
	"context"
	"fmt"
	"time"
)

// ROM is a 1-Wire device's 64-bit ROM code (family code + serial + CRC).
type ROM uint64

func (r ROM) String() string { return fmt.Sprintf("%016x", uint64(r)) }

// MaxDevices bounds how many ROM codes a bus scan will enumerate (spec
// §3: "SEARCH ROM to enumerate up to MAX_1WIRE_DEVICES").
const MaxDevices = 16

// Transport is the bus primitive a concrete 1-Wire driver (software
// bit-bang or a dedicated controller) must provide.
type Transport interface {
	// Reset pulses the bus and reports whether any device responded
	// with a presence pulse.
	Reset(ctx context.Context) (present bool, err error)
	// Search performs one SEARCH ROM pass, returning every ROM code
	// discovered (capped by the caller at MaxDevices).
	Search(ctx context.Context) ([]ROM, error)
	// ParasitePowered reports whether any device on the bus is drawing
	// parasite power, which some conversions need extra strong pull-up
	// time for.
	ParasitePowered(ctx context.Context) (bool, error)
	// Convert requests a temperature conversion on the given device and
	// reports how long to wait before ReadTemp returns a fresh value.
	Convert(ctx context.Context, rom ROM) (time.Duration, error)
	// ReadTemp reads back a device's last converted temperature.
	ReadTemp(ctx context.Context, rom ROM) (float64, error)
}

// Bus owns a scanned device list and the per-device conversion cycle.
type Bus struct {
	transport Transport
	devices   []ROM
	parasite  bool
}

// NewBus wraps a Transport; call Scan before taking readings.
func NewBus(transport Transport) *Bus {
	return &Bus{transport: transport}
}

// Scan reproduces the init-time sequence: reset the bus, bail out with
// no devices if nothing answers, check for parasite-powered devices, then
// SEARCH ROM for up to MaxDevices device codes.
func (b *Bus) Scan(ctx context.Context) error {
	present, err := b.transport.Reset(ctx)
	if err != nil {
		return fmt.Errorf("onewire: bus reset: %w", err)
	}
	if !present {
		b.devices = nil
		return nil
	}

	parasite, err := b.transport.ParasitePowered(ctx)
	if err != nil {
		return fmt.Errorf("onewire: parasite power check: %w", err)
	}
	b.parasite = parasite

	found, err := b.transport.Search(ctx)
	if err != nil {
		return fmt.Errorf("onewire: search rom: %w", err)
	}
	if len(found) > MaxDevices {
		found = found[:MaxDevices]
	}
	b.devices = found
	return nil
}

// Devices returns the ROM codes discovered by the last Scan.
func (b *Bus) Devices() []ROM {
	return b.devices
}

// ParasitePowered reports whether the last Scan found a parasite-powered
// device on the bus.
func (b *Bus) ParasitePowered() bool {
	return b.parasite
}

// Read runs one request-conversion/wait/read cycle for rom (spec §3:
// "Subsequent reads request a conversion, wait the driver-reported delay,
// and read"). A bus error here is the caller's cue to skip this cycle for
// the device and retry next cycle (spec §8), not to treat the device as
// gone.
func (b *Bus) Read(ctx context.Context, rom ROM) (float64, error) {
	delay, err := b.transport.Convert(ctx, rom)
	if err != nil {
		return 0, fmt.Errorf("onewire: convert %s: %w", rom, err)
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-t.C:
		}
	}
	temp, err := b.transport.ReadTemp(ctx, rom)
	if err != nil {
		return 0, fmt.Errorf("onewire: read %s: %w", rom, err)
	}
	return temp, nil
}
