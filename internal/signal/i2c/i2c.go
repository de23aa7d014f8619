// Package i2c orchestrates the I2C-connected sensor chips backing
// VSENSOR I2C mode (spec §2/§3): a three-phase state machine that
// broadcasts a convert request, waits the longest reported conversion
// delay once, then reads every bound chip in turn, adapting the
// start/wait/read split used by periph.io device drivers such as
// bme280.Dev (other_examples' bme280.go: WriteCommands then
// time.Sleep(measDelay) then read) to a bus shared by several chips
// instead of one.
package i2c

import (
	"context"
	"fmt"
	"time"
)

// Chip is the capability every I2C sensor driver bound to a VSensor must
// implement (spec §3: "one small capability set": start_measurement() ->
// duration, read_measurement() -> (temp, pressure, humidity)).
type Chip interface {
	// Start requests a conversion and reports how long to wait before
	// Read will return valid data.
	Start(ctx context.Context) (time.Duration, error)
	// Read returns the chip's last converted reading.
	Read(ctx context.Context) (tempC, pressureKPa, humidityPct float64, err error)
}

// Binding associates a bus-addressable Chip with the VSensor slot reading
// it, by the (chip-type, address) key the config layer stores.
type Binding struct {
	Type    string
	Address int
	Chip    Chip
}

// Reading is one chip's most recently converted measurement.
type Reading struct {
	TempC       float64
	PressureKPa float64
	HumidityPct float64
	At          time.Time
	Err         error
}

// Bus runs the broadcast-start/wait-longest/read-each three-phase cycle
// (spec §2: "trigger convert -> wait per chip -> read each in turn").
type Bus struct {
	bindings []Binding
	readings map[string]Reading
}

// NewBus builds an orchestrator over the given chip bindings.
func NewBus(bindings []Binding) *Bus {
	return &Bus{bindings: bindings, readings: make(map[string]Reading, len(bindings))}
}

func key(typ string, addr int) string {
	return fmt.Sprintf("%s@%02x", typ, addr)
}

// Reading returns the last measurement taken for a (chip-type, address)
// pair, as stored by the most recent Poll.
func (b *Bus) Reading(typ string, addr int) (Reading, bool) {
	r, ok := b.readings[key(typ, addr)]
	return r, ok
}

// Poll runs one full cycle: start every chip, sleep for the longest
// reported conversion delay, then read every chip in turn. A chip whose
// Start or Read fails is recorded with its error and skipped for the rest
// of this cycle; the next Poll retries it (spec §8: "Bus error ... skip
// this cycle ... next cycle retries; repeated failures do not escalate").
func (b *Bus) Poll(ctx context.Context) error {
	var longest time.Duration
	ok := make([]bool, len(b.bindings))

	for i, bd := range b.bindings {
		delay, err := bd.Chip.Start(ctx)
		if err != nil {
			b.readings[key(bd.Type, bd.Address)] = Reading{Err: err, At: time.Now()}
			continue
		}
		ok[i] = true
		if delay > longest {
			longest = delay
		}
	}

	if longest > 0 {
		t := time.NewTimer(longest)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	for i, bd := range b.bindings {
		if !ok[i] {
			continue
		}
		temp, pressure, humidity, err := bd.Chip.Read(ctx)
		if err != nil {
			b.readings[key(bd.Type, bd.Address)] = Reading{Err: err, At: time.Now()}
			continue
		}
		b.readings[key(bd.Type, bd.Address)] = Reading{
			TempC: temp, PressureKPa: pressure, HumidityPct: humidity, At: time.Now(),
		}
	}
	return nil
}
