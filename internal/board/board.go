// Package board holds the compile-time board profiles describing pin
// assignments and hardware limits for supported FanPico models (§3, §6).
//
// A Profile is a read-only record, chosen once at process start (the
// firmware selects it via a build-time #define; this Go port resolves the
// same choice at Engine construction time via Lookup/MustLookup), never
// mutated afterward.
package board

import "fmt"

// Limits a board profile must stay within (§3).
const (
	MaxFans     = 8
	MaxMBFans   = 4
	MaxSensors  = 3
	MaxVSensors = 8
)

// Profile is a compile-time constant record describing one physical board.
type Profile struct {
	Model string

	FanCount    int
	MBFanCount  int
	SensorCount int

	// FanPWMPins holds one GPIO pin name per fan output, in fan index
	// order. Consecutive pairs (0,1), (2,3), ... must be the A/B channels
	// of the same PWM hardware slice (§4.2.1 invariant).
	FanPWMPins []string

	// FanTachoPins holds one GPIO pin per fan tachometer input.
	FanTachoPins []string

	// MBFanTachoPins holds one GPIO pin per mainboard tachometer output.
	MBFanTachoPins []string

	// MBFanPWMPins holds one GPIO pin per mainboard PWM input. Every
	// entry must be wired to the "B channel" of its PWM slice (§4.2.2
	// invariant).
	MBFanPWMPins []string

	// SensorADCChannels holds one ADC channel index per physical sensor.
	SensorADCChannels []int

	// Multiplexer pins, only set on boards using the 8-to-1 tachometer
	// multiplexer read strategy (§4.2.3). Empty means direct-read.
	MuxSignalPin string
	MuxSelectPins [3]string // S0, S1, S2
}

// Validate checks the invariants §3 calls out as hard requirements,
// panicking is intentionally left to the caller (Engine init, §7:
// "Invariant violation ... panic at init").
func (p Profile) Validate() error {
	if p.FanCount < 0 || p.FanCount > MaxFans {
		return fmt.Errorf("board %s: fan count %d out of range 0..%d", p.Model, p.FanCount, MaxFans)
	}
	if p.MBFanCount < 0 || p.MBFanCount > MaxMBFans {
		return fmt.Errorf("board %s: mbfan count %d out of range 0..%d", p.Model, p.MBFanCount, MaxMBFans)
	}
	if p.SensorCount < 0 || p.SensorCount > MaxSensors {
		return fmt.Errorf("board %s: sensor count %d out of range 0..%d", p.Model, p.SensorCount, MaxSensors)
	}
	if len(p.FanPWMPins) != p.FanCount {
		return fmt.Errorf("board %s: fan PWM pin table has %d entries, want %d", p.Model, len(p.FanPWMPins), p.FanCount)
	}
	if p.FanCount%2 != 0 {
		return fmt.Errorf("board %s: fan PWM outputs must come in slice pairs, got odd count %d", p.Model, p.FanCount)
	}
	if len(p.FanTachoPins) != p.FanCount {
		return fmt.Errorf("board %s: fan tacho pin table has %d entries, want %d", p.Model, len(p.FanTachoPins), p.FanCount)
	}
	if len(p.MBFanTachoPins) != p.MBFanCount {
		return fmt.Errorf("board %s: mbfan tacho pin table has %d entries, want %d", p.Model, len(p.MBFanTachoPins), p.MBFanCount)
	}
	if len(p.MBFanPWMPins) != p.MBFanCount {
		return fmt.Errorf("board %s: mbfan PWM pin table has %d entries, want %d", p.Model, len(p.MBFanPWMPins), p.MBFanCount)
	}
	if len(p.SensorADCChannels) != p.SensorCount {
		return fmt.Errorf("board %s: sensor ADC table has %d entries, want %d", p.Model, len(p.SensorADCChannels), p.SensorCount)
	}
	return nil
}

var registry = map[string]Profile{}

func register(p Profile) {
	registry[p.Model] = p
}

// Lookup returns the registered profile for model, if any.
func Lookup(model string) (Profile, bool) {
	p, ok := registry[model]
	return p, ok
}

// MustLookup is Lookup but panics on an unknown model — used at process
// start where an unresolvable board selection is a build/integration
// defect, not a runtime condition (§7).
func MustLookup(model string) Profile {
	p, ok := Lookup(model)
	if !ok {
		panic(fmt.Sprintf("board: unknown model %q", model))
	}
	if err := p.Validate(); err != nil {
		panic(err)
	}
	return p
}

func init() {
	// 0804: 8 fan outputs, 4 mbfan inputs, 4 sensors trimmed to the
	// SENSOR_MAX_COUNT of 3, direct-read tachometer inputs.
	register(Profile{
		Model:       "0804",
		FanCount:    8,
		MBFanCount:  4,
		SensorCount: 3,
		FanPWMPins: []string{
			"GPIO0", "GPIO1", "GPIO2", "GPIO3",
			"GPIO4", "GPIO5", "GPIO6", "GPIO7",
		},
		FanTachoPins: []string{
			"GPIO8", "GPIO9", "GPIO10", "GPIO11",
			"GPIO16", "GPIO17", "GPIO18", "GPIO19",
		},
		MBFanTachoPins: []string{"GPIO12", "GPIO13", "GPIO14", "GPIO15"},
		MBFanPWMPins:   []string{"GPIO20", "GPIO21", "GPIO22", "GPIO26"},
		SensorADCChannels: []int{0, 1, 2},
	})

	// 0804D: same fan/mbfan layout as 0804, but tachometer inputs are
	// read through the 8-to-1 multiplexer instead of direct GPIOs
	// (§4.2.3).
	register(Profile{
		Model:       "0804D",
		FanCount:    8,
		MBFanCount:  4,
		SensorCount: 3,
		FanPWMPins: []string{
			"GPIO0", "GPIO1", "GPIO2", "GPIO3",
			"GPIO4", "GPIO5", "GPIO6", "GPIO7",
		},
		FanTachoPins: []string{
			"MUX0", "MUX1", "MUX2", "MUX3",
			"MUX4", "MUX5", "MUX6", "MUX7",
		},
		MBFanTachoPins: []string{"GPIO12", "GPIO13", "GPIO14", "GPIO15"},
		MBFanPWMPins:   []string{"GPIO20", "GPIO21", "GPIO22", "GPIO26"},
		SensorADCChannels: []int{0, 1, 2},
		MuxSignalPin:  "GPIO27",
		MuxSelectPins: [3]string{"GPIO28", "GPIO9", "GPIO10"},
	})

	// 0401D: smaller board, 4 fan outputs / 1 mbfan input.
	register(Profile{
		Model:       "0401D",
		FanCount:    4,
		MBFanCount:  1,
		SensorCount: 2,
		FanPWMPins:  []string{"GPIO0", "GPIO1", "GPIO2", "GPIO3"},
		FanTachoPins: []string{
			"MUX0", "MUX1", "MUX2", "MUX3",
		},
		MBFanTachoPins: []string{"GPIO12"},
		MBFanPWMPins:   []string{"GPIO20"},
		SensorADCChannels: []int{0, 1},
		MuxSignalPin:  "GPIO27",
		MuxSelectPins: [3]string{"GPIO28", "GPIO9", "GPIO10"},
	})
}
