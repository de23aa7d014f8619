// Package sensor implements physical temperature conversion (ADC reading
// plus the internal/thermistor formulas, §4.7) and virtual sensor
// evaluation (MANUAL/MAX/MIN/AVG/DELTA/ONEWIRE/I2C modes, §4.7).
package sensor

import (
	"fmt"
	"math"
	"time"

	"github.com/tjko/fanpico-sub000/internal/config"
	"github.com/tjko/fanpico-sub000/internal/filters"
)

// Physical constants from the original firmware's ADC/thermistor model
// (fanpico.h); the board runs a 12-bit ADC against a 3.0V reference and a
// 10kOhm series resistor for the external thermistor divider.
const (
	seriesResistance = 10000.0
	refVoltage       = 3.0
	adcMaxValue      = 1 << 12
	adcAvgWindow     = 10
)

// ADC reads raw samples from a physical ADC channel. Implementations wrap
// whatever periph.io/board-specific analog driver backs a channel; tests
// use a fake returning fixed/sequenced raw values.
type ADC interface {
	ReadRaw(channel int) (uint32, error)
}

// Reader converts ADC samples into calibrated temperatures for one
// physical sensor input, applying the configured filter last.
type Reader struct {
	adc     ADC
	channel int
	filter  filters.Context
}

// NewReader binds a Reader to one board ADC channel. filter may be nil
// (treated as the identity filter).
func NewReader(adc ADC, channel int, filter filters.Context) *Reader {
	if filter == nil {
		filter = filters.NoneContext{}
	}
	return &Reader{adc: adc, channel: channel, filter: filter}
}

// Read samples the ADC adcAvgWindow times, averages, converts to volts,
// and applies the internal or external thermistor formula (§4.7),
// finishing with the sensor's filter.
func (r *Reader) Read(cfg config.SensorConfig) (float64, error) {
	var sum uint64
	for i := 0; i < adcAvgWindow; i++ {
		raw, err := r.adc.ReadRaw(r.channel)
		if err != nil {
			return 0, fmt.Errorf("sensor: adc read: %w", err)
		}
		sum += uint64(raw)
	}
	raw := float64(sum) / adcAvgWindow
	volt := raw * (refVoltage / adcMaxValue)

	var t float64
	if cfg.Type == config.SensorInternal {
		t = 27.0 - ((volt - 0.706) / 0.001721)
		t = t*cfg.TempCoefficient + cfg.TempOffset
	} else {
		if volt > 0.1 && volt < refVoltage-0.1 {
			rOhm := seriesResistance / ((adcMaxValue / raw) - 1)
			t = math.Log(rOhm / cfg.ThermistorNominal)
			t /= cfg.BetaCoefficient
			t += 1.0 / (cfg.TempNominal + 273.15)
			t = 1.0 / t
			t -= 273.15
			t = t*cfg.TempCoefficient + cfg.TempOffset
		}
	}

	return r.filter.Apply(t), nil
}

// GetDuty evaluates a sensor's temp_map, mirroring sensor_get_duty
// (shares pwmmap.Map's corrected i < len-1 loop bound).
func GetDuty(m config.SensorConfig, temp float64) float64 {
	return m.Map.Eval(temp)
}

// VState is the mutable per-vsensor runtime state the control pipeline
// threads across ticks (fanpico_state's vtemp/vtemp_updated fields).
type VState struct {
	Temp      float64
	UpdatedAt time.Time
}

// WriteManual records a manual vsensor write (the WRITE:VSENSORx command,
// out of scope itself, but its effect on vsensor state is not).
func (v *VState) WriteManual(value float64, at time.Time) {
	v.Temp = value
	v.UpdatedAt = at
}

// EvalVSensor computes one virtual sensor's value for this tick (§4.7,
// get_vsensor). physTemps holds the latest physical sensor readings,
// indexed 0-based; vs.Sources holds 1-based indices into it.
func EvalVSensor(cfg config.VSensorConfig, vs *VState, physTemps []float64, now time.Time, filter filters.Context) float64 {
	if filter == nil {
		filter = filters.NoneContext{}
	}

	var t float64

	switch cfg.Mode {
	case config.VSModeManual:
		t = vs.Temp
		if cfg.Timeout > 0 && t != cfg.DefaultTemp {
			if now.Sub(vs.UpdatedAt) > time.Duration(cfg.Timeout)*time.Second {
				t = cfg.DefaultTemp
			}
		}
	case config.VSModeOnewire, config.VSModeI2C:
		// Populated by the onewire/i2c orchestrators directly into
		// vs.Temp; this evaluator just passes it through the filter.
		t = vs.Temp
	default:
		count := 0
		for _, idx1 := range cfg.Sources {
			if idx1 < 1 || idx1 > len(physTemps) {
				continue
			}
			val := physTemps[idx1-1]
			count++
			switch cfg.Mode {
			case config.VSModeMax:
				if count == 1 || val > t {
					t = val
				}
			case config.VSModeMin:
				if count == 1 || val < t {
					t = val
				}
			case config.VSModeAvg:
				t += val
			case config.VSModeDelta:
				if count == 1 {
					t = val
				} else if count == 2 {
					t -= val
				}
			}
		}
		if cfg.Mode == config.VSModeAvg && count > 0 {
			t /= float64(count)
		}
	}

	return filter.Apply(t)
}
