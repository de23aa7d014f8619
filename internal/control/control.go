// Package control implements the fan-duty and mainboard-tachometer
// pipelines (§4.1-§4.3), the hysteresis/rounding helpers they share, and
// the cadence scheduler that runs the control task's periodic steps —
// the Go analogue of the original firmware's core1_main loop.
package control

import (
	"errors"
	"math"
	"time"

	"github.com/tjko/fanpico-sub000/internal/config"
)

// ErrTimeout is returned by StateGuard's try-acquire when the lock isn't
// free within the caller's bound, mirroring state_mutex's
// mutex_enter_timeout_us skip-this-tick behavior (§4.4/§5).
var ErrTimeout = errors.New("control: state mutex try-acquire timed out")

// StateGuard publishes State snapshots from the control task to the
// supervisor task behind a short try-acquire, the Go analogue of
// state_mutex: the control task copies its working state out to a
// transfer buffer every 500ms (OutputInterval), and the supervisor reads
// that buffer with its own short try-acquire (~1ms per §4.4) so a torn
// update is never observed, only a stale one for at most one period.
type StateGuard struct {
	sem      chan struct{}
	transfer State
}

// NewStateGuard seeds the transfer buffer with an initial snapshot.
func NewStateGuard(initial State) *StateGuard {
	g := &StateGuard{sem: make(chan struct{}, 1), transfer: initial}
	g.sem <- struct{}{}
	return g
}

// Publish copies st into the transfer buffer, skipping entirely if the
// lock isn't free within timeout. The copy is a deep clone of every
// slice field: State's original C counterpart is a fixed-size-array
// struct copied by value, so the Go port must clone the backing slices
// too or a later in-place mutation of the caller's State would bleed
// into an already-published snapshot — exactly the torn-update §4.4
// promises never happens.
func (g *StateGuard) Publish(timeout time.Duration, st State) error {
	select {
	case <-g.sem:
	case <-time.After(timeout):
		return ErrTimeout
	}
	defer func() { g.sem <- struct{}{} }()
	g.transfer = cloneState(st)
	return nil
}

// Snapshot returns a clone of the most recently published state, or
// ErrTimeout if the lock isn't free within timeout — the caller's cue to
// reuse the previous frame rather than block (read_state_snapshot's
// "non-blocking; may return the previous frame").
func (g *StateGuard) Snapshot(timeout time.Duration) (State, error) {
	var out State
	select {
	case <-g.sem:
	case <-time.After(timeout):
		return out, ErrTimeout
	}
	defer func() { g.sem <- struct{}{} }()
	out = cloneState(g.transfer)
	return out, nil
}

func cloneSlice(s []float64) []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, len(s))
	copy(out, s)
	return out
}

func cloneState(st State) State {
	return State{
		FanDuty: cloneSlice(st.FanDuty), FanDutyPrev: cloneSlice(st.FanDutyPrev),
		FanFreq: cloneSlice(st.FanFreq), FanFreqPrev: cloneSlice(st.FanFreqPrev),
		MBFanDuty: cloneSlice(st.MBFanDuty), MBFanDutyPrev: cloneSlice(st.MBFanDutyPrev),
		MBFanFreq: cloneSlice(st.MBFanFreq), MBFanFreqPrev: cloneSlice(st.MBFanFreqPrev),
		Temp: cloneSlice(st.Temp), TempPrev: cloneSlice(st.TempPrev),
		VTemp: cloneSlice(st.VTemp), VTempPrev: cloneSlice(st.VTempPrev),
	}
}

// State mirrors fanpico_state: the live plus previously-committed values
// for every fan/mbfan/sensor input and output this tick's pipeline reads
// or writes.
type State struct {
	FanDuty     []float64
	FanDutyPrev []float64
	FanFreq     []float64
	FanFreqPrev []float64

	MBFanDuty     []float64
	MBFanDutyPrev []float64
	MBFanFreq     []float64
	MBFanFreqPrev []float64

	Temp     []float64
	TempPrev []float64

	VTemp     []float64
	VTempPrev []float64
}

// NewState allocates a zeroed State sized for the given fan/mbfan/sensor/
// vsensor counts.
func NewState(fans, mbfans, sensors, vsensors int) *State {
	return &State{
		FanDuty: make([]float64, fans), FanDutyPrev: make([]float64, fans),
		FanFreq: make([]float64, fans), FanFreqPrev: make([]float64, fans),
		MBFanDuty: make([]float64, mbfans), MBFanDutyPrev: make([]float64, mbfans),
		MBFanFreq: make([]float64, mbfans), MBFanFreqPrev: make([]float64, mbfans),
		Temp: make([]float64, sensors), TempPrev: make([]float64, sensors),
		VTemp: make([]float64, vsensors), VTempPrev: make([]float64, vsensors),
	}
}

// CheckForChange reports whether newval has drifted from oldval by at
// least threshold (util.c's check_for_change), gating whether a hysteresis-
// protected output should actually be recommitted.
func CheckForChange(oldval, newval, threshold float64) bool {
	return math.Abs(oldval-newval) >= threshold
}

// RoundDecimal rounds val to the given number of decimal places
// (util.c's round_decimal).
func RoundDecimal(val float64, decimals int) float64 {
	f := math.Pow(10, float64(decimals))
	return math.Round(val*f) / f
}

// CalculatePWMDuty computes fan i's output duty cycle for this tick
// (pwm.c's calculate_pwm_duty): resolve the source value, map, scale by
// the coefficient, then clamp to [min_pwm, max_pwm].
//
// The PWMVSensor arm resolves the PWM_VSENSOR source kind (virtual-sensor-
// driven duty) — the distilled source file this port was grounded on does
// not wire that switch arm, but the source-kind enum and this spec both
// include it, so it is implemented the same way PWM_SENSOR is: map the
// named virtual sensor's current temperature through that virtual
// sensor's own temp map, then through the fan's map like every source.
func CalculatePWMDuty(st *State, cfg *config.Config, i int) float64 {
	fan := cfg.Fans[i]
	var val float64

	switch fan.Source {
	case config.PWMFixed:
		val = float64(fan.SourceID)
	case config.PWMMB:
		val = st.MBFanDuty[fan.SourceID]
	case config.PWMSensor:
		val = cfg.Sensors[fan.SourceID].Map.Eval(st.Temp[fan.SourceID])
	case config.PWMFan:
		val = st.FanDuty[fan.SourceID]
	case config.PWMVSensor:
		val = cfg.VSensors[fan.SourceID].Map.Eval(st.VTemp[fan.SourceID])
	}

	val = fan.Map.Eval(val)
	val *= fan.PWMCoefficient

	if val < float64(fan.MinPWM) {
		val = float64(fan.MinPWM)
	}
	if val > float64(fan.MaxPWM) {
		val = float64(fan.MaxPWM)
	}
	return val
}

// CalculateTachoFreq computes mbfan i's output frequency for this tick
// (tacho.c's calculate_tacho_freq): resolve the source (a single fan, or
// a MIN/MAX/AVG reduction over the fans named in Sources), map, scale by
// the coefficient, clamp to [min_rpm, max_rpm], then convert RPM to Hz.
func CalculateTachoFreq(st *State, cfg *config.Config, i int) float64 {
	mbfan := cfg.MBFans[i]
	var val float64

	switch mbfan.Source {
	case config.TachoFixed:
		val = float64(mbfan.SourceID)
	case config.TachoFan:
		val = st.FanFreq[mbfan.SourceID] * 60.0 / float64(cfg.Fans[mbfan.SourceID].RPMFactor)
	case config.TachoMin, config.TachoMax, config.TachoAvg:
		count := 0
		sum := 0.0
		for j := range cfg.Fans {
			if mbfan.Sources&(1<<uint(j)) == 0 {
				continue
			}
			v := st.FanFreq[j] * 60.0 / float64(cfg.Fans[j].RPMFactor)
			if count == 0 {
				sum = v
			} else {
				switch mbfan.Source {
				case config.TachoMin:
					if v < sum {
						sum = v
					}
				case config.TachoMax:
					if v > sum {
						sum = v
					}
				default:
					sum += v
				}
			}
			count++
		}
		if count >= 1 {
			if mbfan.Source == config.TachoAvg {
				val = sum / float64(count)
			} else {
				val = sum
			}
		}
	}

	val = mbfan.Map.Eval(val)
	val *= mbfan.RPMCoefficient

	if val < float64(mbfan.MinRPM) {
		val = float64(mbfan.MinRPM)
	}
	if val > float64(mbfan.MaxRPM) {
		val = float64(mbfan.MaxRPM)
	}

	return val / 60.0 * float64(mbfan.RPMFactor)
}

// LRADecision resolves a mbfan's LRA output level (fanpico.c's
// update_outputs LRA branch): below threshold trips the alarm, inverted
// if the mbfan config says so.
func LRADecision(freqHz float64, cfg config.MBFanConfig) bool {
	rpm := freqHz * 60.0 / float64(cfg.RPMFactor)
	lra := rpm < float64(cfg.LRAThreshold)
	if cfg.LRAInvert {
		return !lra
	}
	return lra
}
