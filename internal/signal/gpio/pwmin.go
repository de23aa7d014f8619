package gpio

import (
	"fmt"
	"time"
)

// pwmInClockDivider is the fixed clkdiv setup_pwm_inputs uses for the
// B-channel pulse counter (pwm.c: "clkdiv=100").
const pwmInClockDivider = 100

// maxSafeCount is the counter overflow point get_pwm_duty_cycle guards
// against ("discard-with-warning-log if max_count >= 65535").
const maxSafeCount = 65535

// PWMInputDutyCycle converts a pulse count observed over windowUs
// microseconds into a 0-100 duty percentage, following
// get_pwm_duty_cycle/get_pwm_duty_cycles: the theoretical maximum count
// for the window is sysClockHz/clkdiv scaled by the window length, and a
// window long enough to overflow that counter is discarded outright
// rather than trusted.
func PWMInputDutyCycle(count uint32, windowUs, sysClockHz float64) (dutyPercent float64, discarded bool) {
	countRate := sysClockHz / pwmInClockDivider
	maxCount := countRate * windowUs / 1e6
	if maxCount >= maxSafeCount {
		return 0, true
	}
	if maxCount <= 0 {
		return 0, false
	}
	duty := float64(count) / maxCount * 100
	if duty > 100 {
		duty = 100
	}
	return duty, false
}

// PulseCounter abstracts the B-channel pulse counter get_pwm_duty_cycle
// drives through disable/reset/enable/read, narrow enough to fake in
// tests the way sensor.ADC is.
type PulseCounter interface {
	Reset() error
	Count() (uint32, error)
}

// InputSampler measures a mainboard PWM input's duty cycle by arming
// PulseCounter for a fixed capture window, mirroring
// get_pwm_duty_cycle's disable->reset->enable->sleep->disable sequence.
type InputSampler struct {
	counter      PulseCounter
	sysClockHz   float64
	captureWindow time.Duration
}

// NewInputSampler builds a sampler with the original firmware's 10ms
// capture window (get_pwm_duty_cycle's "sleep-10ms").
func NewInputSampler(counter PulseCounter, sysClockHz float64) *InputSampler {
	return &InputSampler{counter: counter, sysClockHz: sysClockHz, captureWindow: 10 * time.Millisecond}
}

// Sample arms the counter, waits out the capture window, and returns the
// observed duty cycle.
func (s *InputSampler) Sample() (dutyPercent float64, err error) {
	if err := s.counter.Reset(); err != nil {
		return 0, fmt.Errorf("gpio: reset pwm input counter: %w", err)
	}
	time.Sleep(s.captureWindow)
	count, err := s.counter.Count()
	if err != nil {
		return 0, fmt.Errorf("gpio: read pwm input counter: %w", err)
	}
	duty, discarded := PWMInputDutyCycle(count, float64(s.captureWindow.Microseconds()), s.sysClockHz)
	if discarded {
		return 0, fmt.Errorf("gpio: pwm input capture window overflowed counter")
	}
	return duty, nil
}
