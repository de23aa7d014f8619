// Package gpio implements the fan PWM outputs, mainboard PWM inputs, and
// tachometer inputs/outputs (§4.2) as software drivers over periph.io GPIO
// pins, adapting the teacher's bit-bang PWM loop (simulation-capable,
// mutex-guarded state, done-channel shutdown) to FanPico's phase-correct
// duty math and its two tachometer-input strategies.
package gpio

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// OutputFreqHz is the fan PWM output frequency (§4.2.1: fixed at 25kHz,
// matching setup_pwm_outputs's hardcoded slice frequency).
const OutputFreqHz = 25000

// PWMTop returns the phase-correct counter top value for a given system
// clock and target frequency (pwm.c's setup_pwm_outputs:
// "pwm_out_top = sys_clock/25000/2 - 1"). Exposed so the level math below
// stays testable independent of any real clock.
func PWMTop(sysClockHz, freqHz float64) int {
	top := int(sysClockHz/freqHz/2) - 1
	if top < 0 {
		top = 0
	}
	return top
}

// PWMLevel converts a 0-100 duty percentage to a phase-correct counter
// level for the given top (pwm.c's set_pwm_duty_cycle): 100% maps to
// top+1 (always high), 0% to 0 (always low), otherwise a linear scale.
func PWMLevel(dutyPercent float64, top int) int {
	switch {
	case dutyPercent >= 100:
		return top + 1
	case dutyPercent <= 0:
		return 0
	default:
		return int(dutyPercent * float64(top+1) / 100)
	}
}

// Output drives one fan's PWM pin by software bit-banging, since periph.io
// exposes no portable hardware-PWM peripheral across board families. The
// duty-cycle-to-timing split mirrors PWMLevel/PWMTop: onTime is the
// fraction of the period the level represents, so a fixed-frequency
// bit-banged square wave reproduces the same duty ratio the real PWM
// slice would generate.
type Output struct {
	mu        sync.Mutex
	pin       gpio.PinIO
	freqHz    float64
	top       int
	level     int
	enabled   bool
	done      chan struct{}
	wg        sync.WaitGroup
	simulated bool
}

// NewOutput configures pin for a fan PWM output at freqHz (pass a nil pin
// to run in simulated mode, tracking level without touching hardware).
func NewOutput(pin gpio.PinIO, sysClockHz, freqHz float64) (*Output, error) {
	if pin == nil {
		return &Output{freqHz: freqHz, top: PWMTop(sysClockHz, freqHz), simulated: true}, nil
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("gpio: configure pwm output pin: %w", err)
	}
	return &Output{pin: pin, freqHz: freqHz, top: PWMTop(sysClockHz, freqHz)}, nil
}

// SetDutyCycle updates the output duty cycle (0-100).
func (o *Output) SetDutyCycle(dutyPercent float64) {
	o.mu.Lock()
	o.level = PWMLevel(dutyPercent, o.top)
	o.mu.Unlock()
}

// Level reports the current phase-correct counter level, mainly for tests.
func (o *Output) Level() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.level
}

// Enable starts the bit-bang drive loop.
func (o *Output) Enable() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.enabled || o.simulated {
		o.enabled = true
		return
	}
	o.enabled = true
	o.done = make(chan struct{})
	o.wg.Add(1)
	go o.run(o.done)
}

// Disable stops the drive loop and parks the pin low.
func (o *Output) Disable() {
	o.mu.Lock()
	if !o.enabled {
		o.mu.Unlock()
		return
	}
	o.enabled = false
	done := o.done
	o.mu.Unlock()

	if o.simulated || done == nil {
		return
	}
	close(done)
	o.wg.Wait()
	if o.pin != nil {
		_ = o.pin.Out(gpio.Low)
	}
}

func (o *Output) run(done chan struct{}) {
	defer o.wg.Done()
	period := time.Duration(float64(time.Second) / o.freqHz)

	for {
		select {
		case <-done:
			return
		default:
		}

		o.mu.Lock()
		level, top := o.level, o.top
		o.mu.Unlock()

		switch {
		case level <= 0:
			_ = o.pin.Out(gpio.Low)
			sleepOrDone(period, done)
		case level > top:
			_ = o.pin.Out(gpio.High)
			sleepOrDone(period, done)
		default:
			onTime := period * time.Duration(level) / time.Duration(top+1)
			_ = o.pin.Out(gpio.High)
			sleepOrDone(onTime, done)
			_ = o.pin.Out(gpio.Low)
			sleepOrDone(period-onTime, done)
		}
	}
}

func sleepOrDone(d time.Duration, done chan struct{}) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
	}
}
