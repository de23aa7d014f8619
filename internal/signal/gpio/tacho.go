package gpio

import (
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// TachoOutput drives a mainboard tachometer pin: either a square wave at a
// commanded frequency (tacho.c's PIO square-wave generator, reproduced
// here with a software timer since periph.io exposes no portable PIO
// equivalent) or a steady locked-rotor-alarm level (set_lra_output).
type TachoOutput struct {
	mu      sync.Mutex
	pin     gpio.PinIO
	freqHz  float64
	enabled bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewTachoOutput wraps pin for square-wave generation.
func NewTachoOutput(pin gpio.PinIO) *TachoOutput {
	return &TachoOutput{pin: pin}
}

// SetFrequency updates the square wave's target frequency. 0 stops the
// wave and parks the pin low (square_wave_gen_set_period(..., 0)).
func (t *TachoOutput) SetFrequency(freqHz float64) {
	t.mu.Lock()
	t.freqHz = freqHz
	t.mu.Unlock()
}

// Enable starts the square-wave drive loop.
func (t *TachoOutput) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		return
	}
	t.enabled = true
	t.done = make(chan struct{})
	t.wg.Add(1)
	go t.run(t.done)
}

// Disable stops the drive loop and parks the pin low.
func (t *TachoOutput) Disable() {
	t.mu.Lock()
	if !t.enabled {
		t.mu.Unlock()
		return
	}
	t.enabled = false
	done := t.done
	t.mu.Unlock()

	close(done)
	t.wg.Wait()
	if t.pin != nil {
		_ = t.pin.Out(gpio.Low)
	}
}

func (t *TachoOutput) run(done chan struct{}) {
	defer t.wg.Done()
	high := false
	for {
		t.mu.Lock()
		freq := t.freqHz
		t.mu.Unlock()

		if freq <= 0 {
			if t.pin != nil {
				_ = t.pin.Out(gpio.Low)
			}
			if !waitOrDone(50*time.Millisecond, done) {
				return
			}
			continue
		}

		half := time.Duration(float64(time.Second) / (2 * freq))
		high = !high
		if t.pin != nil {
			if high {
				_ = t.pin.Out(gpio.High)
			} else {
				_ = t.pin.Out(gpio.Low)
			}
		}
		if !waitOrDone(half, done) {
			return
		}
	}
}

func waitOrDone(d time.Duration, done chan struct{}) bool {
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-done:
		return false
	case <-tm.C:
		return true
	}
}

// SetLRAOutput drives a mainboard pin to a steady locked-rotor-alarm
// level (set_lra_output / setup_tacho_outputs's else branch).
func SetLRAOutput(pin gpio.PinIO, alarmed, invert bool) error {
	level := alarmed
	if invert {
		level = !level
	}
	if level {
		return pin.Out(gpio.High)
	}
	return pin.Out(gpio.Low)
}

// DirectTachoInput counts tachometer pulses on a dedicated per-fan GPIO
// (TACHO_READ_MULTIPLEX==0's interrupt-per-pin strategy), snapshotted
// once a second by the control scheduler's tachometer-input cadence.
// Pulse delivery is left to the caller (an edge watcher such as
// github.com/warthog618/go-gpiocdev, or direct Increment calls in tests) so this
// type stays free of any particular interrupt source.
type DirectTachoInput struct {
	counter atomic.Uint64
	last    uint64
	lastAt  time.Time
}

// NewDirectTachoInput returns a counter ready to receive pulses.
func NewDirectTachoInput(now time.Time) *DirectTachoInput {
	return &DirectTachoInput{lastAt: now}
}

// Increment records one tachometer pulse; call this from the edge-watcher
// callback (fan_tacho_read_callback's ISR, reproduced as a regular
// callback since Go has no ISR context).
func (d *DirectTachoInput) Increment() {
	d.counter.Add(1)
}

// Snapshot computes the frequency observed since the previous Snapshot
// call (read_tacho_inputs' "t_tacho" branch: pulses / elapsed-seconds).
func (d *DirectTachoInput) Snapshot(now time.Time) float64 {
	current := d.counter.Load()
	elapsed := now.Sub(d.lastAt).Seconds()
	pulses := current - d.last
	d.last = current
	d.lastAt = now
	if elapsed <= 0 {
		return 0
	}
	return float64(pulses) / elapsed
}

// MuxReader reproduces tacho.c's 8-to-1 multiplexer read state machine:
// fans spinning normally live in queue 0 and get swept round-robin every
// tick; a fan observed not spinning moves to queue 1, and at most one
// queue-1 fan is re-measured per full sweep of queue 0 (§4.2.3 Open
// Question: "one queue-1 fan per full sweep of queue 0"), so a handful of
// stalled fans can't starve the rest of the bus's measurement bandwidth.
type MuxReader struct {
	n     int
	queue []int
	pos   [2]int
	q     int
}

// NewMuxReader builds a reader over n multiplexed fan inputs, all
// starting in queue 0.
func NewMuxReader(n int) *MuxReader {
	return &MuxReader{n: n, queue: make([]int, n)}
}

// Next picks the next fan index to multiplex-select and measure,
// reproducing read_tacho_inputs' state==0 branch: walk the active queue
// for a member, falling through to the other queue (and reporting no
// work this tick) once the active queue is exhausted, and letting at most
// one queue-1 fan through before returning to queue 0.
func (m *MuxReader) Next() (fan int, ok bool) {
	i := m.nextInQueue(m.q)
	if i < 0 {
		m.q = (m.q + 1) % 2
		return -1, false
	}
	if m.q == 1 {
		m.q = 0
	}
	return i, true
}

// Report records whether the fan returned by Next was observed spinning,
// moving it into queue 0 if so or queue 1 if not (the state==1 branch's
// "fan is spinning, make sure fan is in the first queue" /
// "fan not spinning, put this fan into second queue").
func (m *MuxReader) Report(fan int, spinning bool) {
	if spinning {
		m.queue[fan] = 0
	} else {
		m.queue[fan] = 1
	}
}

// nextInQueue is a direct port of next_in_queue: a linear (non-wrapping)
// scan forward from the last position returned, resetting to the start
// and reporting "queue exhausted" the moment the scan runs past the last
// index without finding a member.
func (m *MuxReader) nextInQueue(q int) int {
	if m.pos[q] >= m.n {
		m.pos[q] = 0
		return -1
	}
	for m.queue[m.pos[q]] != q {
		m.pos[q]++
		if m.pos[q] >= m.n {
			m.pos[q] = 0
			return -1
		}
	}
	i := m.pos[q]
	m.pos[q]++
	return i
}
