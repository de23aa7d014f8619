// Package fanpico wires the board profile, configuration, control
// pipeline, sensor/signal layers, and supervisor housekeeping into one
// process, exposing exactly the collaborator-facing contract spec §6
// names: read_state_snapshot, with_config, request_vsensor_write,
// request_reboot, save/load/delete/print_config. Everything upstream of
// this package (commands, display, network daemons) is an external
// collaborator per spec §1 and only ever talks to the core through these
// methods.
package fanpico

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tjko/fanpico-sub000/internal/board"
	"github.com/tjko/fanpico-sub000/internal/config"
	"github.com/tjko/fanpico-sub000/internal/control"
	"github.com/tjko/fanpico-sub000/internal/persist"
	"github.com/tjko/fanpico-sub000/internal/sensor"
	"github.com/tjko/fanpico-sub000/internal/supervisor"
)

// PhysicalLayer is the narrow set of I/O hooks the control pipeline reads
// from and writes to each tick. A nil hook degrades gracefully — a
// missing sensor reading or unset output hook is handled the same way
// spec §7 handles "sensor-missing"/"bus error": skip, log, keep running.
// Simulation and tests can leave every hook nil and drive State directly.
type PhysicalLayer struct {
	ReadSensorTemp func(i int) (float64, error)
	ReadFanFreqHz  func(i int) (float64, error)
	ReadMBFanDuty  func(i int) (float64, error)
	CommitFanDuty  func(i int, dutyPercent float64)
	CommitMBFan    func(i int, freqHz float64, lra bool)
}

// Engine is the process root: one per running instance, constructed once
// at startup (spec §9: "pass an explicit handle from an application
// root", not hidden globals).
type Engine struct {
	Board board.Profile

	configGuard *supervisor.ConfigGuard
	stateGuard  *control.StateGuard
	persistent  *supervisor.PersistentStore
	watchdog    *supervisor.Watchdog
	store       ConfigStore
	phys        PhysicalLayer
	log         zerolog.Logger

	mu       sync.Mutex
	vsensors []*sensor.VState
	working  *control.State
	rebooted bool
}

// SetLogger installs a structured logger used for per-tick diagnostics
// (sensor-missing warnings, hysteresis-gated output changes, config/bus
// errors) at the severities spec §7/SPEC_FULL.md §1 call for. The zero
// value logs nothing, matching zerolog's documented no-op zero value.
func (e *Engine) SetLogger(l zerolog.Logger) {
	e.log = l
}

// NewEngine builds an Engine for the named board model with an initial
// configuration, a ConfigStore for save/load/delete, and a (possibly
// all-nil, for simulation) PhysicalLayer. MustLookup panics on an unknown
// model, matching spec §7's "invariant violation ... panic at init".
func NewEngine(model string, cfg config.Config, store ConfigStore, phys PhysicalLayer) *Engine {
	profile := board.MustLookup(model)

	vsensors := make([]*sensor.VState, len(cfg.VSensors))
	for i := range vsensors {
		vsensors[i] = &sensor.VState{}
	}

	working := control.NewState(profile.FanCount, profile.MBFanCount, profile.SensorCount, len(cfg.VSensors))

	return &Engine{
		Board:       profile,
		configGuard: supervisor.NewConfigGuard(cfg),
		stateGuard:  control.NewStateGuard(*working),
		persistent:  supervisor.NewPersistentStore(persist.New()),
		watchdog:    supervisor.NewWatchdog(supervisor.WatchdogTimeout, nil),
		store:       store,
		phys:        phys,
		vsensors:    vsensors,
		working:     working,
	}
}

// ReadStateSnapshot is read_state_snapshot(): non-blocking, may return
// the previous frame if the transfer state isn't free within the
// supervisor's short try-acquire window (§4.4/§6).
func (e *Engine) ReadStateSnapshot() control.State {
	st, err := e.stateGuard.Snapshot(supervisor.StateMutexTimeout)
	if err != nil {
		// Stale-frame fallback: re-snapshot the working copy directly
		// rather than block, matching "may return the previous frame".
		e.mu.Lock()
		defer e.mu.Unlock()
		return *e.working
	}
	return st
}

// WithConfig is with_config(): exclusive access to the live
// configuration, for command and codec paths (§6). Callers needing the
// "long-acquire" semantics of a user command simply pass a generous
// timeout; the control task's own resync uses
// supervisor.ConfigMutexTimeout instead.
func (e *Engine) WithConfig(timeout time.Duration, fn func(*config.Config)) error {
	return e.configGuard.WithConfig(timeout, fn)
}

// RequestVsensorWrite is request_vsensor_write(): only meaningful for
// MANUAL vsensors, bumps the per-entry freshness stamp (§6).
func (e *Engine) RequestVsensorWrite(index int, value float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.vsensors) {
		return fmt.Errorf("fanpico: vsensor index %d out of range", index)
	}
	e.vsensors[index].WriteManual(value, time.Now())
	return nil
}

// RequestReboot is request_reboot(): records the request on the Engine
// (see Rebooted) and stops feeding the watchdog so a clean hard reset
// follows (§6). It writes nothing to the persistent memory block.
func (e *Engine) RequestReboot() {
	e.mu.Lock()
	e.rebooted = true
	e.mu.Unlock()
	e.watchdog.Disable()
	e.log.Info().Msg("fanpico: reboot requested, watchdog feed disabled")
}

// Rebooted reports whether RequestReboot has been called.
func (e *Engine) Rebooted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebooted
}

// SaveConfig is save_config(): marshal the live configuration and write
// it through the ConfigStore, under config_mutex per spec §4.5.
func (e *Engine) SaveConfig() error {
	var data []byte
	var marshalErr error
	err := e.configGuard.WithConfig(time.Second, func(c *config.Config) {
		data, marshalErr = config.Marshal(*c)
	})
	if err != nil {
		return fmt.Errorf("fanpico: save config: %w", err)
	}
	if marshalErr != nil {
		return fmt.Errorf("fanpico: save config: %w", marshalErr)
	}
	return e.store.Save(data)
}

// LoadConfig is load_config(): read from the ConfigStore, parse, and
// install in-place under config_mutex. A parse error leaves the current
// configuration intact (§7: "Config-parse error: reject the file, leave
// the current configuration intact").
func (e *Engine) LoadConfig() error {
	data, err := e.store.Load()
	if err != nil {
		return fmt.Errorf("fanpico: load config: %w", err)
	}
	parsed, err := config.Unmarshal(data)
	if err != nil {
		e.log.Error().Err(err).Msg("fanpico: config parse failed, keeping current configuration")
		return fmt.Errorf("fanpico: load config: %w", err)
	}
	return e.configGuard.WithConfig(time.Second, func(c *config.Config) {
		*c = parsed
	})
}

// DeleteConfig is delete_config().
func (e *Engine) DeleteConfig() error {
	return e.store.Delete()
}

// PrintConfig is print_config(): render the live configuration as its
// persisted JSON form.
func (e *Engine) PrintConfig() (string, error) {
	var out []byte
	var marshalErr error
	err := e.configGuard.WithConfig(time.Second, func(c *config.Config) {
		out, marshalErr = config.Marshal(*c)
	})
	if err != nil {
		return "", err
	}
	if marshalErr != nil {
		return "", marshalErr
	}
	return string(out), nil
}

// Run starts the control pipeline's cadences and the supervisor's
// housekeeping concurrently, blocking until ctx is cancelled. State
// publish is folded into the output tick, which shares its 500ms period
// in the original firmware. There is no separate working-config copy:
// the temperature and output ticks each copy the configuration from the
// config guard under the short try-acquire when they run, and the
// tachometer-input tick only try-acquires and releases config_mutex
// without copying anything.
func (e *Engine) Run(ctx context.Context) error {
	sched := &control.Scheduler{
		TachoInput: e.tickTachoInputAndConfigResync,
		PWMInput:   e.tickPWMInput,
		Temp:       e.tickTemp,
		Output:     e.tickOutputAndStatePublish,
	}
	sup := &supervisor.Supervisor{
		Watchdog:   e.watchdog,
		Persistent: e.persistent,
		Log:        e.log,
	}
	e.watchdog.Log = e.log

	// runCtx is internally cancellable so a genuine watchdog liveness
	// failure (§7) stops every loop the same way a hardware reset would,
	// without reaching into the caller's context.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var wg sync.WaitGroup
	errs := make(chan error, 3)

	wg.Add(3)
	go func() { defer wg.Done(); errs <- sched.Run(runCtx) }()
	go func() { defer wg.Done(); errs <- sup.Run(runCtx) }()
	go func() {
		defer wg.Done()
		err := e.watchdog.Monitor(runCtx, supervisor.LoopInterval)
		if runCtx.Err() != nil {
			// Stopped because the caller (or a sibling goroutine)
			// cancelled runCtx, not a real expiry.
			errs <- nil
			return
		}
		// Genuine expiry: a requested reboot disables the feed
		// deliberately (clean reset, §6); anything else is the
		// liveness failure §7 describes and gets recorded so the
		// next boot can surface "rebooted by watchdog".
		if !e.watchdog.Disabled() {
			if markErr := e.persistent.MarkWatchdogReboot(supervisor.RAMMutexTimeout); markErr != nil {
				e.log.Error().Err(markErr).Msg("fanpico: failed to record watchdog reboot marker")
			}
		}
		cancelRun()
		errs <- err
	}()

	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		if first == nil {
			first = err
		}
	}
	return first
}

func (e *Engine) tickTachoInputAndConfigResync() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phys.ReadFanFreqHz != nil {
		for i := range e.working.FanFreq {
			if freq, err := e.phys.ReadFanFreqHz(i); err == nil {
				e.working.FanFreq[i] = control.RoundDecimal(freq, 2)
			} else {
				e.log.Warn().Err(err).Int("fan", i).Msg("fanpico: tachometer input read failed, reporting 0Hz")
				e.working.FanFreq[i] = 0
			}
		}
	}
	_ = e.configGuard.WithConfig(supervisor.ConfigMutexTimeout, func(c *config.Config) {})
}

func (e *Engine) tickPWMInput() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phys.ReadMBFanDuty == nil {
		return
	}
	for i := range e.working.MBFanDuty {
		if duty, err := e.phys.ReadMBFanDuty(i); err == nil {
			e.working.MBFanDuty[i] = control.RoundDecimal(duty, 2)
		} else {
			e.log.Warn().Err(err).Int("mbfan", i).Msg("fanpico: pwm input capture discarded")
		}
	}
}

func (e *Engine) tickTemp() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phys.ReadSensorTemp != nil {
		for i := range e.working.Temp {
			if t, err := e.phys.ReadSensorTemp(i); err == nil {
				e.working.Temp[i] = t
			} else {
				e.log.Warn().Err(err).Int("sensor", i).Msg("fanpico: sensor read failed, reporting 0C")
				e.working.Temp[i] = 0
			}
		}
	}

	var cfg config.Config
	_ = e.configGuard.WithConfig(supervisor.ConfigMutexTimeout, func(c *config.Config) { cfg = *c })
	physTemps := append([]float64(nil), e.working.Temp...)
	for i := range e.working.VTemp {
		if i >= len(cfg.VSensors) {
			break
		}
		e.working.VTemp[i] = sensor.EvalVSensor(cfg.VSensors[i], e.vsensors[i], physTemps, time.Now(), nil)
	}
}

func (e *Engine) tickOutputAndStatePublish() {
	e.mu.Lock()
	var cfg config.Config
	e.mu.Unlock()
	_ = e.configGuard.WithConfig(supervisor.ConfigMutexTimeout, func(c *config.Config) { cfg = *c })

	e.mu.Lock()
	for i := range cfg.Fans {
		duty := control.RoundDecimal(control.CalculatePWMDuty(e.working, &cfg, i), 1)
		if control.CheckForChange(e.working.FanDutyPrev[i], duty, cfg.Fans[i].PWMHyst) {
			e.log.Info().Int("fan", i).Float64("prev", e.working.FanDutyPrev[i]).Float64("duty", duty).Msg("fanpico: fan duty changed")
			e.working.FanDutyPrev[i] = duty
			e.working.FanDuty[i] = duty
			if e.phys.CommitFanDuty != nil {
				e.phys.CommitFanDuty(i, duty)
			}
		}
	}
	for i := range cfg.MBFans {
		freq := control.CalculateTachoFreq(e.working, &cfg, i)
		if control.CheckForChange(e.working.MBFanFreqPrev[i], freq, 1.0) {
			e.log.Info().Int("mbfan", i).Float64("prev", e.working.MBFanFreqPrev[i]).Float64("freq", freq).Msg("fanpico: mbfan tacho frequency changed")
			e.working.MBFanFreqPrev[i] = freq
			e.working.MBFanFreq[i] = freq
			if e.phys.CommitMBFan != nil {
				e.phys.CommitMBFan(i, freq, control.LRADecision(freq, cfg.MBFans[i]))
			}
		}
	}
	snapshot := *e.working
	e.mu.Unlock()

	_ = e.stateGuard.Publish(supervisor.StateMutexTimeout, snapshot)
}
