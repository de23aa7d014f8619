// Package supervisor implements the core0 side of the original firmware's
// two-core split (§7): a config mutex with the original's short
// try-acquire-and-skip semantics, a persistent-memory updater behind its
// own mutex on the same pattern, and a hardware-watchdog simulation fed
// once per loop iteration. Grounded on the teacher's `thermal.Monitor`
// (RWMutex-guarded state, a single ctx-driven ticker loop) generalized to
// the several independent timers core0_main actually runs.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tjko/fanpico-sub000/internal/config"
	"github.com/tjko/fanpico-sub000/internal/persist"
)

// Cadences and timeouts lifted from fanpico.c's core0_main and
// update_persistent_memory/core1_main's config resync.
const (
	LoopInterval       = 100 * time.Millisecond
	RAMUpdateInterval  = 1 * time.Second
	LEDInterval        = 1 * time.Second
	WatchdogTimeout    = 8 * time.Second
	ConfigMutexTimeout = 100 * time.Microsecond
	RAMMutexTimeout    = 100 * time.Microsecond
	// StateMutexTimeout is the supervisor's short try-acquire when
	// reading the control task's transfer state (§4.4: "a short
	// try-acquire (1 ms) when reading the transfer state") — looser
	// than ConfigMutexTimeout/RAMMutexTimeout's ~100us because it's the
	// supervisor's own read path, not the control task's tight loop.
	StateMutexTimeout = 1 * time.Millisecond
)

// ErrTimeout is returned by a try-acquire that didn't get the lock in
// time — the caller's cue to skip this tick, exactly like
// mutex_enter_timeout_us returning false.
var ErrTimeout = errors.New("supervisor: try-acquire timed out")

// ConfigGuard owns the authoritative configuration behind a
// try-acquire-with-timeout lock, modeling config_mutex.
type ConfigGuard struct {
	sem chan struct{}
	cfg config.Config
}

// NewConfigGuard wraps an initial configuration.
func NewConfigGuard(cfg config.Config) *ConfigGuard {
	g := &ConfigGuard{sem: make(chan struct{}, 1), cfg: cfg}
	g.sem <- struct{}{}
	return g
}

// WithConfig runs fn with exclusive access to the live configuration,
// having tried to acquire the lock for no longer than timeout.
func (g *ConfigGuard) WithConfig(timeout time.Duration, fn func(*config.Config)) error {
	select {
	case <-g.sem:
	case <-time.After(timeout):
		return ErrTimeout
	}
	defer func() { g.sem <- struct{}{} }()
	fn(&g.cfg)
	return nil
}

// Snapshot takes a shallow copy of the live configuration, reproducing
// core1_main's config resync (memcpy under config_mutex). Slice fields
// (the fan/sensor lists and their maps) share backing arrays with the
// live configuration; no filter state is held in config.Config.
func (g *ConfigGuard) Snapshot(timeout time.Duration) (config.Config, error) {
	var snap config.Config
	err := g.WithConfig(timeout, func(c *config.Config) { snap = *c })
	return snap, err
}

// PersistentStore owns the persistent memory block behind its own
// try-acquire lock, modeling update_persistent_memory's mutex.
type PersistentStore struct {
	sem   chan struct{}
	block persist.Block
}

// MarkWatchdogReboot records the liveness-failure marker in the block
// under the same try-acquire the 1Hz updater uses.
func (s *PersistentStore) MarkWatchdogReboot(timeout time.Duration) error {
	select {
	case <-s.sem:
	case <-time.After(timeout):
		return ErrTimeout
	}
	defer func() { s.sem <- struct{}{} }()
	s.block.MarkWatchdogReboot()
	return nil
}

// NewPersistentStore wraps an initial (already loaded or freshly
// initialized) persistent memory block.
func NewPersistentStore(block persist.Block) *PersistentStore {
	s := &PersistentStore{sem: make(chan struct{}, 1), block: block}
	s.sem <- struct{}{}
	return s
}

// Update touches the block with the current uptime, recomputing its CRC,
// skipping the tick entirely if the lock isn't free within timeout.
func (s *PersistentStore) Update(timeout, uptime time.Duration) error {
	select {
	case <-s.sem:
	case <-time.After(timeout):
		return ErrTimeout
	}
	defer func() { s.sem <- struct{}{} }()
	s.block.Touch(uptime)
	return nil
}

// Snapshot returns the block as it last stood.
func (s *PersistentStore) Snapshot(timeout time.Duration) (persist.Block, error) {
	var snap persist.Block
	select {
	case <-s.sem:
	case <-time.After(timeout):
		return snap, ErrTimeout
	}
	defer func() { s.sem <- struct{}{} }()
	snap = s.block
	return snap, nil
}

// Watchdog simulates the 8-second hardware watchdog (§7): Feed must be
// called at least that often or onTimeout fires once.
type Watchdog struct {
	mu        sync.Mutex
	timeout   time.Duration
	lastFed   time.Time
	onTimeout func()
	fired     bool
	disabled  bool
	Log       zerolog.Logger
}

// NewWatchdog builds a watchdog armed as of now.
func NewWatchdog(timeout time.Duration, onTimeout func()) *Watchdog {
	return &Watchdog{timeout: timeout, lastFed: time.Now(), onTimeout: onTimeout, Log: zerolog.Nop()}
}

// Disable turns Feed into a no-op (request_reboot's "disables watchdog
// feed so a hard reset occurs cleanly", §6): the countdown from the last
// feed before Disable then runs out and Monitor fires as usual. Disabled
// lets the caller tell that deliberate expiry from a liveness failure,
// so a requested reboot is not recorded as a watchdog reboot.
func (w *Watchdog) Disable() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disabled = true
}

// Feed resets the watchdog countdown. A no-op once Disable has been
// called: request_reboot stops the feed so the countdown runs out and a
// clean reset follows (§6).
func (w *Watchdog) Feed(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disabled {
		return
	}
	w.lastFed = now
}

// Disabled reports whether Disable has been called, distinguishing a
// deliberate request_reboot-triggered expiry from a genuine liveness
// failure — only the latter should mark RebootedByWatchdog.
func (w *Watchdog) Disabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.disabled
}

// Expired reports whether now is past the last feed plus the timeout.
func (w *Watchdog) Expired(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return now.Sub(w.lastFed) > w.timeout
}

// Monitor polls for expiry every pollInterval, invoking onTimeout exactly
// once and returning an error the moment the watchdog goes unfed for too
// long.
func (w *Watchdog) Monitor(ctx context.Context, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if w.Expired(now) {
				w.mu.Lock()
				wasDisabled := w.disabled
				if !w.fired {
					w.fired = true
					if w.onTimeout != nil {
						w.onTimeout()
					}
				}
				w.mu.Unlock()
				if wasDisabled {
					w.Log.Info().Msg("supervisor: watchdog expired after a requested reboot, resetting cleanly")
				} else {
					w.Log.Error().Msg("supervisor: watchdog expired, liveness failure")
				}
				return errors.New("supervisor: watchdog expired")
			}
		}
	}
}

// Supervisor runs core0_main's periodic housekeeping: feed the watchdog
// every loop iteration, update persistent memory once a second, and
// toggle a status LED once a second.
type Supervisor struct {
	Watchdog   *Watchdog
	Persistent *PersistentStore
	ToggleLED  func(on bool)
	Log        zerolog.Logger

	ledOn bool
}

// Run blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	loop := time.NewTicker(LoopInterval)
	ram := time.NewTicker(RAMUpdateInterval)
	led := time.NewTicker(LEDInterval)
	defer loop.Stop()
	defer ram.Stop()
	defer led.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-loop.C:
			if s.Watchdog != nil {
				s.Watchdog.Feed(now)
			}
		case <-ram.C:
			if s.Persistent != nil {
				if err := s.Persistent.Update(RAMMutexTimeout, time.Since(start)); err != nil {
					s.Log.Warn().Err(err).Msg("supervisor: persistent memory update skipped this tick")
				}
			}
		case <-led.C:
			s.ledOn = !s.ledOn
			if s.ToggleLED != nil {
				s.ToggleLED(s.ledOn)
			}
		}
	}
}
