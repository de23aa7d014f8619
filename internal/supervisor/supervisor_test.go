package supervisor_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjko/fanpico-sub000/internal/config"
	"github.com/tjko/fanpico-sub000/internal/persist"
	"github.com/tjko/fanpico-sub000/internal/supervisor"
)

func TestConfigGuardWithConfig(t *testing.T) {
	g := supervisor.NewConfigGuard(config.Config{Name: "orig"})
	err := g.WithConfig(10*time.Millisecond, func(c *config.Config) {
		c.Name = "updated"
	})
	require.NoError(t, err)

	snap, err := g.Snapshot(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "updated", snap.Name)
}

func TestConfigGuardTimesOutWhenHeld(t *testing.T) {
	g := supervisor.NewConfigGuard(config.Config{})
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = g.WithConfig(time.Second, func(c *config.Config) {
			close(started)
			<-release
		})
	}()
	<-started

	err := g.WithConfig(5*time.Millisecond, func(c *config.Config) {})
	assert.ErrorIs(t, err, supervisor.ErrTimeout)
	close(release)
}

func TestPersistentStoreUpdate(t *testing.T) {
	s := supervisor.NewPersistentStore(persist.New())
	require.NoError(t, s.Update(10*time.Millisecond, 5*time.Second))
	snap, err := s.Snapshot(10 * time.Millisecond)
	require.NoError(t, err)
	assert.True(t, snap.Valid())
}

func TestWatchdogExpiresWithoutFeed(t *testing.T) {
	var fired int32
	wd := supervisor.NewWatchdog(20*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := wd.Monitor(ctx, 5*time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestWatchdogStaysAliveWhenFed(t *testing.T) {
	wd := supervisor.NewWatchdog(30*time.Millisecond, func() { t.Fatal("watchdog should not expire") })
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				wd.Feed(now)
			}
		}
	}()

	err := wd.Monitor(ctx, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWatchdogDisableStopsFeedAndMarksClean(t *testing.T) {
	var fired int32
	wd := supervisor.NewWatchdog(20*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	wd.Disable()
	assert.True(t, wd.Disabled())

	wd.Feed(time.Now())
	assert.True(t, wd.Expired(time.Now().Add(30*time.Millisecond)))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := wd.Monitor(ctx, 5*time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestPersistentStoreMarkWatchdogReboot(t *testing.T) {
	s := supervisor.NewPersistentStore(persist.New())
	require.NoError(t, s.MarkWatchdogReboot(10*time.Millisecond))

	snap, err := s.Snapshot(10 * time.Millisecond)
	require.NoError(t, err)
	assert.True(t, snap.Valid())
	assert.True(t, snap.RebootedByWatchdog)
}

func TestSupervisorRunFeedsAndUpdates(t *testing.T) {
	var ledToggles int32
	sup := &supervisor.Supervisor{
		Watchdog:   supervisor.NewWatchdog(time.Second, nil),
		Persistent: supervisor.NewPersistentStore(persist.New()),
		ToggleLED:  func(bool) { atomic.AddInt32(&ledToggles, 1) },
	}
	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()

	err := sup.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.False(t, sup.Watchdog.Expired(time.Now()), "watchdog must have been fed")
	snap, err := sup.Persistent.Snapshot(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Greater(t, snap.Uptime, time.Duration(0), "persistent memory must have been updated")
	assert.GreaterOrEqual(t, atomic.LoadInt32(&ledToggles), int32(1))
}
