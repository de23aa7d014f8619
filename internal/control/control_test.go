package control_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjko/fanpico-sub000/internal/config"
	"github.com/tjko/fanpico-sub000/internal/control"
	"github.com/tjko/fanpico-sub000/internal/pwmmap"
)

func straightMap() pwmmap.Map {
	return pwmmap.Map{{X: 0, Y: 0}, {X: 100, Y: 100}}
}

func TestCalculatePWMDutyFixed(t *testing.T) {
	cfg := &config.Config{Fans: []config.FanConfig{
		{Source: config.PWMFixed, SourceID: 42, MaxPWM: 100, PWMCoefficient: 1, Map: straightMap()},
	}}
	st := control.NewState(1, 0, 0, 0)
	assert.Equal(t, 42.0, control.CalculatePWMDuty(st, cfg, 0))
}

func TestCalculatePWMDutySensor(t *testing.T) {
	cfg := &config.Config{
		Sensors: []config.SensorConfig{{Map: pwmmap.Map{{X: 20, Y: 20}, {X: 50, Y: 100}}}},
		Fans: []config.FanConfig{
			{Source: config.PWMSensor, SourceID: 0, MaxPWM: 100, PWMCoefficient: 1, Map: straightMap()},
		},
	}
	st := control.NewState(1, 0, 1, 0)
	st.Temp[0] = 35
	got := control.CalculatePWMDuty(st, cfg, 0)
	assert.InDelta(t, 60.0, got, 0.01)
}

func TestCalculatePWMDutyClampsToMax(t *testing.T) {
	cfg := &config.Config{Fans: []config.FanConfig{
		{Source: config.PWMFixed, SourceID: 90, MaxPWM: 80, MinPWM: 10, PWMCoefficient: 1, Map: straightMap()},
	}}
	st := control.NewState(1, 0, 0, 0)
	assert.Equal(t, 80.0, control.CalculatePWMDuty(st, cfg, 0))
}

func TestCalculatePWMDutyFanChain(t *testing.T) {
	cfg := &config.Config{Fans: []config.FanConfig{
		{Source: config.PWMFixed, SourceID: 55, MaxPWM: 100, PWMCoefficient: 1, Map: straightMap()},
		{Source: config.PWMFan, SourceID: 0, MaxPWM: 100, PWMCoefficient: 1, Map: straightMap()},
	}}
	st := control.NewState(2, 0, 0, 0)
	st.FanDuty[0] = control.CalculatePWMDuty(st, cfg, 0)
	got := control.CalculatePWMDuty(st, cfg, 1)
	assert.Equal(t, st.FanDuty[0], got)
}

func TestCalculateTachoFreqAvg(t *testing.T) {
	cfg := &config.Config{
		Fans: []config.FanConfig{
			{RPMFactor: 2}, {RPMFactor: 2}, {RPMFactor: 2},
		},
		MBFans: []config.MBFanConfig{
			{
				Source: config.TachoAvg, Sources: 0b011, // fans 0 and 1
				MaxRPM: 5000, RPMCoefficient: 1, RPMFactor: 2,
				Map: pwmmap.Map{{X: 0, Y: 0}, {X: 10000, Y: 10000}},
			},
		},
	}
	st := control.NewState(3, 1, 0, 0)
	st.FanFreq[0] = 20 // 20Hz * 60/2 = 600 RPM
	st.FanFreq[1] = 40 // 40Hz * 60/2 = 1200 RPM
	st.FanFreq[2] = 1000
	got := control.CalculateTachoFreq(st, cfg, 0)
	// avg RPM = 900, Hz = 900/60*2 = 30
	assert.InDelta(t, 30.0, got, 0.01)
}

func TestCalculateTachoFreqMinMax(t *testing.T) {
	fans := []config.FanConfig{{RPMFactor: 1}, {RPMFactor: 1}}
	mkCfg := func(src config.TachoSource) *config.Config {
		return &config.Config{
			Fans: fans,
			MBFans: []config.MBFanConfig{{
				Source: src, Sources: 0b11, MaxRPM: 10000, RPMCoefficient: 1, RPMFactor: 1,
				Map: pwmmap.Map{{X: 0, Y: 0}, {X: 10000, Y: 10000}},
			}},
		}
	}
	st := control.NewState(2, 1, 0, 0)
	st.FanFreq[0] = 10 // 600 RPM
	st.FanFreq[1] = 20 // 1200 RPM

	minGot := control.CalculateTachoFreq(st, mkCfg(config.TachoMin), 0)
	maxGot := control.CalculateTachoFreq(st, mkCfg(config.TachoMax), 0)
	assert.InDelta(t, 10.0, minGot, 0.01)
	assert.InDelta(t, 20.0, maxGot, 0.01)
}

func TestCheckForChange(t *testing.T) {
	assert.True(t, control.CheckForChange(50, 52, 1))
	assert.False(t, control.CheckForChange(50, 50.5, 1))
}

func TestRoundDecimal(t *testing.T) {
	assert.Equal(t, 1.23, control.RoundDecimal(1.2345, 2))
}

func TestLRADecision(t *testing.T) {
	cfg := config.MBFanConfig{RPMFactor: 2, LRAThreshold: 500}
	assert.True(t, control.LRADecision(5, cfg))  // 5Hz -> 150rpm < 500
	assert.False(t, control.LRADecision(20, cfg)) // 20Hz -> 600rpm >= 500
	cfg.LRAInvert = true
	assert.False(t, control.LRADecision(5, cfg))
}

func TestStateGuardPublishAndSnapshotClones(t *testing.T) {
	st := control.NewState(2, 0, 0, 0)
	st.FanDuty[0] = 10
	g := control.NewStateGuard(*st)

	require.NoError(t, g.Publish(10*time.Millisecond, *st))
	st.FanDuty[0] = 99 // mutate after publish

	snap, err := g.Snapshot(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 10.0, snap.FanDuty[0], "snapshot must not see post-publish mutation")
}

func TestSchedulerRunsEachCadence(t *testing.T) {
	var tacho, pwm, temp, out int32
	s := &control.Scheduler{
		TachoInput: func() { atomic.AddInt32(&tacho, 1) },
		PWMInput:   func() { atomic.AddInt32(&pwm, 1) },
		Temp:       func() { atomic.AddInt32(&temp, 1) },
		Output:     func() { atomic.AddInt32(&out, 1) },
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2300*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&tacho), int32(1))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&pwm), int32(1))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&temp), int32(1))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&out), int32(1))
}
