package sensor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjko/fanpico-sub000/internal/config"
	"github.com/tjko/fanpico-sub000/internal/filters"
	"github.com/tjko/fanpico-sub000/internal/pwmmap"
	"github.com/tjko/fanpico-sub000/internal/sensor"
)

type fakeADC struct {
	raw uint32
	err error
}

func (f fakeADC) ReadRaw(channel int) (uint32, error) { return f.raw, f.err }

func TestReaderInternalSensor(t *testing.T) {
	// 0.706V corresponds to 27C before coefficient/offset per the
	// internal-sensor linear formula.
	raw := uint32(0.706 / (3.0 / 4096))
	r := sensor.NewReader(fakeADC{raw: raw}, 0, nil)
	temp, err := r.Read(config.SensorConfig{Type: config.SensorInternal, TempCoefficient: 1})
	require.NoError(t, err)
	assert.InDelta(t, 27.0, temp, 0.5)
}

func TestReaderExternalSensorOutOfRangeReturnsZero(t *testing.T) {
	r := sensor.NewReader(fakeADC{raw: 0}, 0, nil)
	temp, err := r.Read(config.SensorConfig{
		Type: config.SensorExternal, TempCoefficient: 1,
		ThermistorNominal: 10000, TempNominal: 25, BetaCoefficient: 3950,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, temp)
}

func TestReaderPropagatesADCError(t *testing.T) {
	r := sensor.NewReader(fakeADC{err: assertErr{}}, 0, nil)
	_, err := r.Read(config.SensorConfig{})
	assert.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "adc failure" }

func TestGetDutyUsesMap(t *testing.T) {
	cfg := config.SensorConfig{Map: pwmmap.Map{{X: 20, Y: 20}, {X: 50, Y: 100}}}
	assert.Equal(t, 20.0, sensor.GetDuty(cfg, 10))
	assert.Equal(t, 100.0, sensor.GetDuty(cfg, 60))
	assert.InDelta(t, 60.0, sensor.GetDuty(cfg, 35), 0.01)
}

func TestEvalVSensorManualTimeout(t *testing.T) {
	cfg := config.VSensorConfig{Mode: config.VSModeManual, DefaultTemp: 25, Timeout: 60}
	vs := &sensor.VState{}
	now := time.Now()
	vs.WriteManual(40, now)

	fresh := sensor.EvalVSensor(cfg, vs, nil, now.Add(30*time.Second), nil)
	assert.Equal(t, 40.0, fresh)

	stale := sensor.EvalVSensor(cfg, vs, nil, now.Add(90*time.Second), nil)
	assert.Equal(t, 25.0, stale)
}

func TestEvalVSensorManualNoTimeoutWhenDisabled(t *testing.T) {
	cfg := config.VSensorConfig{Mode: config.VSModeManual, DefaultTemp: 25, Timeout: 0}
	vs := &sensor.VState{}
	now := time.Now()
	vs.WriteManual(40, now)
	assert.Equal(t, 40.0, sensor.EvalVSensor(cfg, vs, nil, now.Add(time.Hour), nil))
}

func TestEvalVSensorAvg(t *testing.T) {
	cfg := config.VSensorConfig{Mode: config.VSModeAvg, Sources: []int{1, 2, 3}}
	got := sensor.EvalVSensor(cfg, &sensor.VState{}, []float64{10, 20, 30}, time.Now(), nil)
	assert.InDelta(t, 20.0, got, 0.001)
}

func TestEvalVSensorMaxMin(t *testing.T) {
	physTemps := []float64{10, 30, 20}
	maxCfg := config.VSensorConfig{Mode: config.VSModeMax, Sources: []int{1, 2, 3}}
	minCfg := config.VSensorConfig{Mode: config.VSModeMin, Sources: []int{1, 2, 3}}
	assert.Equal(t, 30.0, sensor.EvalVSensor(maxCfg, &sensor.VState{}, physTemps, time.Now(), nil))
	assert.Equal(t, 10.0, sensor.EvalVSensor(minCfg, &sensor.VState{}, physTemps, time.Now(), nil))
}

func TestEvalVSensorDelta(t *testing.T) {
	cfg := config.VSensorConfig{Mode: config.VSModeDelta, Sources: []int{1, 2}}
	got := sensor.EvalVSensor(cfg, &sensor.VState{}, []float64{50, 30}, time.Now(), nil)
	assert.Equal(t, 20.0, got)
}

func TestEvalVSensorAppliesFilter(t *testing.T) {
	cfg := config.VSensorConfig{Mode: config.VSModeAvg, Sources: []int{1}}
	ctx, ok := filters.Parse(filters.KindSMA, "2")
	require.True(t, ok)
	first := sensor.EvalVSensor(cfg, &sensor.VState{}, []float64{10}, time.Now(), ctx)
	second := sensor.EvalVSensor(cfg, &sensor.VState{}, []float64{20}, time.Now(), ctx)
	assert.Equal(t, 10.0, first)
	assert.Equal(t, 15.0, second)
}
