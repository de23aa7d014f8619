package onewire_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjko/fanpico-sub000/internal/signal/onewire"
)

type fakeTransport struct {
	present    bool
	parasite   bool
	roms       []onewire.ROM
	temps      map[onewire.ROM]float64
	convertErr error
	readErr    error
	delay      time.Duration
}

func (f *fakeTransport) Reset(ctx context.Context) (bool, error) { return f.present, nil }
func (f *fakeTransport) Search(ctx context.Context) ([]onewire.ROM, error) { return f.roms, nil }
func (f *fakeTransport) ParasitePowered(ctx context.Context) (bool, error) { return f.parasite, nil }
func (f *fakeTransport) Convert(ctx context.Context, rom onewire.ROM) (time.Duration, error) {
	return f.delay, f.convertErr
}
func (f *fakeTransport) ReadTemp(ctx context.Context, rom onewire.ROM) (float64, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.temps[rom], nil
}

func TestScanFindsDevices(t *testing.T) {
	tr := &fakeTransport{present: true, parasite: true, roms: []onewire.ROM{0x28ff00, 0x28ff01}}
	bus := onewire.NewBus(tr)
	require.NoError(t, bus.Scan(context.Background()))
	assert.Equal(t, []onewire.ROM{0x28ff00, 0x28ff01}, bus.Devices())
	assert.True(t, bus.ParasitePowered())
}

func TestScanNoPresenceYieldsNoDevices(t *testing.T) {
	tr := &fakeTransport{present: false}
	bus := onewire.NewBus(tr)
	require.NoError(t, bus.Scan(context.Background()))
	assert.Empty(t, bus.Devices())
}

func TestScanCapsAtMaxDevices(t *testing.T) {
	roms := make([]onewire.ROM, onewire.MaxDevices+5)
	for i := range roms {
		roms[i] = onewire.ROM(i + 1)
	}
	tr := &fakeTransport{present: true, roms: roms}
	bus := onewire.NewBus(tr)
	require.NoError(t, bus.Scan(context.Background()))
	assert.Len(t, bus.Devices(), onewire.MaxDevices)
}

func TestReadWaitsDriverDelay(t *testing.T) {
	rom := onewire.ROM(0x28ff00)
	tr := &fakeTransport{delay: 10 * time.Millisecond, temps: map[onewire.ROM]float64{rom: 21.5}}
	bus := onewire.NewBus(tr)
	start := time.Now()
	temp, err := bus.Read(context.Background(), rom)
	require.NoError(t, err)
	assert.Equal(t, 21.5, temp)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestReadPropagatesConvertError(t *testing.T) {
	tr := &fakeTransport{convertErr: errors.New("bus timeout")}
	bus := onewire.NewBus(tr)
	_, err := bus.Read(context.Background(), onewire.ROM(1))
	assert.Error(t, err)
}
