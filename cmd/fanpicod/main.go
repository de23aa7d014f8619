// Command fanpicod runs the FanPico control engine as a standalone
// process: it wires a board profile, a configuration (loaded from a
// local JSON file if one exists, otherwise a generated default), and a
// PhysicalLayer into a pkg/fanpico.Engine, then runs its control and
// supervisor loops until an interrupt signal arrives. Real silicon access is out of this
// binary's scope (§1 places the board-specific GPIO/ADC wiring outside
// the retrieved corpus); -sim (the default) drives the engine with
// synthetic readings, matching the teacher's simulation-mode convention
// (gpio.Controller's Option/SimulationMode field).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tjko/fanpico-sub000/internal/board"
	"github.com/tjko/fanpico-sub000/internal/config"
	"github.com/tjko/fanpico-sub000/internal/filters"
	"github.com/tjko/fanpico-sub000/internal/pwmmap"
	"github.com/tjko/fanpico-sub000/pkg/fanpico"
)

func main() {
	model := flag.String("model", "0804", "board model (0804, 0804D, 0401D)")
	configPath := flag.String("config", "", "path to fanpico.cfg JSON document (defaults to a generated config if absent)")
	sim := flag.Bool("sim", true, "drive the engine with simulated sensor/tachometer readings instead of real silicon")
	printConfig := flag.Bool("print-config", false, "print the effective configuration as JSON and exit")
	logLevel := flag.String("log-level", "info", "debug, info, warn, or error")
	flag.Parse()

	log := newLogger(*logLevel)

	profile, ok := board.Lookup(*model)
	if !ok {
		log.Fatal().Str("model", *model).Msg("fanpicod: unknown board model")
	}

	store := configStoreFor(*configPath)
	cfg, err := loadOrDefault(store, profile)
	if err != nil {
		log.Fatal().Err(err).Msg("fanpicod: could not establish a starting configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("fanpicod: generated configuration failed validation")
	}

	engine := fanpico.NewEngine(*model, cfg, store, physicalLayer(*sim, &log))
	engine.SetLogger(log)

	if *printConfig {
		out, err := engine.PrintConfig()
		if err != nil {
			log.Fatal().Err(err).Msg("fanpicod: print config")
		}
		fmt.Println(out)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("model", *model).Bool("simulation", *sim).Msg("fanpicod: starting control engine")
	err = engine.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("fanpicod: engine stopped")
	}

	if saveErr := engine.SaveConfig(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("fanpicod: final config save failed")
	}
	log.Info().Bool("rebooted", engine.Rebooted()).Msg("fanpicod: shut down")
}

func newLogger(level string) zerolog.Logger {
	l := zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stderr
		w.TimeFormat = time.RFC3339
	})).With().Timestamp().Logger()
	switch level {
	case "debug":
		l = l.Level(zerolog.DebugLevel)
	case "warn":
		l = l.Level(zerolog.WarnLevel)
	case "error":
		l = l.Level(zerolog.ErrorLevel)
	default:
		l = l.Level(zerolog.InfoLevel)
	}
	return l
}

// fileConfigStore persists the configuration document to a plain file on
// the host filesystem. The on-flash file system itself is an external
// collaborator outside this engine's scope (§1 Non-goals); this is the
// minimal concrete ConfigStore a standalone binary needs to exercise
// save_config/load_config/delete_config against something durable.
type fileConfigStore struct {
	path string
}

func (f fileConfigStore) Save(data []byte) error {
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("fanpicod: write config: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f fileConfigStore) Load() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fanpico.ErrNoConfig
	}
	return data, err
}

func (f fileConfigStore) Delete() error {
	err := os.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func configStoreFor(path string) fanpico.ConfigStore {
	if path == "" {
		return fanpico.NewMemConfigStore()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return fileConfigStore{path: abs}
}

func loadOrDefault(store fanpico.ConfigStore, profile board.Profile) (config.Config, error) {
	data, err := store.Load()
	if errors.Is(err, fanpico.ErrNoConfig) {
		return defaultConfig(profile), nil
	}
	if err != nil {
		return config.Config{}, err
	}
	return config.Unmarshal(data)
}

// defaultConfig builds a cold-boot configuration (§4.5's "apply defaults
// on cold boot"): every fan reads a fixed 50% duty, every mbfan emits a
// fixed 1000 RPM, every sensor uses a flat identity map, and no virtual
// sensors are defined until a collaborator configures one.
func defaultConfig(profile board.Profile) config.Config {
	identity := pwmmap.Map{{X: 0, Y: 0}, {X: 100, Y: 100}}

	cfg := config.Config{
		Name:     profile.Model,
		Timezone: "UTC",
		ADCVref:  3.3,
		I2CSpeed: 100000,
	}

	for i := 0; i < profile.FanCount; i++ {
		cfg.Fans = append(cfg.Fans, config.FanConfig{
			Name:           fmt.Sprintf("fan%d", i+1),
			Source:         config.PWMFixed,
			SourceID:       50,
			Map:            append(pwmmap.Map{}, identity...),
			PWMCoefficient: 1.0,
			MinPWM:         0,
			MaxPWM:         100,
			PWMHyst:        1.0,
			TachoHyst:      10.0,
			RPMFactor:      2,
			Filter:         filters.KindNone,
		})
	}
	for i := 0; i < profile.MBFanCount; i++ {
		cfg.MBFans = append(cfg.MBFans, config.MBFanConfig{
			Name:           fmt.Sprintf("mbfan%d", i+1),
			Source:         config.TachoFixed,
			SourceID:       1000,
			Map:            append(pwmmap.Map{}, identity...),
			RPMCoefficient: 1.0,
			MinRPM:         0,
			MaxRPM:         10000,
			RPMFactor:      2,
			Filter:         filters.KindNone,
		})
	}
	for i := 0; i < profile.SensorCount; i++ {
		cfg.Sensors = append(cfg.Sensors, config.SensorConfig{
			Name:              fmt.Sprintf("sensor%d", i+1),
			Type:              config.SensorInternal,
			ThermistorNominal: 10000,
			TempNominal:       25,
			BetaCoefficient:   3950,
			TempCoefficient:   1.0,
			Map:               append(pwmmap.Map{}, identity...),
			Filter:            filters.KindNone,
		})
	}
	return cfg
}

// physicalLayer builds the simulated PhysicalLayer (-sim=true, the
// default): temperatures drift on a slow sine wave, each fan's tachometer
// reading follows its last committed duty and each mbfan's PWM-input
// reading follows its last committed tacho frequency, just enough signal
// for the control pipeline's maps and hysteresis to have something real
// to chew on. A non-simulated PhysicalLayer wiring real GPIO/ADC access
// is outside this binary's scope per §1 — the Engine's hooks are the
// seam a hardware-backed build plugs into instead.
func physicalLayer(sim bool, log *zerolog.Logger) fanpico.PhysicalLayer {
	if !sim {
		log.Warn().Msg("fanpicod: -sim=false requested but no hardware backend is wired in this build; falling back to simulation")
	}
	start := time.Now()
	var lastFanDuty [8]float64
	var lastMBFanFreq [4]float64

	return fanpico.PhysicalLayer{
		ReadSensorTemp: func(i int) (float64, error) {
			t := time.Since(start).Seconds()
			return 30 + 10*math.Sin(t/30+float64(i)), nil
		},
		ReadFanFreqHz: func(i int) (float64, error) {
			if i < 0 || i >= len(lastFanDuty) {
				return 0, nil
			}
			return lastFanDuty[i] / 100 * 30, nil
		},
		ReadMBFanDuty: func(i int) (float64, error) {
			if i < 0 || i >= len(lastMBFanFreq) {
				return 0, nil
			}
			return lastMBFanFreq[i] / 60, nil
		},
		CommitFanDuty: func(i int, dutyPercent float64) {
			if i >= 0 && i < len(lastFanDuty) {
				lastFanDuty[i] = dutyPercent
			}
		},
		CommitMBFan: func(i int, freqHz float64, lra bool) {
			if i >= 0 && i < len(lastMBFanFreq) {
				lastMBFanFreq[i] = freqHz
			}
		},
	}
}
