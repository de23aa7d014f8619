// Package config implements the persisted configuration document (§4.5):
// fan/mbfan/sensor/vsensor definitions, global board settings, and the
// opaque network/MQTT/telnet/snmp/ssh blocks carried through unmodified
// since those surfaces are out of scope (§1 Non-goals) for this engine.
package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tjko/fanpico-sub000/internal/filters"
	"github.com/tjko/fanpico-sub000/internal/pwmmap"
)

// PWMSource identifies where a fan's duty cycle is computed from (§3).
type PWMSource int

const (
	PWMFixed PWMSource = iota
	PWMMB
	PWMSensor
	PWMFan
	PWMVSensor
)

func (s PWMSource) String() string {
	switch s {
	case PWMMB:
		return "mbfan"
	case PWMSensor:
		return "sensor"
	case PWMFan:
		return "fan"
	case PWMVSensor:
		return "vsensor"
	default:
		return "fixed"
	}
}

// ParsePWMSource mirrors config.c's str2pwm_source: case-insensitive
// prefix match, defaulting to fixed.
func ParsePWMSource(s string) PWMSource {
	ls := strings.ToLower(s)
	switch {
	case strings.HasPrefix(ls, "mbfan"):
		return PWMMB
	case strings.HasPrefix(ls, "sensor"):
		return PWMSensor
	case strings.HasPrefix(ls, "vsensor"):
		return PWMVSensor
	case strings.HasPrefix(ls, "fan"):
		return PWMFan
	default:
		return PWMFixed
	}
}

// TachoSource identifies where a mbfan's output frequency is derived from.
type TachoSource int

const (
	TachoFixed TachoSource = iota
	TachoFan
	TachoMin
	TachoMax
	TachoAvg
)

func (s TachoSource) String() string {
	switch s {
	case TachoFan:
		return "fan"
	case TachoMin:
		return "min"
	case TachoMax:
		return "max"
	case TachoAvg:
		return "avg"
	default:
		return "fixed"
	}
}

func ParseTachoSource(s string) TachoSource {
	ls := strings.ToLower(s)
	switch {
	case strings.HasPrefix(ls, "fan"):
		return TachoFan
	case strings.HasPrefix(ls, "min"):
		return TachoMin
	case strings.HasPrefix(ls, "max"):
		return TachoMax
	case strings.HasPrefix(ls, "avg"):
		return TachoAvg
	default:
		return TachoFixed
	}
}

// SensorType distinguishes internal (on-die ADC) vs external (thermistor)
// physical temperature sensors.
type SensorType int

const (
	SensorInternal SensorType = iota
	SensorExternal
)

// RPMMode selects whether a fan/mbfan tachometer behaves as a normal
// tachometer or a locked-rotor-alarm (LRA) signal (§4.3).
type RPMMode int

const (
	RPMModeTacho RPMMode = iota
	RPMModeLRA
)

// VSensorMode selects how a virtual sensor derives its reading (§4.7).
type VSensorMode int

const (
	VSModeManual VSensorMode = iota
	VSModeMax
	VSModeMin
	VSModeAvg
	VSModeDelta
	VSModeOnewire
	VSModeI2C
)

func (m VSensorMode) String() string {
	switch m {
	case VSModeMax:
		return "max"
	case VSModeMin:
		return "min"
	case VSModeAvg:
		return "avg"
	case VSModeDelta:
		return "delta"
	case VSModeOnewire:
		return "onewire"
	case VSModeI2C:
		return "i2c"
	default:
		return "manual"
	}
}

// ParseVSensorMode mirrors config.c's str2vsmode: case-insensitive prefix
// match, defaulting to manual.
func ParseVSensorMode(s string) VSensorMode {
	ls := strings.ToLower(s)
	switch {
	case strings.HasPrefix(ls, "max"):
		return VSModeMax
	case strings.HasPrefix(ls, "min"):
		return VSModeMin
	case strings.HasPrefix(ls, "avg"):
		return VSModeAvg
	case strings.HasPrefix(ls, "delta"):
		return VSModeDelta
	case strings.HasPrefix(ls, "onewire"):
		return VSModeOnewire
	case strings.HasPrefix(ls, "i2c"):
		return VSModeI2C
	default:
		return VSModeManual
	}
}

// FanConfig is one fan output entry (§3, fanpico.h's fan_output).
type FanConfig struct {
	Name string

	TachoHyst float64
	PWMHyst   float64

	MinPWM         int
	MaxPWM         int
	PWMCoefficient float64
	Source         PWMSource
	SourceID       int
	Map            pwmmap.Map

	// Filter/FilterArgs are carried through (parsed, validated, persisted)
	// but never applied to the duty pipeline — see DESIGN.md "filter
	// application point" decision; the original firmware declares and
	// persists these fields without ever reading them in pwm.c.
	Filter     filters.Kind
	FilterArgs string

	RPMMode  RPMMode
	RPMFactor int
	LRALow   int
	LRAHigh  int
}

// Validate checks the per-fan invariants named in §4.1/§4.3/§9 OQ3.
func (f FanConfig) Validate() error {
	if f.MinPWM < 0 || f.MinPWM > 100 || f.MaxPWM < 0 || f.MaxPWM > 100 {
		return fmt.Errorf("fan %q: min/max pwm must be 0..100", f.Name)
	}
	if f.MinPWM > f.MaxPWM {
		return fmt.Errorf("fan %q: min_pwm %d > max_pwm %d", f.Name, f.MinPWM, f.MaxPWM)
	}
	if err := f.Map.Validate(); err != nil {
		return fmt.Errorf("fan %q: %w", f.Name, err)
	}
	if f.RPMFactor < 1 || f.RPMFactor > 8 {
		return fmt.Errorf("fan %q: rpm_factor must be 1..8, got %d", f.Name, f.RPMFactor)
	}
	return nil
}

// MBFanConfig is one mainboard tachometer-input entry (fanpico.h's mb_input).
type MBFanConfig struct {
	Name string

	RPMMode       RPMMode
	MinRPM        int
	MaxRPM        int
	RPMCoefficient float64
	RPMFactor     int
	LRAThreshold  int
	LRAInvert     bool
	Source        TachoSource
	SourceID      int
	// Sources is a bitmask over 0-based fan indices contributing to
	// MIN/MAX/AVG (fanpico.h's uint8_t sources[FAN_MAX_COUNT], a
	// per-index boolean membership array, not an ordered list).
	Sources uint32
	Map     pwmmap.Map

	// See FanConfig.Filter: carried but not applied to the pipeline.
	Filter     filters.Kind
	FilterArgs string
}

func (m MBFanConfig) Validate() error {
	if m.MinRPM < 0 || m.MaxRPM < m.MinRPM {
		return fmt.Errorf("mbfan %q: invalid rpm range %d..%d", m.Name, m.MinRPM, m.MaxRPM)
	}
	if err := m.Map.Validate(); err != nil {
		return fmt.Errorf("mbfan %q: %w", m.Name, err)
	}
	if m.RPMFactor < 1 || m.RPMFactor > 8 {
		return fmt.Errorf("mbfan %q: rpm_factor must be 1..8, got %d", m.Name, m.RPMFactor)
	}
	return nil
}

// SensorConfig is one physical temperature sensor entry (sensor_input).
type SensorConfig struct {
	Type               SensorType
	Name               string
	ThermistorNominal  float64
	TempNominal        float64
	BetaCoefficient    float64
	TempOffset         float64
	TempCoefficient    float64
	Map                pwmmap.Map
	Filter             filters.Kind
	FilterArgs         string
}

func (s SensorConfig) Validate() error {
	if err := s.Map.Validate(); err != nil {
		return fmt.Errorf("sensor %q: %w", s.Name, err)
	}
	return nil
}

// VSensorConfig is one virtual sensor entry (vsensor_input).
type VSensorConfig struct {
	Name        string
	Mode        VSensorMode
	DefaultTemp float64
	// Timeout in seconds; <= 0 disables the freshness check (§4.7).
	Timeout int
	// Sources holds 1-based physical sensor indices for MAX/MIN/AVG/DELTA.
	Sources    []int
	OnewireAddr uint64
	I2CType    string
	I2CAddr    int
	Map        pwmmap.Map
	Filter     filters.Kind
	FilterArgs string
}

func (v VSensorConfig) Validate() error {
	if err := v.Map.Validate(); err != nil {
		return fmt.Errorf("vsensor %q: %w", v.Name, err)
	}
	return nil
}

// NetworkConfig carries the WiFi/MQTT/telnet/SNMP/SSH settings blocks
// through load/save unmodified. These surfaces are out of scope (§1
// Non-goals: no network daemons), so this engine never reads them beyond
// round-tripping — the fields exist so a saved config document doesn't
// lose data a collaborator outside this module still persists through us.
type NetworkConfig struct {
	WifiSSID    string
	WifiPasswd  []byte // stored plaintext in memory, base64 on the wire
	WifiCountry string

	MQTTServer  string
	MQTTPort    int
	MQTTUser    string
	MQTTPass    []byte
	// *Mask fields are range-string bitmasks (§4.5: "1,3-5" / "*").
	MQTTTempMask    uint32
	MQTTFanRPMMask  uint32
	MQTTFanDutyMask uint32

	TelnetUser   string
	TelnetPWHash string

	SNMPCommunity string
}

// Config is the full persisted document (fanpico_config, minus the
// non-config runtime fields vtemp/vhumidity/vpressure/i2c_context which
// live in control/sensor runtime state, not configuration).
type Config struct {
	Sensors  []SensorConfig
	VSensors []VSensorConfig
	Fans     []FanConfig
	MBFans   []MBFanConfig

	LocalEcho    bool
	Name         string
	Timezone     string
	OnewireActive bool
	I2CSpeed     int
	ADCVref      float64

	Network NetworkConfig
}

// Validate checks every entry and the chained-fan-source acyclicity
// invariant (§4.1: "FAN source references must not form a cycle").
func (c Config) Validate() error {
	for i := range c.Sensors {
		if err := c.Sensors[i].Validate(); err != nil {
			return err
		}
	}
	for i := range c.VSensors {
		if err := c.VSensors[i].Validate(); err != nil {
			return err
		}
	}
	for i := range c.Fans {
		if err := c.Fans[i].Validate(); err != nil {
			return err
		}
		if c.Fans[i].Source == PWMFan {
			if c.Fans[i].SourceID < 0 || c.Fans[i].SourceID >= len(c.Fans) {
				return fmt.Errorf("fan %q: fan source id %d out of range", c.Fans[i].Name, c.Fans[i].SourceID)
			}
		}
	}
	for i := range c.MBFans {
		if err := c.MBFans[i].Validate(); err != nil {
			return err
		}
	}
	if err := checkFanSourceAcyclic(c.Fans); err != nil {
		return err
	}
	return nil
}

// checkFanSourceAcyclic walks the FAN->FAN source graph depth-first,
// failing if a cycle is found (run once per config edit, not per control
// tick). It returns no evaluation order: the output tick evaluates fans
// in index order, so a fan sourced from a higher-index fan sees that
// fan's duty from the previous tick.
func checkFanSourceAcyclic(fans []FanConfig) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(fans))
	var visit func(i int) error
	visit = func(i int) error {
		if color[i] == black {
			return nil
		}
		if color[i] == gray {
			return fmt.Errorf("fan %q: cyclic FAN source reference", fans[i].Name)
		}
		color[i] = gray
		if fans[i].Source == PWMFan {
			if err := visit(fans[i].SourceID); err != nil {
				return err
			}
		}
		color[i] = black
		return nil
	}
	for i := range fans {
		if err := visit(i); err != nil {
			return err
		}
	}
	return nil
}

// --- JSON codec -------------------------------------------------------

const documentID = "fanpico-config-v1"

// mapPoint2 is the 2-element-array encoding of a pwmmap.Point (§4.5).
type mapPoint2 [2]float64

func encodeMap(m pwmmap.Map) []mapPoint2 {
	out := make([]mapPoint2, len(m))
	for i, p := range m {
		out[i] = mapPoint2{p.X, p.Y}
	}
	return out
}

func decodeMap(in []mapPoint2) pwmmap.Map {
	out := make(pwmmap.Map, len(in))
	for i, p := range in {
		out[i] = pwmmap.Point{X: p[0], Y: p[1]}
	}
	return out
}

// filterDoc is the {"name":kind,"args":argstring} sub-object (§4.5).
type filterDoc struct {
	Name string `json:"name"`
	Args string `json:"args,omitempty"`
}

func encodeFilter(kind filters.Kind, args string) filterDoc {
	return filterDoc{Name: kind.String(), Args: args}
}

// decodeFilter downgrades to none on an unknown kind or a failed parse
// (§4.5), matching filters.Parse's contract.
func decodeFilter(d filterDoc) (filters.Kind, string) {
	kind := filters.ParseKind(d.Name)
	if kind == filters.KindNone {
		return filters.KindNone, ""
	}
	if _, ok := filters.Parse(kind, d.Args); !ok {
		return filters.KindNone, ""
	}
	return kind, d.Args
}

type fanDoc struct {
	Name           string      `json:"name"`
	TachoHyst      float64     `json:"tacho_hyst"`
	PWMHyst        float64     `json:"pwm_hyst"`
	MinPWM         int         `json:"min_pwm"`
	MaxPWM         int         `json:"max_pwm"`
	PWMCoefficient float64     `json:"pwm_coefficient"`
	Source         string      `json:"source"`
	SourceID       int         `json:"source_id"`
	Map            []mapPoint2 `json:"map"`
	Filter         filterDoc   `json:"filter"`
	RPMMode        string      `json:"rpm_mode"`
	RPMFactor      int         `json:"rpm_factor"`
	LRALow         int         `json:"lra_low,omitempty"`
	LRAHigh        int         `json:"lra_high,omitempty"`
}

func rpmModeString(m RPMMode) string {
	if m == RPMModeLRA {
		return "lra"
	}
	return "tacho"
}

func parseRPMMode(s string) RPMMode {
	if strings.EqualFold(s, "lra") {
		return RPMModeLRA
	}
	return RPMModeTacho
}

func (f FanConfig) toDoc() fanDoc {
	return fanDoc{
		Name: f.Name, TachoHyst: f.TachoHyst, PWMHyst: f.PWMHyst,
		MinPWM: f.MinPWM, MaxPWM: f.MaxPWM, PWMCoefficient: f.PWMCoefficient,
		Source: f.Source.String(), SourceID: f.SourceID,
		Map:    encodeMap(f.Map),
		Filter: encodeFilter(f.Filter, f.FilterArgs),
		RPMMode: rpmModeString(f.RPMMode), RPMFactor: f.RPMFactor,
		LRALow: f.LRALow, LRAHigh: f.LRAHigh,
	}
}

func (d fanDoc) toConfig() FanConfig {
	kind, args := decodeFilter(d.Filter)
	return FanConfig{
		Name: d.Name, TachoHyst: d.TachoHyst, PWMHyst: d.PWMHyst,
		MinPWM: d.MinPWM, MaxPWM: d.MaxPWM, PWMCoefficient: d.PWMCoefficient,
		Source: ParsePWMSource(d.Source), SourceID: d.SourceID,
		Map:       decodeMap(d.Map),
		Filter:     kind,
		FilterArgs: args,
		RPMMode:   parseRPMMode(d.RPMMode), RPMFactor: d.RPMFactor,
		LRALow: d.LRALow, LRAHigh: d.LRAHigh,
	}
}

type mbfanDoc struct {
	Name           string      `json:"name"`
	RPMMode        string      `json:"rpm_mode"`
	MinRPM         int         `json:"min_rpm"`
	MaxRPM         int         `json:"max_rpm"`
	RPMCoefficient float64     `json:"rpm_coefficient"`
	RPMFactor      int         `json:"rpm_factor"`
	LRAThreshold   int         `json:"lra_threshold,omitempty"`
	LRAInvert      bool        `json:"lra_invert,omitempty"`
	Source         string      `json:"source"`
	SourceID       int         `json:"source_id"`
	Sources        string      `json:"sources,omitempty"`
	Map            []mapPoint2 `json:"map"`
	Filter         filterDoc   `json:"filter"`
}

func (m MBFanConfig) toDoc() mbfanDoc {
	return mbfanDoc{
		Name: m.Name, RPMMode: rpmModeString(m.RPMMode),
		MinRPM: m.MinRPM, MaxRPM: m.MaxRPM, RPMCoefficient: m.RPMCoefficient,
		RPMFactor: m.RPMFactor, LRAThreshold: m.LRAThreshold, LRAInvert: m.LRAInvert,
		Source: m.Source.String(), SourceID: m.SourceID,
		Sources: BitmaskToString(m.Sources, defaultMaskWidth, 1),
		Map: encodeMap(m.Map), Filter: encodeFilter(m.Filter, m.FilterArgs),
	}
}

func (d mbfanDoc) toConfig() MBFanConfig {
	kind, args := decodeFilter(d.Filter)
	return MBFanConfig{
		Name: d.Name, RPMMode: parseRPMMode(d.RPMMode),
		MinRPM: d.MinRPM, MaxRPM: d.MaxRPM, RPMCoefficient: d.RPMCoefficient,
		RPMFactor: d.RPMFactor, LRAThreshold: d.LRAThreshold, LRAInvert: d.LRAInvert,
		Source: ParseTachoSource(d.Source), SourceID: d.SourceID,
		Sources: StringToBitmask(d.Sources, defaultMaskWidth, 1),
		Map: decodeMap(d.Map), Filter: kind, FilterArgs: args,
	}
}

type sensorDoc struct {
	Type              string      `json:"type"`
	Name              string      `json:"name"`
	ThermistorNominal float64     `json:"thermistor_nominal,omitempty"`
	TempNominal       float64     `json:"temp_nominal,omitempty"`
	BetaCoefficient   float64     `json:"beta_coefficient,omitempty"`
	TempOffset        float64     `json:"temp_offset"`
	TempCoefficient   float64     `json:"temp_coefficient"`
	Map               []mapPoint2 `json:"map"`
	Filter            filterDoc   `json:"filter"`
}

func sensorTypeString(t SensorType) string {
	if t == SensorExternal {
		return "external"
	}
	return "internal"
}

func parseSensorType(s string) SensorType {
	if strings.EqualFold(s, "external") {
		return SensorExternal
	}
	return SensorInternal
}

func (s SensorConfig) toDoc() sensorDoc {
	return sensorDoc{
		Type: sensorTypeString(s.Type), Name: s.Name,
		ThermistorNominal: s.ThermistorNominal, TempNominal: s.TempNominal,
		BetaCoefficient: s.BetaCoefficient, TempOffset: s.TempOffset,
		TempCoefficient: s.TempCoefficient, Map: encodeMap(s.Map),
		Filter: encodeFilter(s.Filter, s.FilterArgs),
	}
}

func (d sensorDoc) toConfig() SensorConfig {
	kind, args := decodeFilter(d.Filter)
	return SensorConfig{
		Type: parseSensorType(d.Type), Name: d.Name,
		ThermistorNominal: d.ThermistorNominal, TempNominal: d.TempNominal,
		BetaCoefficient: d.BetaCoefficient, TempOffset: d.TempOffset,
		TempCoefficient: d.TempCoefficient, Map: decodeMap(d.Map),
		Filter: kind, FilterArgs: args,
	}
}

type vsensorDoc struct {
	Name        string      `json:"name"`
	Mode        string      `json:"mode"`
	DefaultTemp float64     `json:"default_temp"`
	Timeout     int         `json:"timeout"`
	Sources     []int       `json:"sources,omitempty"`
	OnewireAddr string      `json:"onewire_addr,omitempty"`
	I2CType     string      `json:"i2c_type,omitempty"`
	I2CAddr     int         `json:"i2c_addr,omitempty"`
	Map         []mapPoint2 `json:"map"`
	Filter      filterDoc   `json:"filter"`
}

func (v VSensorConfig) toDoc() vsensorDoc {
	var addr string
	if v.OnewireAddr != 0 {
		addr = strconv.FormatUint(v.OnewireAddr, 16)
	}
	return vsensorDoc{
		Name: v.Name, Mode: v.Mode.String(), DefaultTemp: v.DefaultTemp,
		Timeout: v.Timeout, Sources: v.Sources, OnewireAddr: addr,
		I2CType: v.I2CType, I2CAddr: v.I2CAddr, Map: encodeMap(v.Map),
		Filter: encodeFilter(v.Filter, v.FilterArgs),
	}
}

func (d vsensorDoc) toConfig() VSensorConfig {
	kind, args := decodeFilter(d.Filter)
	var addr uint64
	if d.OnewireAddr != "" {
		addr, _ = strconv.ParseUint(d.OnewireAddr, 16, 64)
	}
	return VSensorConfig{
		Name: d.Name, Mode: ParseVSensorMode(d.Mode), DefaultTemp: d.DefaultTemp,
		Timeout: d.Timeout, Sources: d.Sources, OnewireAddr: addr,
		I2CType: d.I2CType, I2CAddr: d.I2CAddr, Map: decodeMap(d.Map),
		Filter: kind, FilterArgs: args,
	}
}

type networkDoc struct {
	WifiSSID    string `json:"wifi_ssid,omitempty"`
	WifiPasswd  string `json:"wifi_passwd,omitempty"` // base64
	WifiCountry string `json:"wifi_country,omitempty"`

	MQTTServer string `json:"mqtt_server,omitempty"`
	MQTTPort   int    `json:"mqtt_port,omitempty"`
	MQTTUser   string `json:"mqtt_user,omitempty"`
	MQTTPass   string `json:"mqtt_pass,omitempty"` // base64

	MQTTTempMask    string `json:"mqtt_temp_mask,omitempty"`
	MQTTFanRPMMask  string `json:"mqtt_fan_rpm_mask,omitempty"`
	MQTTFanDutyMask string `json:"mqtt_fan_duty_mask,omitempty"`

	TelnetUser   string `json:"telnet_user,omitempty"`
	TelnetPWHash string `json:"telnet_pwhash,omitempty"`

	SNMPCommunity string `json:"snmp_community,omitempty"`
}

// defaultMaskWidth is the bit width used by the MQTT publish-mask and
// mbfan source range strings (§4.5). It is fixed at 8 whatever the
// board's fan/mbfan count, so "*" always means bits 0..7.
const defaultMaskWidth = 8

func (n NetworkConfig) toDoc() networkDoc {
	return networkDoc{
		WifiSSID:    n.WifiSSID,
		WifiPasswd:  base64.StdEncoding.EncodeToString(n.WifiPasswd),
		WifiCountry: n.WifiCountry,
		MQTTServer:  n.MQTTServer,
		MQTTPort:    n.MQTTPort,
		MQTTUser:    n.MQTTUser,
		MQTTPass:    base64.StdEncoding.EncodeToString(n.MQTTPass),
		MQTTTempMask:    BitmaskToString(n.MQTTTempMask, defaultMaskWidth, 1),
		MQTTFanRPMMask:  BitmaskToString(n.MQTTFanRPMMask, defaultMaskWidth, 1),
		MQTTFanDutyMask: BitmaskToString(n.MQTTFanDutyMask, defaultMaskWidth, 1),
		TelnetUser:   n.TelnetUser,
		TelnetPWHash: n.TelnetPWHash,
		SNMPCommunity: n.SNMPCommunity,
	}
}

func (d networkDoc) toConfig() NetworkConfig {
	pw, _ := base64.StdEncoding.DecodeString(d.WifiPasswd)
	mp, _ := base64.StdEncoding.DecodeString(d.MQTTPass)
	return NetworkConfig{
		WifiSSID: d.WifiSSID, WifiPasswd: pw, WifiCountry: d.WifiCountry,
		MQTTServer: d.MQTTServer, MQTTPort: d.MQTTPort, MQTTUser: d.MQTTUser,
		MQTTPass: mp,
		MQTTTempMask:    StringToBitmask(d.MQTTTempMask, defaultMaskWidth, 1),
		MQTTFanRPMMask:  StringToBitmask(d.MQTTFanRPMMask, defaultMaskWidth, 1),
		MQTTFanDutyMask: StringToBitmask(d.MQTTFanDutyMask, defaultMaskWidth, 1),
		TelnetUser: d.TelnetUser, TelnetPWHash: d.TelnetPWHash,
		SNMPCommunity: d.SNMPCommunity,
	}
}

type document struct {
	ID       string       `json:"id"`
	Sensors  []sensorDoc  `json:"sensors,omitempty"`
	VSensors []vsensorDoc `json:"vsensors,omitempty"`
	Fans     []fanDoc     `json:"fans,omitempty"`
	MBFans   []mbfanDoc   `json:"mbfans,omitempty"`

	LocalEcho     bool    `json:"local_echo,omitempty"`
	Name          string  `json:"name,omitempty"`
	Timezone      string  `json:"timezone,omitempty"`
	OnewireActive bool    `json:"onewire_active,omitempty"`
	I2CSpeed      int     `json:"i2c_speed,omitempty"`
	ADCVref       float64 `json:"adc_vref,omitempty"`

	Network networkDoc `json:"network,omitempty"`
}

// Marshal encodes c as the persisted JSON document (§4.5).
func Marshal(c Config) ([]byte, error) {
	doc := document{
		ID:            documentID,
		LocalEcho:     c.LocalEcho,
		Name:          c.Name,
		Timezone:      c.Timezone,
		OnewireActive: c.OnewireActive,
		I2CSpeed:      c.I2CSpeed,
		ADCVref:       c.ADCVref,
		Network:       c.Network.toDoc(),
	}
	for _, s := range c.Sensors {
		doc.Sensors = append(doc.Sensors, s.toDoc())
	}
	for _, v := range c.VSensors {
		doc.VSensors = append(doc.VSensors, v.toDoc())
	}
	for _, f := range c.Fans {
		doc.Fans = append(doc.Fans, f.toDoc())
	}
	for _, m := range c.MBFans {
		doc.MBFans = append(doc.MBFans, m.toDoc())
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Unmarshal decodes a persisted JSON document into a Config, rejecting
// documents that don't carry the expected id tag.
func Unmarshal(data []byte) (Config, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if doc.ID != documentID {
		return Config{}, fmt.Errorf("config: unexpected document id %q, want %q", doc.ID, documentID)
	}
	c := Config{
		LocalEcho: doc.LocalEcho, Name: doc.Name, Timezone: doc.Timezone,
		OnewireActive: doc.OnewireActive, I2CSpeed: doc.I2CSpeed, ADCVref: doc.ADCVref,
		Network: doc.Network.toConfig(),
	}
	for _, s := range doc.Sensors {
		c.Sensors = append(c.Sensors, s.toConfig())
	}
	for _, v := range doc.VSensors {
		c.VSensors = append(c.VSensors, v.toConfig())
	}
	for _, f := range doc.Fans {
		c.Fans = append(c.Fans, f.toConfig())
	}
	for _, m := range doc.MBFans {
		c.MBFans = append(c.MBFans, m.toConfig())
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

// --- bitmask range-string helpers (util.c's bitmask_to_str/str_to_bitmask) --

// BitmaskToString renders mask's set bits (0..len-1, shifted by base) as a
// compact range string: "*" when every bit 0..len-1 is set (and range is
// requested), comma-separated singles/ranges otherwise, e.g. "1,3-5".
func BitmaskToString(mask uint32, length int, base int, rangeOnly ...bool) string {
	useRange := true
	if len(rangeOnly) > 0 {
		useRange = rangeOnly[0]
	}
	if length < 1 || length > 32 {
		return ""
	}
	full := uint32(1)<<uint(length) - 1
	if useRange && mask&full == full {
		return "*"
	}

	var b strings.Builder
	i := 0
	for i < length {
		if mask&(1<<uint(i)) == 0 {
			i++
			continue
		}
		start := i
		i++
		if useRange {
			for i < length && mask&(1<<uint(i)) != 0 {
				i++
			}
		}
		end := i - 1
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if end > start {
			fmt.Fprintf(&b, "%d-%d", start+base, end+base)
		} else {
			fmt.Fprintf(&b, "%d", start+base)
		}
	}
	return b.String()
}

// StringToBitmask parses a range string produced by BitmaskToString (or
// hand-written by a user) back into a bitmask (§4.5).
func StringToBitmask(s string, length int, base int) uint32 {
	if length < 1 || length > 32 {
		return 0
	}
	s = strings.TrimSpace(s)
	if s == "*" {
		return uint32(1)<<uint(length) - 1
	}
	var mask uint32
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		parts := strings.SplitN(tok, "-", 2)
		a, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		a -= base
		if a < 0 || a >= length {
			continue
		}
		mask |= 1 << uint(a)
		if len(parts) == 2 {
			b, err := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err != nil {
				continue
			}
			b -= base
			if b <= a || b >= length {
				continue
			}
			for x := a + 1; x <= b; x++ {
				mask |= 1 << uint(x)
			}
		}
	}
	return mask
}
