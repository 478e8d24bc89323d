package battery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"ownclock/internal/backend"
	"ownclock/internal/config"
	appLog "ownclock/internal/log"
)

// Status is the battery state shown in the dashboard corner.
type Status struct {
	// Available is false when the kiosk has no battery (mains powered) or
	// the source could not be read.
	Available bool `json:"available"`
	// Percent is the battery level in 0–100%.
	Percent  int  `json:"percent"`
	Charging bool `json:"charging"`
	// VoltageMv is the battery voltage in millivolts, 0 if unknown.
	VoltageMv int `json:"voltage_mv"`
}

// Level buckets a status for the indicator icon.
type Level string

const (
	LevelUnavailable Level = "unavailable"
	LevelCharging    Level = "charging"
	LevelCritical    Level = "critical"
	LevelLow         Level = "low"
	LevelMedium      Level = "medium"
	LevelFull        Level = "full"
)

// Classify maps s to its indicator level. Charging wins over the level
// thresholds (≤10 critical, ≤25 low, ≤50 medium).
func Classify(s Status) Level {
	switch {
	case !s.Available:
		return LevelUnavailable
	case s.Charging:
		return LevelCharging
	case s.Percent <= 10:
		return LevelCritical
	case s.Percent <= 25:
		return LevelLow
	case s.Percent <= 50:
		return LevelMedium
	default:
		return LevelFull
	}
}

// Reader abstracts how we obtain battery information.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// BackendSource is the part of the backend client used by backendReader.
type BackendSource interface {
	FetchBattery(ctx context.Context) (backend.BatteryState, error)
}

type backendReader struct {
	src BackendSource
}

// NewBackendReader reads status from the backend's GET /battery.
func NewBackendReader(src BackendSource) Reader {
	return &backendReader{src: src}
}

func (r *backendReader) Read(ctx context.Context) (Status, error) {
	bs, err := r.src.FetchBattery(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Available: bs.Available,
		Percent:   clampPercent(bs.Percent),
		Charging:  bs.Charging,
	}, nil
}

// mockReader is used for demo/development. It returns a pseudo-random
// percentage and no real voltage information.
type mockReader struct {
	rnd *rand.Rand
}

// NewMockReader constructs a mock Reader that generates random percentages.
func NewMockReader() Reader {
	return &mockReader{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *mockReader) Read(_ context.Context) (Status, error) {
	return Status{
		Available: true,
		Percent:   20 + m.rnd.Intn(81), // 20..100 inclusive
	}, nil
}

// i2cReader talks to a PiSugar3 battery controller, which exposes:
//   - 0x22 (high), 0x23 (low): battery voltage in millivolts
//   - 0x2A: battery percentage (0–100)
//   - 0x02 bit 7: external power connected
type i2cReader struct {
	busName string
	addr    uint16
}

// NewI2CReader constructs an I2C-backed Reader. busName "" selects the
// default periph.io bus (usually /dev/i2c-1 on a Raspberry Pi).
func NewI2CReader(busName string, addr uint16) Reader {
	return &i2cReader{
		busName: busName,
		addr:    addr,
	}
}

func (r *i2cReader) Read(_ context.Context) (Status, error) {
	if runtime.GOOS != "linux" {
		return Status{}, errors.New("battery: i2c reader unavailable on this platform")
	}
	if _, err := host.Init(); err != nil {
		return Status{}, fmt.Errorf("battery: host init: %w", err)
	}

	bus, err := i2creg.Open(r.busName)
	if err != nil {
		return Status{}, fmt.Errorf("battery: open i2c bus %q: %w", r.busName, err)
	}
	defer bus.Close()

	dev := &i2c.Dev{Bus: bus, Addr: r.addr}

	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, fmt.Errorf("battery: read reg 0x%02x: %w", reg, err)
		}
		return buf[0], nil
	}

	power, err := readReg(0x02)
	if err != nil {
		return Status{}, err
	}
	high, err := readReg(0x22)
	if err != nil {
		return Status{}, err
	}
	low, err := readReg(0x23)
	if err != nil {
		return Status{}, err
	}
	pct, err := readReg(0x2A)
	if err != nil {
		return Status{}, err
	}

	return Status{
		Available: true,
		Percent:   clampPercent(int(pct)),
		Charging:  power&0x80 != 0,
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}

// NewReader returns the Reader selected by cfg. An "i2c" source that fails
// its first read falls back to the backend so the kiosk keeps a working
// indicator.
func NewReader(ctx context.Context, cfg config.BatteryConfig, src BackendSource) Reader {
	switch cfg.Source {
	case "mock":
		return NewMockReader()
	case "i2c":
		r := NewI2CReader(cfg.I2CBus, cfg.I2CAddr)
		if _, err := r.Read(ctx); err != nil {
			appLog.Error("battery: first i2c read failed; using backend", err, "bus", cfg.I2CBus, "addr", fmt.Sprintf("0x%02x", cfg.I2CAddr))
			return NewBackendReader(src)
		}
		return r
	default:
		return NewBackendReader(src)
	}
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
