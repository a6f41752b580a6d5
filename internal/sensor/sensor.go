// Package sensor feeds the current temperature into the shared setpoints by
// polling a text source such as a sysfs thermal zone.
package sensor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"example.com/thermoweb/v2/internal/config"
	"example.com/thermoweb/v2/internal/logger"
	"example.com/thermoweb/v2/internal/thermostat"
)

// maxReadingBytes bounds a single reading; a temperature is a short token.
const maxReadingBytes = 64

var ErrReadingTooLarge = errors.New("sensor reading too large")

// Feed polls Path every Interval, scales the value and stores it. The display
// is refreshed only when the stored temperature actually changes.
type Feed struct {
	path     string
	interval time.Duration
	scale    float64

	sp      *thermostat.Setpoints
	display thermostat.Display
	log     *logger.Logger
}

// New returns nil when cfg has no path configured.
func New(cfg *config.SensorConfig, sp *thermostat.Setpoints, display thermostat.Display, lg *logger.Logger) *Feed {
	if cfg == nil || cfg.Path == "" {
		return nil
	}
	f := &Feed{
		path:     cfg.Path,
		interval: config.DefaultSensorInterval,
		scale:    1,
		sp:       sp,
		display:  display,
		log:      lg,
	}
	if cfg.Interval != nil {
		f.interval = cfg.Interval.Duration
	}
	if cfg.Scale != nil {
		f.scale = *cfg.Scale
	}
	return f
}

// Read parses one reading from path and applies scale.
func Read(path string, scale float64) (float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxReadingBytes+1))
	if err != nil {
		return 0, err
	}
	if len(data) > maxReadingBytes {
		return 0, fmt.Errorf("%w: more than %s in %s", ErrReadingTooLarge, humanize.Bytes(maxReadingBytes), path)
	}
	v, err := strconv.ParseFloat(string(bytes.TrimSpace(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse reading from %s: %w", path, err)
	}
	return v * scale, nil
}

// Poll takes one reading and stores it.
func (f *Feed) Poll() error {
	v, err := Read(f.path, f.scale)
	if err != nil {
		return err
	}
	if f.sp.SetTemperature(v) {
		f.log.Debug("Temperature changed", logger.LogFields{"temp": humanize.FtoaWithDigits(v, 3), "path": f.path})
		f.display.Update()
	}
	return nil
}

// Run polls immediately and then on every tick until ctx is done.
func (f *Feed) Run(ctx context.Context) {
	f.log.Info("Sensor feed started", logger.LogFields{"path": f.path, "interval": f.interval.String()})
	if err := f.Poll(); err != nil {
		f.log.Warn("Sensor read failed", logger.LogFields{"path": f.path, "error": err.Error()})
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.log.Info("Sensor feed stopped", logger.LogFields{"path": f.path})
			return
		case <-ticker.C:
			if err := f.Poll(); err != nil {
				f.log.Warn("Sensor read failed", logger.LogFields{"path": f.path, "error": err.Error()})
			}
		}
	}
}
