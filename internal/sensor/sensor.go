// Package sensor reads the temperature the welcome beacon exposes.
package sensor

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var ErrClosed = errors.New("sensor: closed")

// Reading is one sample. Temperature is in milli-degrees Celsius.
type Reading struct {
	Temperature int32
	Pressure    int32 // milli-pascal, 0 when not measured
	Humidity    int32 // hundredths of a percent, 0 when not measured
}

// Measurement is the value written to the beacon's measurement
// characteristic: the milli-°C temperature as a two's complement uint32.
func (r Reading) Measurement() uint32 {
	return uint32(r.Temperature)
}

func (r Reading) Celsius() float64 {
	return float64(r.Temperature) / 1000
}

type Source interface {
	Read() (Reading, error)
	Close() error
}

// Static always returns the same reading.
type Static struct {
	reading Reading
}

func NewStatic(r Reading) *Static {
	return &Static{reading: r}
}

func (s *Static) Read() (Reading, error) { return s.reading, nil }

func (s *Static) Close() error { return nil }

// Poll reads src every interval, starting immediately, and hands each
// reading to fn until ctx is done. Read and fn errors are logged and the
// loop continues.
func Poll(ctx context.Context, src Source, interval time.Duration, logger *slog.Logger, fn func(Reading) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if reading, err := src.Read(); err != nil {
			logger.Warn("sensor: read failed", "error", err)
		} else if err := fn(reading); err != nil {
			logger.Warn("sensor: reading not applied", "error", err)
		} else {
			logger.Debug("sensor: reading", "temperature_c", reading.Celsius())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
}
