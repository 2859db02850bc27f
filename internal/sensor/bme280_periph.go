//go:build !tinygo

package sensor

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

// BME280 reads a Bosch BME280 on the default I2C bus, usually /dev/i2c-1.
type BME280 struct {
	mu     sync.Mutex
	bus    i2c.BusCloser
	dev    *bmxx80.Dev
	closed bool
}

func OpenBME280(addr uint16) (*BME280, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return nil, fmt.Errorf("open i2c bus: %w", err)
	}

	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("bme280 at 0x%02x: %w", addr, err)
	}

	return &BME280{bus: bus, dev: dev}, nil
}

func (s *BME280) Read() (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Reading{}, ErrClosed
	}

	var env physic.Env
	if err := s.dev.Sense(&env); err != nil {
		return Reading{}, fmt.Errorf("bme280 sense: %w", err)
	}
	return envReading(env), nil
}

func (s *BME280) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.dev.Halt(), s.bus.Close())
}

func envReading(env physic.Env) Reading {
	return Reading{
		Temperature: int32(math.Round(env.Temperature.Celsius() * 1000)),
		// env.Pressure is nano pascal.
		Pressure: int32(env.Pressure / physic.MilliPascal),
		// env.Humidity is 0.00001 %rH.
		Humidity: int32(env.Humidity / 1000),
	}
}
