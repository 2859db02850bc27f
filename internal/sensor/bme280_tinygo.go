//go:build tinygo

package sensor

import (
	"fmt"
	"machine"
	"sync"

	"tinygo.org/x/drivers/bme280"
)

// BME280 reads a Bosch BME280 on the board's I2C0 bus.
type BME280 struct {
	mu     sync.Mutex
	dev    bme280.Device
	closed bool
}

func OpenBME280(addr uint16) (*BME280, error) {
	bus := machine.I2C0
	if err := bus.Configure(machine.I2CConfig{
		Frequency: 400 * machine.KHz,
	}); err != nil {
		return nil, fmt.Errorf("configure i2c: %w", err)
	}

	dev := bme280.New(bus)
	dev.Address = addr
	if !dev.Connected() {
		return nil, fmt.Errorf("bme280 at 0x%02x: not responding", addr)
	}
	dev.Configure()

	return &BME280{dev: dev}, nil
}

func (s *BME280) Read() (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Reading{}, ErrClosed
	}

	t, err := s.dev.ReadTemperature()
	if err != nil {
		return Reading{}, fmt.Errorf("bme280 temperature: %w", err)
	}
	p, err := s.dev.ReadPressure()
	if err != nil {
		return Reading{}, fmt.Errorf("bme280 pressure: %w", err)
	}
	h, err := s.dev.ReadHumidity()
	if err != nil {
		return Reading{}, fmt.Errorf("bme280 humidity: %w", err)
	}
	return Reading{Temperature: t, Pressure: p, Humidity: h}, nil
}

func (s *BME280) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
