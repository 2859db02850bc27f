package bluez

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	"concierge/internal/radio"
)

// Central scans and reads characteristics through one adapter.
type Central struct {
	name    string
	adapter *bluetooth.Adapter
	logger  *slog.Logger

	mu      sync.Mutex
	enabled bool
	seen    map[string]bluetooth.Address
}

var _ radio.Central = (*Central)(nil)

// NewCentral returns a Central for the named adapter. The adapter is
// enabled on first use.
func NewCentral(name string, logger *slog.Logger) *Central {
	if name == "" {
		name = "hci0"
	}
	return &Central{
		name:    name,
		adapter: newAdapter(name),
		logger:  logger,
		seen:    make(map[string]bluetooth.Address),
	}
}

func (c *Central) Name() string { return c.name }

func (c *Central) enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return nil
	}
	c.logger.Info("ble: enabling adapter", "adapter", c.name)
	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: enable %s: %v", radio.ErrUnavailable, c.name, err)
	}
	c.enabled = true
	c.logger.Info("ble: adapter enabled", "adapter", c.name)
	return nil
}

func (c *Central) Scan(ctx context.Context, fn func(radio.ScanResult) bool) error {
	if err := c.enable(); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.adapter.StopScan()
		case <-done:
		}
	}()

	c.logger.Debug("ble: scanning started", "adapter", c.name)

	// adapter.Scan blocks until StopScan() or error.
	err := c.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
		res := radio.ScanResult{
			Address:   r.Address.String(),
			RSSI:      r.RSSI,
			LocalName: r.LocalName(),
			SeenAt:    time.Now(),
		}
		for _, md := range r.ManufacturerData() {
			res.ManufacturerData = append(res.ManufacturerData, radio.ManufacturerData{
				CompanyID: md.CompanyID,
				Data:      append([]byte(nil), md.Data...),
			})
		}

		c.mu.Lock()
		c.seen[res.Address] = r.Address
		c.mu.Unlock()

		if !fn(res) {
			_ = a.StopScan()
		}
	})

	if ctx.Err() != nil {
		c.logger.Debug("ble: scanning stopped (context done)", "adapter", c.name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: scan %s: %v", radio.ErrUnavailable, c.name, err)
	}
	c.logger.Debug("ble: scanning stopped", "adapter", c.name)
	return nil
}

func (c *Central) ReadCharacteristic(ctx context.Context, address string, service, char uuid.UUID, buf []byte) (int, error) {
	if err := c.enable(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	addr, ok := c.seen[address]
	c.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("ble: %s has not been seen by %s", address, c.name)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	device, err := c.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return 0, fmt.Errorf("ble connect %s: %w", address, err)
	}
	c.logger.Info("ble: connected to peripheral", "address", address)
	defer func() {
		if err := device.Disconnect(); err != nil {
			c.logger.Warn("ble: disconnect failed", "address", address, "error", err)
			return
		}
		c.logger.Info("ble: disconnected from peripheral", "address", address)
	}()

	services, err := device.DiscoverServices([]bluetooth.UUID{bluetooth.NewUUID(service)})
	if err != nil {
		return 0, fmt.Errorf("ble discover service %s: %w", service, err)
	}
	if len(services) == 0 {
		return 0, fmt.Errorf("ble: service %s not found on %s", service, address)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{bluetooth.NewUUID(char)})
	if err != nil {
		return 0, fmt.Errorf("ble discover characteristic %s: %w", char, err)
	}
	if len(chars) == 0 {
		return 0, fmt.Errorf("ble: characteristic %s not found on %s", char, address)
	}

	n, err := chars[0].Read(buf)
	if err != nil {
		return 0, fmt.Errorf("ble read %s: %w", char, err)
	}
	return n, nil
}
