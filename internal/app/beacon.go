// Package app wires configuration, radio, sensor, storage and transport into
// the two runnable services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"concierge/internal/beacon"
	"concierge/internal/config"
	"concierge/internal/radio"
	"concierge/internal/radio/bluez"
	"concierge/internal/sensor"
)

// RunBeacon advertises the welcome beacon until ctx is done.
func RunBeacon(ctx context.Context, cfg config.Beacon, logger *slog.Logger) error {
	logger.Info("initializing welcome beacon",
		"radio", cfg.Radio,
		"adapter", cfg.Adapter,
		"payload_format", cfg.PayloadFormat,
		"company_id", fmt.Sprintf("0x%04X", cfg.CompanyID),
		"expose_measurement", cfg.ExposeMeasurement,
		"sensor_driver", cfg.SensorDriver,
	)

	r, err := newRadio(cfg, logger)
	if err != nil {
		return err
	}

	src, err := newSensor(cfg)
	if err != nil {
		return err
	}
	if src != nil {
		defer func() {
			if err := src.Close(); err != nil {
				logger.Warn("sensor close", "error", err)
			}
		}()
	}

	return runBeacon(ctx, cfg, r, src, logger)
}

func newRadio(cfg config.Beacon, logger *slog.Logger) (radio.Radio, error) {
	if cfg.Radio == "dryrun" {
		return radio.NewRecorder(logger), nil
	}
	return bluez.New(bluez.Options{Adapter: cfg.Adapter, LocalName: cfg.LocalName}, logger)
}

func newSensor(cfg config.Beacon) (sensor.Source, error) {
	switch cfg.SensorDriver {
	case "bme280":
		dev, err := sensor.OpenBME280(cfg.BME280Address)
		if err != nil {
			return nil, err
		}
		return dev, nil
	case "static":
		return sensor.NewStatic(sensor.Reading{Temperature: cfg.SensorStaticValue}), nil
	default:
		return nil, nil
	}
}

func runBeacon(ctx context.Context, cfg config.Beacon, r radio.Radio, src sensor.Source, logger *slog.Logger) error {
	format, err := beacon.ParseFormat(cfg.PayloadFormat)
	if err != nil {
		return err
	}
	variant := beacon.VariantBasic
	if cfg.ExposeMeasurement {
		variant = beacon.VariantExtended
	}

	reg := beacon.NewRegistry(logger)
	w, err := beacon.NewWelcomeBeacon(reg, r, variant,
		beacon.WithLogger(logger),
		beacon.WithPayload(format, cfg.CompanyID),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			logger.Warn("beacon close", "error", err)
		}
	}()

	if err := w.StartAdvertising(); err != nil {
		return err
	}
	logger.Info("welcome beacon advertising",
		"uuid", w.Identity().UUID,
		"payload", fmt.Sprintf("% X", w.Payload()),
	)

	if src == nil {
		<-ctx.Done()
		return nil
	}

	err = sensor.Poll(ctx, src, cfg.SensorPollInterval, logger, func(rd sensor.Reading) error {
		return w.SetCurrentMeas(rd.Measurement())
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
