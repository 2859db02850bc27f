//go:build tinygo

// welcomebeacon-pico is the welcome beacon firmware for a Pico 2 W with a
// BME280 on I2C0.
package main

import (
	"log/slog"
	"machine"
	"time"

	"concierge/internal/beacon"
	"concierge/internal/logging"
	"concierge/internal/radio/bluez"
	"concierge/internal/sensor"
)

const pollInterval = time.Second

func halt(logger *slog.Logger, msg string, err error) {
	logging.Critical(logger, msg, "error", err)
	for {
		time.Sleep(time.Second)
	}
}

func main() {
	machine.Serial.Configure(machine.UARTConfig{})

	// Give the host time to enumerate the USB serial device.
	time.Sleep(1500 * time.Millisecond)

	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("boot: welcome beacon")

	r, err := bluez.New(bluez.Options{LocalName: "Welcome beacon"}, logger)
	if err != nil {
		halt(logger, "ble: adapter enable failed", err)
	}

	reg := beacon.NewRegistry(logger)
	w, err := beacon.NewWelcomeBeacon(reg, r, beacon.VariantExtended, beacon.WithLogger(logger))
	if err != nil {
		halt(logger, "beacon: init failed", err)
	}
	if err := w.StartAdvertising(); err != nil {
		halt(logger, "beacon: advertising failed", err)
	}

	dev, err := sensor.OpenBME280(0x76)
	if err != nil {
		logger.Warn("sensor: BME280 unavailable, measurement stays 0", "error", err)
		select {}
	}

	for {
		rd, err := dev.Read()
		if err != nil {
			logger.Warn("sensor: read failed", "error", err)
		} else if err := w.SetCurrentMeas(rd.Measurement()); err != nil {
			logger.Warn("beacon: measurement update failed", "error", err)
		}
		time.Sleep(pollInterval)
	}
}
