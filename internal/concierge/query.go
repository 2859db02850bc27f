// Package concierge finds the welcome beacon, reads its measurement and
// hands the reading on for storage and publishing.
package concierge

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"concierge/internal/beacon"
	"concierge/internal/radio"
)

var (
	ErrBtUnavailable     = errors.New("concierge: bluetooth unavailable")
	ErrBeaconUnavailable = errors.New("concierge: welcome beacon unavailable")
	ErrCommunication     = errors.New("concierge: communication failure")
)

// Sighting is an advertisement that matched the configured beacon UUID.
type Sighting struct {
	Address       string
	RSSI          int16
	LocalName     string
	Advertisement beacon.Advertisement
	SeenAt        time.Time
}

// Result is one measurement read from the beacon.
type Result struct {
	Sighting
	Adapter string
	Value   uint32
	ReadAt  time.Time
}

// Temperature interprets Value as milli-degrees Celsius.
func (r Result) Temperature() float64 {
	return float64(int32(r.Value)) / 1000
}

type Query struct {
	UUID         uuid.UUID
	ScanInterval time.Duration
	Centrals     []radio.Central
	Logger       *slog.Logger
}

// ReadMeasurement tries each central in turn and returns the first successful
// reading. If none succeeds the error wraps ErrBtUnavailable when no central
// could scan, ErrCommunication when the beacon was found but could not be
// read, and ErrBeaconUnavailable otherwise.
func (q *Query) ReadMeasurement(ctx context.Context) (Result, error) {
	if len(q.Centrals) == 0 {
		q.Logger.Warn("concierge: no BLE adapters configured")
		return Result{}, ErrBtUnavailable
	}

	var errs []error
	for _, c := range q.Centrals {
		res, err := q.readWith(ctx, c)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		q.Logger.Warn("concierge: adapter failed", "adapter", c.Name(), "error", err)
		errs = append(errs, err)
	}
	return Result{}, classify(errs)
}

func classify(errs []error) error {
	joined := errors.Join(errs...)
	allBt := true
	for _, err := range errs {
		if errors.Is(err, ErrCommunication) {
			return joined
		}
		if !errors.Is(err, ErrBtUnavailable) {
			allBt = false
		}
	}
	if allBt || errors.Is(joined, ErrBeaconUnavailable) {
		return joined
	}
	return fmt.Errorf("%w: %w", ErrBeaconUnavailable, joined)
}

func (q *Query) readWith(ctx context.Context, c radio.Central) (Result, error) {
	s, err := q.find(ctx, c)
	if err != nil {
		return Result{}, err
	}

	q.Logger.Info("concierge: welcome beacon found",
		"adapter", c.Name(),
		"address", s.Address,
		"rssi", s.RSSI,
		"format", s.Advertisement.Format,
	)

	buf := make([]byte, 4)
	n, err := c.ReadCharacteristic(ctx, s.Address, beacon.MeasurementServiceUUID, beacon.MeasurementCharUUID, buf)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrCommunication, err)
	}
	if n != len(buf) {
		return Result{}, fmt.Errorf("%w: measurement is %d bytes, want %d", ErrCommunication, n, len(buf))
	}

	return Result{
		Sighting: s,
		Adapter:  c.Name(),
		Value:    binary.LittleEndian.Uint32(buf),
		ReadAt:   time.Now(),
	}, nil
}

// find scans for up to ScanInterval and returns the first advertisement
// carrying q.UUID.
func (q *Query) find(ctx context.Context, c radio.Central) (Sighting, error) {
	scanCtx, cancel := context.WithTimeout(ctx, q.ScanInterval)
	defer cancel()

	var (
		found Sighting
		ok    bool
		seen  int
	)
	err := c.Scan(scanCtx, func(r radio.ScanResult) bool {
		seen++
		if s, match := q.match(r); match {
			found, ok = s, true
			return false
		}
		return true
	})
	if err != nil {
		return Sighting{}, fmt.Errorf("%w: %w", ErrBtUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return Sighting{}, err
	}

	q.Logger.Debug("concierge: scan finished", "adapter", c.Name(), "advertisements", seen, "found", ok)
	if !ok {
		return Sighting{}, ErrBeaconUnavailable
	}
	return found, nil
}

func (q *Query) match(r radio.ScanResult) (Sighting, bool) {
	for _, md := range r.ManufacturerData {
		adv, err := beacon.ParseManufacturerData(md.CompanyID, md.Data)
		if err != nil {
			continue
		}
		if adv.UUID != q.UUID {
			continue
		}
		return Sighting{
			Address:       r.Address,
			RSSI:          r.RSSI,
			LocalName:     r.LocalName,
			Advertisement: adv,
			SeenAt:        r.SeenAt,
		}, true
	}
	return Sighting{}, false
}
