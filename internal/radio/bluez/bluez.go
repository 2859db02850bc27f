// Package bluez implements radio.Radio on top of tinygo.org/x/bluetooth.
// On Linux it talks to BlueZ over D-Bus; under TinyGo it drives the
// on-chip controller.
package bluez

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"concierge/internal/gatt"
	"concierge/internal/radio"
)

// ErrReconfigure is returned when advertising data changes after the first
// start. The BlueZ backend can only configure an advertisement once.
var ErrReconfigure = errors.New("bluez: advertising data cannot change once configured")

type Options struct {
	Adapter   string // "hci0" by default
	LocalName string
}

// Radio is a single-peripheral radio.Radio backed by a bluetooth.Adapter.
type Radio struct {
	adapter *bluetooth.Adapter
	opts    Options
	logger  *slog.Logger

	mu          sync.Mutex
	pending     bluetooth.AdvertisementOptions
	configured  *bluetooth.AdvertisementOptions
	adv         *bluetooth.Advertisement
	advertising bool
	restart     bool
	interval    uint16
	txPower     int8
	fastTimeout uint16
	stopTimer   *time.Timer

	handles      map[string]uint16
	peers        map[uint16]string
	nextHandle   uint16
	onConnect    func(uint16)
	onDisconnect func(uint16, uint8)
}

var _ radio.Radio = (*Radio)(nil)

// New enables the adapter and returns a stopped radio.
func New(opts Options, logger *slog.Logger) (*Radio, error) {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}

	r := &Radio{
		adapter: newAdapter(opts.Adapter),
		opts:    opts,
		logger:  logger,
		handles: make(map[string]uint16),
		peers:   make(map[uint16]string),
	}

	logger.Info("ble: enabling adapter", "adapter", opts.Adapter)
	if err := r.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble enable (%s): %w", opts.Adapter, err)
	}
	logger.Info("ble: adapter enabled", "adapter", opts.Adapter)

	r.adapter.SetConnectHandler(r.handleConnect)
	r.adv = r.adapter.DefaultAdvertisement()
	return r, nil
}

// SetTxPower records the requested power. BlueZ picks the transmit power
// itself, so the value is only reported in logs.
func (r *Radio) SetTxPower(dbm int8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txPower = dbm
	r.logger.Debug("ble: tx power requested", "dbm", dbm)
	return nil
}

func (r *Radio) SetConnectCallback(fn func(handle uint16)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = fn
}

func (r *Radio) SetDisconnectCallback(fn func(handle uint16, reason uint8)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = fn
}

func (r *Radio) ClearData() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = bluetooth.AdvertisementOptions{
		AdvertisementType: bluetooth.AdvertisingTypeInd,
		LocalName:         r.opts.LocalName,
	}
}

// AddFlags is a no-op: the controller always emits the LE-only general
// discoverable flags for a connectable advertisement.
func (r *Radio) AddFlags(flags radio.Flags) error {
	if flags&radio.FlagLEGeneralDiscoverable == 0 {
		return fmt.Errorf("ble: unsupported advertising flags 0x%02X", uint8(flags))
	}
	return nil
}

// AddTxPower is a no-op; BlueZ adds the TX power level on its own.
func (r *Radio) AddTxPower() error {
	return nil
}

// AddManufacturerData splits the leading little-endian company ID from the
// rest of data.
func (r *Radio) AddManufacturerData(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("manufacturer data too short: %d", len(data))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending.ManufacturerData = append(r.pending.ManufacturerData, bluetooth.ManufacturerDataElement{
		CompanyID: binary.LittleEndian.Uint16(data[0:2]),
		Data:      append([]byte(nil), data[2:]...),
	})
	return nil
}

func (r *Radio) AddService(svc *gatt.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending.ServiceUUIDs = append(r.pending.ServiceUUIDs, toUUID(svc.UUID))
	return nil
}

func (r *Radio) RestartOnDisconnect(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restart = enabled
}

func (r *Radio) SetInterval(minTicks, maxTicks uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interval = minTicks
	r.pending.Interval = bluetooth.NewDuration(radio.IntervalDuration(minTicks))
	if maxTicks != minTicks {
		r.logger.Debug("ble: only the minimum advertising interval is honoured",
			"min", radio.IntervalDuration(minTicks),
			"max", radio.IntervalDuration(maxTicks),
		)
	}
}

// SetFastTimeout is recorded for logging; BlueZ has no fast/slow advertising phases.
func (r *Radio) SetFastTimeout(seconds uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fastTimeout = seconds
}

func (r *Radio) Start(timeoutSeconds uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.configured == nil {
		if err := r.adv.Configure(r.pending); err != nil {
			return fmt.Errorf("ble advertisement configure: %w", err)
		}
		opts := cloneOptions(r.pending)
		r.configured = &opts
	} else if !sameOptions(*r.configured, r.pending) {
		return ErrReconfigure
	}

	if err := r.adv.Start(); err != nil {
		return fmt.Errorf("ble advertisement start: %w", err)
	}
	r.advertising = true

	if r.stopTimer != nil {
		r.stopTimer.Stop()
		r.stopTimer = nil
	}
	if timeoutSeconds > 0 {
		r.stopTimer = time.AfterFunc(time.Duration(timeoutSeconds)*time.Second, func() {
			if err := r.Stop(); err != nil {
				r.logger.Warn("ble: timed advertising stop failed", "error", err)
			}
		})
	}

	r.logger.Info("ble: advertising started",
		"adapter", r.opts.Adapter,
		"interval", radio.IntervalDuration(r.interval),
		"fast_timeout_s", r.fastTimeout,
		"tx_power", r.txPower,
	)
	return nil
}

// Stop is safe to call when not advertising.
func (r *Radio) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopTimer != nil {
		r.stopTimer.Stop()
		r.stopTimer = nil
	}
	if !r.advertising {
		return nil
	}
	r.advertising = false
	if err := r.adv.Stop(); err != nil {
		return fmt.Errorf("ble advertisement stop: %w", err)
	}
	r.logger.Info("ble: advertising stopped", "adapter", r.opts.Adapter)
	return nil
}

func (r *Radio) Connection(handle uint16) (radio.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.peers[handle]
	if !ok {
		return nil, false
	}
	return peer(addr), true
}

// Begin adds svc to the adapter's GATT database and binds its characteristics
// so later writes reach connected centrals.
func (r *Radio) Begin(svc *gatt.Service) error {
	handles := make([]bluetooth.Characteristic, len(svc.Characteristics))
	configs := make([]bluetooth.CharacteristicConfig, len(svc.Characteristics))
	for i, c := range svc.Characteristics {
		configs[i] = bluetooth.CharacteristicConfig{
			Handle: &handles[i],
			UUID:   toUUID(c.UUID),
			Value:  c.Value(),
			Flags:  permissions(c),
		}
	}

	if err := r.adapter.AddService(&bluetooth.Service{
		UUID:            toUUID(svc.UUID),
		Characteristics: configs,
	}); err != nil {
		return fmt.Errorf("ble add service %s: %w", svc.UUID, err)
	}

	for i, c := range svc.Characteristics {
		if err := c.Bind(&handles[i]); err != nil {
			return err
		}
	}
	r.logger.Debug("ble: service registered", "uuid", svc.UUID.String(), "characteristics", len(svc.Characteristics))
	return nil
}

func (r *Radio) handleConnect(device bluetooth.Device, connected bool) {
	addr := device.Address.String()

	r.mu.Lock()
	var fn func()
	if connected {
		r.nextHandle++
		if r.nextHandle == 0 {
			r.nextHandle = 1
		}
		h := r.nextHandle
		r.handles[addr] = h
		r.peers[h] = addr
		if cb := r.onConnect; cb != nil {
			fn = func() { cb(h) }
		}
	} else if h, ok := r.handles[addr]; ok {
		delete(r.handles, addr)
		delete(r.peers, h)
		if cb := r.onDisconnect; cb != nil {
			// BlueZ does not surface the HCI disconnect reason.
			fn = func() { cb(h, radio.ReasonUnspecified) }
		}
	}
	restart := !connected && r.restart && r.advertising
	r.mu.Unlock()

	if fn != nil {
		fn()
	}
	if restart {
		if err := r.adv.Start(); err != nil {
			r.logger.Debug("ble: advertising restart after disconnect", "error", err)
		}
	}
}

// peer reports the central's address as its name; BlueZ does not expose
// the remote GAP name to a peripheral.
type peer string

func (p peer) PeerName(buf []byte) int {
	return copy(buf, p)
}

func toUUID(u gatt.UUID) bluetooth.UUID {
	return bluetooth.NewUUID(gatt.Reverse(u))
}

func permissions(c *gatt.Characteristic) bluetooth.CharacteristicPermissions {
	var p bluetooth.CharacteristicPermissions
	if c.Properties&gatt.PropRead != 0 && c.ReadPerm != gatt.SecModeNoAccess {
		p |= bluetooth.CharacteristicReadPermission
	}
	if c.WritePerm != gatt.SecModeNoAccess {
		if c.Properties&gatt.PropWrite != 0 {
			p |= bluetooth.CharacteristicWritePermission
		}
		if c.Properties&gatt.PropWriteWithoutResponse != 0 {
			p |= bluetooth.CharacteristicWriteWithoutResponsePermission
		}
	}
	if c.Properties&gatt.PropNotify != 0 {
		p |= bluetooth.CharacteristicNotifyPermission
	}
	if c.Properties&gatt.PropIndicate != 0 {
		p |= bluetooth.CharacteristicIndicatePermission
	}
	if c.Properties&gatt.PropBroadcast != 0 {
		p |= bluetooth.CharacteristicBroadcastPermission
	}
	return p
}

func cloneOptions(o bluetooth.AdvertisementOptions) bluetooth.AdvertisementOptions {
	out := o
	out.ServiceUUIDs = slices.Clone(o.ServiceUUIDs)
	out.ManufacturerData = make([]bluetooth.ManufacturerDataElement, len(o.ManufacturerData))
	for i, md := range o.ManufacturerData {
		out.ManufacturerData[i] = bluetooth.ManufacturerDataElement{
			CompanyID: md.CompanyID,
			Data:      append([]byte(nil), md.Data...),
		}
	}
	return out
}

func sameOptions(a, b bluetooth.AdvertisementOptions) bool {
	if a.AdvertisementType != b.AdvertisementType || a.LocalName != b.LocalName || a.Interval != b.Interval {
		return false
	}
	if !slices.Equal(a.ServiceUUIDs, b.ServiceUUIDs) {
		return false
	}
	if len(a.ManufacturerData) != len(b.ManufacturerData) {
		return false
	}
	for i := range a.ManufacturerData {
		if a.ManufacturerData[i].CompanyID != b.ManufacturerData[i].CompanyID ||
			!bytes.Equal(a.ManufacturerData[i].Data, b.ManufacturerData[i].Data) {
			return false
		}
	}
	return true
}
