// Package radio is the boundary between the beacon and the BLE controller:
// advertising data assembly, broadcast control, connection callbacks and
// GATT registration.
package radio

import (
	"time"

	"concierge/internal/gatt"
)

// Flags is the advertising "Flags" AD structure value.
type Flags uint8

const (
	FlagLELimitedDiscoverable Flags = 0x01
	FlagLEGeneralDiscoverable Flags = 0x02
	FlagBREDRNotSupported     Flags = 0x04

	// FlagsLEOnlyGeneralDiscoverable is what a BLE-only beacon advertises.
	FlagsLEOnlyGeneralDiscoverable = FlagLEGeneralDiscoverable | FlagBREDRNotSupported
)

// HCI disconnect reasons reported to disconnect callbacks.
const (
	ReasonConnectionTimeout    uint8 = 0x08
	ReasonRemoteUserTerminated uint8 = 0x13
	ReasonLocalHostTerminated  uint8 = 0x16
	ReasonUnspecified          uint8 = 0x1F
)

// TickDuration is the unit of advertising intervals.
const TickDuration = 625 * time.Microsecond

// IntervalDuration converts advertising ticks to a duration.
func IntervalDuration(ticks uint16) time.Duration {
	return time.Duration(ticks) * TickDuration
}

// Connection is an active link to a central.
type Connection interface {
	// PeerName copies the peer's name into buf and returns the number of bytes written.
	PeerName(buf []byte) int
}

// Advertiser assembles the advertising set and controls broadcasting.
type Advertiser interface {
	ClearData()
	AddFlags(flags Flags) error
	AddTxPower() error
	AddManufacturerData(data []byte) error
	AddService(svc *gatt.Service) error
	RestartOnDisconnect(enabled bool)
	SetInterval(minTicks, maxTicks uint16)
	SetFastTimeout(seconds uint16)
	// Start begins broadcasting. A zero timeout advertises until Stop.
	Start(timeoutSeconds uint16) error
	Stop() error
}

// Radio is a single-peripheral BLE controller.
type Radio interface {
	Advertiser
	SetTxPower(dbm int8) error
	SetConnectCallback(fn func(handle uint16))
	SetDisconnectCallback(fn func(handle uint16, reason uint8))
	Connection(handle uint16) (Connection, bool)
	// Begin registers svc in the local GATT database and binds its characteristics.
	Begin(svc *gatt.Service) error
}
