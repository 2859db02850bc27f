package radio

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrUnavailable means the adapter could not be enabled or could not scan.
var ErrUnavailable = errors.New("radio: adapter unavailable")

type ManufacturerData struct {
	CompanyID uint16
	Data      []byte
}

// ScanResult is one advertisement seen by a Central.
type ScanResult struct {
	Address          string
	RSSI             int16
	LocalName        string
	ManufacturerData []ManufacturerData
	SeenAt           time.Time
}

// Central is the observer role: scanning and reading a characteristic from
// a peripheral.
type Central interface {
	Name() string
	// Scan reports advertisements until ctx is done or fn returns false.
	// It returns nil when the scan ends for either reason.
	Scan(ctx context.Context, fn func(ScanResult) bool) error
	// ReadCharacteristic connects to address, reads char of service into buf
	// and disconnects. address must have been reported by Scan.
	ReadCharacteristic(ctx context.Context, address string, service, char uuid.UUID, buf []byte) (int, error)
}
