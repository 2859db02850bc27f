package beacon

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Format selects the manufacturer data layout.
type Format int

const (
	// FormatWelcome is company ID, a 0x01 type byte and the UUID.
	FormatWelcome Format = iota
	// FormatIBeacon is the Apple-style layout with major, minor and measured power.
	FormatIBeacon
)

const (
	CompanyWelcome uint16 = 0xAAAA
	CompanyNordic  uint16 = 0x0059

	WelcomePayloadLen = 19
	IBeaconPayloadLen = 25

	typeWelcome byte = 0x01

	ibeaconType          byte = 0x02
	ibeaconLen           byte = 0x15
	ibeaconMeasuredPower byte = 0xCA // -54 dBm
)

var ErrPayload = errors.New("beacon: malformed manufacturer data")

func (f Format) String() string {
	switch f {
	case FormatWelcome:
		return "welcome"
	case FormatIBeacon:
		return "ibeacon"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat maps "welcome" and "ibeacon" to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "welcome":
		return FormatWelcome, nil
	case "ibeacon":
		return FormatIBeacon, nil
	default:
		return 0, fmt.Errorf("unknown payload format %q", s)
	}
}

// BuildPayload serialises id as a manufacturer specific data block,
// company ID first and little-endian. The UUID is copied in canonical order.
func BuildPayload(f Format, company uint16, id Identity) []byte {
	switch f {
	case FormatIBeacon:
		p := make([]byte, IBeaconPayloadLen)
		binary.LittleEndian.PutUint16(p[0:2], company)
		p[2] = ibeaconType
		p[3] = ibeaconLen
		copy(p[4:20], id.UUID[:])
		binary.BigEndian.PutUint16(p[20:22], uint16(id.Major))
		binary.BigEndian.PutUint16(p[22:24], uint16(id.Minor))
		p[24] = ibeaconMeasuredPower
		return p
	default:
		p := make([]byte, WelcomePayloadLen)
		binary.LittleEndian.PutUint16(p[0:2], company)
		p[2] = typeWelcome
		copy(p[3:19], id.UUID[:])
		return p
	}
}

// Advertisement is a decoded manufacturer data block.
type Advertisement struct {
	Format    Format
	CompanyID uint16
	UUID      uuid.UUID
	Major     uint16
	Minor     uint16
	// MeasuredPower is the calibrated RSSI at 1 m; iBeacon only.
	MeasuredPower int8
}

// ParseManufacturerData decodes data, the bytes following the company ID,
// as either payload format.
func ParseManufacturerData(company uint16, data []byte) (Advertisement, error) {
	switch {
	case len(data) == WelcomePayloadLen-2 && data[0] == typeWelcome:
		adv := Advertisement{Format: FormatWelcome, CompanyID: company}
		copy(adv.UUID[:], data[1:17])
		return adv, nil
	case len(data) == IBeaconPayloadLen-2 && data[0] == ibeaconType && data[1] == ibeaconLen:
		adv := Advertisement{
			Format:        FormatIBeacon,
			CompanyID:     company,
			Major:         binary.BigEndian.Uint16(data[18:20]),
			Minor:         binary.BigEndian.Uint16(data[20:22]),
			MeasuredPower: int8(data[22]),
		}
		copy(adv.UUID[:], data[2:18])
		return adv, nil
	default:
		return Advertisement{}, fmt.Errorf("%w: %d bytes", ErrPayload, len(data))
	}
}
