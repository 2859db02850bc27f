// Package gatt models the services and characteristics a peripheral exposes.
//
// UUIDs are held in the radio stack's little-endian byte order. Constants are
// usually written in canonical (printed) order, so convert them with Reverse
// or FromCanonical before registration.
package gatt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrLength is returned when a value does not fit a fixed-length characteristic.
var ErrLength = errors.New("gatt: value length does not match fixed length")

// UUID is a 128-bit attribute UUID in little-endian (stack) byte order.
type UUID [16]byte

// Reverse returns b with its byte order reversed.
func Reverse(b [16]byte) UUID {
	var out UUID
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}

// FromCanonical converts a canonical UUID into stack byte order.
func FromCanonical(u uuid.UUID) UUID {
	return Reverse(u)
}

// MustParse parses a canonical UUID string into stack byte order.
func MustParse(s string) UUID {
	return FromCanonical(uuid.MustParse(s))
}

// New16Bit expands a SIG-assigned 16-bit UUID onto the Bluetooth base UUID.
func New16Bit(short uint16) UUID {
	base := uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")
	binary.BigEndian.PutUint16(base[2:4], short)
	return FromCanonical(base)
}

// Canonical returns the UUID in canonical byte order.
func (u UUID) Canonical() uuid.UUID {
	return uuid.UUID(Reverse(u))
}

func (u UUID) String() string {
	return u.Canonical().String()
}

// Properties is the characteristic properties bit field.
type Properties uint8

const (
	PropBroadcast Properties = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
)

// SecurityMode is the access level required for reading or writing a value.
type SecurityMode uint8

const (
	SecModeNoAccess SecurityMode = iota
	SecModeOpen
)

// Sink receives every value written to a characteristic once it is bound to a
// radio. tinygo.org/x/bluetooth's Characteristic satisfies it.
type Sink interface {
	Write(p []byte) (n int, err error)
}

// Characteristic is a single value inside a Service.
type Characteristic struct {
	UUID       UUID
	Properties Properties
	ReadPerm   SecurityMode
	WritePerm  SecurityMode
	// FixedLen, when non-zero, is the only accepted value length.
	FixedLen int

	mu    sync.Mutex
	value []byte
	sink  Sink
}

// Write stores p and pushes it to the bound sink, if any.
func (c *Characteristic) Write(p []byte) error {
	if c.FixedLen > 0 && len(p) != c.FixedLen {
		return fmt.Errorf("%w: got %d, want %d", ErrLength, len(p), c.FixedLen)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = append(c.value[:0], p...)
	if c.sink == nil {
		return nil
	}
	if _, err := c.sink.Write(c.value); err != nil {
		return fmt.Errorf("characteristic %s write: %w", c.UUID, err)
	}
	return nil
}

// Write32 stores v as 4 little-endian bytes.
func (c *Characteristic) Write32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return c.Write(b[:])
}

// WriteString stores s as raw bytes.
func (c *Characteristic) WriteString(s string) error {
	return c.Write([]byte(s))
}

// Value returns a copy of the current value.
func (c *Characteristic) Value() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.value...)
}

// Bind attaches the radio-side handle and pushes the current value to it.
func (c *Characteristic) Bind(s Sink) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = s
	if s == nil || len(c.value) == 0 {
		return nil
	}
	if _, err := s.Write(c.value); err != nil {
		return fmt.Errorf("characteristic %s bind: %w", c.UUID, err)
	}
	return nil
}

// Service groups characteristics under one UUID.
type Service struct {
	UUID            UUID
	Characteristics []*Characteristic
}

// SIG-assigned UUIDs used by the device information service.
var (
	ServiceDeviceInformation = New16Bit(0x180A)
	CharModelNumber          = New16Bit(0x2A24)
	CharManufacturerName     = New16Bit(0x2A29)
)

// NewDeviceInformation builds a read-only device information service.
func NewDeviceInformation(manufacturer, model string) *Service {
	mfg := &Characteristic{
		UUID:       CharManufacturerName,
		Properties: PropRead,
		ReadPerm:   SecModeOpen,
		WritePerm:  SecModeNoAccess,
		value:      []byte(manufacturer),
	}
	mdl := &Characteristic{
		UUID:       CharModelNumber,
		Properties: PropRead,
		ReadPerm:   SecModeOpen,
		WritePerm:  SecModeNoAccess,
		value:      []byte(model),
	}
	return &Service{
		UUID:            ServiceDeviceInformation,
		Characteristics: []*Characteristic{mfg, mdl},
	}
}
