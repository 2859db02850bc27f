package beacon

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"concierge/internal/gatt"
	"concierge/internal/radio"
)

var (
	WelcomeUUID = uuid.MustParse("3a91f427-8c56-4ea3-b219-7dc45a8f33e1")

	MeasurementServiceUUID = uuid.MustParse("7e1a0001-8c56-4ea3-b219-7dc45a8f33e1")
	MeasurementCharUUID    = uuid.MustParse("7e1a0002-8c56-4ea3-b219-7dc45a8f33e1")
)

const (
	welcomeManufacturer = "Luke"
	welcomeModel        = "Welcome beacon"

	measurementLen = 4
)

// WelcomeIdentity is the identity every welcome beacon broadcasts.
func WelcomeIdentity() Identity {
	return Identity{
		UUID:    WelcomeUUID,
		Major:   1,
		Minor:   1,
		TxPower: 8,
	}
}

// Variant selects which GATT services a WelcomeBeacon exposes.
type Variant int

const (
	// VariantBasic exposes only the device information service.
	VariantBasic Variant = iota
	// VariantExtended adds the measurement service.
	VariantExtended
)

// WelcomeBeacon is a Core with the welcome identity and its GATT services.
type WelcomeBeacon struct {
	*Core

	variant Variant
	info    *gatt.Service
	measSvc *gatt.Service
	meas    *gatt.Characteristic

	mu    sync.Mutex
	value uint32
}

// NewWelcomeBeacon builds the welcome beacon on r and registers its GATT
// services. In the extended variant the measurement characteristic starts at 0.
func NewWelcomeBeacon(reg *Registry, r radio.Radio, v Variant, opts ...Option) (*WelcomeBeacon, error) {
	w := &WelcomeBeacon{
		variant: v,
		info:    gatt.NewDeviceInformation(welcomeManufacturer, welcomeModel),
	}
	if v == VariantExtended {
		w.meas = &gatt.Characteristic{
			UUID:       gatt.FromCanonical(MeasurementCharUUID),
			Properties: gatt.PropRead,
			ReadPerm:   gatt.SecModeOpen,
			WritePerm:  gatt.SecModeNoAccess,
			FixedLen:   measurementLen,
		}
		w.measSvc = &gatt.Service{
			UUID:            gatt.FromCanonical(MeasurementServiceUUID),
			Characteristics: []*gatt.Characteristic{w.meas},
		}
	}

	opts = append(opts[:len(opts):len(opts)], WithServices(welcomeServices{w}))
	core, err := New(reg, r, WelcomeIdentity(), opts...)
	if err != nil {
		return nil, err
	}
	w.Core = core

	if err := r.Begin(w.info); err != nil {
		reg.release(core)
		return nil, fmt.Errorf("register device information service: %w", err)
	}
	if w.measSvc != nil {
		if err := r.Begin(w.measSvc); err != nil {
			reg.release(core)
			return nil, fmt.Errorf("register measurement service: %w", err)
		}
		if err := w.meas.Write32(0); err != nil {
			reg.release(core)
			return nil, fmt.Errorf("init measurement: %w", err)
		}
	}
	return w, nil
}

func (w *WelcomeBeacon) Variant() Variant {
	return w.variant
}

// SetCurrentMeas caches v and writes it to the measurement characteristic
// as 4 little-endian bytes. In the basic variant only the cache is updated.
func (w *WelcomeBeacon) SetCurrentMeas(v uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.value = v
	if w.meas == nil {
		return nil
	}
	if err := w.meas.Write32(v); err != nil {
		return fmt.Errorf("write measurement: %w", err)
	}
	return nil
}

// CurrentMeas returns the last value passed to SetCurrentMeas.
func (w *WelcomeBeacon) CurrentMeas() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

type welcomeServices struct {
	w *WelcomeBeacon
}

func (s welcomeServices) AddServices(adv radio.Advertiser) error {
	if err := adv.AddService(s.w.info); err != nil {
		return err
	}
	if s.w.measSvc != nil {
		if err := adv.AddService(s.w.measSvc); err != nil {
			return err
		}
	}
	return nil
}
