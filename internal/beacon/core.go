package beacon

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"

	"concierge/internal/logging"
	"concierge/internal/radio"
)

const (
	advInterval    uint16 = 160 // 100 ms in 0.625 ms ticks
	advFastTimeout uint16 = 30
	peerNameLen           = 32
)

// State is the advertising state of a Core.
type State int

const (
	Stopped State = iota
	Advertising
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Advertising:
		return "advertising"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Services adds GATT services to the advertising set each time a Core starts
// advertising.
type Services interface {
	AddServices(adv radio.Advertiser) error
}

type Option func(*Core)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Core) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithPayload(f Format, company uint16) Option {
	return func(c *Core) {
		c.format = f
		c.company = company
	}
}

func WithServices(s Services) Option {
	return func(c *Core) { c.services = s }
}

// Core drives the radio for one beacon identity.
type Core struct {
	identity Identity
	radio    radio.Radio
	reg      *Registry
	services Services
	format   Format
	company  uint16
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	handle    uint16
	linked    bool
}

// New claims reg's slot for a beacon broadcasting id over r. If the slot is
// already held New logs at critical level and returns ErrSlotTaken; the
// registered beacon is left as it was.
func New(reg *Registry, r radio.Radio, id Identity, opts ...Option) (*Core, error) {
	c := &Core{
		identity: id,
		radio:    r,
		reg:      reg,
		format:   FormatWelcome,
		company:  CompanyWelcome,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := reg.claim(c); err != nil {
		logging.Critical(c.logger, "beacon: only one beacon instance is allowed", "uuid", id.UUID)
		return nil, err
	}
	if err := r.SetTxPower(id.TxPower); err != nil {
		reg.release(c)
		return nil, fmt.Errorf("set tx power: %w", err)
	}
	r.SetConnectCallback(reg.Connected)
	r.SetDisconnectCallback(reg.Disconnected)
	return c, nil
}

// StartAdvertising rebuilds the advertising set and broadcasts it until
// StopAdvertising. Calling it while advertising restarts with fresh data.
// On error the radio is stopped.
func (c *Core) StartAdvertising() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.start(); err != nil {
		if stopErr := c.radio.Stop(); stopErr != nil {
			c.logger.Warn("beacon: stop after failed start", "error", stopErr)
		}
		c.state = Stopped
		return err
	}
	c.state = Advertising
	c.logger.Info("beacon: advertising",
		"uuid", c.identity.UUID,
		"format", c.format,
		"company", fmt.Sprintf("0x%04X", c.company),
	)
	return nil
}

func (c *Core) start() error {
	if err := c.radio.Stop(); err != nil {
		return fmt.Errorf("stop advertising: %w", err)
	}

	c.radio.ClearData()
	if err := c.radio.AddFlags(radio.FlagsLEOnlyGeneralDiscoverable); err != nil {
		return fmt.Errorf("add flags: %w", err)
	}
	if err := c.radio.AddTxPower(); err != nil {
		return fmt.Errorf("add tx power: %w", err)
	}
	if err := c.radio.AddManufacturerData(BuildPayload(c.format, c.company, c.identity)); err != nil {
		return fmt.Errorf("add manufacturer data: %w", err)
	}
	if c.services != nil {
		if err := c.services.AddServices(c.radio); err != nil {
			return fmt.Errorf("add services: %w", err)
		}
	}

	c.radio.RestartOnDisconnect(true)
	c.radio.SetInterval(advInterval, advInterval)
	c.radio.SetFastTimeout(advFastTimeout)
	if err := c.radio.Start(0); err != nil {
		return fmt.Errorf("start advertising: %w", err)
	}
	return nil
}

// StopAdvertising halts broadcasting. It is safe to call when stopped.
func (c *Core) StopAdvertising() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = Stopped
	if err := c.radio.Stop(); err != nil {
		return fmt.Errorf("stop advertising: %w", err)
	}
	return nil
}

// Close stops advertising and frees the registry slot.
func (c *Core) Close() error {
	err := c.StopAdvertising()
	c.reg.release(c)
	return err
}

func (c *Core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports the handle of the current central, if any.
func (c *Core) Connected() (uint16, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle, c.linked
}

func (c *Core) Identity() Identity {
	return c.identity
}

// Payload returns the manufacturer data the beacon advertises.
func (c *Core) Payload() []byte {
	return BuildPayload(c.format, c.company, c.identity)
}

func (c *Core) connected(handle uint16) {
	conn, ok := c.radio.Connection(handle)
	if !ok {
		c.logger.Warn("beacon: could not get handle to BLE connection", "handle", handle)
		return
	}

	buf := make([]byte, peerNameLen)
	n := min(conn.PeerName(buf), len(buf))
	name := string(bytes.TrimRight(buf[:n], "\x00"))

	c.mu.Lock()
	c.handle = handle
	c.linked = true
	c.mu.Unlock()

	c.logger.Info("beacon: BLE connection established", "handle", handle, "peer", name)
}

func (c *Core) disconnected(handle uint16, reason uint8) {
	c.mu.Lock()
	if c.linked && c.handle == handle {
		c.linked = false
		c.handle = 0
	}
	c.mu.Unlock()

	c.logger.Info("beacon: BLE disconnected", "handle", handle, "reason", fmt.Sprintf("0x%02X", reason))
}
