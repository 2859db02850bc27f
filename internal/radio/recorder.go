package radio

import (
	"fmt"
	"log/slog"
	"sync"

	"concierge/internal/gatt"
)

// Snapshot is the advertising state held by a Recorder.
type Snapshot struct {
	Advertising         bool
	TxPower             int8
	Flags               Flags
	TxPowerField        bool
	ManufacturerData    []byte
	Services            []gatt.UUID
	RestartOnDisconnect bool
	MinInterval         uint16
	MaxInterval         uint16
	FastTimeout         uint16
	Timeout             uint16
	Starts              int
	Stops               int
}

// Recorder is an in-memory Radio. It logs what a controller would broadcast and
// lets callers simulate centrals connecting and disconnecting.
type Recorder struct {
	logger *slog.Logger

	mu           sync.Mutex
	state        Snapshot
	enabled      bool
	begun        []*gatt.Service
	values       map[gatt.UUID][]byte
	conns        map[uint16]string
	onConnect    func(uint16)
	onDisconnect func(uint16, uint8)
	startErr     error
}

var _ Radio = (*Recorder)(nil)

// NewRecorder returns a stopped Recorder. A nil logger discards output.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{
		logger: logger,
		values: make(map[gatt.UUID][]byte),
		conns:  make(map[uint16]string),
	}
}

func (r *Recorder) SetTxPower(dbm int8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.TxPower = dbm
	return nil
}

func (r *Recorder) SetConnectCallback(fn func(handle uint16)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = fn
}

func (r *Recorder) SetDisconnectCallback(fn func(handle uint16, reason uint8)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = fn
}

func (r *Recorder) ClearData() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Flags = 0
	r.state.TxPowerField = false
	r.state.ManufacturerData = nil
	r.state.Services = nil
}

func (r *Recorder) AddFlags(flags Flags) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Flags |= flags
	return nil
}

func (r *Recorder) AddTxPower() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.TxPowerField = true
	return nil
}

func (r *Recorder) AddManufacturerData(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("manufacturer data too short: %d", len(data))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.ManufacturerData = append([]byte(nil), data...)
	return nil
}

func (r *Recorder) AddService(svc *gatt.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Services = append(r.state.Services, svc.UUID)
	return nil
}

func (r *Recorder) RestartOnDisconnect(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.RestartOnDisconnect = enabled
}

func (r *Recorder) SetInterval(minTicks, maxTicks uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.MinInterval = minTicks
	r.state.MaxInterval = maxTicks
}

func (r *Recorder) SetFastTimeout(seconds uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.FastTimeout = seconds
}

func (r *Recorder) Start(timeoutSeconds uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.enabled = true
	r.state.Advertising = true
	r.state.Timeout = timeoutSeconds
	r.state.Starts++
	r.logger.Info("radio: advertising started",
		"mfg_data", fmt.Sprintf("% X", r.state.ManufacturerData),
		"services", len(r.state.Services),
		"interval", IntervalDuration(r.state.MinInterval),
		"tx_power", r.state.TxPower,
	)
	return nil
}

func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Advertising {
		r.logger.Info("radio: advertising stopped")
	}
	r.enabled = false
	r.state.Advertising = false
	r.state.Stops++
	return nil
}

func (r *Recorder) Connection(handle uint16) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.conns[handle]
	if !ok {
		return nil, false
	}
	return peer(name), true
}

func (r *Recorder) Begin(svc *gatt.Service) error {
	r.mu.Lock()
	r.begun = append(r.begun, svc)
	r.mu.Unlock()

	for _, c := range svc.Characteristics {
		if err := c.Bind(&recorderSink{r: r, uuid: c.UUID}); err != nil {
			return err
		}
	}
	r.logger.Debug("radio: service registered", "uuid", svc.UUID.String(), "characteristics", len(svc.Characteristics))
	return nil
}

// FailStart makes subsequent Start calls return err. Pass nil to clear.
func (r *Recorder) FailStart(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startErr = err
}

// Snapshot returns a copy of the advertising state.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state
	s.ManufacturerData = append([]byte(nil), r.state.ManufacturerData...)
	s.Services = append([]gatt.UUID(nil), r.state.Services...)
	return s
}

// Registered returns the services passed to Begin, in order.
func (r *Recorder) Registered() []*gatt.Service {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*gatt.Service(nil), r.begun...)
}

// Read returns the last value pushed to the characteristic with the given UUID.
func (r *Recorder) Read(uuid gatt.UUID) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[uuid]
	return append([]byte(nil), v...), ok
}

// Connect simulates a central connecting with the given handle and name.
// Advertising pauses while the link is up.
func (r *Recorder) Connect(handle uint16, peerName string) {
	r.mu.Lock()
	r.conns[handle] = peerName
	r.state.Advertising = false
	fn := r.onConnect
	r.mu.Unlock()

	if fn != nil {
		fn(handle)
	}
}

// Disconnect simulates the link for handle going down.
func (r *Recorder) Disconnect(handle uint16, reason uint8) {
	r.mu.Lock()
	delete(r.conns, handle)
	if r.state.RestartOnDisconnect && r.enabled {
		r.state.Advertising = true
	}
	fn := r.onDisconnect
	r.mu.Unlock()

	if fn != nil {
		fn(handle, reason)
	}
}

type peer string

func (p peer) PeerName(buf []byte) int {
	return copy(buf, p)
}

type recorderSink struct {
	r    *Recorder
	uuid gatt.UUID
}

func (s *recorderSink) Write(p []byte) (int, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.values[s.uuid] = append([]byte(nil), p...)
	return len(p), nil
}
