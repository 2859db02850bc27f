package beacon

import (
	"errors"
	"log/slog"
	"sync"

	"concierge/internal/logging"
)

// ErrSlotTaken is returned by New when the registry already holds a beacon.
var ErrSlotTaken = errors.New("beacon: an instance is already registered")

// Registry holds the one Core that radio callbacks are dispatched to.
// Its Connected and Disconnected methods are what the radio is given.
type Registry struct {
	logger *slog.Logger

	mu   sync.RWMutex
	slot *Core
}

// NewRegistry returns an empty registry. A nil logger uses slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

func (r *Registry) claim(c *Core) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slot != nil {
		return ErrSlotTaken
	}
	r.slot = c
	return nil
}

// release empties the slot if c holds it.
func (r *Registry) release(c *Core) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slot == c {
		r.slot = nil
	}
}

// Active returns the registered Core, or nil.
func (r *Registry) Active() *Core {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slot
}

func (r *Registry) Connected(handle uint16) {
	c := r.Active()
	if c == nil {
		logging.Critical(r.logger, "beacon: connect callback without a registered beacon", "handle", handle)
		return
	}
	c.connected(handle)
}

func (r *Registry) Disconnected(handle uint16, reason uint8) {
	c := r.Active()
	if c == nil {
		logging.Critical(r.logger, "beacon: disconnect callback without a registered beacon",
			"handle", handle, "reason", reason)
		return
	}
	c.disconnected(handle, reason)
}
