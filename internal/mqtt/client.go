package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var (
	ErrStopped      = errors.New("mqtt client stopped")
	ErrNotConnected = errors.New("mqtt client not connected")
)

const publishTimeout = 5 * time.Second

type Options struct {
	Broker   string
	Port     int
	ClientID string
}

type Client struct {
	client    mqtt.Client
	opts      Options
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Measurement is one value read from a welcome beacon.
type Measurement struct {
	BeaconUUID  string    `json:"beacon_uuid"`
	Timestamp   time.Time `json:"timestamp"`
	Value       uint32    `json:"value"`
	Temperature float64   `json:"temperature_c"`
	Adapter     string    `json:"adapter,omitempty"`
	RSSI        int16     `json:"rssi,omitempty"`
}

// BeaconStatus reports whether the last query reached the beacon.
// LastSeen is the last successful read and is omitted until there is one.
type BeaconStatus struct {
	BeaconUUID string    `json:"beacon_uuid"`
	CheckedAt  time.Time `json:"checked_at"`
	LastSeen   time.Time `json:"last_seen,omitzero"`
	Available  bool      `json:"available"`
	Error      string    `json:"error,omitempty"`
}

func MeasurementTopic(beaconUUID string) string {
	return fmt.Sprintf("concierge/%s/measurement", beaconUUID)
}

func StatusTopic(beaconUUID string) string {
	return fmt.Sprintf("concierge/%s/status", beaconUUID)
}

func NewClient(o Options, logger *slog.Logger) *Client {
	c := &Client{
		opts:   o,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", o.Broker, o.Port))
	opts.SetClientID(o.ClientID)

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", o.Broker, "port", o.Port)
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect waits for the initial connection. It returns early when ctx is
// done or Disconnect is called.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}

	if c.IsConnected() {
		return nil
	}

	// With ConnectRetry the token only completes once a connection is up.
	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return ErrStopped
		default:
		}
	}
}

func (c *Client) PublishMeasurement(m Measurement) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return c.publish(MeasurementTopic(m.BeaconUUID), false, m)
}

// PublishStatus publishes a retained availability message.
func (c *Client) PublishStatus(s BeaconStatus) error {
	if s.CheckedAt.IsZero() {
		s.CheckedAt = time.Now().UTC()
	}
	return c.publish(StatusTopic(s.BeaconUUID), true, s)
}

func (c *Client) publish(topic string, retained bool, v any) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	token := c.client.Publish(topic, 1, retained, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		c.logger.Error("mqtt publish failed", "topic", topic, "error", err)
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	c.logger.Debug("mqtt published", "topic", topic, "retained", retained)
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect is idempotent. Connect returns ErrStopped afterwards.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
