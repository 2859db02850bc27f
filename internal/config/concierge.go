package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Concierge struct {
	Common

	BeaconUUID    uuid.UUID
	ScanInterval  time.Duration
	QueryInterval time.Duration
	Adapters      []string

	// HTTPAddr is where the status API listens. "off" disables it.
	HTTPAddr string

	MQTTEnabled  bool
	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string

	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func LoadConciergeFromEnv() (Concierge, error) {
	common, err := loadCommon()
	if err != nil {
		return Concierge{}, err
	}

	beaconUUIDStr := strings.TrimSpace(os.Getenv("CONCIERGE_WELCOME_BEACON_UUID"))
	if beaconUUIDStr == "" {
		beaconUUIDStr = "3a91f427-8c56-4ea3-b219-7dc45a8f33e1"
	}
	beaconUUID, err := uuid.Parse(beaconUUIDStr)
	if err != nil {
		return Concierge{}, fmt.Errorf("invalid CONCIERGE_WELCOME_BEACON_UUID %q: %w", beaconUUIDStr, err)
	}

	scanIntervalStr := strings.TrimSpace(os.Getenv("CONCIERGE_SCAN_INTERVAL"))
	if scanIntervalStr == "" {
		scanIntervalStr = "4000"
	}
	scanInterval, err := parseMillis(scanIntervalStr)
	if err != nil {
		return Concierge{}, fmt.Errorf("invalid CONCIERGE_SCAN_INTERVAL %q: %w", scanIntervalStr, err)
	}
	if scanInterval <= 0 {
		return Concierge{}, fmt.Errorf("CONCIERGE_SCAN_INTERVAL must be positive, got %v", scanInterval)
	}

	queryIntervalStr := strings.TrimSpace(os.Getenv("CONCIERGE_QUERY_INTERVAL"))
	if queryIntervalStr == "" {
		queryIntervalStr = "1m"
	}
	queryInterval, err := time.ParseDuration(queryIntervalStr)
	if err != nil {
		return Concierge{}, fmt.Errorf("invalid CONCIERGE_QUERY_INTERVAL %q: %w", queryIntervalStr, err)
	}
	if queryInterval < scanInterval {
		return Concierge{}, fmt.Errorf("CONCIERGE_QUERY_INTERVAL (%v) must not be shorter than CONCIERGE_SCAN_INTERVAL (%v)", queryInterval, scanInterval)
	}

	adaptersStr := strings.TrimSpace(os.Getenv("BLE_ADAPTER"))
	if adaptersStr == "" {
		adaptersStr = "hci0"
	}
	var adapters []string
	for _, a := range strings.Split(adaptersStr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			adapters = append(adapters, a)
		}
	}
	if len(adapters) == 0 {
		return Concierge{}, fmt.Errorf("invalid BLE_ADAPTER %q: no adapter names", adaptersStr)
	}

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	if strings.EqualFold(httpAddr, "off") {
		httpAddr = ""
	}

	mqttEnabledStr := strings.TrimSpace(os.Getenv("MQTT_ENABLED"))
	if mqttEnabledStr == "" {
		mqttEnabledStr = "true"
	}
	mqttEnabled, err := strconv.ParseBool(mqttEnabledStr)
	if err != nil {
		return Concierge{}, fmt.Errorf("invalid MQTT_ENABLED %q: %w", mqttEnabledStr, err)
	}

	mqttBroker := strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	if mqttBroker == "" {
		mqttBroker = "localhost"
	}

	mqttPortStr := strings.TrimSpace(os.Getenv("MQTT_PORT"))
	if mqttPortStr == "" {
		mqttPortStr = "1883"
	}
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Concierge{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}

	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "concierge"
	}

	path := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	if path == "" {
		path = "../dev/sqlite/concierge.db"
	}

	maxOpenConnsStr := strings.TrimSpace(os.Getenv("DB_MAX_OPEN_CONNS"))
	if maxOpenConnsStr == "" {
		maxOpenConnsStr = "1"
	}
	maxOpenConns, err := strconv.Atoi(maxOpenConnsStr)
	if err != nil {
		return Concierge{}, fmt.Errorf("invalid DB_MAX_OPEN_CONNS %q: %w", maxOpenConnsStr, err)
	}

	maxIdleConnsStr := strings.TrimSpace(os.Getenv("DB_MAX_IDLE_CONNS"))
	if maxIdleConnsStr == "" {
		maxIdleConnsStr = "1"
	}
	maxIdleConns, err := strconv.Atoi(maxIdleConnsStr)
	if err != nil {
		return Concierge{}, fmt.Errorf("invalid DB_MAX_IDLE_CONNS %q: %w", maxIdleConnsStr, err)
	}

	connMaxLifetimeStr := strings.TrimSpace(os.Getenv("DB_CONN_MAX_LIFETIME"))
	if connMaxLifetimeStr == "" {
		connMaxLifetimeStr = "0s"
	}
	connMaxLifetime, err := time.ParseDuration(connMaxLifetimeStr)
	if err != nil {
		return Concierge{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME %q: %w", connMaxLifetimeStr, err)
	}

	return Concierge{
		Common:          common,
		BeaconUUID:      beaconUUID,
		ScanInterval:    scanInterval,
		QueryInterval:   queryInterval,
		Adapters:        adapters,
		HTTPAddr:        httpAddr,
		MQTTEnabled:     mqttEnabled,
		MQTTBroker:      mqttBroker,
		MQTTPort:        mqttPort,
		MQTTClientID:    mqttClientID,
		SQLitePath:      path,
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: connMaxLifetime,
	}, nil
}

// parseMillis accepts a bare integer as milliseconds or a Go duration string.
func parseMillis(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}
