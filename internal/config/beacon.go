package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Beacon struct {
	Common

	Radio     string // bluez or dryrun
	Adapter   string
	LocalName string

	PayloadFormat     string // welcome or ibeacon
	CompanyID         uint16
	ExposeMeasurement bool

	SensorDriver       string // bme280, static or none
	BME280Address      uint16
	SensorPollInterval time.Duration
	SensorStaticValue  int32
}

func LoadBeaconFromEnv() (Beacon, error) {
	common, err := loadCommon()
	if err != nil {
		return Beacon{}, err
	}

	radio := strings.ToLower(strings.TrimSpace(os.Getenv("BEACON_RADIO")))
	if radio == "" {
		radio = "bluez"
	}
	switch radio {
	case "bluez", "dryrun":
	default:
		return Beacon{}, fmt.Errorf("invalid BEACON_RADIO %q (allowed: bluez, dryrun)", radio)
	}

	adapter := strings.TrimSpace(os.Getenv("BLE_ADAPTER"))
	if adapter == "" {
		adapter = "hci0"
	}

	localName := strings.TrimSpace(os.Getenv("BEACON_LOCAL_NAME"))
	if localName == "" {
		localName = "Welcome beacon"
	}

	format := strings.ToLower(strings.TrimSpace(os.Getenv("BEACON_PAYLOAD_FORMAT")))
	if format == "" {
		format = "welcome"
	}
	switch format {
	case "welcome", "ibeacon":
	default:
		return Beacon{}, fmt.Errorf("invalid BEACON_PAYLOAD_FORMAT %q (allowed: welcome, ibeacon)", format)
	}

	companyIDStr := strings.TrimSpace(os.Getenv("BEACON_COMPANY_ID"))
	if companyIDStr == "" {
		companyIDStr = "0xAAAA"
	}
	companyID, err := strconv.ParseUint(companyIDStr, 0, 16)
	if err != nil {
		return Beacon{}, fmt.Errorf("invalid BEACON_COMPANY_ID %q: %w", companyIDStr, err)
	}

	exposeStr := strings.TrimSpace(os.Getenv("BEACON_EXPOSE_MEASUREMENT"))
	if exposeStr == "" {
		exposeStr = "true"
	}
	expose, err := strconv.ParseBool(exposeStr)
	if err != nil {
		return Beacon{}, fmt.Errorf("invalid BEACON_EXPOSE_MEASUREMENT %q: %w", exposeStr, err)
	}

	sensorDriver := strings.ToLower(strings.TrimSpace(os.Getenv("SENSOR_DRIVER")))
	if sensorDriver == "" {
		sensorDriver = "none"
	}
	switch sensorDriver {
	case "bme280", "static", "none":
	default:
		return Beacon{}, fmt.Errorf("invalid SENSOR_DRIVER %q (allowed: bme280, static, none)", sensorDriver)
	}
	if sensorDriver != "none" && !expose {
		return Beacon{}, fmt.Errorf("SENSOR_DRIVER %q requires BEACON_EXPOSE_MEASUREMENT=true", sensorDriver)
	}

	bme280AddressStr := strings.TrimSpace(os.Getenv("BME280_ADDRESS"))
	if bme280AddressStr == "" {
		bme280AddressStr = "0x76"
	}
	bme280Address, err := strconv.ParseUint(bme280AddressStr, 0, 16)
	if err != nil {
		return Beacon{}, fmt.Errorf("invalid BME280_ADDRESS %q: %w", bme280AddressStr, err)
	}

	sensorPollIntervalStr := strings.TrimSpace(os.Getenv("SENSOR_POLL_INTERVAL"))
	if sensorPollIntervalStr == "" {
		sensorPollIntervalStr = "1s"
	}
	sensorPollInterval, err := time.ParseDuration(sensorPollIntervalStr)
	if err != nil {
		return Beacon{}, fmt.Errorf("invalid SENSOR_POLL_INTERVAL %q: %w", sensorPollIntervalStr, err)
	}
	if sensorPollInterval <= 0 {
		return Beacon{}, fmt.Errorf("SENSOR_POLL_INTERVAL must be positive, got %v", sensorPollInterval)
	}

	staticValueStr := strings.TrimSpace(os.Getenv("SENSOR_STATIC_VALUE"))
	if staticValueStr == "" {
		staticValueStr = "0"
	}
	staticValue, err := strconv.ParseInt(staticValueStr, 0, 32)
	if err != nil {
		return Beacon{}, fmt.Errorf("invalid SENSOR_STATIC_VALUE %q: %w", staticValueStr, err)
	}

	return Beacon{
		Common:             common,
		Radio:              radio,
		Adapter:            adapter,
		LocalName:          localName,
		PayloadFormat:      format,
		CompanyID:          uint16(companyID),
		ExposeMeasurement:  expose,
		SensorDriver:       sensorDriver,
		BME280Address:      uint16(bme280Address),
		SensorPollInterval: sensorPollInterval,
		SensorStaticValue:  int32(staticValue),
	}, nil
}
