package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"concierge/internal/concierge"
	"concierge/internal/config"
	"concierge/internal/httpapi"
	"concierge/internal/mqtt"
	"concierge/internal/radio"
	"concierge/internal/radio/bluez"
	"concierge/internal/store"
)

// RunConcierge queries the welcome beacon on the configured adapters until
// ctx is done.
func RunConcierge(ctx context.Context, cfg config.Concierge, logger *slog.Logger) error {
	centrals := make([]radio.Central, 0, len(cfg.Adapters))
	for _, name := range cfg.Adapters {
		centrals = append(centrals, bluez.NewCentral(name, logger))
	}
	return runConcierge(ctx, cfg, centrals, logger)
}

func runConcierge(ctx context.Context, cfg config.Concierge, centrals []radio.Central, logger *slog.Logger) error {
	logger.Info("config loaded",
		"beaconUuid", cfg.BeaconUUID,
		"scanInterval", cfg.ScanInterval,
		"queryInterval", cfg.QueryInterval,
		"adapters", cfg.Adapters,
		"httpAddr", cfg.HTTPAddr,
		"mqttEnabled", cfg.MQTTEnabled,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"sqlitePath", cfg.SQLitePath,
	)

	db, err := store.Open(store.Options{
		Path:            cfg.SQLitePath,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(db); err != nil {
			logger.Error("db close", "error", err)
		}
	}()

	if err := store.Migrate(ctx, db, logger); err != nil {
		return err
	}
	st := store.New(db)

	var wg sync.WaitGroup
	defer wg.Wait()

	var publisher concierge.Publisher
	if cfg.MQTTEnabled {
		client := mqtt.NewClient(mqtt.Options{
			Broker:   cfg.MQTTBroker,
			Port:     cfg.MQTTPort,
			ClientID: cfg.MQTTClientID,
		}, logger)
		publisher = client
		defer client.Disconnect()

		wg.Add(1)
		go func() {
			defer wg.Done()
			// Readings are still stored while the broker is unreachable.
			if err := client.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, mqtt.ErrStopped) {
				logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
			}
		}()
	}

	var srv *http.Server
	errCh := make(chan error, 1)
	if cfg.HTTPAddr != "" {
		srv = httpapi.NewServer(cfg.HTTPAddr, httpapi.NewMux(db, st), logger)
		go func() {
			logger.Info("http listening", "addr", cfg.HTTPAddr)
			errCh <- srv.ListenAndServe()
		}()
	}

	q := &concierge.Query{
		UUID:         cfg.BeaconUUID,
		ScanInterval: cfg.ScanInterval,
		Centrals:     centrals,
		Logger:       logger,
	}
	runner := concierge.NewRunner(cfg.BeaconUUID.String(), q, st, publisher, cfg.QueryInterval, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- runner.Run(runCtx) }()

	var (
		result   error
		httpErr  error
		httpDone bool
	)
	select {
	case result = <-runErr:
	case httpErr = <-errCh:
		httpDone = true
		cancel()
		result = <-runErr
	}

	if srv != nil && !httpDone {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		logger.Info("http shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		httpErr = <-errCh
	}
	if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
		return httpErr
	}

	if errors.Is(result, context.Canceled) {
		return nil
	}
	return result
}
