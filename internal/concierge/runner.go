package concierge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"concierge/internal/mqtt"
	"concierge/internal/store"
)

type Reader interface {
	ReadMeasurement(ctx context.Context) (Result, error)
}

type Store interface {
	InsertReading(ctx context.Context, r store.Reading) (int64, error)
	RecordAttempt(ctx context.Context, a store.Attempt) (int64, error)
}

type Publisher interface {
	PublishMeasurement(m mqtt.Measurement) error
	PublishStatus(s mqtt.BeaconStatus) error
}

// Runner queries the beacon on a fixed interval, stores every outcome and
// publishes readings.
type Runner struct {
	beaconUUID string
	reader     Reader
	store      Store
	publisher  Publisher
	interval   time.Duration
	logger     *slog.Logger

	// lastSeen is the time of the last successful read; zero until one succeeds.
	lastSeen time.Time
}

// NewRunner returns a Runner. publisher may be nil to skip MQTT.
func NewRunner(beaconUUID string, reader Reader, st Store, publisher Publisher, interval time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		beaconUUID: beaconUUID,
		reader:     reader,
		store:      st,
		publisher:  publisher,
		interval:   interval,
		logger:     logger,
	}
}

// Run queries immediately and then every interval until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Once(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("concierge: query failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
}

// Once performs a single query. Storage errors are returned; publish errors
// are only logged.
func (r *Runner) Once(ctx context.Context) error {
	res, err := r.reader.ReadMeasurement(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	attempt := store.Attempt{
		BeaconUUID:  r.beaconUUID,
		Outcome:     Outcome(err),
		AttemptedAt: time.Now(),
	}

	if err != nil {
		attempt.Error = err.Error()
		if _, recErr := r.store.RecordAttempt(ctx, attempt); recErr != nil {
			return errors.Join(err, recErr)
		}
		r.publishStatus(mqtt.BeaconStatus{
			BeaconUUID: r.beaconUUID,
			CheckedAt:  attempt.AttemptedAt.UTC(),
			LastSeen:   r.lastSeen,
			Available:  false,
			Error:      string(attempt.Outcome),
		})
		return err
	}

	id, err := r.store.InsertReading(ctx, store.Reading{
		BeaconUUID:  r.beaconUUID,
		Value:       res.Value,
		Temperature: res.Temperature(),
		Adapter:     res.Adapter,
		RSSI:        res.RSSI,
		ReadAt:      res.ReadAt,
	})
	if err != nil {
		return err
	}
	attempt.ReadingID = &id
	if _, err := r.store.RecordAttempt(ctx, attempt); err != nil {
		return err
	}

	r.lastSeen = res.ReadAt.UTC()

	r.logger.Info("concierge: measurement stored",
		"reading_id", id,
		"value", res.Value,
		"temperature_c", res.Temperature(),
		"adapter", res.Adapter,
		"rssi", res.RSSI,
	)

	if r.publisher == nil {
		return nil
	}
	if err := r.publisher.PublishMeasurement(mqtt.Measurement{
		BeaconUUID:  r.beaconUUID,
		Timestamp:   res.ReadAt.UTC(),
		Value:       res.Value,
		Temperature: res.Temperature(),
		Adapter:     res.Adapter,
		RSSI:        res.RSSI,
	}); err != nil {
		r.logger.Warn("concierge: publish measurement failed", "error", err)
	}
	r.publishStatus(mqtt.BeaconStatus{
		BeaconUUID: r.beaconUUID,
		CheckedAt:  attempt.AttemptedAt.UTC(),
		LastSeen:   r.lastSeen,
		Available:  true,
	})
	return nil
}

func (r *Runner) publishStatus(s mqtt.BeaconStatus) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishStatus(s); err != nil {
		r.logger.Warn("concierge: publish status failed", "error", err)
	}
}

// Outcome maps a ReadMeasurement error to its stored classification.
func Outcome(err error) store.Outcome {
	switch {
	case err == nil:
		return store.OutcomeOK
	case errors.Is(err, ErrCommunication):
		return store.OutcomeCommunication
	case errors.Is(err, ErrBeaconUnavailable):
		return store.OutcomeBeaconUnavailable
	case errors.Is(err, ErrBtUnavailable):
		return store.OutcomeBtUnavailable
	default:
		return store.OutcomeCommunication
	}
}
