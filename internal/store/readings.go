package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("store: not found")

// Outcome classifies a query attempt.
type Outcome string

const (
	OutcomeOK                Outcome = "ok"
	OutcomeBtUnavailable     Outcome = "bt_unavailable"
	OutcomeBeaconUnavailable Outcome = "beacon_unavailable"
	OutcomeCommunication     Outcome = "communication"
)

type Reading struct {
	ID          int64
	BeaconUUID  string
	Value       uint32
	Temperature float64
	Adapter     string
	RSSI        int16
	ReadAt      time.Time
}

type Attempt struct {
	ID          int64
	BeaconUUID  string
	Outcome     Outcome
	Error       string
	ReadingID   *int64
	AttemptedAt time.Time
}

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertReading stores r and returns its row ID.
func (s *Store) InsertReading(ctx context.Context, r Reading) (int64, error) {
	if r.ReadAt.IsZero() {
		r.ReadAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO readings (beacon_uuid, value, temperature_c, adapter, rssi, read_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.BeaconUUID, int64(r.Value), r.Temperature, r.Adapter, r.RSSI, r.ReadAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert reading: %w", err)
	}
	return res.LastInsertId()
}

// LatestReading returns the most recent reading for beaconUUID.
func (s *Store) LatestReading(ctx context.Context, beaconUUID string) (Reading, error) {
	rs, err := s.Readings(ctx, beaconUUID, 1)
	if err != nil {
		return Reading{}, err
	}
	if len(rs) == 0 {
		return Reading{}, ErrNotFound
	}
	return rs[0], nil
}

// Readings returns up to limit readings for beaconUUID, newest first.
func (s *Store) Readings(ctx context.Context, beaconUUID string, limit int) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, beacon_uuid, value, temperature_c, adapter, rssi, read_at
		FROM readings
		WHERE beacon_uuid = ?
		ORDER BY read_at DESC, id DESC
		LIMIT ?`,
		beaconUUID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var (
			r     Reading
			value int64
		)
		if err := rows.Scan(&r.ID, &r.BeaconUUID, &value, &r.Temperature, &r.Adapter, &r.RSSI, &r.ReadAt); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Value = uint32(value)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordAttempt logs the outcome of one query.
func (s *Store) RecordAttempt(ctx context.Context, a Attempt) (int64, error) {
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO query_attempts (beacon_uuid, outcome, error, reading_id, attempted_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.BeaconUUID, string(a.Outcome), a.Error, a.ReadingID, a.AttemptedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert query attempt: %w", err)
	}
	return res.LastInsertId()
}

// OutcomeCounts returns how many attempts ended with each outcome since t.
func (s *Store) OutcomeCounts(ctx context.Context, beaconUUID string, since time.Time) (map[Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*)
		FROM query_attempts
		WHERE beacon_uuid = ? AND attempted_at >= ?
		GROUP BY outcome`,
		beaconUUID, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	out := make(map[Outcome]int)
	for rows.Next() {
		var (
			o string
			n int
		)
		if err := rows.Scan(&o, &n); err != nil {
			return nil, fmt.Errorf("scan attempt count: %w", err)
		}
		out[Outcome(o)] = n
	}
	return out, rows.Err()
}
