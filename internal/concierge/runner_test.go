package concierge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"concierge/internal/beacon"
	"concierge/internal/mqtt"
	"concierge/internal/store"
)

type fakeReader struct {
	res   Result
	err   error
	calls int
}

func (f *fakeReader) ReadMeasurement(context.Context) (Result, error) {
	f.calls++
	return f.res, f.err
}

type fakeStore struct {
	readings []store.Reading
	attempts []store.Attempt
	err      error
}

func (f *fakeStore) InsertReading(_ context.Context, r store.Reading) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.readings = append(f.readings, r)
	return int64(len(f.readings)), nil
}

func (f *fakeStore) RecordAttempt(_ context.Context, a store.Attempt) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.attempts = append(f.attempts, a)
	return int64(len(f.attempts)), nil
}

type fakePublisher struct {
	measurements []mqtt.Measurement
	statuses     []mqtt.BeaconStatus
	err          error
}

func (f *fakePublisher) PublishMeasurement(m mqtt.Measurement) error {
	f.measurements = append(f.measurements, m)
	return f.err
}

func (f *fakePublisher) PublishStatus(s mqtt.BeaconStatus) error {
	f.statuses = append(f.statuses, s)
	return f.err
}

var testUUID = beacon.WelcomeUUID.String()

func okResult() Result {
	return Result{
		Sighting: Sighting{Address: "AA:02", RSSI: -61},
		Adapter:  "hci0",
		Value:    21500,
		ReadAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRunnerOnce_Success(t *testing.T) {
	st := &fakeStore{}
	pub := &fakePublisher{}
	r := NewRunner(testUUID, &fakeReader{res: okResult()}, st, pub, time.Minute, slog.New(slog.DiscardHandler))

	if err := r.Once(context.Background()); err != nil {
		t.Fatalf("Once() error = %v", err)
	}

	if len(st.readings) != 1 {
		t.Fatalf("readings = %d, want 1", len(st.readings))
	}
	got := st.readings[0]
	if got.Value != 21500 || got.Temperature != 21.5 || got.Adapter != "hci0" || got.RSSI != -61 {
		t.Errorf("reading = %+v", got)
	}

	if len(st.attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(st.attempts))
	}
	a := st.attempts[0]
	if a.Outcome != store.OutcomeOK || a.ReadingID == nil || *a.ReadingID != 1 || a.Error != "" {
		t.Errorf("attempt = %+v", a)
	}

	if len(pub.measurements) != 1 || pub.measurements[0].Temperature != 21.5 || pub.measurements[0].BeaconUUID != testUUID {
		t.Errorf("measurements = %+v", pub.measurements)
	}
	if len(pub.statuses) != 1 || !pub.statuses[0].Available {
		t.Errorf("statuses = %+v", pub.statuses)
	}
}

func TestRunnerOnce_Failures(t *testing.T) {
	tests := []struct {
		err  error
		want store.Outcome
	}{
		{ErrBtUnavailable, store.OutcomeBtUnavailable},
		{ErrBeaconUnavailable, store.OutcomeBeaconUnavailable},
		{fmt.Errorf("%w: att error", ErrCommunication), store.OutcomeCommunication},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			st := &fakeStore{}
			pub := &fakePublisher{}
			r := NewRunner(testUUID, &fakeReader{err: tt.err}, st, pub, time.Minute, slog.New(slog.DiscardHandler))

			err := r.Once(context.Background())
			if !errors.Is(err, tt.err) {
				t.Fatalf("Once() error = %v, want %v", err, tt.err)
			}
			if len(st.readings) != 0 {
				t.Errorf("readings stored on failure: %+v", st.readings)
			}
			if len(st.attempts) != 1 || st.attempts[0].Outcome != tt.want || st.attempts[0].Error == "" {
				t.Errorf("attempts = %+v", st.attempts)
			}
			if len(pub.measurements) != 0 {
				t.Errorf("measurement published on failure")
			}
			if len(pub.statuses) != 1 || pub.statuses[0].Available || pub.statuses[0].Error != string(tt.want) {
				t.Errorf("statuses = %+v", pub.statuses)
			}
		})
	}
}

func TestRunnerOnce_StatusLastSeen(t *testing.T) {
	reader := &fakeReader{err: ErrBeaconUnavailable}
	pub := &fakePublisher{}
	r := NewRunner(testUUID, reader, &fakeStore{}, pub, time.Minute, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	_ = r.Once(ctx)
	reader.res, reader.err = okResult(), nil
	if err := r.Once(ctx); err != nil {
		t.Fatalf("Once() error = %v", err)
	}
	reader.err = ErrBeaconUnavailable
	_ = r.Once(ctx)

	if len(pub.statuses) != 3 {
		t.Fatalf("statuses = %d, want 3", len(pub.statuses))
	}
	if s := pub.statuses[0]; !s.LastSeen.IsZero() || s.CheckedAt.IsZero() {
		t.Errorf("before any sighting: last_seen = %v, checked_at = %v", s.LastSeen, s.CheckedAt)
	}
	seen := okResult().ReadAt
	if s := pub.statuses[1]; !s.Available || !s.LastSeen.Equal(seen) {
		t.Errorf("after success: %+v, want last_seen %v", s, seen)
	}
	if s := pub.statuses[2]; s.Available || !s.LastSeen.Equal(seen) {
		t.Errorf("after failure: %+v, want last_seen kept at %v", s, seen)
	}
}

func TestRunnerOnce_NilPublisher(t *testing.T) {
	st := &fakeStore{}
	r := NewRunner(testUUID, &fakeReader{res: okResult()}, st, nil, time.Minute, slog.New(slog.DiscardHandler))
	if err := r.Once(context.Background()); err != nil {
		t.Fatalf("Once() error = %v", err)
	}
	if len(st.readings) != 1 {
		t.Errorf("readings = %d, want 1", len(st.readings))
	}
}

func TestRunnerOnce_PublishErrorIgnored(t *testing.T) {
	st := &fakeStore{}
	pub := &fakePublisher{err: mqtt.ErrNotConnected}
	r := NewRunner(testUUID, &fakeReader{res: okResult()}, st, pub, time.Minute, slog.New(slog.DiscardHandler))
	if err := r.Once(context.Background()); err != nil {
		t.Fatalf("Once() error = %v, want publish failure swallowed", err)
	}
	if len(st.readings) != 1 {
		t.Errorf("readings = %d, want 1", len(st.readings))
	}
}

func TestRunnerOnce_StoreError(t *testing.T) {
	boom := errors.New("disk full")
	r := NewRunner(testUUID, &fakeReader{res: okResult()}, &fakeStore{err: boom}, nil, time.Minute, slog.New(slog.DiscardHandler))
	if err := r.Once(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Once() error = %v, want %v", err, boom)
	}
}

type signalReader struct {
	fakeReader
	called chan struct{}
}

func (s *signalReader) ReadMeasurement(ctx context.Context) (Result, error) {
	res, err := s.fakeReader.ReadMeasurement(ctx)
	s.called <- struct{}{}
	return res, err
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &signalReader{fakeReader: fakeReader{res: okResult()}, called: make(chan struct{}, 1)}
	r := NewRunner(testUUID, reader, &fakeStore{}, nil, time.Hour, slog.New(slog.DiscardHandler))

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-reader.called:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not query immediately")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if reader.calls != 1 {
		t.Errorf("reader calls = %d, want 1", reader.calls)
	}
}

func TestRunnerOnce_SQLiteStore(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	db, err := store.Open(store.Options{Path: filepath.Join(t.TempDir(), "concierge.db")}, logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close(db) })
	if err := store.Migrate(ctx, db, logger); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	st := store.New(db)

	if err := NewRunner(testUUID, &fakeReader{res: okResult()}, st, nil, time.Minute, logger).Once(ctx); err != nil {
		t.Fatalf("Once() error = %v", err)
	}
	if err := NewRunner(testUUID, &fakeReader{err: ErrBeaconUnavailable}, st, nil, time.Minute, logger).Once(ctx); !errors.Is(err, ErrBeaconUnavailable) {
		t.Fatalf("Once() error = %v", err)
	}

	latest, err := st.LatestReading(ctx, testUUID)
	if err != nil {
		t.Fatalf("LatestReading() error = %v", err)
	}
	if latest.Value != 21500 || latest.Temperature != 21.5 {
		t.Errorf("latest = %+v", latest)
	}

	counts, err := st.OutcomeCounts(ctx, testUUID, time.Time{})
	if err != nil {
		t.Fatalf("OutcomeCounts() error = %v", err)
	}
	if counts[store.OutcomeOK] != 1 || counts[store.OutcomeBeaconUnavailable] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want store.Outcome
	}{
		{nil, store.OutcomeOK},
		{errors.Join(fmt.Errorf("%w: x", ErrBtUnavailable), ErrBeaconUnavailable), store.OutcomeBeaconUnavailable},
		{fmt.Errorf("wrapped: %w", ErrBtUnavailable), store.OutcomeBtUnavailable},
		{errors.New("unknown"), store.OutcomeCommunication},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
