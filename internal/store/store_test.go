package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// captureHandler records log records for assertion in tests.
type captureHandler struct {
	mu    sync.Mutex
	attrs []map[string]slog.Value
}

func (h *captureHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := map[string]slog.Value{"msg": slog.StringValue(r.Message)}
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value
		return true
	})
	h.attrs = append(h.attrs, m)
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(name string) slog.Handler { return h }

func (h *captureHandler) recordsFor(msg string) []map[string]slog.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []map[string]slog.Value
	for _, m := range h.attrs {
		if m["msg"].String() == msg {
			out = append(out, m)
		}
	}
	return out
}

func openTestDB(t *testing.T, logger *slog.Logger) *sql.DB {
	t.Helper()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	db, err := Open(Options{
		Path:         filepath.Join(t.TempDir(), "nested", "concierge.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })

	if err := Migrate(context.Background(), db, logger); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "plain path", path: "concierge.db", want: "file:concierge.db?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"},
		{name: "file prefix", path: "file:/data/c.db", want: "file:/data/c.db?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"},
		{name: "file prefix with query", path: "file:/data/c.db?cache=shared", want: "file:/data/c.db?cache=shared&_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.path)
			if err != nil {
				t.Fatalf("buildDSN() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("buildDSN() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := buildDSN(""); err == nil {
		t.Errorf("buildDSN(\"\") error = nil")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t, nil)

	if err := Migrate(context.Background(), db, slog.New(slog.DiscardHandler)); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + migrationsTable).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 2 {
		t.Errorf("applied migrations = %d, want 2", n)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		in          string
		wantVersion string
		wantName    string
		wantOK      bool
	}{
		{in: "0001_readings.sql", wantVersion: "0001", wantName: "readings", wantOK: true},
		{in: "0012_add_index_x.sql", wantVersion: "0012", wantName: "add_index_x", wantOK: true},
		{in: "1_short.sql", wantOK: false},
		{in: "0001_readings.txt", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, n, ok := parseMigrationFilename(tt.in)
			if ok != tt.wantOK || v != tt.wantVersion || n != tt.wantName {
				t.Errorf("parseMigrationFilename(%q) = %q, %q, %v", tt.in, v, n, ok)
			}
		})
	}
}

func TestReadings_InsertAndLatest(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t, nil))
	const beacon = "3a91f427-8c56-4ea3-b219-7dc45a8f33e1"

	if _, err := s.LatestReading(ctx, beacon); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LatestReading() on empty db error = %v, want ErrNotFound", err)
	}

	base := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	for i, v := range []uint32{20500, 21000, 0xFFFFFC18} {
		_, err := s.InsertReading(ctx, Reading{
			BeaconUUID:  beacon,
			Value:       v,
			Temperature: float64(int32(v)) / 1000,
			Adapter:     "hci0",
			RSSI:        -60,
			ReadAt:      base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("InsertReading() error = %v", err)
		}
	}
	if _, err := s.InsertReading(ctx, Reading{BeaconUUID: "other", Value: 1, ReadAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("InsertReading(other) error = %v", err)
	}

	got, err := s.LatestReading(ctx, beacon)
	if err != nil {
		t.Fatalf("LatestReading() error = %v", err)
	}
	if got.Value != 0xFFFFFC18 || got.Temperature != -1 {
		t.Errorf("latest = %d / %v, want 0xFFFFFC18 / -1", got.Value, got.Temperature)
	}
	if !got.ReadAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("ReadAt = %v, want %v", got.ReadAt, base.Add(2*time.Minute))
	}
	if got.Adapter != "hci0" || got.RSSI != -60 {
		t.Errorf("adapter/rssi = %q/%d", got.Adapter, got.RSSI)
	}

	all, err := s.Readings(ctx, beacon, 10)
	if err != nil {
		t.Fatalf("Readings() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Readings() = %d rows, want 3", len(all))
	}
	if all[2].Value != 20500 {
		t.Errorf("oldest value = %d, want 20500", all[2].Value)
	}
}

func TestAttempts_OutcomeCounts(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t, nil))
	const beacon = "3a91f427-8c56-4ea3-b219-7dc45a8f33e1"
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	id, err := s.InsertReading(ctx, Reading{BeaconUUID: beacon, Value: 1, ReadAt: now})
	if err != nil {
		t.Fatalf("InsertReading() error = %v", err)
	}

	attempts := []Attempt{
		{BeaconUUID: beacon, Outcome: OutcomeOK, ReadingID: &id, AttemptedAt: now},
		{BeaconUUID: beacon, Outcome: OutcomeBeaconUnavailable, Error: "not found", AttemptedAt: now.Add(time.Minute)},
		{BeaconUUID: beacon, Outcome: OutcomeBeaconUnavailable, AttemptedAt: now.Add(2 * time.Minute)},
		{BeaconUUID: beacon, Outcome: OutcomeCommunication, AttemptedAt: now.Add(-time.Hour)},
	}
	for _, a := range attempts {
		if _, err := s.RecordAttempt(ctx, a); err != nil {
			t.Fatalf("RecordAttempt() error = %v", err)
		}
	}

	counts, err := s.OutcomeCounts(ctx, beacon, now)
	if err != nil {
		t.Fatalf("OutcomeCounts() error = %v", err)
	}
	if counts[OutcomeOK] != 1 || counts[OutcomeBeaconUnavailable] != 2 || counts[OutcomeCommunication] != 0 {
		t.Errorf("OutcomeCounts() = %v", counts)
	}

	if _, err := s.RecordAttempt(ctx, Attempt{BeaconUUID: beacon, Outcome: "exploded"}); err == nil {
		t.Errorf("RecordAttempt() with unknown outcome error = nil")
	}
}

func TestOpen_LogsStatements(t *testing.T) {
	h := &captureHandler{}
	db := openTestDB(t, slog.New(h))

	if _, err := New(db).InsertReading(context.Background(), Reading{BeaconUUID: "b", Value: 7}); err != nil {
		t.Fatalf("InsertReading() error = %v", err)
	}

	var found bool
	for _, rec := range h.recordsFor("sql") {
		if rec["op"].String() == "exec" && strings.Contains(rec["sql"].String(), "INSERT INTO readings") {
			found = true
			if _, ok := rec["args"]; !ok {
				t.Errorf("insert log has no args attribute")
			}
		}
	}
	if !found {
		t.Errorf("no exec log for INSERT INTO readings")
	}
	if len(h.recordsFor("migration applied")) != 2 {
		t.Errorf("migration logs = %d, want 2", len(h.recordsFor("migration applied")))
	}
}

func TestLoggingDriver_OpenRejected(t *testing.T) {
	if _, err := (loggingDriver{}).Open("x"); !errors.Is(err, errDirectOpen) {
		t.Errorf("Open() error = %v, want errDirectOpen", err)
	}
}
