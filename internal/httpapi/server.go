// Package httpapi serves the concierge status API: health, stored readings
// and query outcomes.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"concierge/internal/store"
)

// Pinger reports database reachability. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type ReadingStore interface {
	LatestReading(ctx context.Context, beaconUUID string) (store.Reading, error)
	Readings(ctx context.Context, beaconUUID string, limit int) ([]store.Reading, error)
	OutcomeCounts(ctx context.Context, beaconUUID string, since time.Time) (map[store.Outcome]int, error)
}

func NewMux(db Pinger, st ReadingStore) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, db)
	registerReadings(mux, st)
	return mux
}

func NewServer(addr string, mux *http.ServeMux, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           requestLogger(mux, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
