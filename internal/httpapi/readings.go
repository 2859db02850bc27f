package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"concierge/internal/store"
)

type Reading struct {
	ID           int64     `json:"id"`
	BeaconUUID   string    `json:"beaconUuid"`
	Value        uint32    `json:"value"`
	TemperatureC float64   `json:"temperatureC"`
	Adapter      string    `json:"adapter"`
	RSSI         int16     `json:"rssi"`
	ReadAt       time.Time `json:"readAt"`
}

func toReading(r store.Reading) Reading {
	return Reading{
		ID:           r.ID,
		BeaconUUID:   r.BeaconUUID,
		Value:        r.Value,
		TemperatureC: r.Temperature,
		Adapter:      r.Adapter,
		RSSI:         r.RSSI,
		ReadAt:       r.ReadAt.UTC(),
	}
}

type readingsHandler struct {
	store ReadingStore
}

func registerReadings(mux *http.ServeMux, st ReadingStore) {
	h := &readingsHandler{store: st}
	mux.HandleFunc("GET /api/v1/beacons/{uuid}/latest", h.handleLatest)
	mux.HandleFunc("GET /api/v1/beacons/{uuid}/readings", h.handleReadings)
	mux.HandleFunc("GET /api/v1/beacons/{uuid}/outcomes", h.handleOutcomes)
}

func (h *readingsHandler) handleLatest(w http.ResponseWriter, r *http.Request) {
	id, ok := beaconID(w, r)
	if !ok {
		return
	}

	latest, err := h.store.LatestReading(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no readings for beacon")
		return
	}
	if err != nil {
		slog.Error("failed to load latest reading", "beacon_uuid", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load latest reading")
		return
	}
	writeJSON(w, http.StatusOK, toReading(latest))
}

func (h *readingsHandler) handleReadings(w http.ResponseWriter, r *http.Request) {
	id, ok := beaconID(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rs, err := h.store.Readings(r.Context(), id, limit)
	if err != nil {
		slog.Error("failed to load readings", "beacon_uuid", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}
	items := make([]Reading, 0, len(rs))
	for _, rd := range rs {
		items = append(items, toReading(rd))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"beaconUuid": id,
		"limit":      limit,
		"items":      items,
	})
}

func (h *readingsHandler) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	id, ok := beaconID(w, r)
	if !ok {
		return
	}

	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'since' (expected RFC3339)")
			return
		}
		since = t
	}

	counts, err := h.store.OutcomeCounts(r.Context(), id, since)
	if err != nil {
		slog.Error("failed to load outcomes", "beacon_uuid", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load outcomes")
		return
	}
	out := map[string]int{
		string(store.OutcomeOK):                0,
		string(store.OutcomeBtUnavailable):     0,
		string(store.OutcomeBeaconUnavailable): 0,
		string(store.OutcomeCommunication):     0,
	}
	for o, n := range counts {
		out[string(o)] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"beaconUuid": id,
		"outcomes":   out,
	})
}

// beaconID validates the {uuid} path value and returns it in canonical form.
func beaconID(w http.ResponseWriter, r *http.Request) (string, bool) {
	u, err := uuid.Parse(r.PathValue("uuid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid beacon uuid")
		return "", false
	}
	return u.String(), true
}

func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 100, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid 'limit' (expected integer)")
	}
	if n <= 0 {
		return 0, errors.New("'limit' must be > 0")
	}
	if n > 1000 {
		return 0, errors.New("'limit' must be <= 1000")
	}
	return n, nil
}
