package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/attendance"
	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/database"
	log "github.com/sirupsen/logrus"
)

// AttendanceHandler lists recorded attendance events.
type AttendanceHandler struct {
	store database.AttendanceStore
	loc   *time.Location
}

// NewAttendanceHandler creates an attendance handler; dates are interpreted in loc.
func NewAttendanceHandler(store database.AttendanceStore, loc *time.Location) *AttendanceHandler {
	if loc == nil {
		loc = time.Local
	}
	return &AttendanceHandler{store: store, loc: loc}
}

// AttendanceEventResponse is the JSON form of an attendance event.
type AttendanceEventResponse struct {
	ID          string             `json:"id"`
	IdentityID  string             `json:"identity_id"`
	Direction   database.Direction `json:"direction"`
	Confidence  float64            `json:"confidence"`
	Timestamp   time.Time          `json:"timestamp"`
	DeviceID    string             `json:"device_id"`
	EvidenceRef string             `json:"evidence_ref,omitempty"`
	Synced      bool               `json:"synced"`
}

// List handles GET /api/v1/attendance?identity_id=&date=YYYY-MM-DD&limit=.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.AttendanceFilter{
		IdentityID: q.Get("identity_id"),
		Limit:      constants.DefaultAttendanceLimit,
	}

	if date := q.Get("date"); date != "" {
		day, err := time.ParseInLocation(time.DateOnly, date, h.loc)
		if err != nil {
			respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		filter.From = attendance.StartOfDay(day, h.loc)
		filter.To = filter.From.AddDate(0, 0, 1)
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	events, err := h.store.List(r.Context(), filter)
	if err != nil {
		log.WithError(err).Error("Failed to list attendance events")
		respondError(w, http.StatusInternalServerError, "failed to list attendance")
		return
	}

	resp := make([]AttendanceEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, AttendanceEventResponse{
			ID:          e.ID,
			IdentityID:  e.IdentityID,
			Direction:   e.Direction,
			Confidence:  e.Confidence,
			Timestamp:   e.Timestamp.In(h.loc),
			DeviceID:    e.DeviceID,
			EvidenceRef: e.EvidenceRef,
			Synced:      e.Synced,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}
