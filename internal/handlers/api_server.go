// internal/handlers/api_server.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jason-s-yu/livehub/internal/live"
	"github.com/jason-s-yu/livehub/internal/models"
	"github.com/sirupsen/logrus"
)

// RoomViewer is the read side of live.Core used by the HTTP API.
type RoomViewer interface {
	View(room string) live.RoomView
}

// RecordLookup fetches the durable record of a room; nil means none.
type RecordLookup func(ctx context.Context, room string) (*models.RoomRecord, error)

type roomResponse struct {
	live.RoomView
	Record *models.RoomRecord `json:"record,omitempty"`
}

// HealthHandler answers liveness probes.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RoomHandler serves GET /rooms/{room}: the in-memory view plus, when the
// store answers in time, the durable record.
func RoomHandler(logger *logrus.Logger, viewer RoomViewer, records RecordLookup, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := r.PathValue("room")
		if room == "" {
			http.Error(w, "missing room", http.StatusBadRequest)
			return
		}
		resp := roomResponse{RoomView: viewer.View(room)}

		if records != nil {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			rec, err := records(ctx, room)
			cancel()
			if err != nil {
				logger.WithError(err).WithField("room", room).Warn("room record unavailable")
			}
			resp.Record = rec
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
