package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jason-s-yu/livehub/internal/hub"
	"github.com/jason-s-yu/livehub/internal/live"
	"github.com/jason-s-yu/livehub/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func roomMux(viewer RoomViewer, records RecordLookup) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", HealthHandler)
	mux.HandleFunc("GET /rooms/{room}", RoomHandler(quietLogger(), viewer, records, time.Second))
	return mux
}

func TestHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	roomMux(nil, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestRoomView(t *testing.T) {
	h := hub.New(quietLogger())
	core := live.NewCore(h)
	c := hub.NewConn("c1", nil, 4, nil)
	h.Register(c)
	h.Join("X", "c1")
	core.DeclareOwner("X", "c1", nil)
	core.RecordReaction("X", "c1", "heart")

	records := func(ctx context.Context, room string) (*models.RoomRecord, error) {
		return &models.RoomRecord{Name: room, Title: "evening show", Status: models.RoomStatusActive}, nil
	}

	rr := httptest.NewRecorder()
	roomMux(core, records).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/rooms/X", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "X", body["room"])
	assert.Equal(t, float64(1), body["viewers"])
	assert.Equal(t, "c1", body["owner"])
	assert.Equal(t, true, body["negotiation"])
	assert.Equal(t, map[string]interface{}{"heart": float64(1)}, body["reactions"])
	assert.Equal(t, "heart", body["leading"])
	assert.Equal(t, "evening show", body["record"].(map[string]interface{})["title"])
}

func TestRoomViewWithoutStore(t *testing.T) {
	core := live.NewCore(hub.New(quietLogger()))
	records := func(ctx context.Context, room string) (*models.RoomRecord, error) {
		return nil, errors.New("database not connected")
	}

	rr := httptest.NewRecorder()
	roomMux(core, records).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/rooms/empty", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["viewers"])
	assert.Nil(t, body["leading"])
	_, hasRecord := body["record"]
	assert.False(t, hasRecord)
}
