package http

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/config"
	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/handlers"
	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/service"
	"github.com/stretchr/testify/assert"
)

func newTestRouter(origins []string) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		AllowedOrigins: origins,
		WebSocket: config.WebSocket{
			SendBuffer:      8,
			MaxMessageBytes: 1024,
			PingInterval:    time.Minute,
			PongWait:        time.Minute,
			WriteWait:       time.Second,
		},
	}
	hub := handlers.NewHub(cfg.WebSocket.SendBuffer, logger)
	coord := service.NewCoordinator(hub, logger)
	return NewRouter(
		handlers.NewStatusHandler(coord, "test"),
		handlers.NewRoomHandler(coord),
		handlers.NewWebSocketHandler(coord, hub, cfg, logger),
		origins,
	)
}

func TestRouter_Routes(t *testing.T) {
	router := newTestRouter([]string{"http://localhost:3000"})

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"root", http.MethodGet, "/", http.StatusOK},
		{"health", http.MethodGet, "/health", http.StatusOK},
		{"unknown room", http.MethodGet, "/api/v1/rooms/room-1", http.StatusNotFound},
		{"websocket without upgrade", http.MethodGet, "/ws", http.StatusBadRequest},
		{"unknown path", http.MethodGet, "/api/v1/nope", http.StatusNotFound},
		{"wrong method", http.MethodPost, "/health", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRouter_CORS(t *testing.T) {
	router := newTestRouter([]string{"http://localhost:3000"})

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
