package handlers

import (
	"net/http"
	"time"

	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/service"
)

const serviceName = "signal-server"

// StatusHandler はサービスの状態を返します
type StatusHandler struct {
	svc       *service.Coordinator
	version   string
	startedAt time.Time
	now       func() time.Time
}

func NewStatusHandler(s *service.Coordinator, version string) *StatusHandler {
	return &StatusHandler{svc: s, version: version, startedAt: time.Now(), now: time.Now}
}

type statusResponse struct {
	Service string `json:"service"`
	Status  string `json:"status"`
	Version string `json:"version"`
}

type healthResponse struct {
	Status        string  `json:"status"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Connections   int     `json:"connections"`
	Rooms         int     `json:"rooms"`
}

// Root は GET / に応答します
func (h *StatusHandler) Root(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{
		Service: serviceName,
		Status:  "running",
		Version: h.version,
	})
}

// Health は稼働時間と現在の接続数を返します
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	uptime := h.now().Sub(h.startedAt)
	respondJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Connections:   h.svc.ConnectionCount(),
		Rooms:         h.svc.RoomCount(),
	})
}
