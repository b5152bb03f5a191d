package http

import (
	"net/http"

	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/handlers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(status *handlers.StatusHandler, rooms *handlers.RoomHandler, ws *handlers.WebSocketHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/", status.Root)
	r.Get("/health", status.Health)

	r.Route("/api/v1/rooms", func(r chi.Router) {
		// ルームの現在の状態（参加者・共有中・録画者・履歴件数）
		r.Get("/{roomId}", rooms.Get)
	})

	// WebSocketエンドポイント
	r.Get("/ws", ws.HandleWebSocket)

	return r
}
