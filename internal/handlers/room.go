package handlers

import (
	"net/http"

	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/service"
	"github.com/go-chi/chi/v5"
)

type RoomHandler struct {
	svc *service.Coordinator
}

func NewRoomHandler(s *service.Coordinator) *RoomHandler { return &RoomHandler{svc: s} }

// Get はルームの参加者・画面共有中のユーザー・録画者・履歴件数を返します
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	roomId := normalizeID(chi.URLParam(r, "roomId"))
	if err := validateRoomId(roomId); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	info, ok := h.svc.RoomInfo(roomId)
	if !ok {
		respondError(w, http.StatusNotFound, service.ErrRoomNotFound.Error())
		return
	}
	respondJSON(w, http.StatusOK, info)
}
