package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vedran77/pulsechat/internal/service"
	"github.com/vedran77/pulsechat/internal/transport/http/middleware"
)

const maxBodyBytes = 64 << 10

type MessageHandler struct {
	messageService *service.MessageService
}

func NewMessageHandler(messageService *service.MessageService) *MessageHandler {
	return &MessageHandler{messageService: messageService}
}

type threadRequest struct {
	OtherUser uuid.UUID `json:"other_user"`
}

type editRequest struct {
	Text string `json:"text"`
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

type clearResponse struct {
	DeletedCount int64 `json:"deleted_count"`
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input service.SendMessageInput
	if !decodeBody(w, r, &input) {
		return
	}
	if input.ToUser == uuid.Nil {
		writeError(w, http.StatusBadRequest, "MISSING_RECIPIENT", "to_user is required")
		return
	}

	msg, err := h.messageService.Send(r.Context(), userID, input)
	if err != nil {
		writeServiceError(w, r, "send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) Thread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req threadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OtherUser == uuid.Nil {
		writeError(w, http.StatusBadRequest, "MISSING_USER", "other_user is required")
		return
	}

	messages, err := h.messageService.FetchThread(r.Context(), userID, req.OtherUser)
	if err != nil {
		writeServiceError(w, r, "fetch thread", err)
		return
	}

	writeJSON(w, http.StatusOK, messages)
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req editRequest
	if !decodeBody(w, r, &req) {
		return
	}

	msg, err := h.messageService.Edit(r.Context(), userID, messageID, req.Text)
	if err != nil {
		writeServiceError(w, r, "edit message", err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.messageService.Delete(r.Context(), userID, messageID); err != nil {
		writeServiceError(w, r, "delete message", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) React(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req reactRequest
	if !decodeBody(w, r, &req) {
		return
	}

	msg, err := h.messageService.React(r.Context(), userID, messageID, req.Emoji)
	if err != nil {
		writeServiceError(w, r, "react", err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) ClearThread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	otherUser, ok := pathID(w, r, "otherUser")
	if !ok {
		return
	}

	deleted, err := h.messageService.ClearThread(r.Context(), userID, otherUser)
	if err != nil {
		writeServiceError(w, r, "clear thread", err)
		return
	}

	writeJSON(w, http.StatusOK, clearResponse{DeletedCount: deleted})
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid ID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return false
	}
	return true
}
