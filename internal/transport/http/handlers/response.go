package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vedran77/pulsechat/internal/service"
	"github.com/vedran77/pulsechat/pkg/logger"
	"github.com/vedran77/pulsechat/pkg/validator"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeValidationErrors(w http.ResponseWriter, errs validator.ValidationErrors) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"code":   "VALIDATION_ERROR",
			"fields": errs,
		},
	})
}

// writeServiceError maps MessageService failures onto the error taxonomy.
// Anything unrecognised is logged and reported as a generic failure so store
// details never reach the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidationErrors(w, verr.Fields)
	case errors.Is(err, service.ErrEmptyText):
		writeError(w, http.StatusBadRequest, "EMPTY_TEXT", "Message text cannot be empty")
	case errors.Is(err, service.ErrInvalidEmoji):
		writeError(w, http.StatusBadRequest, "INVALID_EMOJI", "Reaction must be a single emoji")
	case errors.Is(err, service.ErrCannotMessageSelf):
		writeError(w, http.StatusBadRequest, "CANNOT_MESSAGE_SELF", "You cannot message yourself")
	case errors.Is(err, service.ErrNotOwner):
		writeError(w, http.StatusForbidden, "NOT_OWNER", "Only the sender can change this message")
	case errors.Is(err, service.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "NOT_PARTICIPANT", "You are not part of this conversation")
	case errors.Is(err, service.ErrEditWindowExpired):
		writeError(w, http.StatusConflict, "EDIT_WINDOW_EXPIRED", "Messages can only be edited shortly after sending")
	case errors.Is(err, service.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Message not found")
	case errors.Is(err, service.ErrReplyNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Replied message not found")
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
	default:
		logger.Ctx(r.Context()).Error("request failed", slog.String("op", op), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
	}
}
