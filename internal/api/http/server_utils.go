package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"liverec/internal/domain"
	"liverec/internal/usecase"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeUseCaseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, usecase.ErrInvalidRoom):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid room id")
	case errors.Is(err, usecase.ErrInvalidChunk):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid chunk id")
	case errors.Is(err, usecase.ErrNotRecording):
		writeError(w, http.StatusNotFound, "not_recording", "room is not being recorded")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "chunk not found")
	case errors.Is(err, usecase.ErrRecorder):
		writeError(w, http.StatusInternalServerError, "recorder_error", err.Error())
	case errors.Is(err, usecase.ErrCache):
		writeError(w, http.StatusInternalServerError, "cache_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func parseRoomID(value string) (domain.RoomID, error) {
	id, err := parsePositiveInt64(value)
	return domain.RoomID(id), err
}

func parseLiveID(value string) (domain.LiveID, error) {
	id, err := parsePositiveInt64(value)
	return domain.LiveID(id), err
}

// parseChunkID accepts both bare ids and segment file names ("42.ts").
func parseChunkID(value string) (int64, error) {
	if dot := strings.IndexByte(value, '.'); dot >= 0 {
		value = value[:dot]
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id < 0 {
		return 0, errors.New("invalid chunk id")
	}
	return id, nil
}

func parsePositiveInt64(value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}
