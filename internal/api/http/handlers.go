package apihttp

import (
	"context"
	"net/http"
	"strings"

	"liverec/internal/domain"
	"liverec/internal/usecase"
)

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.list == nil {
		writeError(w, http.StatusNotImplemented, "not_supported", "listing is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.list.Execute(r.Context()))
}

// handleRoomSubtree dispatches everything under /rooms/:
//
//	POST   /rooms/{room}/record
//	DELETE /rooms/{room}/record
//	GET    /rooms/{room}/lives/{live}/chunks
//	GET    /rooms/{room}/lives/{live}/chunks/{id}
func (s *Server) handleRoomSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/rooms/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	room, err := parseRoomID(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid room id")
		return
	}

	if len(parts) == 2 && parts[1] == "record" {
		switch r.Method {
		case http.MethodPost:
			s.handleRecord(w, r, room)
		case http.MethodDelete:
			s.handleStopRecording(w, r, room)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if len(parts) >= 4 && parts[1] == "lives" && parts[3] == "chunks" {
		live, err := parseLiveID(parts[2])
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid live id")
			return
		}
		session := domain.Session{Room: room, Live: live}

		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch len(parts) {
		case 4:
			s.handleChunksMeta(w, r, session)
		case 5:
			s.handleChunk(w, r, session, parts[4])
		default:
			http.NotFound(w, r)
		}
		return
	}

	http.NotFound(w, r)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request, room domain.RoomID) {
	if s.recordLimiter != nil && !s.recordLimiter.Allow() {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many record requests")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), recordTimeout)
	defer cancel()
	out, err := s.record.Execute(ctx, usecase.RecordRoomInput{Room: room})
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	s.startEventPump(room)
	status := http.StatusOK
	if !out.LiveResolved {
		status = http.StatusAccepted
	}
	writeJSON(w, status, out)
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request, room domain.RoomID) {
	if s.stop == nil {
		writeError(w, http.StatusNotImplemented, "not_supported", "stopping is not configured")
		return
	}
	if err := s.stop.Execute(r.Context(), room); err != nil {
		writeUseCaseError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChunksMeta(w http.ResponseWriter, r *http.Request, session domain.Session) {
	if s.getMeta == nil {
		writeError(w, http.StatusNotImplemented, "not_supported", "chunk metadata is not configured")
		return
	}
	meta, err := s.getMeta.Execute(r.Context(), session)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request, session domain.Session, rawID string) {
	if s.getChunk == nil {
		writeError(w, http.StatusNotImplemented, "not_supported", "chunk serving is not configured")
		return
	}
	id, err := parseChunkID(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid chunk id")
		return
	}
	data, err := s.getChunk.Execute(r.Context(), usecase.GetChunkInput{Session: session, ID: id})
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
