package api

import (
	"net/http"
	"strconv"
)

// defaultHistoryLimit applies when ?limit is absent.
const defaultHistoryLimit = 50

// handleChannelHistory returns recorded changes for one channel, newest first.
func (s *Server) handleChannelHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "state history is disabled")
		return
	}
	index, ok := channelIndex(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	entries, err := s.history.GetHistory(r.Context(), s.controller.DeviceID(), index, limit)
	if err != nil {
		s.logger.Error("reading state history failed", "channel", index, "error", err)
		writeInternalError(w, "failed to read history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"channel": index,
		"history": entries,
		"count":   len(entries),
	})
}

// handleListCommands returns the command journal, newest first.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeNotFound(w, "command journal is disabled")
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	records, err := s.journal.ListCommands(r.Context(), s.controller.DeviceID(), limit)
	if err != nil {
		s.logger.Error("reading command journal failed", "error", err)
		writeInternalError(w, "failed to read commands")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"commands": records,
		"count":    len(records),
	})
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		writeBadRequest(w, "limit must be a positive integer")
		return 0, false
	}
	return limit, true
}
