package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ipx800-bridge/internal/bridges/ipx800"
	"github.com/nerrad567/ipx800-bridge/internal/device"
)

// channelView is a channel state together with its display name.
type channelView struct {
	device.ChannelState
	Name string `json:"name"`

	// Available is false until the device has reported the channel.
	Available bool `json:"available"`
}

func (s *Server) viewChannel(ch device.ChannelState) channelView {
	return channelView{ChannelState: ch, Name: s.controller.ChannelName(ch.Index), Available: ch.Known}
}

// setChannelRequest is the body of PUT /channels/{index}.
type setChannelRequest struct {
	On *bool `json:"on"`
}

// commandAccepted is returned with 202 once a command is queued.
type commandAccepted struct {
	CommandID string `json:"command_id"`
	Channel   int    `json:"channel"`
	On        bool   `json:"on"`
	Status    string `json:"status"`
}

// handleListChannels returns every channel with the device description.
func (s *Server) handleListChannels(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.controller.Store().Snapshot()
	channels := make([]channelView, 0, len(snapshot))
	for _, ch := range snapshot {
		channels = append(channels, s.viewChannel(ch))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device":   s.controller.DeviceInfo(),
		"channels": channels,
		"count":    len(channels),
	})
}

// handleGetDevice returns the device description and the last poll outcome.
func (s *Server) handleGetDevice(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"device": s.controller.DeviceInfo(),
		"poll":   s.controller.PollStatus(),
	})
}

// handleGetChannel returns a single channel.
func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	index, ok := channelIndex(w, r)
	if !ok {
		return
	}
	ch, err := s.controller.Store().Channel(index)
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.viewChannel(ch))
}

// handleSetChannel queues a command to switch a channel on or off.
func (s *Server) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	index, ok := channelIndex(w, r)
	if !ok {
		return
	}

	var req setChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.On == nil {
		writeBadRequest(w, "on is required")
		return
	}

	cmd, err := s.controller.SetChannel(r.Context(), index, *req.On, callerSource(r))
	s.writeCommandResult(w, cmd, err)
}

// handleToggleChannel queues a command inverting a channel's effective state.
func (s *Server) handleToggleChannel(w http.ResponseWriter, r *http.Request) {
	index, ok := channelIndex(w, r)
	if !ok {
		return
	}

	cmd, err := s.controller.Toggle(r.Context(), index, callerSource(r))
	s.writeCommandResult(w, cmd, err)
}

// handleRefresh forces a status.xml poll and returns the new snapshot.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Refresh(r.Context()); err != nil {
		switch {
		case errors.Is(err, ipx800.ErrDeviceUnreachable),
			errors.Is(err, ipx800.ErrMalformedResponse),
			errors.Is(err, device.ErrIncompleteStatus):
			writeError(w, http.StatusBadGateway, ErrCodeDeviceError, err.Error())
		default:
			writeInternalError(w, "refresh failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"channels": s.controller.Store().Snapshot(),
		"poll":     s.controller.PollStatus(),
	})
}

func (s *Server) writeCommandResult(w http.ResponseWriter, cmd device.Command, err error) {
	if err != nil {
		switch {
		case errors.Is(err, device.ErrInvalidChannel):
			writeNotFound(w, err.Error())
		case errors.Is(err, ipx800.ErrDispatcherStopped):
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command queue is not running")
		default:
			s.logger.Error("queueing command failed", "error", err)
			writeInternalError(w, "failed to queue command")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, commandAccepted{
		CommandID: cmd.ID,
		Channel:   cmd.Channel,
		On:        cmd.On,
		Status:    "queued",
	})
}

// channelIndex parses {index}, writing 400 for a non-number and 404 for
// an index outside 1..8.
func channelIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeBadRequest(w, "channel index must be a number")
		return 0, false
	}
	if err := device.ValidChannel(index); err != nil {
		writeNotFound(w, err.Error())
		return 0, false
	}
	return index, true
}
