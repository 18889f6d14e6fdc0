package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// healthCheckTimeout bounds each component check.
const healthCheckTimeout = 2 * time.Second

// Health status values.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
)

// handleHealth reports the device poll outcome and each infrastructure
// component. It always answers 200; "degraded" flags a failing part.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall := statusOK

	poll := s.controller.PollStatus()
	deviceStatus := statusOK
	if poll.LastSuccess == nil || poll.Failures > 0 {
		deviceStatus = statusDegraded
		overall = statusDegraded
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			overall = statusDegraded
			continue
		}
		components[name] = statusOK
	}

	body := map[string]any{
		"status":     overall,
		"version":    s.version,
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"device":     map[string]any{"id": s.controller.DeviceID(), "status": deviceStatus, "poll": poll},
		"components": components,
		"websocket":  map[string]int{"clients": s.hub.ClientCount()},
	}
	if s.bridge != nil {
		body["mqtt_bridge"] = s.bridge.GetMetrics()
	}
	writeJSON(w, http.StatusOK, body)
}
