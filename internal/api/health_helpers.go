package api

import (
	"context"
	"fmt"
	"net/http"

	"eyycourses/internal/normalize"
)

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, string, int) {
	overallStatus := "ok"
	statusCode := http.StatusOK
	recordComponent := func(component string, err error) componentStatus {
		status := "ok"
		message := ""
		if err != nil {
			status = "degraded"
			message = err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		return componentStatus{Component: component, Status: status, Error: message}
	}

	components := make([]componentStatus, 0, 2)
	if h.Catalog != nil {
		components = append(components, recordComponent("catalog", h.Catalog.Ping(ctx)))
	}
	if h.Normalizer != nil {
		switch state := h.Normalizer.State(); state {
		case normalize.StateReady:
			components = append(components, componentStatus{Component: "normalizer", Status: "ok"})
		case normalize.StateLoading:
			components = append(components, componentStatus{Component: "normalizer", Status: "loading"})
		default:
			components = append(components, recordComponent("normalizer", fmt.Errorf("probe failed")))
		}
	}
	return components, overallStatus, statusCode
}

// Health reports component status for the process.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	components, overall, statusCode := h.componentHealth(r.Context())
	writeJSON(w, statusCode, map[string]interface{}{
		"status":     overall,
		"components": components,
	})
}
