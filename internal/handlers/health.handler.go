package handlers

import (
	"context"
	"time"

	"github.com/fasthttp/router"
	xhttp "github.com/nimasrn/sponsorship-gateway/pkg/http"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]HealthCheck
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

type healthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res := healthResponse{Status: "healthy", Dependencies: make(map[string]string, len(h.checks))}
	status := xhttp.StatusOK
	for name, check := range h.checks {
		if err := check(c); err != nil {
			res.Dependencies[name] = err.Error()
			res.Status = "unhealthy"
			status = xhttp.StatusServiceUnavailable
			continue
		}
		res.Dependencies[name] = "ok"
	}
	writeJSON(ctx, status, res)
}
