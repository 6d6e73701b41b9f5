package core

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds the total time spent on readiness probes.
const healthCheckTimeout = 2 * time.Second

// HealthProbe is a readiness check for one critical dependency, such as the
// database pool.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Service    string                     `json:"service"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth reports service liveness and, when probes are registered,
// dependency readiness. Probes run concurrently under a shared deadline.
// This endpoint is public and mounted at GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if len(s.Probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy", Service: s.Config.Service})
		return
	}

	components := make(map[string]componentStatus, len(s.Probes))
	var mu sync.Mutex
	var wg sync.WaitGroup
	healthy := true

	for _, probe := range s.Probes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()

			err := p.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				healthy = false
				components[p.Name()] = componentStatus{Status: "unhealthy", Message: err.Error()}
			} else {
				components[p.Name()] = componentStatus{Status: "healthy"}
			}
		}(probe)
	}
	wg.Wait()

	resp := healthResponse{Status: "healthy", Service: s.Config.Service, Components: components}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	JSON(w, r, status, resp)
}
