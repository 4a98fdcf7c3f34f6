// Package handler exposes the gateway's administrative and observability API
// and routes external HTTP traffic into the gateway.
package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fundview/gateway/internal/domain"
	"github.com/fundview/gateway/internal/gateway"
	"github.com/fundview/gateway/pkg/logger"
)

// AdminHandler provides administrative API endpoints over a gateway.
type AdminHandler struct {
	gateway *gateway.Gateway
	logger  *logger.Logger
}

// NewAdminHandler creates an admin handler
func NewAdminHandler(gw *gateway.Gateway, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		gateway: gw,
		logger:  log.ComponentLogger("admin"),
	}
}

// StrategyRequest is the body of the strategy-change endpoint
type StrategyRequest struct {
	Strategy string `json:"strategy"`
}

// Router builds the admin mux. Everything outside /admin and /metrics is
// proxied through the gateway.
func (h *AdminHandler) Router() *mux.Router {
	r := mux.NewRouter()

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/services", h.handleServices).Methods(http.MethodGet)
	admin.HandleFunc("/stats", h.handleGatewayStats).Methods(http.MethodGet)
	admin.HandleFunc("/stats/{service}", h.handleServiceStats).Methods(http.MethodGet)
	admin.HandleFunc("/health", h.handleOverallHealth).Methods(http.MethodGet)
	admin.HandleFunc("/health/{service}", h.handleServiceHealth).Methods(http.MethodGet)
	admin.HandleFunc("/circuit-breakers/{service}", h.handleCircuitBreaker).Methods(http.MethodGet)
	admin.HandleFunc("/rate-limits/{service}", h.handleRateLimit).Methods(http.MethodGet)
	admin.HandleFunc("/services/{service}/strategy", h.handleSetStrategy).Methods(http.MethodPost)

	registry := prometheus.NewRegistry()
	registry.MustRegister(h.gateway.StatsExporter())
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.PathPrefix("/").HandlerFunc(h.handleRoute)
	return r
}

func (h *AdminHandler) handleServices(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"services": h.gateway.GetRegisteredServices(),
	})
}

func (h *AdminHandler) handleGatewayStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.gateway.GetGatewayStats())
}

func (h *AdminHandler) handleServiceStats(w http.ResponseWriter, r *http.Request) {
	service := mux.Vars(r)["service"]
	if !h.gateway.IsServiceRegistered(service) {
		h.writeError(w, http.StatusNotFound, "service not registered")
		return
	}
	h.writeJSON(w, http.StatusOK, h.gateway.GetServiceStats(service))
}

func (h *AdminHandler) handleOverallHealth(w http.ResponseWriter, r *http.Request) {
	overall := h.gateway.CheckOverallHealth(r.Context())

	status := http.StatusOK
	if overall.OverallStatus != "healthy" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, overall)
}

func (h *AdminHandler) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	service := mux.Vars(r)["service"]
	result := h.gateway.CheckServiceHealth(r.Context(), service)

	status := http.StatusOK
	if !result.IsHealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, result)
}

func (h *AdminHandler) handleCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	service := mux.Vars(r)["service"]
	h.writeJSON(w, http.StatusOK, h.gateway.GetCircuitBreakerStats(service))
}

func (h *AdminHandler) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	service := mux.Vars(r)["service"]
	h.writeJSON(w, http.StatusOK, h.gateway.GetRateLimitStats(service))
}

func (h *AdminHandler) handleSetStrategy(w http.ResponseWriter, r *http.Request) {
	service := mux.Vars(r)["service"]

	var req StrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.gateway.SetLoadBalancingStrategy(service, domain.LoadBalancingStrategy(req.Strategy)); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":  service,
		"strategy": req.Strategy,
	})
}

// handleRoute converts an external HTTP request into a gateway request and
// writes the uniform gateway response back.
func (h *AdminHandler) handleRoute(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	queryParams := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			queryParams[key] = values[0]
		}
	}

	headers := make(map[string]string)
	for key, values := range r.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	resp := h.gateway.RouteRequest(r.Context(), &domain.Request{
		Method:      r.Method,
		Path:        r.URL.Path,
		QueryParams: queryParams,
		Headers:     headers,
		Body:        body,
	})

	h.writeJSON(w, resp.StatusCode, resp)
}

func (h *AdminHandler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

func (h *AdminHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
