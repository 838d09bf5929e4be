package endpoints

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/breaker"
)

// NetworkReporter exposes the mediator's view of the networks
type NetworkReporter interface {
	NetworkStatuses(ctx context.Context) (map[string]string, error)
	BreakerStats() []breaker.Stats
}

// StatusHandler handles /status requests
type StatusHandler struct {
	reporter NetworkReporter
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(reporter NetworkReporter) *StatusHandler {
	return &StatusHandler{reporter: reporter}
}

// ServeHTTP reports network initialization and circuit breaker state
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if h.reporter != nil {
		statuses, err := h.reporter.NetworkStatuses(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("failed to read network statuses")
			response["status"] = "degraded"
		} else {
			response["networks"] = statuses
		}
		response["circuit_breakers"] = h.reporter.BreakerStats()
	}

	writeJSON(w, http.StatusOK, response)
}

// NetworkLister lists the registered networks
type NetworkLister interface {
	Infos() map[string]adapters.NetworkInfo
}

// networkInfo is the public description of a network
type networkInfo struct {
	Code       string            `json:"code"`
	Enabled    bool              `json:"enabled"`
	Formats    []adapters.Format `json:"formats"`
	Sizes      []string          `json:"sizes,omitempty"`
	Maintainer string            `json:"maintainer,omitempty"`
}

// InfoNetworksHandler handles /info/networks requests
type InfoNetworksHandler struct {
	registry NetworkLister
}

// NewInfoNetworksHandler creates a handler that queries the registry at request time
func NewInfoNetworksHandler(registry NetworkLister) *InfoNetworksHandler {
	return &InfoNetworksHandler{registry: registry}
}

// ServeHTTP lists every registered network, sorted by code. Endpoints are not exposed.
func (h *InfoNetworksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	infos := h.registry.Infos()

	networks := make([]networkInfo, 0, len(infos))
	for code, info := range infos {
		n := networkInfo{
			Code:       code,
			Enabled:    info.Enabled,
			Formats:    info.Formats,
			Maintainer: info.Maintainer,
		}
		for _, s := range info.Sizes {
			n.Sizes = append(n.Sizes, s.String())
		}
		networks = append(networks, n)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i].Code < networks[j].Code })

	writeJSON(w, http.StatusOK, networks)
}
