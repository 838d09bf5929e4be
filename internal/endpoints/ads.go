// Package endpoints provides HTTP endpoint handlers
package endpoints

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/config"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/mediation"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/middleware"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/breaker"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/logger"
)

// LoadHandler handles POST /v1/ads/load
type LoadHandler struct {
	mediator *mediation.Mediator
}

// NewLoadHandler creates a new load handler
func NewLoadHandler(m *mediation.Mediator) *LoadHandler {
	return &LoadHandler{mediator: m}
}

// ServeHTTP loads one ad. No fill is answered with 204.
func (h *LoadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, config.DefaultMaxBodySize))
	if err != nil {
		writeError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req adapters.AdRequest
	if err := json.Unmarshal(body, &req); err != nil {
		logger.Log.Warn().Err(err).Msg("Invalid JSON in load request")
		writeError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}
	if err := validateLoadRequest(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		req.ID = r.Header.Get("X-Request-ID")
	}

	start := time.Now()
	result, err := h.mediator.LoadAd(r.Context(), &req)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusNoContent {
			w.WriteHeader(status)
			return
		}
		logger.Log.Debug().
			Err(err).
			Str("request_id", req.ID).
			Str("app_id", r.Header.Get(middleware.AppIDHeader)).
			Int("status", status).
			Dur("duration_ms", time.Since(start)).
			Msg("Load failed")
		writeAdError(w, err, status)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// validateLoadRequest checks the fields the mediator cannot infer
func validateLoadRequest(req *adapters.AdRequest) error {
	if req.Network == "" && req.AdUnitID == "" {
		return &ValidationError{Field: "network|ad_unit_id", Message: "required"}
	}
	if req.Format != "" && !req.Format.Valid() {
		return &ValidationError{Field: "format", Message: "must be banner, interstitial, rewarded or native"}
	}
	if req.AdUnitID == "" && req.Format == "" {
		return &ValidationError{Field: "format", Message: "required"}
	}
	if req.Format == adapters.FormatBanner && (req.Size.Width == 0 || req.Size.Height == 0) {
		return &ValidationError{Field: "size", Message: "banner requires width and height"}
	}
	if req.SizeInPixels && req.Screen.Density <= 0 {
		return &ValidationError{Field: "screen.density", Message: "required for pixel sizes"}
	}
	return nil
}

// ShowHandler handles POST /v1/ads/{id}/show
type ShowHandler struct {
	mediator *mediation.Mediator
}

// NewShowHandler creates a new show handler
func NewShowHandler(m *mediation.Mediator) *ShowHandler {
	return &ShowHandler{mediator: m}
}

// ServeHTTP hands out a loaded ad. Each ad is returned once.
func (h *ShowHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	adID := r.PathValue("id")
	if adID == "" {
		writeError(w, "ad id required", http.StatusBadRequest)
		return
	}

	stored, err := h.mediator.ShowAd(r.Context(), adID)
	if errors.Is(err, mediation.ErrAdNotFound) {
		writeError(w, "ad not found or expired", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Log.Error().Err(err).Str("ad_id", adID).Msg("Show failed")
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, stored)
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// statusForError maps a load failure onto an HTTP status
func statusForError(err error) int {
	switch {
	case errors.Is(err, mediation.ErrNetworkNotFound), errors.Is(err, mediation.ErrAdUnitNotFound):
		return http.StatusNotFound
	case errors.Is(err, breaker.ErrCircuitOpen), errors.Is(err, breaker.ErrTooManyConcurrent):
		return http.StatusServiceUnavailable
	}

	switch adapters.CodeOf(err) {
	case adapters.ErrorCodeNoFill:
		return http.StatusNoContent
	case adapters.ErrorCodeInvalidServerParameters, adapters.ErrorCodeSizeMismatch, adapters.ErrorCodeUnsupportedFormat:
		return http.StatusBadRequest
	case adapters.ErrorCodeAdAlreadyLoaded:
		return http.StatusConflict
	case adapters.ErrorCodeNetwork, adapters.ErrorCodeBadStatus, adapters.ErrorCodeParse,
		adapters.ErrorCodeMissingNativeAssets, adapters.ErrorCodeImageDownload:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeAdError writes the failure in the form reported with failed_to_load
func writeAdError(w http.ResponseWriter, err error, status int) {
	info := adapters.NewErrorInfo(err)
	if status == http.StatusInternalServerError {
		info.Message = "Internal server error"
	}
	writeJSON(w, status, map[string]interface{}{"error": info})
}

// writeError writes an error response
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("failed to encode response")
	}
}
