package adapters

import (
	"errors"
	"fmt"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/adsize"
)

// ErrorCode classifies adapter failures
type ErrorCode string

const (
	ErrorCodeInvalidServerParameters ErrorCode = "INVALID_SERVER_PARAMETERS"
	ErrorCodeSizeMismatch            ErrorCode = "SIZE_MISMATCH"
	ErrorCodeUnsupportedFormat       ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorCodeAdAlreadyLoaded         ErrorCode = "AD_ALREADY_LOADED"
	ErrorCodeMarshal                 ErrorCode = "MARSHAL_ERROR"
	ErrorCodeBadStatus               ErrorCode = "BAD_STATUS"
	ErrorCodeParse                   ErrorCode = "PARSE_ERROR"
	ErrorCodeNoFill                  ErrorCode = "NO_FILL"
	ErrorCodeNetwork                 ErrorCode = "NETWORK_ERROR"
	ErrorCodeMissingNativeAssets     ErrorCode = "MISSING_NATIVE_ASSETS"
	ErrorCodeImageDownload           ErrorCode = "IMAGE_DOWNLOAD"
	ErrorCodeAdNotReady              ErrorCode = "AD_NOT_READY"
)

// hostCodes are the numeric codes reported to the app with a failed event
var hostCodes = map[ErrorCode]int{
	ErrorCodeInvalidServerParameters: 101,
	ErrorCodeSizeMismatch:            102,
	ErrorCodeUnsupportedFormat:       103,
	ErrorCodeAdAlreadyLoaded:         104,
	ErrorCodeMarshal:                 105,
	ErrorCodeBadStatus:               106,
	ErrorCodeParse:                   107,
	ErrorCodeNoFill:                  108,
	ErrorCodeNetwork:                 109,
	ErrorCodeMissingNativeAssets:     110,
	ErrorCodeImageDownload:           111,
	ErrorCodeAdNotReady:              112,
}

// HostCode returns the numeric code reported upstream for c, or 0 if unknown
func (c ErrorCode) HostCode() int {
	return hostCodes[c]
}

// AdapterError represents a standardized adapter error
type AdapterError struct {
	Network string
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *AdapterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Code, e.Network, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Network, e.Message)
}

func (e *AdapterError) Unwrap() error {
	return e.Cause
}

// Domain is the error domain reported alongside the host code
func (e *AdapterError) Domain() string {
	return "mediation." + e.Network
}

// CodeOf extracts the adapter error code from err, or "" when err is not an AdapterError
func CodeOf(err error) ErrorCode {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsNoFill reports whether err is a no fill from the network
func IsNoFill(err error) bool {
	return CodeOf(err) == ErrorCodeNoFill
}

// IsRequestError reports whether err was caused by the request configuration
// rather than the network
func IsRequestError(err error) bool {
	switch CodeOf(err) {
	case ErrorCodeInvalidServerParameters, ErrorCodeSizeMismatch, ErrorCodeUnsupportedFormat, ErrorCodeAdAlreadyLoaded:
		return true
	}
	return false
}

// NewInvalidServerParametersError reports missing or malformed credentials
func NewInvalidServerParametersError(network string, missing ...string) *AdapterError {
	return &AdapterError{
		Network: network,
		Code:    ErrorCodeInvalidServerParameters,
		Message: fmt.Sprintf("missing or invalid server parameters: %v", missing),
	}
}

// NewSizeMismatchError reports that no supported size fits the request
func NewSizeMismatchError(network string, requested adsize.Size, supported []adsize.Size) *AdapterError {
	return &AdapterError{
		Network: network,
		Code:    ErrorCodeSizeMismatch,
		Message: fmt.Sprintf("requested size %s does not fit any supported size %v", requested, supported),
	}
}

// NewUnsupportedFormatError reports a format the network does not serve
func NewUnsupportedFormatError(network string, format Format) *AdapterError {
	return &AdapterError{
		Network: network,
		Code:    ErrorCodeUnsupportedFormat,
		Message: fmt.Sprintf("format %q is not supported", format),
	}
}

// NewAdAlreadyLoadedError reports a placement that already holds a live ad
func NewAdAlreadyLoadedError(network, placement string) *AdapterError {
	return &AdapterError{
		Network: network,
		Code:    ErrorCodeAdAlreadyLoaded,
		Message: fmt.Sprintf("an ad is already loaded for placement %s", placement),
	}
}

// NewMarshalError creates a standardized marshal error
func NewMarshalError(network string, cause error) *AdapterError {
	return &AdapterError{
		Network: network,
		Code:    ErrorCodeMarshal,
		Message: "failed to marshal request",
		Cause:   cause,
	}
}

// NewBadStatusError creates a standardized status code error
func NewBadStatusError(network string, statusCode int) *AdapterError {
	return &AdapterError{
		Network: network,
		Code:    ErrorCodeBadStatus,
		Message: fmt.Sprintf("unexpected status: %d", statusCode),
	}
}

// NewParseError creates a standardized parse error
func NewParseError(network string, cause error) *AdapterError {
	return &AdapterError{
		Network: network,
		Code:    ErrorCodeParse,
		Message: "failed to parse response",
		Cause:   cause,
	}
}

// NewNoFillError reports that the network had no ad to serve
func NewNoFillError(network, reason string) *AdapterError {
	msg := "no fill"
	if reason != "" {
		msg = "no fill: " + reason
	}
	return &AdapterError{
		Network: network,
		Code:    ErrorCodeNoFill,
		Message: msg,
	}
}

// NewNetworkError wraps a transport failure
func NewNetworkError(network string, cause error) *AdapterError {
	return &AdapterError{
		Network: network,
		Code:    ErrorCodeNetwork,
		Message: "request failed",
		Cause:   cause,
	}
}

// NewMissingNativeAssetsError reports a native ad lacking required assets
func NewMissingNativeAssetsError(network string, missing []string) *AdapterError {
	return &AdapterError{
		Network: network,
		Code:    ErrorCodeMissingNativeAssets,
		Message: fmt.Sprintf("native ad is missing required assets: %v", missing),
	}
}

// NewImageDownloadError reports a native image that could not be fetched
func NewImageDownloadError(network, url string, cause error) *AdapterError {
	return &AdapterError{
		Network: network,
		Code:    ErrorCodeImageDownload,
		Message: fmt.Sprintf("failed to download image %s", url),
		Cause:   cause,
	}
}

// NewAdNotReadyError reports a show of an ad that is gone or was never loaded
func NewAdNotReadyError(network, adID string) *AdapterError {
	return &AdapterError{
		Network: network,
		Code:    ErrorCodeAdNotReady,
		Message: fmt.Sprintf("ad %s is not ready to be shown", adID),
	}
}

// MatchSize picks the closest supported size for the request, or reports a
// size mismatch when none fits
func MatchSize(network string, requested adsize.Size, supported []adsize.Size) (adsize.Size, error) {
	size, ok := adsize.FindClosestSize(requested, supported)
	if !ok {
		return adsize.Size{}, NewSizeMismatchError(network, requested, supported)
	}
	return size, nil
}

// RequireExactSize accepts the request only when it is one of the supported sizes
func RequireExactSize(network string, requested adsize.Size, supported []adsize.Size) (adsize.Size, error) {
	if !adsize.Contains(supported, requested) {
		return adsize.Size{}, NewSizeMismatchError(network, requested, supported)
	}
	return requested, nil
}
